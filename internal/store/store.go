// Package store defines the collaborator contracts the dispatch core
// consumes: the shared location store and the job queue. The store is the
// only resource touched by more than one component; it is treated as
// externally synchronized (last-write-wins).
package store

import (
	"context"
	"time"

	"github.com/roadhelp/dispatch-core/internal/models"
)

// ProviderRecord is one raw row returned by a QueryOnline call. The TTL cut
// and distance filtering are applied by the consumer, not the store: the
// online flag is advisory and may lag behind reality by up to one heartbeat.
type ProviderRecord struct {
	ProviderID    string
	Latitude      float64
	Longitude     float64
	Rating        float64
	TotalServices int
	Services      []models.ServiceType
	LastHeartbeat time.Time
}

// LocationStore is the shared provider-position store.
type LocationStore interface {
	// PutHeartbeat upserts the provider's position and liveness timestamp.
	PutHeartbeat(ctx context.Context, hb models.Heartbeat) error
	// SetOnline flips the provider's advisory online flag.
	SetOnline(ctx context.Context, providerID string, online bool) error
	// QueryOnline returns every provider currently flagged online, each with
	// its last heartbeat timestamp.
	QueryOnline(ctx context.Context) ([]ProviderRecord, error)
}

// JobQueue returns unclaimed dispatch opportunities for a provider. Jobs
// already assigned elsewhere are never returned; that exclusivity is the
// server's responsibility, not re-implemented here.
type JobQueue interface {
	// NextJob peeks the next unclaimed job for the provider, or nil.
	NextJob(ctx context.Context, providerID string) (*models.QueuedJob, error)
	// QueueSize reports how many unclaimed jobs are waiting for the provider.
	QueueSize(ctx context.Context, providerID string) (int, error)
	// Accept claims the job for the provider and removes it from the queue.
	Accept(ctx context.Context, providerID, jobID string) error
}
