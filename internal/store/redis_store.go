package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roadhelp/dispatch-core/internal/models"
)

const (
	providerGeoKey    = "providers:geo"
	providerOnlineKey = "providers:online"
)

func providerHashKey(providerID string) string {
	return fmt.Sprintf("provider:%s", providerID)
}

func jobQueueKey(providerID string) string {
	return fmt.Sprintf("jobs:queue:%s", providerID)
}

func jobHashKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

// RedisStore implements LocationStore and JobQueue on a single Redis
// instance: a GEO set plus one hash per provider for positions, and one
// list of job ids per provider for the queue.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{redis: client}
}

// PutHeartbeat writes the provider's position into the GEO set and refreshes
// the heartbeat fields of its hash in one pipeline.
func (s *RedisStore) PutHeartbeat(ctx context.Context, hb models.Heartbeat) error {
	pipe := s.redis.Pipeline()
	pipe.GeoAdd(ctx, providerGeoKey, &redis.GeoLocation{
		Name:      hb.ProviderID,
		Longitude: hb.Position.Longitude,
		Latitude:  hb.Position.Latitude,
	})
	pipe.HSet(ctx, providerHashKey(hb.ProviderID), map[string]interface{}{
		"lat":          hb.Position.Latitude,
		"lng":          hb.Position.Longitude,
		"address":      hb.Position.Address,
		"status":       hb.Status,
		"heartbeat_ms": hb.Timestamp.UnixMilli(),
		"cpu_percent":  hb.Stats.CPUPercent,
		"mem_percent":  hb.Stats.MemoryPercent,
	})
	_, err := pipe.Exec(ctx)
	return err
}

// SetOnline adds or removes the provider from the online set. Going offline
// also drops the provider from the GEO set so stale positions cannot match
// a proximity query.
func (s *RedisStore) SetOnline(ctx context.Context, providerID string, online bool) error {
	if online {
		return s.redis.SAdd(ctx, providerOnlineKey, providerID).Err()
	}
	pipe := s.redis.Pipeline()
	pipe.SRem(ctx, providerOnlineKey, providerID)
	pipe.ZRem(ctx, providerGeoKey, providerID)
	_, err := pipe.Exec(ctx)
	return err
}

// QueryOnline returns a record for every provider in the online set.
func (s *RedisStore) QueryOnline(ctx context.Context) ([]ProviderRecord, error) {
	ids, err := s.redis.SMembers(ctx, providerOnlineKey).Result()
	if err != nil {
		return nil, fmt.Errorf("querying online providers: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, providerHashKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("reading provider hashes: %w", err)
	}

	records := make([]ProviderRecord, 0, len(ids))
	for i, id := range ids {
		fields, err := cmds[i].Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		records = append(records, ParseProviderRecord(id, fields))
	}
	return records, nil
}

// ParseProviderRecord builds a record from a provider hash. Unparseable
// numeric fields default to zero; the caller's TTL check rejects records
// with a zero heartbeat anyway.
func ParseProviderRecord(providerID string, fields map[string]string) ProviderRecord {
	rec := ProviderRecord{ProviderID: providerID}
	rec.Latitude, _ = strconv.ParseFloat(fields["lat"], 64)
	rec.Longitude, _ = strconv.ParseFloat(fields["lng"], 64)
	rec.Rating, _ = strconv.ParseFloat(fields["rating"], 64)
	rec.TotalServices, _ = strconv.Atoi(fields["total_services"])
	rec.Services = ParseServiceTypes(fields["services"])
	if ms, err := strconv.ParseInt(fields["heartbeat_ms"], 10, 64); err == nil {
		rec.LastHeartbeat = time.UnixMilli(ms)
	}
	return rec
}

// ParseServiceTypes splits the comma-separated services hash field.
func ParseServiceTypes(raw string) []models.ServiceType {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	services := make([]models.ServiceType, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			services = append(services, models.ServiceType(p))
		}
	}
	return services
}

// FormatServiceTypes renders the services hash field.
func FormatServiceTypes(services []models.ServiceType) string {
	parts := make([]string, len(services))
	for i, s := range services {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}

// NextJob peeks the head of the provider's queue without claiming it. Jobs
// stay queued until accepted, so a locally-declined job remains available
// to other providers.
func (s *RedisStore) NextJob(ctx context.Context, providerID string) (*models.QueuedJob, error) {
	jobID, err := s.redis.LIndex(ctx, jobQueueKey(providerID), 0).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("peeking job queue: %w", err)
	}

	fields, err := s.redis.HGetAll(ctx, jobHashKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading job %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		// Job expired or was claimed elsewhere; drop the dangling id.
		s.redis.LRem(ctx, jobQueueKey(providerID), 1, jobID)
		return nil, nil
	}

	job := ParseQueuedJob(jobID, fields)
	return &job, nil
}

// QueueSize reports the provider's queue length.
func (s *RedisStore) QueueSize(ctx context.Context, providerID string) (int, error) {
	n, err := s.redis.LLen(ctx, jobQueueKey(providerID)).Result()
	if err != nil {
		return 0, fmt.Errorf("reading queue size: %w", err)
	}
	return int(n), nil
}

// Accept claims the job for the provider and removes it from the queue.
func (s *RedisStore) Accept(ctx context.Context, providerID, jobID string) error {
	pipe := s.redis.Pipeline()
	pipe.LRem(ctx, jobQueueKey(providerID), 1, jobID)
	pipe.HSet(ctx, jobHashKey(jobID), "claimed_by", providerID)
	_, err := pipe.Exec(ctx)
	return err
}

// OfferJob enqueues a job for a provider. Used by the demo agent and tests;
// in production the backend writes the queue directly.
func (s *RedisStore) OfferJob(ctx context.Context, providerID string, job models.QueuedJob) error {
	pipe := s.redis.Pipeline()
	pipe.HSet(ctx, jobHashKey(job.JobID), map[string]interface{}{
		"origin_lat":   job.Origin.Latitude,
		"origin_lng":   job.Origin.Longitude,
		"service_type": string(job.ServiceType),
		"offered_ms":   job.OfferedAt.UnixMilli(),
	})
	pipe.RPush(ctx, jobQueueKey(providerID), job.JobID)
	_, err := pipe.Exec(ctx)
	return err
}

// ParseQueuedJob builds a job from its hash fields.
func ParseQueuedJob(jobID string, fields map[string]string) models.QueuedJob {
	job := models.QueuedJob{JobID: jobID}
	job.Origin.Latitude, _ = strconv.ParseFloat(fields["origin_lat"], 64)
	job.Origin.Longitude, _ = strconv.ParseFloat(fields["origin_lng"], 64)
	job.ServiceType = models.ServiceType(fields["service_type"])
	if ms, err := strconv.ParseInt(fields["offered_ms"], 10, 64); err == nil {
		job.OfferedAt = time.UnixMilli(ms)
	}
	return job
}
