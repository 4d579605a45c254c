package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/roadhelp/dispatch-core/internal/models"
	"github.com/roadhelp/dispatch-core/internal/store"
	"github.com/roadhelp/dispatch-core/pkg/geo"
)

// DiscoveryService periodically queries the location store for online
// providers, drops entries with expired heartbeats, filters by distance from
// the requester, and publishes a fully-replaced list sorted by distance.
//
// The published list is destructive by design: every poll computes a brand
// new collection, so the UI can never show a provider the store no longer
// considers live. A failed poll publishes an empty list for the same reason.
type DiscoveryService struct {
	// Configuration fields
	pollInterval time.Duration
	ttl          time.Duration
	radiusKm     float64

	// Dependencies
	store  store.LocationStore
	center PositionSource
	logger zerolog.Logger

	// Internal state management
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	mu         sync.RWMutex
	nearby     []models.ProviderSnapshot
	generation uint64
	suspended  bool

	// Timer ticks and forced refreshes funnel through one channel, so the
	// poll body can never run twice concurrently.
	pollCh chan struct{}
}

// NewDiscoveryService creates a new DiscoveryService instance.
func NewDiscoveryService(pollInterval, ttl time.Duration, radiusKm float64, locationStore store.LocationStore,
	center PositionSource, logger zerolog.Logger) *DiscoveryService {
	return &DiscoveryService{
		pollInterval: pollInterval,
		ttl:          ttl,
		radiusKm:     radiusKm,
		store:        locationStore,
		center:       center,
		logger:       logger,
		pollCh:       make(chan struct{}, 1),
	}
}

// Start launches the discovery polling loop.
func (d *DiscoveryService) Start() error {
	if d.running {
		d.logger.Warn().Msg("DiscoveryService is already running")
		return errors.New("discovery service is already running")
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.running = true

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runPollLoop()
	}()

	d.requestPoll()

	d.logger.Info().
		Dur("poll_interval", d.pollInterval).
		Dur("ttl", d.ttl).
		Float64("radius_km", d.radiusKm).
		Msg("DiscoveryService started")
	return nil
}

// Stop gracefully stops the DiscoveryService.
func (d *DiscoveryService) Stop() error {
	if !d.running {
		d.logger.Warn().Msg("DiscoveryService is not running")
		return errors.New("discovery service is not running")
	}

	d.cancel()
	d.wg.Wait()

	d.running = false
	d.logger.Info().Msg("DiscoveryService stopped")
	return nil
}

func (d *DiscoveryService) runPollLoop() {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.poll()
		case <-d.pollCh:
			d.poll()
		case <-d.ctx.Done():
			return
		}
	}
}

// requestPoll schedules an out-of-cycle poll. Both the ticker and event
// triggers converge here; an already-pending request is not duplicated.
func (d *DiscoveryService) requestPoll() {
	select {
	case d.pollCh <- struct{}{}:
	default:
	}
}

// poll executes one discovery cycle. A late completion belonging to an
// older generation never overwrites newer state.
func (d *DiscoveryService) poll() {
	d.mu.RLock()
	if d.suspended {
		d.mu.RUnlock()
		return
	}
	generation := d.generation
	d.mu.RUnlock()

	center, ok := d.center.CurrentPosition()
	if !ok {
		d.logger.Debug().Msg("No requester position yet; skipping discovery poll")
		return
	}

	ctx, cancel := context.WithTimeout(d.ctx, d.pollInterval)
	records, err := d.store.QueryOnline(ctx)
	cancel()
	if err != nil {
		// Unknown is treated as empty: better a blank list than a provider
		// the system can no longer vouch for.
		d.logger.Error().Err(err).Msg("Discovery poll failed; clearing published list")
		d.publish(generation, nil)
		return
	}

	snapshots := BuildNearby(records, center, d.radiusKm, d.ttl, time.Now())
	d.publish(generation, snapshots)
}

func (d *DiscoveryService) publish(generation uint64, snapshots []models.ProviderSnapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if generation != d.generation {
		d.logger.Debug().Msg("Dropping stale discovery result")
		return
	}
	d.nearby = snapshots
}

// ForceRefresh triggers an immediate out-of-band poll, resuming a suspended
// service. Wired to connectivity-regain and foreground events.
func (d *DiscoveryService) ForceRefresh() {
	d.mu.Lock()
	d.suspended = false
	d.generation++
	d.mu.Unlock()
	d.requestPoll()
}

// Suspend clears the published list immediately and pauses polling. Wired
// to connection-loss and background events: stale positions must not be
// presented while the data cannot be refreshed.
func (d *DiscoveryService) Suspend() {
	d.mu.Lock()
	d.suspended = true
	d.generation++
	d.nearby = nil
	d.mu.Unlock()
}

// Nearby returns the currently published list.
func (d *DiscoveryService) Nearby() []models.ProviderSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.ProviderSnapshot, len(d.nearby))
	copy(out, d.nearby)
	return out
}

// FetchNearby runs one on-demand query around an explicit center without
// touching the published list.
func (d *DiscoveryService) FetchNearby(ctx context.Context, center models.Position, radiusKm float64) ([]models.ProviderSnapshot, error) {
	records, err := d.store.QueryOnline(ctx)
	if err != nil {
		return nil, err
	}
	return BuildNearby(records, center, radiusKm, d.ttl, time.Now()), nil
}

// BuildNearby converts raw store records into the published snapshot list:
// expired heartbeats and out-of-radius providers are dropped, distances are
// computed from the center, and the result is sorted ascending by distance.
func BuildNearby(records []store.ProviderRecord, center models.Position, radiusKm float64, ttl time.Duration, now time.Time) []models.ProviderSnapshot {
	snapshots := make([]models.ProviderSnapshot, 0, len(records))
	for _, rec := range records {
		if now.Sub(rec.LastHeartbeat) >= ttl {
			continue
		}
		distance := geo.HaversineKm(center.Latitude, center.Longitude, rec.Latitude, rec.Longitude)
		if distance > radiusKm {
			continue
		}
		snapshots = append(snapshots, models.ProviderSnapshot{
			ProviderID:    rec.ProviderID,
			Position:      models.Position{Latitude: rec.Latitude, Longitude: rec.Longitude, CapturedAt: rec.LastHeartbeat},
			Rating:        rec.Rating,
			TotalServices: rec.TotalServices,
			Services:      rec.Services,
			LastHeartbeat: rec.LastHeartbeat,
			DistanceKm:    distance,
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].DistanceKm < snapshots[j].DistanceKm
	})
	return snapshots
}
