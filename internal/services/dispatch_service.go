package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/roadhelp/dispatch-core/internal/models"
	"github.com/roadhelp/dispatch-core/internal/store"
	"github.com/roadhelp/dispatch-core/pkg/identity"
)

// JobHandler receives each newly surfaced job. The receiver must eventually
// call Accept or MarkDeclined; nothing else is polled for the provider until
// it does.
type JobHandler func(models.QueuedJob)

// DispatchService polls the job queue for the next unclaimed job while the
// provider is online and idle. A locally-declined job is suppressed for the
// decline cooldown even though the server-side queue still offers it; the
// queue itself does not track per-provider declines.
type DispatchService struct {
	// Configuration fields
	pollInterval    time.Duration
	declineCooldown time.Duration

	// Dependencies
	queue        store.JobQueue
	providerInfo identity.ProviderInfoInterface
	session      *models.SessionState
	tracker      PositionSource
	logger       zerolog.Logger

	// Internal state management
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	// declined maps jobID to the time the provider declined it.
	declined cmap.ConcurrentMap[string, time.Time]
	inFlight atomic.Bool

	mu         sync.RWMutex
	queueSize  int
	presenting string // jobID currently shown to the provider, "" when idle
	generation uint64
	suspended  bool

	handler JobHandler
	pollCh  chan struct{}
}

// NewDispatchService creates a new DispatchService instance.
func NewDispatchService(pollInterval, declineCooldown time.Duration, queue store.JobQueue,
	providerInfo identity.ProviderInfoInterface, session *models.SessionState,
	tracker PositionSource, logger zerolog.Logger) *DispatchService {
	return &DispatchService{
		pollInterval:    pollInterval,
		declineCooldown: declineCooldown,
		queue:           queue,
		providerInfo:    providerInfo,
		session:         session,
		tracker:         tracker,
		logger:          logger,
		declined:        cmap.New[time.Time](),
		pollCh:          make(chan struct{}, 1),
	}
}

// SetJobHandler registers the callback invoked once per surfaced job.
// Must be called before Start.
func (s *DispatchService) SetJobHandler(handler JobHandler) {
	s.handler = handler
}

// Start launches the queue polling loop.
func (s *DispatchService) Start() error {
	if s.running {
		s.logger.Warn().Msg("DispatchService is already running")
		return errors.New("dispatch service is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runPollLoop()
	}()

	s.logger.Info().
		Dur("poll_interval", s.pollInterval).
		Dur("decline_cooldown", s.declineCooldown).
		Msg("DispatchService started")
	return nil
}

// Stop gracefully stops the DispatchService.
func (s *DispatchService) Stop() error {
	if !s.running {
		s.logger.Warn().Msg("DispatchService is not running")
		return errors.New("dispatch service is not running")
	}

	s.cancel()
	s.wg.Wait()

	s.running = false
	s.logger.Info().Msg("DispatchService stopped")
	return nil
}

func (s *DispatchService) runPollLoop() {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.poll()
		case <-s.pollCh:
			s.poll()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *DispatchService) requestPoll() {
	select {
	case s.pollCh <- struct{}{}:
	default:
	}
}

// eligible reports whether the provider should be offered work right now.
func (s *DispatchService) eligible() bool {
	if !s.session.Online() || !s.session.RegisteredProvider() || s.session.HasActiveJob() {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.suspended || s.presenting != "" {
		return false
	}
	if _, ok := s.tracker.CurrentPosition(); !ok {
		return false
	}
	return true
}

// poll runs one queue cycle. A poll overlapping a slow previous one is
// skipped, not queued.
func (s *DispatchService) poll() {
	if !s.eligible() {
		return
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Debug().Msg("Previous poll still in flight; skipping")
		return
	}
	defer s.inFlight.Store(false)

	s.pruneDeclined()

	s.mu.RLock()
	generation := s.generation
	s.mu.RUnlock()

	providerID := s.providerInfo.GetProviderID()
	ctx, cancel := context.WithTimeout(s.ctx, s.pollInterval)
	defer cancel()

	job, err := s.queue.NextJob(ctx, providerID)
	if err != nil {
		// Unknown is treated as empty rather than risking a stale offer.
		s.logger.Error().Err(err).Msg("Job queue poll failed")
		s.setQueueSize(generation, 0)
		return
	}

	size, err := s.queue.QueueSize(ctx, providerID)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Queue size unavailable")
		size = 0
	}
	s.setQueueSize(generation, size)

	if job == nil {
		return
	}
	if s.declined.Has(job.JobID) {
		// Still cooling down from a recent decline; the server queue does
		// not know about it, so the suppression happens here.
		s.logger.Debug().Str("job_id", job.JobID).Msg("Suppressing recently declined job")
		return
	}

	s.mu.Lock()
	if generation != s.generation || s.presenting != "" {
		s.mu.Unlock()
		return
	}
	s.presenting = job.JobID
	s.mu.Unlock()

	s.logger.Info().Str("job_id", job.JobID).Msg("Presenting new job")
	if s.handler != nil {
		s.handler(*job)
	}
}

// pruneDeclined drops cooldown entries older than the decline cooldown so a
// previously declined job becomes eligible again.
func (s *DispatchService) pruneDeclined() {
	cutoff := time.Now().Add(-s.declineCooldown)
	for entry := range s.declined.IterBuffered() {
		if entry.Val.Before(cutoff) {
			s.declined.Remove(entry.Key)
		}
	}
}

func (s *DispatchService) setQueueSize(generation uint64, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if generation != s.generation {
		return
	}
	s.queueSize = size
}

// Accept claims the presented job and marks the session busy. A failed
// claim frees the presentation slot so polling resumes on the next cycle;
// the job enters the decline cooldown since it most likely went to another
// provider and should not bounce straight back on screen.
func (s *DispatchService) Accept(ctx context.Context, jobID string) error {
	if err := s.queue.Accept(ctx, s.providerInfo.GetProviderID(), jobID); err != nil {
		s.declined.Set(jobID, time.Now())

		s.mu.Lock()
		if s.presenting == jobID {
			s.presenting = ""
		}
		s.mu.Unlock()

		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Job claim failed; slot released")
		return err
	}

	s.session.SetActiveJob(true)
	s.mu.Lock()
	if s.presenting == jobID {
		s.presenting = ""
	}
	s.mu.Unlock()

	s.logger.Info().Str("job_id", jobID).Msg("Job accepted")
	return nil
}

// MarkDeclined starts the local cooldown for the job and frees the
// presentation slot. The job stays in the server queue for other providers.
func (s *DispatchService) MarkDeclined(jobID string) {
	s.declined.Set(jobID, time.Now())

	s.mu.Lock()
	if s.presenting == jobID {
		s.presenting = ""
	}
	s.mu.Unlock()

	s.logger.Info().Str("job_id", jobID).Msg("Job declined; cooldown started")
}

// QueueSize returns the last published queue size.
func (s *DispatchService) QueueSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queueSize
}

// Presenting returns the jobID currently shown to the provider, if any.
func (s *DispatchService) Presenting() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.presenting, s.presenting != ""
}

// ForceRefresh resets the local bookkeeping and forces an immediate poll.
// Wired to connectivity-regain, foreground, and went-online events: after a
// gap in observability the local view is reconciled from scratch.
func (s *DispatchService) ForceRefresh() {
	s.mu.Lock()
	s.suspended = false
	s.generation++
	s.queueSize = 0
	s.mu.Unlock()

	s.declined.Clear()
	s.requestPoll()
}

// Suspend pauses polling and zeroes the published queue size. Wired to
// connection-loss and background events.
func (s *DispatchService) Suspend() {
	s.mu.Lock()
	s.suspended = true
	s.generation++
	s.queueSize = 0
	s.mu.Unlock()
}
