package services

import (
	"sync"

	"github.com/rs/zerolog"
)

// Refresher is implemented by pollers that can be forced out of cycle.
// ForceRefresh resumes polling and reconciles immediately; Suspend clears
// published state while the world is unobservable.
type Refresher interface {
	ForceRefresh()
	Suspend()
}

// ConnectivityMonitor fans connectivity and visibility transitions out to
// the registered pollers. Timer-driven polling and these event triggers
// converge on each poller's single request-poll entry point, so the
// reentrancy handling lives in one place per poller.
type ConnectivityMonitor struct {
	logger zerolog.Logger

	mu         sync.Mutex
	refreshers []Refresher
	connected  bool
	foreground bool
}

// NewConnectivityMonitor creates a monitor assuming a connected, foregrounded start.
func NewConnectivityMonitor(logger zerolog.Logger) *ConnectivityMonitor {
	return &ConnectivityMonitor{
		logger:     logger,
		connected:  true,
		foreground: true,
	}
}

// Register subscribes a poller to connectivity and visibility transitions.
func (m *ConnectivityMonitor) Register(r Refresher) {
	m.mu.Lock()
	m.refreshers = append(m.refreshers, r)
	m.mu.Unlock()
}

// HandleConnect is wired to the MQTT on-connect callback. Every regain
// forces an out-of-band reconciliation instead of waiting for the next tick.
func (m *ConnectivityMonitor) HandleConnect() {
	m.mu.Lock()
	m.connected = true
	observable := m.foreground
	refreshers := m.snapshot()
	m.mu.Unlock()

	if !observable {
		return
	}
	m.logger.Info().Msg("Connectivity regained; forcing refresh")
	for _, r := range refreshers {
		r.ForceRefresh()
	}
}

// HandleConnectionLost is wired to the MQTT connection-lost callback.
func (m *ConnectivityMonitor) HandleConnectionLost(err error) {
	m.mu.Lock()
	m.connected = false
	refreshers := m.snapshot()
	m.mu.Unlock()

	m.logger.Warn().Err(err).Msg("Connectivity lost; suspending pollers")
	for _, r := range refreshers {
		r.Suspend()
	}
}

// Foreground is called by the app shell when the UI becomes visible.
func (m *ConnectivityMonitor) Foreground() {
	m.mu.Lock()
	m.foreground = true
	observable := m.connected
	refreshers := m.snapshot()
	m.mu.Unlock()

	if !observable {
		return
	}
	m.logger.Debug().Msg("Foregrounded; forcing refresh")
	for _, r := range refreshers {
		r.ForceRefresh()
	}
}

// Background is called by the app shell when the UI is hidden. Published
// lists are cleared immediately so nothing stale is shown on return.
func (m *ConnectivityMonitor) Background() {
	m.mu.Lock()
	m.foreground = false
	refreshers := m.snapshot()
	m.mu.Unlock()

	m.logger.Debug().Msg("Backgrounded; suspending pollers")
	for _, r := range refreshers {
		r.Suspend()
	}
}

// snapshot copies the refresher list so callbacks run without the lock held.
func (m *ConnectivityMonitor) snapshot() []Refresher {
	out := make([]Refresher, len(m.refreshers))
	copy(out, m.refreshers)
	return out
}
