package models

import "sync"

// SessionState is the explicit session context consulted by the pollers.
// It replaces hidden module-level flags: the app shell mutates it, the
// services only read it synchronously at the top of each cycle.
type SessionState struct {
	mu                 sync.RWMutex
	online             bool
	registeredProvider bool
	activeJob          bool
	loggingOut         bool
}

// NewSessionState returns a logged-in, offline, idle session.
func NewSessionState() *SessionState {
	return &SessionState{}
}

// SetOnline marks the provider as accepting work.
func (s *SessionState) SetOnline(online bool) {
	s.mu.Lock()
	s.online = online
	s.mu.Unlock()
}

// Online reports whether the provider is accepting work.
func (s *SessionState) Online() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

// SetRegisteredProvider marks the account as a registered service provider.
func (s *SessionState) SetRegisteredProvider(registered bool) {
	s.mu.Lock()
	s.registeredProvider = registered
	s.mu.Unlock()
}

// RegisteredProvider reports whether the account is a registered provider.
func (s *SessionState) RegisteredProvider() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registeredProvider
}

// SetActiveJob records whether the provider currently has an accepted job.
func (s *SessionState) SetActiveJob(active bool) {
	s.mu.Lock()
	s.activeJob = active
	s.mu.Unlock()
}

// HasActiveJob reports whether the provider currently has an accepted job.
func (s *SessionState) HasActiveJob() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeJob
}

// SetLoggingOut suppresses further store writes while the session unwinds.
func (s *SessionState) SetLoggingOut(loggingOut bool) {
	s.mu.Lock()
	s.loggingOut = loggingOut
	s.mu.Unlock()
}

// LoggingOut reports whether a logout is in progress.
func (s *SessionState) LoggingOut() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loggingOut
}
