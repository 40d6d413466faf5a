package bluesky

import (
	"sync"
	"sync/atomic"
)

// Session is the process-wide authentication state. Logins are serialized
// by loginMu so at most one is in flight; the authenticated flag only ever
// moves from false to true.
type Session struct {
	loginMu       sync.Mutex
	authenticated atomic.Bool

	mu        sync.RWMutex
	accessJWT string
	did       string
	handle    string
}

func NewSession() *Session {
	return &Session{}
}

// Authenticated reports whether a login has succeeded.
func (s *Session) Authenticated() bool {
	return s.authenticated.Load()
}

// DID is the actor ID returned by the login, empty before it.
func (s *Session) DID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.did
}

// Handle is the handle the login reported.
func (s *Session) Handle() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handle
}

func (s *Session) token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessJWT
}

func (s *Session) establish(accessJWT, did, handle string) {
	s.mu.Lock()
	s.accessJWT = accessJWT
	s.did = did
	s.handle = handle
	s.mu.Unlock()
	s.authenticated.Store(true)
}
