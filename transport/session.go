package transport

import "sync"

// Session holds the mutable connection state shared by the REST and
// stream transports: the bearer token, the selected API major version
// and the optional client identifier attached to stream requests.
//
// There is exactly one Session per client; the orchestrator injects it
// into both transports so a token captured on one surface (say a login
// response on the stream) is immediately visible on the other.
type Session struct {
	mu       sync.RWMutex
	token    string
	version  int
	clientID string
}

// NewSession returns a session selecting API major version 1 with no
// authentication.
func NewSession() *Session {
	return &Session{version: 1}
}

// Token returns the bearer token, or "" when unauthenticated.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.token
}

// SetToken replaces the bearer token. An empty token marks the session
// as unauthenticated.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Version returns the selected API major version.
func (s *Session) Version() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.version
}

// SetVersion selects an API major version.
func (s *Session) SetVersion(version int) {
	s.mu.Lock()
	s.version = version
	s.mu.Unlock()
}

// ClientID returns the identifier attached to stream requests, or "".
func (s *Session) ClientID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.clientID
}

// SetClientID sets the identifier attached to stream requests.
func (s *Session) SetClientID(id string) {
	s.mu.Lock()
	s.clientID = id
	s.mu.Unlock()
}

// AuthHeader returns the Authorization header value for the current
// token, or "" when unauthenticated.
func (s *Session) AuthHeader() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.token == "" {
		return ""
	}

	return "JWT " + s.token
}
