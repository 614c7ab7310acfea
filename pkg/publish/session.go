package publish

import (
	"sync"
	"time"
)

// tokenSlack is taken off the advertised token lifetime
const tokenSlack = 60 * time.Second

// Session holds one client's tenant access token. It is owned by the client
// that created it and never shared between clients.
type Session struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// Valid returns the cached token if it has not expired at now
func (s *Session) Valid(now time.Time) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" || !now.Before(s.expiresAt) {
		return "", false
	}
	return s.token, true
}

// Set caches token for expire minus a minute
func (s *Session) Set(token string, expire time.Duration, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.expiresAt = now.Add(expire - tokenSlack)
}

// Invalidate drops the cached token so the next call fetches a new one
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expiresAt = time.Time{}
}
