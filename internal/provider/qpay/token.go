package qpay

import (
	"sync"
	"time"
)

// DefaultExpiryMargin is subtracted from the token expiry when judging
// validity, so a request never races the real expiry mid-flight.
const DefaultExpiryMargin = 5 * time.Minute

// TokenStore holds the current gateway access token and its expiry for one
// process. Reads and writes replace the whole token+expiry pair under a
// mutex; concurrent forced refreshes are tolerated, last writer wins.
type TokenStore struct {
	mu       sync.Mutex
	token    string
	issuedAt time.Time
	expiry   time.Time
	margin   time.Duration
}

func NewTokenStore() *TokenStore {
	return &TokenStore{margin: DefaultExpiryMargin}
}

// NewTokenStoreWithMargin is used by tests that need tight expiry windows.
func NewTokenStoreWithMargin(margin time.Duration) *TokenStore {
	return &TokenStore{margin: margin}
}

// Valid reports whether a token is held and now is before expiry minus the
// safety margin.
func (s *TokenStore) Valid(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != "" && now.Before(s.expiry.Add(-s.margin))
}

// Set replaces the current token and computes expiry as issuedAt + ttl.
func (s *TokenStore) Set(token string, issuedAt time.Time, ttlSeconds int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.issuedAt = issuedAt
	s.expiry = issuedAt.Add(time.Duration(ttlSeconds) * time.Second)
}

// Clear drops the current token, forcing the next request to re-authenticate.
func (s *TokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.issuedAt = time.Time{}
	s.expiry = time.Time{}
}

// Token returns the raw token and whether one is held. Validity is a
// separate question answered by Valid.
func (s *TokenStore) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.token != ""
}

// Expiry returns the current expiry instant, zero when no token is held.
func (s *TokenStore) Expiry() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiry
}
