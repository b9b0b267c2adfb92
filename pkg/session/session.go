// Package session resolves opaque bearer tokens to authenticated users.
//
// Lookups hit Postgres through an expirable LRU front so the hot path of
// per-request authentication does not pay a database round trip. Cached
// entries expire well before typical session lifetimes, so a revoked
// session stops resolving within the cache TTL.
package session

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/vortexhq/vortex/pkg/observability"
)

// Session is an authenticated user's resolved session.
type Session struct {
	Token     string    `json:"-"`
	UserID    string    `json:"userId"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the session's lifetime has passed.
func (s *Session) Expired() bool {
	return time.Now().After(s.ExpiresAt)
}

type contextKey string

const sessionKey contextKey = "vortex_session"

// WithSession stores a resolved session in the context.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// FromContext retrieves the resolved session from the context.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey).(*Session)
	return s, ok
}

// Resolver resolves a bearer token to a session.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*Session, bool)
}

// Manager resolves tokens against the store with an LRU cache in front.
type Manager struct {
	store  *Store
	cache  *lru.LRU[string, *Session]
	logger *observability.Logger
}

// NewManager creates a session manager. cacheSize bounds the number of
// cached sessions; cacheTTL bounds staleness after revocation.
func NewManager(store *Store, cacheSize int, cacheTTL time.Duration, logger *observability.Logger) *Manager {
	if cacheSize < 16 {
		cacheSize = 16
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &Manager{
		store:  store,
		cache:  lru.NewLRU[string, *Session](cacheSize, nil, cacheTTL),
		logger: logger.Named("session"),
	}
}

// Resolve returns the live session for a token, or false when the token is
// unknown, expired, or the store is unavailable.
func (m *Manager) Resolve(ctx context.Context, token string) (*Session, bool) {
	if token == "" {
		return nil, false
	}

	if s, ok := m.cache.Get(token); ok {
		if s.Expired() {
			m.cache.Remove(token)
			return nil, false
		}
		return s, true
	}

	s, err := m.store.GetSession(ctx, token)
	if err != nil {
		m.logger.WithError(err).Warn("session lookup failed")
		return nil, false
	}
	if s == nil || s.Expired() {
		return nil, false
	}

	m.cache.Add(token, s)
	return s, true
}

// Invalidate drops a token from the cache, forcing the next resolution to
// hit the store.
func (m *Manager) Invalidate(token string) {
	m.cache.Remove(token)
}

// CurrentIdentity adapts the manager to the permission checker's session
// resolution contract: the current user id and comma-joined role string
// from the request context.
func CurrentIdentity(ctx context.Context) (string, string, bool) {
	s, ok := FromContext(ctx)
	if !ok {
		return "", "", false
	}
	return s.UserID, s.Role, true
}
