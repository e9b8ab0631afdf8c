package crm

import (
	"context"
	"sync"
	"time"

	"crm-gateway/internal/common/logging"
)

// tokenKey is the shared cache key under which the bearer token lives.
const tokenKey = "crm_token"

// TokenCache is the capability the token manager needs from the shared
// cache. Expiry is cache-native: Get on an expired key behaves like a miss.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// TokenManager owns the cached CRM bearer token. Cache reads fail soft: any
// cache error counts as a miss and forces a fresh login, so the gateway
// stays up when Redis does not. A nil cache disables caching entirely and
// every Token call logs in.
type TokenManager struct {
	cache  TokenCache
	auth   *Authenticator
	ttl    time.Duration
	logger logging.Logger

	// mu collapses concurrent cache misses into a single login.
	mu sync.Mutex
}

// NewTokenManager wires a token cache to an authenticator. ttl should stay
// below the CRM's own token lifetime to leave margin for clock skew and
// in-flight requests.
func NewTokenManager(cache TokenCache, auth *Authenticator, ttl time.Duration, logger logging.Logger) *TokenManager {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &TokenManager{
		cache:  cache,
		auth:   auth,
		ttl:    ttl,
		logger: logger.WithFields(logging.String("component", "crm_tokens")),
	}
}

// Token returns the cached token, or authenticates and caches a fresh one.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	// A cache error is indistinguishable from a miss on purpose: either way
	// the answer is a fresh login.
	if token := m.cached(ctx); token != "" {
		m.logger.Debug("token served from cache")
		return token, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another caller may have logged in while we waited for the lock.
	if token := m.cached(ctx); token != "" {
		return token, nil
	}

	return m.login(ctx)
}

func (m *TokenManager) cached(ctx context.Context) string {
	if m.cache == nil {
		return ""
	}
	token, err := m.cache.Get(ctx, tokenKey)
	if err != nil {
		return ""
	}
	return token
}

// Refresh forces a new login and overwrites the cached token. Used by the
// scheduled refresh job and by 401 recovery.
func (m *TokenManager) Refresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.login(ctx)
}

// Invalidate drops the cached token.
func (m *TokenManager) Invalidate(ctx context.Context) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Delete(ctx, tokenKey); err != nil {
		m.logger.Warn("failed to drop cached token", logging.Err(err))
	}
}

func (m *TokenManager) login(ctx context.Context) (string, error) {
	token, err := m.auth.Authenticate(ctx)
	if err != nil {
		return "", err
	}

	if m.cache == nil {
		return token, nil
	}

	if err := m.cache.Set(ctx, tokenKey, token, m.ttl); err != nil {
		// The token is still valid for this call; only caching failed.
		m.logger.Warn("failed to cache token", logging.Err(err))
	} else {
		m.logger.Info("token refreshed and cached", logging.Duration("ttl", m.ttl))
	}

	return token, nil
}
