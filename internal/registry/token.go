package registry

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"rollcall/internal/services"
)

// AccessToken is the bearer credential for the identity registry.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// ValidFor reports whether the token remains usable for at least margin.
func (t AccessToken) ValidFor(margin time.Duration) bool {
	return t.Value != "" && time.Until(t.ExpiresAt) > margin
}

// Exchanger performs a blocking credential exchange with the registry.
type Exchanger interface {
	Exchange(ctx context.Context) (AccessToken, error)
}

// ExchangerFunc adapts a function to the Exchanger interface.
type ExchangerFunc func(ctx context.Context) (AccessToken, error)

func (f ExchangerFunc) Exchange(ctx context.Context) (AccessToken, error) {
	return f(ctx)
}

// TokenCache caches the registry bearer token and refreshes it before expiry.
// Refresh is single-flighted: concurrent callers during a refresh share one
// credential exchange. A failed exchange caches nothing; the next call
// retries from scratch.
type TokenCache struct {
	exchanger Exchanger
	margin    time.Duration

	mu      sync.Mutex
	current AccessToken

	group singleflight.Group
}

// NewTokenCache constructs a cache around the given exchanger. Tokens are
// refreshed once they would expire within margin.
func NewTokenCache(exchanger Exchanger, margin time.Duration) *TokenCache {
	if margin < 0 {
		margin = 0
	}
	return &TokenCache{exchanger: exchanger, margin: margin}
}

// Token returns a token valid for at least the safety margin, performing a
// credential exchange when the cached one is missing or near expiry.
func (c *TokenCache) Token(ctx context.Context) (AccessToken, error) {
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()
	if current.ValidFor(c.margin) {
		return current, nil
	}

	value, err, _ := c.group.Do("token", func() (any, error) {
		// A concurrent caller may have refreshed while we queued.
		c.mu.Lock()
		cached := c.current
		c.mu.Unlock()
		if cached.ValidFor(c.margin) {
			return cached, nil
		}

		token, err := c.exchanger.Exchange(ctx)
		if err != nil {
			return AccessToken{}, services.Wrap(services.ErrAuth, "registry", "exchange", "credential exchange failed", err)
		}

		c.mu.Lock()
		c.current = token
		c.mu.Unlock()
		return token, nil
	})
	if err != nil {
		return AccessToken{}, err
	}
	return value.(AccessToken), nil
}

// Invalidate drops the cached token so the next Token call performs a fresh
// exchange. Used after the registry rejects a request as unauthenticated.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.current = AccessToken{}
	c.mu.Unlock()
}
