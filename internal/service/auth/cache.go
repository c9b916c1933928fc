package auth

import (
	"context"
	"sync"
	"time"

	"github.com/zhouzirui/yagpt-chat/backend/internal/clock"
	"github.com/zhouzirui/yagpt-chat/backend/internal/metrics"
)

// DefaultSafetyMargin is how long before expiry a cached token is considered stale,
// so that a token does not expire while a completion request is in flight.
const DefaultSafetyMargin = 30 * time.Second

// Exchanger obtains a fresh token. *Signer is the production implementation.
type Exchanger interface {
	Exchange(ctx context.Context) (Token, error)
}

// TokenCache holds a single IAM token and refreshes it lazily. Concurrent callers that
// observe a stale token share one exchange.
type TokenCache struct {
	exchanger Exchanger
	clock     clock.Clock
	margin    time.Duration
	metrics   metrics.MetricsCollector

	mu      sync.RWMutex
	current *Token
}

// CacheOption configures a TokenCache.
type CacheOption func(*TokenCache)

// WithCacheClock injects the time source used for expiry checks.
func WithCacheClock(c clock.Clock) CacheOption {
	return func(tc *TokenCache) { tc.clock = c }
}

// WithSafetyMargin overrides DefaultSafetyMargin.
func WithSafetyMargin(margin time.Duration) CacheOption {
	return func(tc *TokenCache) { tc.margin = margin }
}

// WithCacheMetrics records refresh outcomes.
func WithCacheMetrics(m metrics.MetricsCollector) CacheOption {
	return func(tc *TokenCache) { tc.metrics = m }
}

// NewTokenCache creates an empty cache in front of exchanger.
func NewTokenCache(exchanger Exchanger, opts ...CacheOption) *TokenCache {
	tc := &TokenCache{
		exchanger: exchanger,
		clock:     clock.Real(),
		margin:    DefaultSafetyMargin,
		metrics:   metrics.Nop{},
	}
	for _, o := range opts {
		o(tc)
	}
	return tc
}

// Token returns a token valid for at least the safety margin, exchanging a new one
// if the cached slot is empty or stale.
func (tc *TokenCache) Token(ctx context.Context) (Token, error) {
	tc.mu.RLock()
	if tok, ok := tc.fresh(); ok {
		tc.mu.RUnlock()
		return tok, nil
	}
	tc.mu.RUnlock()

	tc.mu.Lock()
	defer tc.mu.Unlock()

	// Another caller may have refreshed while we waited for the write lock.
	if tok, ok := tc.fresh(); ok {
		return tok, nil
	}

	tok, err := tc.exchanger.Exchange(ctx)
	if err != nil {
		tc.current = nil
		tc.metrics.RecordTokenRefresh("failure")
		return Token{}, err
	}

	tc.metrics.RecordTokenRefresh("success")
	tc.current = &tok
	return tok, nil
}

// Invalidate discards the cached token if it is still stale, so the next Token call
// exchanges a new one. A token refreshed since stale was handed out is kept. A zero
// stale token discards whatever is cached.
func (tc *TokenCache) Invalidate(stale Token) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.current == nil {
		return
	}
	if stale.Value == "" || tc.current.Value == stale.Value {
		tc.current = nil
	}
}

// fresh must be called with tc.mu held.
func (tc *TokenCache) fresh() (Token, bool) {
	if tc.current == nil {
		return Token{}, false
	}
	if !tc.current.ValidAt(tc.clock.Now(), tc.margin) {
		return Token{}, false
	}
	return *tc.current, true
}
