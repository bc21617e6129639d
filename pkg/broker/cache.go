package broker

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/redhat-et/card-broker/pkg/fault"
	"github.com/redhat-et/card-broker/pkg/logger"
	"github.com/redhat-et/card-broker/pkg/metrics"
)

const flightKey = "token"

// CachedSource reuses a token until it is within skew of expiry. Concurrent
// misses share one exchange; failures are never cached.
type CachedSource struct {
	source Provider
	skew   time.Duration
	now    func() time.Time
	log    *logger.Logger

	mu    sync.RWMutex
	token *oauth2.Token

	flight singleflight.Group
}

// CacheOption configures a CachedSource.
type CacheOption func(*CachedSource)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CacheOption {
	return func(c *CachedSource) { c.now = now }
}

// WithCacheLogger sets the logger.
func WithCacheLogger(l *logger.Logger) CacheOption {
	return func(c *CachedSource) { c.log = l }
}

// NewCachedSource wraps source. A negative skew is treated as zero.
func NewCachedSource(source Provider, skew time.Duration, opts ...CacheOption) *CachedSource {
	if skew < 0 {
		skew = 0
	}
	c := &CachedSource{
		source: source,
		skew:   skew,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.New(logger.ComponentBroker)
	}
	return c
}

// Token returns the cached token or exchanges a new one. The shared exchange
// is detached from any single caller's cancellation; each caller still stops
// waiting when its own context ends.
func (c *CachedSource) Token(ctx context.Context) (*oauth2.Token, error) {
	if tok := c.cached(); tok != nil {
		metrics.TokenCacheLookups.WithLabelValues(metrics.CacheHit).Inc()
		return tok, nil
	}
	metrics.TokenCacheLookups.WithLabelValues(metrics.CacheMiss).Inc()

	ch := c.flight.DoChan(flightKey, func() (any, error) {
		// Another flight may have filled the cache while this one queued.
		if tok := c.cached(); tok != nil {
			return tok, nil
		}
		tok, err := c.source.Token(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.store(tok)
		return tok, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*oauth2.Token), nil
	case <-ctx.Done():
		return nil, fault.Wrap(fault.KindUpstreamUnreachable, "token cache", ctx.Err())
	}
}

// Invalidate drops the cached token so the next call exchanges again.
func (c *CachedSource) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != nil {
		c.token = nil
		metrics.TokenCacheLookups.WithLabelValues(metrics.CacheInvalidated).Inc()
		c.log.Info("Cached token invalidated")
	}
}

func (c *CachedSource) cached() *oauth2.Token {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.token == nil || !c.fresh(c.token) {
		return nil
	}
	return c.token
}

func (c *CachedSource) store(tok *oauth2.Token) {
	// Tokens without a known expiry are handed out once and not kept.
	if tok.Expiry.IsZero() || !c.fresh(tok) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = tok
}

func (c *CachedSource) fresh(tok *oauth2.Token) bool {
	return c.now().Add(c.skew).Before(tok.Expiry)
}
