package copilotauth

import (
	"context"
	"errors"
	"maps"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const defaultRefreshMargin = 30 * time.Second

type TokenSource interface {
	Fetch(ctx context.Context, personalToken string) (*CopilotToken, error)
	Session() Session
}

type HeaderCacheOptions struct {
	PersonalToken string
	TokenEnv      string // only used to name the variable in ConfigurationError
	Fetcher       TokenSource
	Logger        *zap.Logger
	RefreshMargin time.Duration // how long before expiry a cached token counts as stale
	Now           func() time.Time
}

type cachedHeaders struct {
	headers   map[string]string
	expiresAt time.Time
}

// HeaderCache serves Copilot API headers, exchanging the personal token for a new bearer
// token once the cached one is within the refresh margin of its expiry.
type HeaderCache struct {
	personalToken string
	tokenEnv      string
	fetcher       TokenSource
	logger        *zap.Logger
	refreshMargin time.Duration
	now           func() time.Time

	mu     sync.RWMutex
	cached *cachedHeaders
	flight singleflight.Group
}

func NewHeaderCache(opts HeaderCacheOptions) (*HeaderCache, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("token fetcher is required")
	}
	if opts.TokenEnv == "" {
		opts.TokenEnv = defaultTokenEnv
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RefreshMargin < 0 {
		return nil, errors.New("refresh margin cannot be negative")
	}
	if opts.RefreshMargin == 0 {
		opts.RefreshMargin = defaultRefreshMargin
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &HeaderCache{
		personalToken: opts.PersonalToken,
		tokenEnv:      opts.TokenEnv,
		fetcher:       opts.Fetcher,
		logger:        opts.Logger,
		refreshMargin: opts.RefreshMargin,
		now:           opts.Now,
	}, nil
}

// Headers returns the headers for an authenticated Copilot API call. A cache hit performs
// no I/O; a miss performs exactly one token exchange shared by all concurrent callers.
// The shared exchange outlives any single caller's cancellation; each caller stops
// waiting when its own ctx is done.
func (c *HeaderCache) Headers(ctx context.Context) (map[string]string, error) {
	c.mu.RLock()
	entry, fresh := c.freshLocked(c.now())
	c.mu.RUnlock()
	if fresh {
		return maps.Clone(entry.headers), nil
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan("headers", func() (any, error) {
		return c.refresh(flightCtx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug("joined in-flight token refresh")
		}
		return maps.Clone(res.Val.(*cachedHeaders).headers), nil
	}
}

func (c *HeaderCache) AuthorizationHeader(ctx context.Context) (string, error) {
	headers, err := c.Headers(ctx)
	if err != nil {
		return "", err
	}
	return headers["Authorization"], nil
}

// Apply sets the Copilot headers on req, replacing any values already present.
func (c *HeaderCache) Apply(ctx context.Context, req *http.Request) error {
	headers, err := c.Headers(ctx)
	if err != nil {
		return err
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	return nil
}

func (c *HeaderCache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, fresh := c.freshLocked(c.now())
	return fresh
}

func (c *HeaderCache) ExpiresAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cached == nil {
		return time.Time{}
	}
	return c.cached.expiresAt
}

// Invalidate drops the cached headers; the next call to Headers refetches.
func (c *HeaderCache) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}

func (c *HeaderCache) refresh(ctx context.Context) (*cachedHeaders, error) {
	// Another caller may have refreshed between our read and entering the flight.
	c.mu.RLock()
	entry, fresh := c.freshLocked(c.now())
	c.mu.RUnlock()
	if fresh {
		return entry, nil
	}

	if c.personalToken == "" {
		return nil, &ConfigurationError{Variable: c.tokenEnv}
	}

	token, err := c.fetcher.Fetch(ctx, c.personalToken)
	if err != nil {
		c.logger.Warn("copilot token refresh failed", zap.Error(err))
		return nil, err
	}

	entry = &cachedHeaders{
		headers:   c.fetcher.Session().BearerHeaders(token.Token),
		expiresAt: token.ExpiresAt,
	}

	c.mu.Lock()
	c.cached = entry
	c.mu.Unlock()

	c.logger.Info("copilot token refreshed",
		zap.String("token", maskToken(token.Token)),
		zap.Time("expires_at", token.ExpiresAt),
	)
	c.logger.Debug("copilot headers", zap.Any("headers", sanitizeHeaderMap(entry.headers)))

	return entry, nil
}

// freshLocked must be called with at least read lock held. The cached entry is fresh only
// while strictly more than the refresh margin remains before expiry.
func (c *HeaderCache) freshLocked(now time.Time) (*cachedHeaders, bool) {
	if c.cached == nil {
		return nil, false
	}
	return c.cached, c.cached.expiresAt.Sub(now) > c.refreshMargin
}
