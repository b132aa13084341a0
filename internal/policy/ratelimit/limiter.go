// Package ratelimit throttles artifact fetches per host with token buckets.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/catalog-harvester/internal/catalog"
)

// Config holds rate limiter configuration. A non-positive RPS disables
// limiting.
type Config struct {
	RPS   float64
	Burst int
}

// Limiter manages per-host rate limits.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

// Wait blocks until a token for rawURL's host is available and returns how
// long it waited. A wait that cannot finish before ctx's deadline is reported
// as catalog.ErrFetchTimeout.
func (l *Limiter) Wait(ctx context.Context, rawURL string) (time.Duration, error) {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
			return time.Since(start), ctxErr
		}
		if _, ok := ctx.Deadline(); ok {
			return time.Since(start), fmt.Errorf("%w: rate limit wait: %w", catalog.ErrFetchTimeout, err)
		}
		return time.Since(start), fmt.Errorf("rate limit wait: %w", err)
	}
	return time.Since(start), nil
}

// Source wraps inner so every session fetch first waits on l.
func Source(inner catalog.Source, l *Limiter, logger *zap.Logger) catalog.Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &limitedSource{inner: inner, limiter: l, logger: logger}
}

type limitedSource struct {
	inner   catalog.Source
	limiter *Limiter
	logger  *zap.Logger
}

func (s *limitedSource) Open(ctx context.Context) (catalog.Session, error) {
	sess, err := s.inner.Open(ctx)
	if err != nil {
		return nil, err
	}
	return &limitedSession{Session: sess, limiter: s.limiter, logger: s.logger}, nil
}

type limitedSession struct {
	catalog.Session
	limiter *Limiter
	logger  *zap.Logger
}

func (s *limitedSession) Fetch(ctx context.Context, link catalog.Link, dst string) (int64, error) {
	waited, err := s.limiter.Wait(ctx, link.Href)
	if err != nil {
		return 0, err
	}
	if waited > time.Millisecond {
		s.logger.Debug("fetch throttled", zap.String("url", link.Href), zap.Duration("waited", waited))
	}
	return s.Session.Fetch(ctx, link, dst)
}
