// Package fxrate provides the USD/UZS exchange rate with a time-bounded cache.
package fxrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/cardledger/cardledger/internal/clock"
	"github.com/cardledger/cardledger/internal/domain"
	"github.com/cardledger/cardledger/internal/logging"
	"github.com/cardledger/cardledger/internal/metrics"
)

// DefaultTTL is how long a fetched rate stays valid.
const DefaultTTL = time.Hour

// SharedCache is an optional second tier shared across processes.
type SharedCache interface {
	Get(ctx context.Context) (decimal.Decimal, time.Time, bool, error)
	Set(ctx context.Context, rate decimal.Decimal, fetchedAt time.Time, ttl time.Duration) error
}

// Provider caches the upstream rate for a fixed TTL. Concurrent callers that
// find the cache expired share one in-flight fetch.
type Provider struct {
	source Source
	shared SharedCache
	ttl    time.Duration
	clock  clock.Clock
	logger *slog.Logger

	mu        sync.RWMutex
	rate      decimal.Decimal
	fetchedAt time.Time
	loaded    bool

	inflight singleflight.Group
}

// Option customises a Provider.
type Option func(*Provider)

func WithTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(p *Provider) { p.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

func WithSharedCache(c SharedCache) Option {
	return func(p *Provider) { p.shared = c }
}

// NewProvider builds a provider over source.
func NewProvider(source Source, opts ...Option) *Provider {
	p := &Provider{
		source: source,
		ttl:    DefaultTTL,
		clock:  clock.System{},
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Rate returns UZS per one USD, fetching when the cached value is missing or older than the TTL.
func (p *Provider) Rate(ctx context.Context) (decimal.Decimal, error) {
	if rate, ok := p.cached(); ok {
		return rate, nil
	}
	v, err, _ := p.inflight.Do("rate", func() (any, error) {
		if rate, ok := p.cached(); ok {
			return rate, nil
		}
		return p.load(ctx, true)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

// Refresh fetches from the upstream source unconditionally and replaces the cache.
func (p *Provider) Refresh(ctx context.Context) (decimal.Decimal, error) {
	v, err, _ := p.inflight.Do("refresh", func() (any, error) {
		return p.load(ctx, false)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

func (p *Provider) cached() (decimal.Decimal, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.loaded || p.clock.Now().Sub(p.fetchedAt) >= p.ttl {
		return decimal.Zero, false
	}
	return p.rate, true
}

func (p *Provider) load(ctx context.Context, allowShared bool) (decimal.Decimal, error) {
	if allowShared && p.shared != nil {
		rate, fetchedAt, ok, err := p.shared.Get(ctx)
		switch {
		case err != nil:
			p.logger.Warn("shared rate cache read failed", "error", err)
		case ok && rate.IsPositive() && p.clock.Now().Sub(fetchedAt) < p.ttl:
			p.store(rate, fetchedAt)
			return rate, nil
		}
	}

	rate, err := p.source.FetchRate(ctx)
	if err != nil {
		metrics.FXFetches.WithLabelValues(metrics.OutcomeError).Inc()
		p.logger.Error("exchange rate fetch failed", "error", err)
		if errors.Is(err, domain.ErrRateUnavailable) {
			return decimal.Zero, err
		}
		return decimal.Zero, fmt.Errorf("%w: %v", domain.ErrRateUnavailable, err)
	}
	if !rate.IsPositive() {
		metrics.FXFetches.WithLabelValues(metrics.OutcomeError).Inc()
		return decimal.Zero, fmt.Errorf("%w: non-positive rate %s", domain.ErrRateUnavailable, rate)
	}
	metrics.FXFetches.WithLabelValues(metrics.OutcomeSuccess).Inc()

	now := p.clock.Now()
	p.store(rate, now)
	if p.shared != nil {
		if err := p.shared.Set(ctx, rate, now, p.ttl); err != nil {
			p.logger.Warn("shared rate cache write failed", "error", err)
		}
	}
	p.logger.Info("exchange rate refreshed", "rate", rate.String())
	return rate, nil
}

func (p *Provider) store(rate decimal.Decimal, fetchedAt time.Time) {
	p.mu.Lock()
	p.rate = rate
	p.fetchedAt = fetchedAt
	p.loaded = true
	p.mu.Unlock()
}
