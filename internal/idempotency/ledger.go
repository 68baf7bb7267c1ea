// Package idempotency records the response produced for each idempotency key
// so that retries replay it instead of executing again.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cardledger/cardledger/internal/clock"
	"github.com/cardledger/cardledger/internal/domain"
	"github.com/cardledger/cardledger/internal/logging"
	"github.com/cardledger/cardledger/internal/metrics"
	"github.com/cardledger/cardledger/internal/store"
)

const (
	// DefaultTTL is the retention window for recorded responses.
	DefaultTTL = 24 * time.Hour
	// MaxKeyLen matches the idempotency_key column width.
	MaxKeyLen = 255
)

// Mode selects how a key is reserved.
type Mode string

const (
	// ModeClaim inserts an in-progress row before doing any work, so concurrent
	// first-time requests with one key cannot both execute.
	ModeClaim Mode = "claim"
	// ModeCheckThenSave looks the key up first and saves after the work is done.
	ModeCheckThenSave Mode = "check-then-save"
)

// ParseMode validates a configured mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeClaim, ModeCheckThenSave:
		return m, nil
	case "":
		return ModeClaim, nil
	default:
		return "", fmt.Errorf("unknown idempotency mode %q", s)
	}
}

// Ledger is used from inside a unit of work: Begin before the mutation and
// Finish after it, both against the same Tx.
type Ledger struct {
	mode   Mode
	ttl    time.Duration
	clock  clock.Clock
	logger *slog.Logger
}

// Option customises a Ledger.
type Option func(*Ledger)

func WithMode(m Mode) Option { return func(l *Ledger) { l.mode = m } }
func WithTTL(ttl time.Duration) Option { return func(l *Ledger) { l.ttl = ttl } }
func WithClock(c clock.Clock) Option { return func(l *Ledger) { l.clock = c } }
func WithLogger(lg *slog.Logger) Option { return func(l *Ledger) { l.logger = lg } }

// NewLedger builds a ledger in claim mode with a 24h retention unless overridden.
func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{mode: ModeClaim, ttl: DefaultTTL, clock: clock.System{}, logger: logging.Discard()}
	for _, opt := range opts {
		opt(l)
	}
	if l.ttl <= 0 {
		l.ttl = DefaultTTL
	}
	return l
}

// Mode reports the reservation strategy in use.
func (l *Ledger) Mode() Mode { return l.mode }

// Find returns the live record for key, if any.
func (l *Ledger) Find(ctx context.Context, s store.IdempotencyStore, key string) (domain.IdempotencyRecord, bool, error) {
	return s.Find(ctx, key, l.clock.Now())
}

// Begin reserves key for endpoint. A non-nil record means the request already
// completed and its response must be replayed; nil means the caller owns the
// key and must call Finish before committing.
func (l *Ledger) Begin(ctx context.Context, s store.IdempotencyStore, key, endpoint string) (*domain.IdempotencyRecord, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("%w: idempotency key is required", domain.ErrInvalidData)
	}
	if utf8.RuneCountInString(key) > MaxKeyLen {
		return nil, fmt.Errorf("%w: idempotency key exceeds %d characters", domain.ErrInvalidData, MaxKeyLen)
	}
	now := l.clock.Now()

	if l.mode == ModeClaim {
		claimed, err := s.Claim(ctx, domain.IdempotencyRecord{
			Key:       key,
			Endpoint:  endpoint,
			State:     domain.IdempotencyInProgress,
			CreatedAt: now,
			ExpiresAt: now.Add(l.ttl),
		})
		if err != nil {
			return nil, err
		}
		if claimed {
			return nil, nil
		}
	}

	rec, found, err := s.Find(ctx, key, now)
	if err != nil {
		return nil, err
	}
	switch {
	case !found && l.mode == ModeClaim:
		// The owner rolled back between our claim and lookup.
		return nil, domain.ErrRequestInProgress
	case !found:
		return nil, nil
	case rec.Endpoint != endpoint:
		return nil, fmt.Errorf("%w: key %s was used for %s", domain.ErrInvalidData, key, rec.Endpoint)
	case rec.State != domain.IdempotencyCompleted:
		return nil, domain.ErrRequestInProgress
	}

	metrics.IdempotencyReplays.WithLabelValues(endpoint).Inc()
	l.logger.Info("idempotent replay", "idempotency_key", key, "endpoint", endpoint, "resource_id", rec.ResourceID)
	return &rec, nil
}

// Result is the response recorded by Finish.
type Result struct {
	ResourceID string
	Kind       domain.ResourceKind
	StatusCode int
	Payload    any
}

// Finish stores the response for key inside the caller's unit of work.
func (l *Ledger) Finish(ctx context.Context, s store.IdempotencyStore, key, endpoint string, res Result) error {
	body, err := Encode(res.Kind, res.Payload)
	if err != nil {
		return err
	}
	now := l.clock.Now()
	rec := domain.IdempotencyRecord{
		Key:          key,
		Endpoint:     endpoint,
		State:        domain.IdempotencyCompleted,
		ResourceID:   res.ResourceID,
		ResourceKind: res.Kind,
		StatusCode:   res.StatusCode,
		Body:         body,
		CreatedAt:    now,
		ExpiresAt:    now.Add(l.ttl),
	}

	if l.mode == ModeClaim {
		return s.Complete(ctx, rec)
	}
	if err := s.Save(ctx, rec); err != nil {
		if errors.Is(err, domain.ErrDuplicateKey) {
			l.logger.Warn("idempotency key recorded concurrently", "idempotency_key", key, "endpoint", endpoint)
		}
		return err
	}
	return nil
}
