// Package store persists cards, transactions and idempotency records. Every
// mutation runs inside a UnitOfWork so that the three writes commit together.
package store

import (
	"context"
	"math"
	"time"

	"github.com/cardledger/cardledger/internal/domain"
)

// CardStore owns card records.
type CardStore interface {
	Get(ctx context.Context, id string) (domain.Card, error)
	Insert(ctx context.Context, card domain.Card) error
	// CountOpenByUser counts the user's cards that are not CLOSED.
	CountOpenByUser(ctx context.Context, userID int64) (int, error)
	// LockUser serialises card creation for a user until the unit of work ends.
	LockUser(ctx context.Context, userID int64) error
	// UpdateIfVersion writes status and balance only if the stored version still
	// equals expected. The returned card carries version expected+1. A lost race
	// yields domain.ErrVersionConflict.
	UpdateIfVersion(ctx context.Context, card domain.Card, expected int64) (domain.Card, error)
}

// TransactionStore is the append-only ledger.
type TransactionStore interface {
	// Insert fails with domain.ErrDuplicateTransaction when the external id is taken.
	Insert(ctx context.Context, txn domain.Transaction) error
	// List returns one page, newest first, and the total number of matches.
	List(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, int64, error)
}

// IdempotencyStore keeps the responses produced for idempotency keys.
type IdempotencyStore interface {
	// Find ignores records that expired at now.
	Find(ctx context.Context, key string, now time.Time) (domain.IdempotencyRecord, bool, error)
	// Claim inserts an in-progress record unless a live record already holds the key.
	Claim(ctx context.Context, rec domain.IdempotencyRecord) (bool, error)
	// Complete stores the response on a record claimed in the same unit of work.
	Complete(ctx context.Context, rec domain.IdempotencyRecord) error
	// Save inserts a completed record; domain.ErrDuplicateKey if the key is live.
	Save(ctx context.Context, rec domain.IdempotencyRecord) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Tx exposes the stores bound to one unit of work.
type Tx interface {
	Cards() CardStore
	Transactions() TransactionStore
	Idempotency() IdempotencyStore
}

// UnitOfWork runs fn atomically: everything fn wrote commits when it returns
// nil and nothing does otherwise.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(Tx) error) error
}

// Page bounds for transaction listings.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
	// MaxPage keeps page*size within int range.
	MaxPage = math.MaxInt32 / MaxPageSize
)

// NormalizePage clamps paging parameters to sane bounds.
func NormalizePage(page, size int) (int, int) {
	switch {
	case page < 0:
		page = 0
	case page > MaxPage:
		page = MaxPage
	}
	switch {
	case size <= 0:
		size = DefaultPageSize
	case size > MaxPageSize:
		size = MaxPageSize
	}
	return page, size
}
