package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardledger/cardledger/internal/domain"
)

const uniqueViolation = "23505"

// Postgres is the pgx-backed unit of work.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres constructs a Postgres-backed unit of work.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// Do runs fn inside a READ COMMITTED transaction. Lost updates are prevented by
// the version predicate on every card write, not by the isolation level.
func (p *Postgres) Do(ctx context.Context, fn func(Tx) error) error {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t pgTx) Cards() CardStore               { return pgCards{q: t.tx} }
func (t pgTx) Transactions() TransactionStore { return pgTransactions{q: t.tx} }
func (t pgTx) Idempotency() IdempotencyStore  { return pgIdempotency{q: t.tx} }

type pgCards struct {
	q pgx.Tx
}

const cardColumns = `card_id::text, user_id, status, balance, currency, version, created_at, updated_at`

func scanCard(row pgx.Row) (domain.Card, error) {
	var (
		c        domain.Card
		status   string
		currency string
	)
	if err := row.Scan(&c.ID, &c.UserID, &status, &c.Balance, &currency, &c.Version, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return domain.Card{}, err
	}
	c.Status = domain.CardStatus(status)
	c.Currency = domain.Currency(currency)
	return c, nil
}

func (r pgCards) Get(ctx context.Context, id string) (domain.Card, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.Card{}, domain.ErrCardNotFound
	}
	card, err := scanCard(r.q.QueryRow(ctx, `SELECT `+cardColumns+` FROM cards WHERE card_id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Card{}, domain.ErrCardNotFound
		}
		return domain.Card{}, fmt.Errorf("select card: %w", err)
	}
	return card, nil
}

func (r pgCards) Insert(ctx context.Context, c domain.Card) error {
	const query = `
        INSERT INTO cards (card_id, user_id, status, balance, currency, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.q.Exec(ctx, query, c.ID, c.UserID, string(c.Status), c.Balance, string(c.Currency), c.Version, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert card: %w", err)
	}
	return nil
}

func (r pgCards) CountOpenByUser(ctx context.Context, userID int64) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `SELECT count(*) FROM cards WHERE user_id = $1 AND status <> $2`, userID, string(domain.CardStatusClosed)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count cards: %w", err)
	}
	return n, nil
}

func (r pgCards) LockUser(ctx context.Context, userID int64) error {
	if _, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, userID); err != nil {
		return fmt.Errorf("lock user %d: %w", userID, err)
	}
	return nil
}

func (r pgCards) UpdateIfVersion(ctx context.Context, c domain.Card, expected int64) (domain.Card, error) {
	const query = `
        UPDATE cards
        SET status = $1, balance = $2, version = version + 1, updated_at = $3
        WHERE card_id = $4 AND version = $5
        RETURNING ` + cardColumns
	updated, err := scanCard(r.q.QueryRow(ctx, query, string(c.Status), c.Balance, c.UpdatedAt, c.ID, expected))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Card{}, domain.ErrVersionConflict
		}
		return domain.Card{}, fmt.Errorf("update card: %w", err)
	}
	return updated, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
