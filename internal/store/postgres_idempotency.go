package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cardledger/cardledger/internal/domain"
)

type pgIdempotency struct {
	q pgx.Tx
}

func (r pgIdempotency) Find(ctx context.Context, key string, now time.Time) (domain.IdempotencyRecord, bool, error) {
	const query = `
        SELECT idempotency_key, endpoint, state, COALESCE(resource_id, ''), COALESCE(resource_kind, ''),
               COALESCE(status_code, 0), body, created_at, expires_at
        FROM idempotency_records
        WHERE idempotency_key = $1 AND expires_at > $2`
	var (
		rec   domain.IdempotencyRecord
		state string
		kind  string
	)
	err := r.q.QueryRow(ctx, query, key, now).Scan(&rec.Key, &rec.Endpoint, &state, &rec.ResourceID, &kind,
		&rec.StatusCode, &rec.Body, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.IdempotencyRecord{}, false, nil
		}
		return domain.IdempotencyRecord{}, false, fmt.Errorf("select idempotency record: %w", err)
	}
	rec.State = domain.IdempotencyState(state)
	rec.ResourceKind = domain.ResourceKind(kind)
	return rec, true, nil
}

func (r pgIdempotency) dropExpired(ctx context.Context, key string, now time.Time) error {
	_, err := r.q.Exec(ctx, `DELETE FROM idempotency_records WHERE idempotency_key = $1 AND expires_at <= $2`, key, now)
	if err != nil {
		return fmt.Errorf("drop expired idempotency record: %w", err)
	}
	return nil
}

// Claim blocks behind a concurrent uncommitted claim for the same key and
// reports false once that transaction commits.
func (r pgIdempotency) Claim(ctx context.Context, rec domain.IdempotencyRecord) (bool, error) {
	if err := r.dropExpired(ctx, rec.Key, rec.CreatedAt); err != nil {
		return false, err
	}
	const query = `
        INSERT INTO idempotency_records (idempotency_key, endpoint, state, created_at, expires_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (idempotency_key) DO NOTHING`
	tag, err := r.q.Exec(ctx, query, rec.Key, rec.Endpoint, string(domain.IdempotencyInProgress), rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r pgIdempotency) Complete(ctx context.Context, rec domain.IdempotencyRecord) error {
	const query = `
        UPDATE idempotency_records
        SET state = $2, resource_id = $3, resource_kind = $4, status_code = $5, body = $6
        WHERE idempotency_key = $1 AND state = $7`
	tag, err := r.q.Exec(ctx, query, rec.Key, string(domain.IdempotencyCompleted), rec.ResourceID, string(rec.ResourceKind),
		rec.StatusCode, rec.Body, string(domain.IdempotencyInProgress))
	if err != nil {
		return fmt.Errorf("complete idempotency record: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("complete idempotency record %s: no pending claim", rec.Key)
	}
	return nil
}

func (r pgIdempotency) Save(ctx context.Context, rec domain.IdempotencyRecord) error {
	if err := r.dropExpired(ctx, rec.Key, rec.CreatedAt); err != nil {
		return err
	}
	const query = `
        INSERT INTO idempotency_records
            (idempotency_key, endpoint, state, resource_id, resource_kind, status_code, body, created_at, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.q.Exec(ctx, query, rec.Key, rec.Endpoint, string(domain.IdempotencyCompleted), rec.ResourceID,
		string(rec.ResourceKind), rec.StatusCode, rec.Body, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateKey, rec.Key)
		}
		return fmt.Errorf("save idempotency record: %w", err)
	}
	return nil
}

func (r pgIdempotency) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM idempotency_records WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge idempotency records: %w", err)
	}
	return tag.RowsAffected(), nil
}
