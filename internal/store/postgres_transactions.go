package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/cardledger/cardledger/internal/domain"
)

type pgTransactions struct {
	q pgx.Tx
}

func (r pgTransactions) Insert(ctx context.Context, t domain.Transaction) error {
	const query = `
        INSERT INTO transactions
            (transaction_id, external_id, card_id, type, amount, after_balance, currency, purpose, exchange_rate, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10)`
	_, err := r.q.Exec(ctx, query,
		t.ID, t.ExternalID, t.CardID, string(t.Type), t.Amount, t.AfterBalance, string(t.Currency), t.Purpose, t.ExchangeRate, t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: external id %s", domain.ErrDuplicateTransaction, t.ExternalID)
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (r pgTransactions) List(ctx context.Context, f domain.TransactionFilter) ([]domain.Transaction, int64, error) {
	where, args := transactionWhere(f)

	var total int64
	if err := r.q.QueryRow(ctx, `SELECT count(*) FROM transactions WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	page, size := NormalizePage(f.Page, f.Size)
	query := fmt.Sprintf(`
        SELECT transaction_id::text, external_id, card_id::text, type, amount, after_balance, currency,
               COALESCE(purpose, ''), exchange_rate, created_at
        FROM transactions
        WHERE %s
        ORDER BY created_at DESC, transaction_id DESC
        LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	args = append(args, size, page*size)

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var (
			t        domain.Transaction
			kind     string
			currency string
		)
		if err := rows.Scan(&t.ID, &t.ExternalID, &t.CardID, &kind, &t.Amount, &t.AfterBalance, &currency,
			&t.Purpose, &t.ExchangeRate, &t.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan transaction: %w", err)
		}
		t.Type = domain.TransactionType(kind)
		t.Currency = domain.Currency(currency)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, total, nil
}

// transactionWhere renders the filter as a WHERE clause with positional args.
func transactionWhere(f domain.TransactionFilter) (string, []any) {
	clauses := []string{"card_id = $1"}
	args := []any{f.CardID}

	add := func(column string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if f.Type != "" {
		add("type", string(f.Type))
	}
	if f.TransactionID != "" {
		add("transaction_id::text", f.TransactionID)
	}
	if f.ExternalID != "" {
		add("external_id", f.ExternalID)
	}
	if f.Currency != "" {
		add("currency", string(f.Currency))
	}
	return strings.Join(clauses, " AND "), args
}
