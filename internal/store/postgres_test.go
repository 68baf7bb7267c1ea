package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/cardledger/cardledger/internal/domain"
)

func TestTransactionWhere(t *testing.T) {
	where, args := transactionWhere(domain.TransactionFilter{CardID: "c1"})
	assert.Equal(t, "card_id = $1", where)
	assert.Equal(t, []any{"c1"}, args)

	where, args = transactionWhere(domain.TransactionFilter{
		CardID: "c1", Type: domain.TransactionDebit, ExternalID: "e1", Currency: domain.CurrencyUSD,
	})
	assert.Equal(t, "card_id = $1 AND type = $2 AND external_id = $3 AND currency = $4", where)
	assert.Equal(t, []any{"c1", "DEBIT", "e1", "USD"}, args)
}

func TestIsUniqueViolation(t *testing.T) {
	wrapped := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	assert.True(t, isUniqueViolation(wrapped))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("plain")))
}

func TestNormalizePage(t *testing.T) {
	page, size := NormalizePage(-1, 0)
	assert.Equal(t, 0, page)
	assert.Equal(t, DefaultPageSize, size)

	_, size = NormalizePage(2, 1000)
	assert.Equal(t, MaxPageSize, size)

	page, size = NormalizePage(922337203685477581, 10)
	assert.Equal(t, MaxPage, page)
	assert.Equal(t, 10, size)
}
