package domain

import (
	"fmt"
	"strings"
	"time"
)

// TransactionType distinguishes money leaving and entering a card.
type TransactionType string

const (
	TransactionDebit  TransactionType = "DEBIT"
	TransactionCredit TransactionType = "CREDIT"
)

// ParseTransactionType validates a transaction type filter value.
func ParseTransactionType(s string) (TransactionType, error) {
	switch t := TransactionType(strings.ToUpper(strings.TrimSpace(s))); t {
	case TransactionDebit, TransactionCredit:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown transaction type %q", ErrInvalidData, s)
	}
}

// Transaction is an immutable ledger record. Amount is in Currency; AfterBalance is in the
// card's currency and equals the card balance at the instant the record was committed.
// ExchangeRate is set only when Currency differs from the card currency.
type Transaction struct {
	ID           string
	ExternalID   string
	CardID       string
	Type         TransactionType
	Amount       int64
	AfterBalance int64
	Currency     Currency
	Purpose      string
	ExchangeRate *int64
	CreatedAt    time.Time
}

// TransactionFilter narrows a card's transaction history. Zero values mean "any".
type TransactionFilter struct {
	CardID        string
	Type          TransactionType
	TransactionID string
	ExternalID    string
	Currency      Currency
	Page          int
	Size          int
}
