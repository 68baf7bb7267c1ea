package domain

import (
	"fmt"
	"strings"
	"time"
)

// CardStatus is the lifecycle state of a card.
type CardStatus string

const (
	CardStatusActive  CardStatus = "ACTIVE"
	CardStatusBlocked CardStatus = "BLOCKED"
	CardStatusClosed  CardStatus = "CLOSED"
)

// ParseCardStatus validates a status name.
func ParseCardStatus(s string) (CardStatus, error) {
	switch st := CardStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case CardStatusActive, CardStatusBlocked, CardStatusClosed:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown card status %q", ErrInvalidData, s)
	}
}

// Currency is a supported ISO 4217 code. Amounts are always carried in minor units.
type Currency string

const (
	CurrencyUZS Currency = "UZS"
	CurrencyUSD Currency = "USD"
)

// ParseCurrency validates a currency code.
func ParseCurrency(s string) (Currency, error) {
	switch c := Currency(strings.ToUpper(strings.TrimSpace(s))); c {
	case CurrencyUZS, CurrencyUSD:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedConversion, s)
	}
}

// Card is a virtual payment card. Balance is in minor units of Currency and never negative.
// Version increases by exactly one on every successful write.
type Card struct {
	ID        string
	UserID    int64
	Status    CardStatus
	Balance   int64
	Currency  Currency
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsOpen reports whether the card counts against the per-user card limit.
func (c Card) IsOpen() bool {
	return c.Status != CardStatusClosed
}
