// Package money converts minor-unit amounts between the two supported currencies.
package money

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/cardledger/cardledger/internal/domain"
)

var (
	minorUnitsPerMajor = decimal.NewFromInt(100)
	maxAmount          = decimal.NewFromInt(math.MaxInt64)
)

// RateSource yields the number of UZS per one USD.
type RateSource interface {
	Rate(ctx context.Context) (decimal.Decimal, error)
}

// Converter applies the current USD/UZS rate to integer minor-unit amounts, rounding half up.
type Converter struct {
	rates RateSource
}

// NewConverter builds a converter over the given rate source.
func NewConverter(rates RateSource) *Converter {
	return &Converter{rates: rates}
}

// Convert turns amount (minor units of from) into minor units of to.
// Identical currencies are returned unchanged without consulting the rate source.
func (c *Converter) Convert(ctx context.Context, amount int64, from, to domain.Currency) (int64, error) {
	if err := checkPair(from, to); err != nil {
		return 0, err
	}
	if from == to {
		return amount, nil
	}
	rate, err := c.rates.Rate(ctx)
	if err != nil {
		return 0, err
	}
	return ConvertWithRate(amount, from, to, rate)
}

// RateInMinorUnits returns the rate recorded on a transaction for audit: UZS per USD scaled
// to tiyin and truncated. It returns nil when no conversion takes place.
func (c *Converter) RateInMinorUnits(ctx context.Context, from, to domain.Currency) (*int64, error) {
	if err := checkPair(from, to); err != nil {
		return nil, err
	}
	if from == to {
		return nil, nil
	}
	rate, err := c.rates.Rate(ctx)
	if err != nil {
		return nil, err
	}
	scaled := ScaledRate(rate)
	return &scaled, nil
}

// Quote is a conversion together with the rate recorded for it.
type Quote struct {
	Amount int64
	// Rate is nil when no conversion took place.
	Rate *int64
}

// Quote converts amount and reports the scaled rate it used, reading the rate
// source at most once so the recorded rate is the one applied.
func (c *Converter) Quote(ctx context.Context, amount int64, from, to domain.Currency) (Quote, error) {
	if err := checkPair(from, to); err != nil {
		return Quote{}, err
	}
	if from == to {
		return Quote{Amount: amount}, nil
	}
	rate, err := c.rates.Rate(ctx)
	if err != nil {
		return Quote{}, err
	}
	converted, err := ConvertWithRate(amount, from, to, rate)
	if err != nil {
		return Quote{}, err
	}
	scaled := ScaledRate(rate)
	return Quote{Amount: converted, Rate: &scaled}, nil
}

// ScaledRate expresses a UZS-per-USD rate in minor units, truncating any remainder.
func ScaledRate(rate decimal.Decimal) int64 {
	return rate.Mul(minorUnitsPerMajor).Truncate(0).IntPart()
}

// ConvertWithRate is the pure conversion used by Convert. rate is UZS per one USD.
//
// USD cents to UZS tiyin: amount * rate. UZS tiyin to USD cents: amount / rate.
// Both round half up.
func ConvertWithRate(amount int64, from, to domain.Currency, rate decimal.Decimal) (int64, error) {
	if err := checkPair(from, to); err != nil {
		return 0, err
	}
	if from == to {
		return amount, nil
	}
	if !rate.IsPositive() {
		return 0, fmt.Errorf("%w: non-positive rate %s", domain.ErrRateUnavailable, rate)
	}

	rateInMinor := rate.Mul(minorUnitsPerMajor)
	value := decimal.NewFromInt(amount)

	var converted decimal.Decimal
	switch {
	case from == domain.CurrencyUSD && to == domain.CurrencyUZS:
		converted = value.Mul(rateInMinor).DivRound(minorUnitsPerMajor, 0)
	case from == domain.CurrencyUZS && to == domain.CurrencyUSD:
		converted = value.Mul(minorUnitsPerMajor).DivRound(rateInMinor, 0)
	default:
		return 0, fmt.Errorf("%w: %s to %s", domain.ErrUnsupportedConversion, from, to)
	}

	if converted.Abs().GreaterThan(maxAmount) {
		return 0, fmt.Errorf("%w: converted amount overflows", domain.ErrInvalidData)
	}
	return converted.IntPart(), nil
}

func checkPair(from, to domain.Currency) error {
	for _, c := range []domain.Currency{from, to} {
		if c != domain.CurrencyUSD && c != domain.CurrencyUZS {
			return fmt.Errorf("%w: %s to %s", domain.ErrUnsupportedConversion, from, to)
		}
	}
	return nil
}
