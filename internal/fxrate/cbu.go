package fxrate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cardledger/cardledger/internal/domain"
)

// Source fetches a fresh UZS-per-USD rate from an upstream feed.
type Source interface {
	FetchRate(ctx context.Context) (decimal.Decimal, error)
}

// cbuQuote is one entry of the Central Bank of Uzbekistan rate archive.
// Rate and Nominal are transmitted as strings.
type cbuQuote struct {
	ID      int    `json:"id"`
	Code    string `json:"Code"`
	Ccy     string `json:"Ccy"`
	Name    string `json:"CcyNm_EN"`
	Nominal string `json:"Nominal"`
	Rate    string `json:"Rate"`
	Diff    string `json:"Diff"`
	Date    string `json:"Date"`
}

// CBUSource reads the USD quote from the central bank JSON archive.
type CBUSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewCBUSource builds a source against baseURL (for example https://cbu.uz/ru/arkhiv-kursov-valyut/json).
func NewCBUSource(baseURL string, timeout time.Duration) *CBUSource {
	return &CBUSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchRate returns UZS per one USD. Every failure is reported as ErrRateUnavailable.
func (s *CBUSource) FetchRate(ctx context.Context) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/%s/", s.baseURL, domain.CurrencyUSD)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: build request: %v", domain.ErrRateUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", domain.ErrRateUnavailable, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return decimal.Zero, fmt.Errorf("%w: upstream status %d: %s", domain.ErrRateUnavailable, resp.StatusCode, string(body))
	}

	var quotes []cbuQuote
	if err := json.NewDecoder(resp.Body).Decode(&quotes); err != nil {
		return decimal.Zero, fmt.Errorf("%w: decode response: %v", domain.ErrRateUnavailable, err)
	}
	return pickUSD(quotes)
}

func pickUSD(quotes []cbuQuote) (decimal.Decimal, error) {
	for _, q := range quotes {
		if !strings.EqualFold(q.Ccy, string(domain.CurrencyUSD)) {
			continue
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(q.Rate))
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: malformed rate %q", domain.ErrRateUnavailable, q.Rate)
		}
		if n := strings.TrimSpace(q.Nominal); n != "" && n != "1" {
			nominal, err := decimal.NewFromString(n)
			if err != nil || !nominal.IsPositive() {
				return decimal.Zero, fmt.Errorf("%w: malformed nominal %q", domain.ErrRateUnavailable, q.Nominal)
			}
			rate = rate.Div(nominal)
		}
		if !rate.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: non-positive rate %s", domain.ErrRateUnavailable, rate)
		}
		return rate, nil
	}
	return decimal.Zero, fmt.Errorf("%w: no USD quote in response", domain.ErrRateUnavailable)
}
