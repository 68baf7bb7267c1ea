package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardledger/cardledger/internal/clock"
	"github.com/cardledger/cardledger/internal/domain"
	"github.com/cardledger/cardledger/internal/logging"
	"github.com/cardledger/cardledger/internal/validation"
)

func TestClassifyTaxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{domain.ErrCardNotFound, http.StatusNotFound, CodeNotFound},
		{fmt.Errorf("debit: %w", domain.ErrForbidden), http.StatusForbidden, CodeForbidden},
		{domain.ErrInvalidCardStatus, http.StatusBadRequest, CodeIncompatibleStatus},
		{domain.ErrInsufficientFunds, http.StatusBadRequest, CodeInsufficientFunds},
		{domain.ErrVersionConflict, http.StatusConflict, CodeVersionConflict},
		{domain.ErrPreconditionFailed, http.StatusPreconditionFailed, CodeETagMismatch},
		{domain.ErrCardLimitExceeded, http.StatusBadRequest, CodeLimitExceeded},
		{domain.ErrUnsupportedConversion, http.StatusBadRequest, CodeUnsupportedConversion},
		{fmt.Errorf("%w: timeout", domain.ErrRateUnavailable), http.StatusServiceUnavailable, CodeExchangeRate},
		{domain.ErrInvalidData, http.StatusBadRequest, CodeInvalidData},
		{domain.ErrDuplicateTransaction, http.StatusConflict, CodeDuplicateTransaction},
		{domain.ErrRequestInProgress, http.StatusConflict, CodeRequestInProgress},
		{domain.ErrUnauthorized, http.StatusUnauthorized, CodeUnauthorized},
		{validation.Missing("amount"), http.StatusBadRequest, CodeMissingField},
		{fiber.NewError(http.StatusNotFound, "Cannot GET /nope"), http.StatusNotFound, CodeNotFound},
		{errors.New("pq: connection reset"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tc := range cases {
		p := Classify(tc.err)
		assert.Equal(t, tc.status, p.Status, tc.err.Error())
		assert.Equal(t, tc.code, p.Code, tc.err.Error())
	}
}

func TestClassifyHidesInternalDetail(t *testing.T) {
	p := Classify(errors.New("dial tcp 10.0.0.3:5432: connection refused"))
	assert.NotContains(t, p.Message, "10.0.0.3")
}

func TestHandlerWritesBody(t *testing.T) {
	clk := clock.NewManual(time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC))
	app := fiber.New(fiber.Config{ErrorHandler: Handler(logging.Discard(), clk)})
	app.Get("/conflict", func(*fiber.Ctx) error { return fmt.Errorf("debit: %w", domain.ErrVersionConflict) })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/conflict", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get(fiber.HeaderRetryAfter))

	var body Body
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, CodeVersionConflict, body.Code)
	assert.Equal(t, domain.ErrVersionConflict.Error(), body.Message)
	assert.Equal(t, "2024-02-03 04:05:06", body.Timestamp)
}
