package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardledger/cardledger/internal/apierror"
	"github.com/cardledger/cardledger/internal/clock"
	"github.com/cardledger/cardledger/internal/config"
	"github.com/cardledger/cardledger/internal/logging"
)

type stubRates struct{}

func (stubRates) Rate(context.Context) (decimal.Decimal, error) {
	return decimal.RequireFromString("12650.50"), nil
}

func testConfig() config.Config {
	return config.Config{
		AppName:           "cardledger-test",
		AppEnv:            "test",
		Idempotency:       config.IdempotencyConfig{TTL: 24 * time.Hour, Mode: config.IdempotencyModeClaim},
		JWT:               config.JWTConfig{Secret: "test-secret", TTL: time.Hour},
		FX:                config.FXConfig{TTL: time.Hour},
		MaxCardsPerUser:   3,
		MaxInitialBalance: 10000,
		EnableTestTokens:  true,
	}
}

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	clk := clock.NewManual(time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC))
	logger := logging.Discard()
	app := fiber.New(fiber.Config{ErrorHandler: apierror.Handler(logger, clk)})
	err := Setup(app, Deps{Cfg: testConfig(), Logger: logger, Rates: stubRates{}, Clock: clk})
	require.NoError(t, err)
	return app
}

type call struct {
	method  string
	path    string
	body    string
	token   string
	headers map[string]string
}

func do(t *testing.T, app *fiber.App, c call) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader
	if c.body != "" {
		body = strings.NewReader(c.body)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	if c.body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if c.token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+c.token)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func tokenFor(t *testing.T, app *fiber.App, userID string) string {
	t.Helper()
	resp, raw := do(t, app, call{method: http.MethodGet, path: "/api/v1/auth/token/" + userID})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(raw, &tok))
	return tok.AccessToken
}

func createCard(t *testing.T, app *fiber.App, token, key, body string) map[string]any {
	t.Helper()
	resp, raw := do(t, app, call{
		method: http.MethodPost, path: "/api/v1/cards", body: body, token: token,
		headers: map[string]string{"Idempotency-Key": key},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var card map[string]any
	require.NoError(t, json.Unmarshal(raw, &card))
	return card
}

func errorCode(t *testing.T, raw []byte) string {
	t.Helper()
	var body apierror.Body
	require.NoError(t, json.Unmarshal(raw, &body))
	return body.Code
}

func TestCardLifecycleOverHTTP(t *testing.T) {
	app := newTestApp(t)
	token := tokenFor(t, app, "7")

	card := createCard(t, app, token, "create-1", `{"initial_amount": 5000}`)
	assert.Equal(t, "ACTIVE", card["status"])
	assert.Equal(t, "UZS", card["currency"])
	cardID := card["card_id"].(string)

	resp, raw := do(t, app, call{method: http.MethodGet, path: "/api/v1/cards/" + cardID, token: token})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	assert.Equal(t, `"0"`, resp.Header.Get(fiber.HeaderETag))

	resp, raw = do(t, app, call{
		method: http.MethodPost, path: "/api/v1/cards/" + cardID + "/block", token: token,
		headers: map[string]string{fiber.HeaderIfMatch: `"7"`},
	})
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
	assert.Equal(t, apierror.CodeETagMismatch, errorCode(t, raw))

	resp, _ = do(t, app, call{
		method: http.MethodPost, path: "/api/v1/cards/" + cardID + "/block", token: token,
		headers: map[string]string{fiber.HeaderIfMatch: `"0"`},
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, `"1"`, resp.Header.Get(fiber.HeaderETag))

	resp, raw = do(t, app, call{
		method: http.MethodPost, path: "/api/v1/cards/" + cardID + "/block", token: token,
		headers: map[string]string{fiber.HeaderIfMatch: `"1"`},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, apierror.CodeIncompatibleStatus, errorCode(t, raw))

	other := tokenFor(t, app, "8")
	resp, raw = do(t, app, call{method: http.MethodGet, path: "/api/v1/cards/" + cardID, token: other})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, apierror.CodeForbidden, errorCode(t, raw))
}

func TestDebitReplayOverHTTP(t *testing.T) {
	app := newTestApp(t)
	token := tokenFor(t, app, "7")
	cardID := createCard(t, app, token, "create-1", `{"initial_amount": 5000, "currency": "USD"}`)["card_id"].(string)

	debit := call{
		method: http.MethodPost, path: "/api/v1/cards/" + cardID + "/debit", token: token,
		body:    `{"external_id":"ext-1","amount":25301,"currency":"UZS","purpose":"coffee"}`,
		headers: map[string]string{"Idempotency-Key": "debit-1"},
	}
	first, firstBody := do(t, app, debit)
	require.Equal(t, http.StatusOK, first.StatusCode, string(firstBody))
	assert.Empty(t, first.Header.Get("Idempotent-Replayed"))

	second, secondBody := do(t, app, debit)
	require.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, "true", second.Header.Get("Idempotent-Replayed"))
	assert.Equal(t, string(firstBody), string(secondBody))

	var txn struct {
		AfterBalance int64  `json:"after_balance"`
		ExchangeRate *int64 `json:"exchange_rate"`
	}
	require.NoError(t, json.Unmarshal(firstBody, &txn))
	assert.Equal(t, int64(4998), txn.AfterBalance)
	require.NotNil(t, txn.ExchangeRate)
	assert.Equal(t, int64(1265050), *txn.ExchangeRate)
}

func TestDebitInsufficientFundsOverHTTP(t *testing.T) {
	app := newTestApp(t)
	token := tokenFor(t, app, "7")
	cardID := createCard(t, app, token, "create-1", `{"initial_amount": 100}`)["card_id"].(string)

	resp, raw := do(t, app, call{
		method: http.MethodPost, path: "/api/v1/cards/" + cardID + "/debit", token: token,
		body:    `{"external_id":"ext-1","amount":101,"purpose":"rent"}`,
		headers: map[string]string{"Idempotency-Key": "d"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, apierror.CodeInsufficientFunds, errorCode(t, raw))

	resp, raw = do(t, app, call{method: http.MethodGet, path: "/api/v1/cards/" + cardID + "/transactions", token: token})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page struct {
		TotalItems int64 `json:"total_items"`
		Size       int   `json:"size"`
	}
	require.NoError(t, json.Unmarshal(raw, &page))
	assert.Zero(t, page.TotalItems)
	assert.Equal(t, 10, page.Size)
}

func TestCardLimitAndCloseOverHTTP(t *testing.T) {
	app := newTestApp(t)
	token := tokenFor(t, app, "7")

	var last string
	for _, key := range []string{"a", "b", "c"} {
		last = createCard(t, app, token, key, `{}`)["card_id"].(string)
	}
	resp, raw := do(t, app, call{
		method: http.MethodPost, path: "/api/v1/cards", body: `{}`, token: token,
		headers: map[string]string{"Idempotency-Key": "d"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, apierror.CodeLimitExceeded, errorCode(t, raw))

	resp, _ = do(t, app, call{
		method: http.MethodPost, path: "/api/v1/cards/" + last + "/close", token: token,
		headers: map[string]string{fiber.HeaderIfMatch: `"0"`},
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	createCard(t, app, token, "d", `{}`)
}

func TestRequestShapeErrors(t *testing.T) {
	app := newTestApp(t)
	token := tokenFor(t, app, "7")

	resp, raw := do(t, app, call{method: http.MethodPost, path: "/api/v1/cards", body: `{}`, token: token})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, apierror.CodeMissingField, errorCode(t, raw))

	resp, raw = do(t, app, call{method: http.MethodGet, path: "/api/v1/cards/whatever"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, apierror.CodeUnauthorized, errorCode(t, raw))

	cardID := createCard(t, app, token, "k", `{}`)["card_id"].(string)
	resp, raw = do(t, app, call{
		method: http.MethodPost, path: "/api/v1/cards/" + cardID + "/debit", token: token,
		body:    `{"external_id":"ext-1","amount":5}`,
		headers: map[string]string{"Idempotency-Key": "no-purpose"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, apierror.CodeMissingField, errorCode(t, raw))

	resp, raw = do(t, app, call{
		method: http.MethodPost, path: "/api/v1/cards/" + cardID + "/credit", token: token,
		body:    `{"external_id":"` + strings.Repeat("e", 129) + `","amount":5}`,
		headers: map[string]string{"Idempotency-Key": "long-external-id"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, apierror.CodeMissingField, errorCode(t, raw))

	resp, _ = do(t, app, call{
		method: http.MethodPost, path: "/api/v1/cards/" + cardID + "/block", token: token,
		headers: map[string]string{"If-Match": `"0"`, "Idempotency-Key": strings.Repeat("k", 256)},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, raw = do(t, app, call{
		method: http.MethodPost, path: "/api/v1/cards", body: `{"user_id": 9}`, token: token,
		headers: map[string]string{"Idempotency-Key": "someone-else"},
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, apierror.CodeForbidden, errorCode(t, raw))
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestApp(t)

	resp, _ := do(t, app, call{method: http.MethodGet, path: "/api/v1/ping"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, _ = do(t, app, call{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw := do(t, app, call{method: http.MethodGet, path: "/metrics"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "cardledger_http_requests_total")
}

func TestSetupRequiresBackendsOutsideDev(t *testing.T) {
	cfg := testConfig()
	cfg.AppEnv = "production"

	err := Setup(fiber.New(), Deps{Cfg: cfg, Logger: logging.Discard()})
	assert.Error(t, err)
}

func TestTestTokensDisabledByDefault(t *testing.T) {
	cfg := testConfig()
	cfg.EnableTestTokens = false
	app := fiber.New(fiber.Config{ErrorHandler: apierror.Handler(logging.Discard(), clock.System{})})
	require.NoError(t, Setup(app, Deps{Cfg: cfg, Rates: stubRates{}}))

	resp, _ := do(t, app, call{method: http.MethodGet, path: "/api/v1/auth/token/7"})
	assert.NotEqual(t, http.StatusOK, resp.StatusCode)
}
