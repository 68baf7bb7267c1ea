// Package apierror renders failures as {code, message, timestamp} JSON.
package apierror

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/cardledger/cardledger/internal/clock"
	"github.com/cardledger/cardledger/internal/domain"
	"github.com/cardledger/cardledger/internal/validation"
)

// TimestampLayout is the format of the timestamp field.
const TimestampLayout = "2006-01-02 15:04:05"

// Stable machine-readable codes.
const (
	CodeNotFound              = "not_found"
	CodeForbidden             = "forbidden"
	CodeIncompatibleStatus    = "incompatible_status"
	CodeInsufficientFunds     = "insufficient_funds"
	CodeVersionConflict       = "version_conflict"
	CodeETagMismatch          = "etag_mismatch"
	CodeLimitExceeded         = "limit_exceeded"
	CodeUnsupportedConversion = "unsupported_conversion"
	CodeExchangeRate          = "exchange_rate_error"
	CodeInvalidData           = "invalid_data"
	CodeDuplicateTransaction  = "duplicate_transaction"
	CodeRequestInProgress     = "request_in_progress"
	CodeMissingField          = "missing_field"
	CodeUnauthorized          = "unauthorized"
	CodeTooManyRequests       = "too_many_requests"
	CodeInvalidRequest        = "invalid_request"
	CodeInternal              = "internal_error"
)

// Body is the error response payload.
type Body struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Problem is a classified error.
type Problem struct {
	Status     int
	Code       string
	Message    string
	RetryAfter string
}

type mapping struct {
	target     error
	status     int
	code       string
	retryAfter string
}

var mappings = []mapping{
	{domain.ErrCardNotFound, http.StatusNotFound, CodeNotFound, ""},
	{domain.ErrForbidden, http.StatusForbidden, CodeForbidden, ""},
	{domain.ErrInvalidCardStatus, http.StatusBadRequest, CodeIncompatibleStatus, ""},
	{domain.ErrInsufficientFunds, http.StatusBadRequest, CodeInsufficientFunds, ""},
	{domain.ErrVersionConflict, http.StatusConflict, CodeVersionConflict, "1"},
	{domain.ErrPreconditionFailed, http.StatusPreconditionFailed, CodeETagMismatch, ""},
	{domain.ErrCardLimitExceeded, http.StatusBadRequest, CodeLimitExceeded, ""},
	{domain.ErrUnsupportedConversion, http.StatusBadRequest, CodeUnsupportedConversion, ""},
	{domain.ErrRateUnavailable, http.StatusServiceUnavailable, CodeExchangeRate, "30"},
	{domain.ErrInvalidData, http.StatusBadRequest, CodeInvalidData, ""},
	{domain.ErrDuplicateTransaction, http.StatusConflict, CodeDuplicateTransaction, ""},
	{domain.ErrRequestInProgress, http.StatusConflict, CodeRequestInProgress, "1"},
	{domain.ErrDuplicateKey, http.StatusConflict, CodeRequestInProgress, "1"},
	{domain.ErrUnauthorized, http.StatusUnauthorized, CodeUnauthorized, ""},
}

// Classify maps err onto the public taxonomy. Unknown errors become internal_error
// with a generic message.
func Classify(err error) Problem {
	var verr *validation.Error
	if errors.As(err, &verr) {
		return Problem{Status: http.StatusBadRequest, Code: CodeMissingField, Message: verr.Message}
	}
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			return Problem{Status: m.status, Code: m.code, Message: m.target.Error(), RetryAfter: m.retryAfter}
		}
	}
	var ferr *fiber.Error
	if errors.As(err, &ferr) {
		return Problem{Status: ferr.Code, Code: codeForStatus(ferr.Code), Message: ferr.Message}
	}
	return Problem{Status: http.StatusInternalServerError, Code: CodeInternal, Message: "internal server error"}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return CodeInvalidRequest
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusTooManyRequests:
		return CodeTooManyRequests
	case http.StatusConflict:
		return CodeRequestInProgress
	}
	if status >= http.StatusInternalServerError {
		return CodeInternal
	}
	return strings.ReplaceAll(strings.ToLower(http.StatusText(status)), " ", "_")
}

// Write sends the error body for p.
func Write(c *fiber.Ctx, p Problem, clk clock.Clock) error {
	if p.RetryAfter != "" {
		c.Set(fiber.HeaderRetryAfter, p.RetryAfter)
	}
	return c.Status(p.Status).JSON(Body{
		Code:      p.Code,
		Message:   p.Message,
		Timestamp: clk.Now().UTC().Format(TimestampLayout),
	})
}

// Handler is the fiber ErrorHandler. Server-side failures are logged in full;
// the client only sees the classified code and message.
func Handler(logger *slog.Logger, clk clock.Clock) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		p := Classify(err)
		requestID, _ := c.Locals("X-Request-ID").(string)
		if p.Status >= http.StatusInternalServerError {
			logger.Error("request failed", "method", c.Method(), "path", c.Path(), "status", p.Status,
				"code", p.Code, "request_id", requestID, "error", err)
		} else {
			logger.Debug("request rejected", "method", c.Method(), "path", c.Path(), "status", p.Status,
				"code", p.Code, "request_id", requestID, "error", err)
		}
		return Write(c, p, clk)
	}
}
