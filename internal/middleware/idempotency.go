package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/cardledger/cardledger/internal/validation"
)

const (
	// IdempotencyKeyHeader carries the caller-supplied idempotency key.
	IdempotencyKeyHeader = "Idempotency-Key"
	localIdempotencyKey  = "idempotency_key"
	maxIdempotencyKeyLen = 255

	// ReplayedHeader marks responses served from the idempotency ledger.
	ReplayedHeader = "Idempotent-Replayed"
)

// RequireIdempotencyKey rejects unsafe requests without an Idempotency-Key
// header and exposes the key to handlers. Responses themselves are recorded
// by the engines inside their unit of work.
func RequireIdempotencyKey() fiber.Handler {
	return acceptIdempotencyKey(true)
}

// OptionalIdempotencyKey accepts requests without the header but still bounds
// the key when one is sent.
func OptionalIdempotencyKey() fiber.Handler {
	return acceptIdempotencyKey(false)
}

func acceptIdempotencyKey(required bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch strings.ToUpper(c.Method()) {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := strings.TrimSpace(c.Get(IdempotencyKeyHeader))
		switch {
		case key == "" && required:
			return validation.Missing(IdempotencyKeyHeader)
		case key == "":
			return c.Next()
		case len(key) > maxIdempotencyKeyLen:
			return validation.Invalid(IdempotencyKeyHeader, "must be at most 255 characters")
		}
		c.Locals(localIdempotencyKey, key)
		return c.Next()
	}
}

// IdempotencyKey returns the key accepted by RequireIdempotencyKey, falling
// back to the raw header on routes where the key is optional.
func IdempotencyKey(c *fiber.Ctx) string {
	if key, ok := c.Locals(localIdempotencyKey).(string); ok {
		return key
	}
	return strings.TrimSpace(c.Get(IdempotencyKeyHeader))
}
