package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/cardledger/cardledger/internal/domain"
)

const localUserID = "user_id"

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Verify(token string) (int64, error)
}

// JWTAuth returns a middleware that validates bearer access tokens.
func JWTAuth(verifier TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) < len("Bearer ") || !strings.EqualFold(authz[:len("Bearer ")], "bearer ") {
			return domain.ErrUnauthorized
		}
		userID, err := verifier.Verify(strings.TrimSpace(authz[len("Bearer "):]))
		if err != nil {
			return err
		}

		c.Locals(localUserID, userID)
		return c.Next()
	}
}

// UserID returns the authenticated user id or domain.ErrUnauthorized.
func UserID(c *fiber.Ctx) (int64, error) {
	userID, ok := c.Locals(localUserID).(int64)
	if !ok || userID <= 0 {
		return 0, domain.ErrUnauthorized
	}
	return userID, nil
}
