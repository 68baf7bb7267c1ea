package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cardledger/cardledger/internal/auth"
)

// RegisterAuthRoutes wires test token issuance.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, rateLimiter fiber.Handler) {
	group := r.Group("/auth")
	if rateLimiter != nil {
		group.Get("/token/:userId", rateLimiter, h.IssueTestToken)
	} else {
		group.Get("/token/:userId", h.IssueTestToken)
	}
}
