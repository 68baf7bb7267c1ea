package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cardledger/cardledger/internal/cards"
	"github.com/cardledger/cardledger/internal/middleware"
)

// RegisterCardRoutes wires card creation, lookup and lifecycle endpoints.
// Creation requires an Idempotency-Key; lifecycle changes honour one if sent.
func RegisterCardRoutes(r fiber.Router, h *cards.Handler) {
	group := r.Group("/cards")
	group.Post("", middleware.RequireIdempotencyKey(), h.Create)
	group.Get("/:cardId", h.Get)
	lifecycle := middleware.OptionalIdempotencyKey()
	group.Post("/:cardId/block", lifecycle, h.Block)
	group.Post("/:cardId/unblock", lifecycle, h.Unblock)
	group.Post("/:cardId/close", lifecycle, h.Close)
}
