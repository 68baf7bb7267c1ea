package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cardledger/cardledger/internal/middleware"
	"github.com/cardledger/cardledger/internal/payments"
)

// RegisterPaymentRoutes wires debit, credit and history endpoints.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler) {
	group := r.Group("/cards/:cardId")
	group.Post("/debit", middleware.RequireIdempotencyKey(), h.Debit)
	group.Post("/credit", middleware.RequireIdempotencyKey(), h.Credit)
	group.Get("/transactions", h.History)
}
