package payments

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/cardledger/cardledger/internal/middleware"
	"github.com/cardledger/cardledger/internal/validation"
)

// Handler exposes debit, credit and history endpoints.
type Handler struct {
	service  *Service
	validate *validation.Validator
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service, v *validation.Validator) *Handler {
	if v == nil {
		v = validation.New()
	}
	return &Handler{service: service, validate: v}
}

type debitRequest struct {
	ExternalID string `json:"external_id" validate:"required,max=128"`
	Amount     int64  `json:"amount" validate:"required,min=1"`
	Currency   string `json:"currency" validate:"omitempty,len=3"`
	Purpose    string `json:"purpose" validate:"required,max=20"`
}

type creditRequest struct {
	ExternalID string `json:"external_id" validate:"required,max=128"`
	Amount     int64  `json:"amount" validate:"required,min=1"`
	Currency   string `json:"currency" validate:"omitempty,len=3"`
}

// Debit handles POST /cards/:cardId/debit.
func (h *Handler) Debit(c *fiber.Ctx) error {
	var req debitRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}
	return h.move(c, h.service.Debit, MovementInput{
		ExternalID: req.ExternalID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Purpose:    req.Purpose,
	})
}

// Credit handles POST /cards/:cardId/credit.
func (h *Handler) Credit(c *fiber.Ctx) error {
	var req creditRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}
	return h.move(c, h.service.Credit, MovementInput{
		ExternalID: req.ExternalID,
		Amount:     req.Amount,
		Currency:   req.Currency,
	})
}

func (h *Handler) parse(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	return h.validate.Struct(req)
}

func (h *Handler) move(c *fiber.Ctx, op func(context.Context, MovementInput) (Result, error), in MovementInput) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}
	in.CardID = c.Params("cardId")
	in.UserID = userID
	in.IdempotencyKey = middleware.IdempotencyKey(c)

	res, err := op(c.UserContext(), in)
	if err != nil {
		return err
	}
	if res.Replayed {
		c.Set(middleware.ReplayedHeader, strconv.FormatBool(true))
	}
	return c.Status(res.StatusCode).JSON(res.View)
}

// History handles GET /cards/:cardId/transactions.
func (h *Handler) History(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}
	page, err := queryInt(c, "page")
	if err != nil {
		return err
	}
	size, err := queryInt(c, "size")
	if err != nil {
		return err
	}

	res, err := h.service.History(c.UserContext(), HistoryInput{
		CardID:        c.Params("cardId"),
		UserID:        userID,
		Type:          c.Query("type"),
		TransactionID: c.Query("transaction_id"),
		ExternalID:    c.Query("external_id"),
		Currency:      c.Query("currency"),
		Page:          page,
		Size:          size,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(res)
}

func queryInt(c *fiber.Ctx, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, validation.Invalid(name, "must be a non-negative integer")
	}
	return v, nil
}
