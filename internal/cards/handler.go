package cards

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/cardledger/cardledger/internal/domain"
	"github.com/cardledger/cardledger/internal/middleware"
	"github.com/cardledger/cardledger/internal/validation"
)

// Handler exposes card endpoints.
type Handler struct {
	svc      *Service
	validate *validation.Validator
}

// NewHandler constructs a card handler.
func NewHandler(svc *Service, v *validation.Validator) *Handler {
	if v == nil {
		v = validation.New()
	}
	return &Handler{svc: svc, validate: v}
}

type createRequest struct {
	UserID        *int64 `json:"user_id" validate:"omitempty,gt=0"`
	Status        string `json:"status" validate:"omitempty,oneof=ACTIVE BLOCKED"`
	InitialAmount *int64 `json:"initial_amount" validate:"omitempty,min=0"`
	Currency      string `json:"currency" validate:"omitempty,oneof=UZS USD"`
}

// Create opens a new card for the authenticated user.
func (h *Handler) Create(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return err
	}
	if req.UserID != nil && *req.UserID != userID {
		return domain.ErrForbidden
	}

	res, err := h.svc.Create(c.UserContext(), CreateInput{
		UserID:         userID,
		Status:         req.Status,
		Currency:       req.Currency,
		InitialAmount:  req.InitialAmount,
		IdempotencyKey: middleware.IdempotencyKey(c),
	})
	if err != nil {
		return err
	}
	return respond(c, res)
}

// Get returns a card owned by the caller with its version as ETag.
func (h *Handler) Get(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.Get(c.UserContext(), c.Params("cardId"), userID)
	if err != nil {
		return err
	}
	return respond(c, res)
}

// Block handles POST /cards/:cardId/block.
func (h *Handler) Block(c *fiber.Ctx) error {
	return h.transition(c, h.svc.Block)
}

// Unblock handles POST /cards/:cardId/unblock.
func (h *Handler) Unblock(c *fiber.Ctx) error {
	return h.transition(c, h.svc.Unblock)
}

// Close handles POST /cards/:cardId/close.
func (h *Handler) Close(c *fiber.Ctx) error {
	return h.transition(c, h.svc.Close)
}

func (h *Handler) transition(c *fiber.Ctx, op func(context.Context, TransitionInput) (Result, error)) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}
	res, err := op(c.UserContext(), TransitionInput{
		CardID:         c.Params("cardId"),
		UserID:         userID,
		IfMatch:        c.Get(fiber.HeaderIfMatch),
		IdempotencyKey: middleware.IdempotencyKey(c),
	})
	if err != nil {
		return err
	}
	return respond(c, res)
}

func respond(c *fiber.Ctx, res Result) error {
	c.Set(fiber.HeaderETag, domain.VersionToken(res.Version))
	if res.Replayed {
		c.Set(middleware.ReplayedHeader, strconv.FormatBool(true))
	}
	if res.StatusCode == http.StatusNoContent {
		return c.SendStatus(http.StatusNoContent)
	}
	return c.Status(res.StatusCode).JSON(res.View)
}
