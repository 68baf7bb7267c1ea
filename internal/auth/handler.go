package auth

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/cardledger/cardledger/internal/validation"
)

// Handler exposes token issuance for test and demo environments.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// IssueTestToken returns a bearer token for the user id in the path.
func (h *Handler) IssueTestToken(c *fiber.Ctx) error {
	userID, err := strconv.ParseInt(c.Params("userId"), 10, 64)
	if err != nil || userID <= 0 {
		return validation.Invalid("userId", "must be a positive integer")
	}
	token, err := h.svc.Issue(userID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(token)
}
