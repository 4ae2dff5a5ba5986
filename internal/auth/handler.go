package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes token endpoints.
type Handler struct {
	tokens *Tokens
}

func NewHandler(tokens *Tokens) *Handler {
	return &Handler{tokens: tokens}
}

type realtimeTokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// RealtimeToken issues a token for the authenticated user to open the
// realtime channel with.
func (h *Handler) RealtimeToken(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "missing user")
	}
	token, ttl, err := h.tokens.IssueRealtime(uid)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, "could not issue token")
	}
	return c.Status(http.StatusOK).JSON(realtimeTokenResponse{Token: token, ExpiresIn: int64(ttl.Seconds())})
}
