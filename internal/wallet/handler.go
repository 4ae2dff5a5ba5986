package wallet

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type balanceResponse struct {
	Balance     string    `json:"balance"`
	Currency    string    `json:"currency"`
	LastUpdated time.Time `json:"last_updated,omitempty"`
}

type historyItem struct {
	TransactionID string    `json:"transaction_id"`
	Direction     string    `json:"direction"`
	Amount        string    `json:"amount"`
	Description   string    `json:"description"`
	CreatedAt     time.Time `json:"created_at"`
}

// Balance returns the authenticated user's balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "missing user")
	}
	bal, err := h.service.Balance(c.UserContext(), uid)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, "could not load balance")
	}
	return c.Status(http.StatusOK).JSON(balanceResponse{
		Balance:     majorUnits(bal.Amount),
		Currency:    bal.Currency,
		LastUpdated: bal.LastUpdated,
	})
}

// History returns recent ledger entries; ?limit caps the count.
func (h *Handler) History(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "missing user")
	}
	entries, err := h.service.History(c.UserContext(), uid, c.QueryInt("limit", defaultHistoryLimit))
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, "could not load history")
	}
	items := make([]historyItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, historyItem{
			TransactionID: e.TransactionID,
			Direction:     e.Direction,
			Amount:        majorUnits(e.Amount),
			Description:   e.Description,
			CreatedAt:     e.CreatedAt,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"entries": items})
}

func majorUnits(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}
