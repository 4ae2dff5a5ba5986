package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/paygate/internal/wallet"
)

// RegisterWalletRoutes wires wallet-related endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Get("/", h.Balance)
	r.Get("/history", h.History)
}
