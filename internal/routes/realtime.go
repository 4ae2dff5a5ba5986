package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/paygate/internal/realtime"
)

// RegisterRealtimeRoutes mounts the WebSocket channel. Authentication uses
// the ?token query parameter since browsers cannot set headers on upgrades.
func RegisterRealtimeRoutes(r fiber.Router, h *realtime.Handler) {
	r.Get("/realtime", h.Upgrade, h.Serve())
}
