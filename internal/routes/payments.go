package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/paygate/internal/auth"
	"github.com/congo-pay/paygate/internal/payments"
)

// PaymentHandlers bundles the handlers and guards of the payment routes.
// Idempotency may be nil.
type PaymentHandlers struct {
	Payments    *payments.Handler
	Webhooks    *payments.WebhookHandler
	Tokens      *auth.Handler
	Auth        fiber.Handler
	RateLimit   fiber.Handler
	Idempotency fiber.Handler
}

// RegisterPaymentRoutes wires payment endpoints.
func RegisterPaymentRoutes(r fiber.Router, h PaymentHandlers) {
	// Providers authenticate with signatures, not bearer tokens.
	r.Post("/payment/webhook/:provider", h.Webhooks.Receive)
	r.Post("/payment/webhook", h.Webhooks.Receive)

	unsafe := []fiber.Handler{h.Auth}
	if h.Idempotency != nil {
		unsafe = append(unsafe, h.Idempotency)
	}
	initiate := chain(unsafe, h.RateLimit)

	r.Post("/payment/fund", chain(initiate, h.Payments.Fund)...)
	r.Post("/payment/pay-obligation", chain(initiate, h.Payments.PayObligation)...)
	r.Post("/payment/transaction/:id/reconcile", chain(unsafe, h.Payments.Reconcile)...)
	r.Get("/payment/transaction/:id/status", h.Auth, h.Payments.Status)
	r.Get("/payment/realtime-token", h.Auth, h.Tokens.RealtimeToken)
}

// chain returns a fresh slice so routes never share a backing array.
func chain(handlers []fiber.Handler, next fiber.Handler) []fiber.Handler {
	out := make([]fiber.Handler, 0, len(handlers)+1)
	out = append(out, handlers...)
	return append(out, next)
}
