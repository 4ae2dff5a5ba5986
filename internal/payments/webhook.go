package payments

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/paygate/internal/logging"
	"github.com/congo-pay/paygate/internal/provider"
)

// WebhookHandler receives provider callbacks.
type WebhookHandler struct {
	service  *Service
	registry *provider.Registry
	logger   *slog.Logger
}

// NewWebhookHandler constructs a webhook handler.
func NewWebhookHandler(service *Service, registry *provider.Registry, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &WebhookHandler{service: service, registry: registry, logger: logger}
}

// Receive authenticates a provider event and hands it to the service. The
// provider is taken from the :provider route parameter, falling back to the
// default provider.
func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	name := c.Params("provider")
	p, err := h.registry.Get(name)
	if err != nil {
		webhooksTotal.WithLabelValues("unknown", "unknown_provider").Inc()
		return fiber.NewError(http.StatusNotFound, "unknown provider")
	}
	name = p.Name()
	log := logging.FromContext(c.UserContext(), h.logger).With(slog.String("provider", name))

	ev, err := p.ParseWebhook(requestHeader(c), c.Body())
	switch {
	case err == nil:
	case errors.Is(err, provider.ErrInvalidSignature):
		log.Warn("webhook signature rejected")
		webhooksTotal.WithLabelValues(name, "invalid_signature").Inc()
		return fiber.NewError(http.StatusUnauthorized, "invalid signature")
	case errors.Is(err, provider.ErrIgnoredEvent):
		webhooksTotal.WithLabelValues(name, "ignored").Inc()
		return c.JSON(fiber.Map{"received": true})
	default:
		log.Warn("malformed webhook", slog.Any("error", err))
		webhooksTotal.WithLabelValues(name, "malformed").Inc()
		return fiber.NewError(http.StatusBadRequest, "malformed event")
	}
	ev.Provider = name

	if err := h.service.HandleEvent(c.UserContext(), ev); err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			webhooksTotal.WithLabelValues(name, "unavailable").Inc()
			return fiber.NewError(http.StatusServiceUnavailable, "temporarily unavailable")
		}
		if !errors.Is(err, ErrIntegrity) {
			log.Error("handle webhook", slog.Any("error", err))
			webhooksTotal.WithLabelValues(name, "error").Inc()
			return fiber.NewError(http.StatusInternalServerError, "internal error")
		}
		// A tampered record will never verify; redelivery cannot help.
		webhooksTotal.WithLabelValues(name, "integrity_failure").Inc()
		return c.JSON(fiber.Map{"received": true})
	}

	webhooksTotal.WithLabelValues(name, "accepted").Inc()
	return c.JSON(fiber.Map{"received": true})
}

func requestHeader(c *fiber.Ctx) http.Header {
	header := make(http.Header)
	for k, values := range c.GetReqHeaders() {
		for _, v := range values {
			header.Add(k, v)
		}
	}
	return header
}
