package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/paygate/internal/auth"
	"github.com/congo-pay/paygate/internal/config"
	"github.com/congo-pay/paygate/internal/middleware"
	"github.com/congo-pay/paygate/internal/payments"
	"github.com/congo-pay/paygate/internal/provider"
	"github.com/congo-pay/paygate/internal/realtime"
	"github.com/congo-pay/paygate/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger

	Payments  *payments.Service
	Wallet    *wallet.Service
	Tokens    *auth.Tokens
	Providers *provider.Registry
	Hub       *realtime.Hub
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Payments == nil || d.Wallet == nil || d.Tokens == nil || d.Providers == nil || d.Hub == nil {
		return fmt.Errorf("routes: payments, wallet, tokens, providers and hub are required")
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	if d.Cfg.IsDevelopment() && d.Cfg.LogFormat == "text" {
		// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(middleware.Audit(d.Logger))
	if d.Cfg.MetricsEnabled {
		app.Use(middleware.Metrics())
		RegisterMetricsRoute(app)
	}

	// Health
	RegisterHealthRoutes(app, d)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	authn := middleware.JWTAuth(d.Tokens)
	var idempotency fiber.Handler
	if d.Cache != nil && d.Cfg.IdempotencyEnabled {
		idempotency = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	}

	RegisterPaymentRoutes(api, PaymentHandlers{
		Payments:    payments.NewHandler(d.Payments),
		Webhooks:    payments.NewWebhookHandler(d.Payments, d.Providers, d.Logger),
		Tokens:      auth.NewHandler(d.Tokens),
		Auth:        authn,
		RateLimit:   middleware.PaymentRateLimit(d.Cache, d.Cfg.RateLimitPerMinute, d.Logger),
		Idempotency: idempotency,
	})
	RegisterWalletRoutes(api.Group("/wallet", authn), wallet.NewHandler(d.Wallet))
	RegisterRealtimeRoutes(api, realtime.NewHandler(d.Hub, d.Tokens, d.Payments, d.Logger))

	return nil
}
