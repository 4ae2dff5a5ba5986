package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/congo-pay/paygate/internal/config"
	"github.com/congo-pay/paygate/internal/logging"
	"github.com/congo-pay/paygate/internal/routes"
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app        *fiber.App
	cfg        config.Config
	logger     *slog.Logger
	components *Components
}

// New wires the application and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	comps, err := Build(cfg, db, cache, logger)
	if err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: errorHandler(logger),
	})

	if err := routes.Setup(app, routes.Deps{
		Cfg:       cfg,
		DB:        db,
		Cache:     cache,
		Logger:    logger,
		Payments:  comps.Payments,
		Wallet:    comps.Wallet,
		Tokens:    comps.Tokens,
		Providers: comps.Providers,
		Hub:       comps.Hub,
	}); err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, logger: logger, components: comps}, nil
}

// App exposes the Fiber application, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Components exposes the wired services.
func (s *Server) Components() *Components { return s.components }

// Run serves HTTP and the background workers until ctx is cancelled or one
// of them fails, then shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("listening", slog.String("addr", s.cfg.Address()))
		if err := s.app.Listen(s.cfg.Address()); err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return s.components.Sweeper.Run(gctx)
	})
	if s.components.Fanout != nil {
		g.Go(func() error {
			return s.components.Fanout.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownPeriod)
		defer cancel()
		s.components.Hub.Close()
		return s.app.ShutdownWithContext(shutdownCtx)
	})

	return g.Wait()
}

func errorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := http.StatusInternalServerError
		msg := "internal error"
		var ferr *fiber.Error
		if errors.As(err, &ferr) {
			code = ferr.Code
			msg = ferr.Message
		} else {
			logging.FromContext(c.UserContext(), logger).Error("unhandled error", slog.Any("error", err))
		}
		return c.Status(code).JSON(fiber.Map{"error": msg})
	}
}
