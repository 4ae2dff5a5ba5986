package server

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/paygate/internal/auth"
	"github.com/congo-pay/paygate/internal/config"
	"github.com/congo-pay/paygate/internal/envelope"
	"github.com/congo-pay/paygate/internal/ledger"
	"github.com/congo-pay/paygate/internal/lock"
	"github.com/congo-pay/paygate/internal/notification"
	"github.com/congo-pay/paygate/internal/payments"
	"github.com/congo-pay/paygate/internal/provider"
	"github.com/congo-pay/paygate/internal/realtime"
	"github.com/congo-pay/paygate/internal/signer"
	"github.com/congo-pay/paygate/internal/wallet"
)

// Components is the wired application graph.
type Components struct {
	Ledger    ledger.Ledger
	Payments  *payments.Service
	Wallet    *wallet.Service
	Tokens    *auth.Tokens
	Providers *provider.Registry
	Hub       *realtime.Hub
	Sweeper   *payments.Sweeper
	// Fanout is nil unless REALTIME_FANOUT=redis.
	Fanout *realtime.RedisFanout
}

// Build wires every service. A nil db selects in-memory storage and a nil
// cache selects an in-process lock; both are only allowed in development.
func Build(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Components, error) {
	sealer, err := envelope.NewSealer(cfg.EnvelopeKeyBytes())
	if err != nil {
		return nil, fmt.Errorf("envelope key: %w", err)
	}
	sig, err := signer.New(cfg.SigningKeyBytes())
	if err != nil {
		return nil, fmt.Errorf("signing key: %w", err)
	}
	registry, err := buildProviders(cfg, logger)
	if err != nil {
		return nil, err
	}

	var (
		led  ledger.Ledger
		repo payments.Repository
	)
	if db != nil {
		led = ledger.NewPostgresLedger(db)
		repo = payments.NewPostgresRepository(db)
	} else {
		led = ledger.NewInMemory()
		repo = payments.NewMemoryRepository()
	}

	var locks lock.Locker
	if cache != nil {
		locks = lock.NewRedisLocker(cache, cfg.LockTTL)
	} else {
		locks = lock.NewMemoryLocker(cfg.LockTTL)
	}

	hub := realtime.NewHub(logger)
	var push notification.Notifier = hub
	var fanout *realtime.RedisFanout
	if cfg.RealtimeFanout == config.FanoutRedis {
		if cache == nil {
			return nil, errors.New("REALTIME_FANOUT=redis requires a redis connection")
		}
		fanout = realtime.NewRedisFanout(cache, hub, logger)
		push = fanout
	}

	paymentSvc, err := payments.NewService(payments.Deps{
		Repo:       repo,
		Ledger:     led,
		Locks:      locks,
		Providers:  registry,
		Sealer:     sealer,
		Signer:     sig,
		Notifier:   notification.Multi{push, notification.NewLoggerNotifier(logger)},
		Logger:     logger,
		Currency:   cfg.Currency,
		PendingTTL: cfg.PendingTTL,
	})
	if err != nil {
		return nil, err
	}

	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.RealtimeTokenSecret, cfg.JWTIssuer, cfg.RealtimeTokenTTL)
	if err != nil {
		return nil, err
	}

	return &Components{
		Ledger:    led,
		Payments:  paymentSvc,
		Wallet:    wallet.NewService(led, cfg.Currency),
		Tokens:    tokens,
		Providers: registry,
		Hub:       hub,
		Sweeper:   payments.NewSweeper(paymentSvc, cfg.SweepInterval, logger),
		Fanout:    fanout,
	}, nil
}

func buildProviders(cfg config.Config, logger *slog.Logger) (*provider.Registry, error) {
	opts := provider.ClientOptions{Timeout: cfg.ProviderTimeout, Retries: cfg.ProviderRetries}

	var enabled []provider.Provider
	if cfg.Card.Enabled {
		card, err := provider.NewCard(provider.CardConfig{
			BaseURL:       cfg.Card.BaseURL,
			SecretKey:     cfg.Card.SecretKey,
			WebhookSecret: cfg.Card.WebhookSecret,
			SuccessURL:    cfg.Card.SuccessURL,
			CancelURL:     cfg.Card.CancelURL,
		}, opts, logger)
		if err != nil {
			return nil, err
		}
		enabled = append(enabled, card)
	}
	if cfg.MobileMoney.Enabled {
		momo, err := provider.NewMobileMoney(provider.MobileMoneyConfig{
			BaseURL:       cfg.MobileMoney.BaseURL,
			APIKey:        cfg.MobileMoney.APIKey,
			WebhookSecret: cfg.MobileMoney.WebhookSecret,
		}, opts, logger)
		if err != nil {
			return nil, err
		}
		enabled = append(enabled, momo)
	}
	if cfg.Sandbox.Enabled {
		sandbox, err := provider.NewSandbox(cfg.Sandbox.WebhookSecret, cfg.Sandbox.AutoApprove)
		if err != nil {
			return nil, err
		}
		enabled = append(enabled, sandbox)
	}
	return provider.NewRegistry(cfg.DefaultProvider, enabled...)
}
