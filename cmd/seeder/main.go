// Command seeder prepares a user for manual testing: it credits an opening
// balance, creates an obligation and prints an access token.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/paygate/internal/auth"
	"github.com/congo-pay/paygate/internal/config"
	"github.com/congo-pay/paygate/internal/infra"
	"github.com/congo-pay/paygate/internal/ledger"
	"github.com/congo-pay/paygate/internal/payments"
)

type seedResult struct {
	UID          string `json:"uid"`
	Balance      int64  `json:"balance"`
	ObligationID string `json:"obligation_id,omitempty"`
	AccessToken  string `json:"access_token"`
}

func main() {
	uid := flag.String("uid", uuid.NewString(), "user id to seed")
	balance := flag.String("balance", "100", "opening balance in major units")
	obligation := flag.String("obligation", "25", "obligation price in major units, 0 to skip")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "access token lifetime")
	flag.Parse()

	if err := run(*uid, *balance, *obligation, *tokenTTL); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run(uid, balance, obligation string, tokenTTL time.Duration) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if len(cfg.Ephemeral) > 0 {
		return fmt.Errorf("set %v explicitly so the issued token is accepted by the api", cfg.Ephemeral)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := infra.Migrate(ctx, db); err != nil {
		return err
	}
	led := ledger.NewPostgresLedger(db)

	out := seedResult{UID: uid}
	if err := led.EnsureAccount(ctx, uid); err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}

	opening, err := minorUnits(balance)
	if err != nil {
		return fmt.Errorf("balance: %w", err)
	}
	if opening > 0 {
		res, err := led.ApplySettlement(ctx, ledger.Settlement{
			TransactionID: "seed-" + uuid.NewString(),
			UID:           uid,
			Direction:     ledger.Credit,
			Amount:        opening,
			Description:   "opening balance",
		})
		if err != nil {
			return fmt.Errorf("credit opening balance: %w", err)
		}
		out.Balance = res.Balance
	}

	price, err := minorUnits(obligation)
	if err != nil {
		return fmt.Errorf("obligation: %w", err)
	}
	if price > 0 {
		o, err := led.CreateObligation(ctx, ledger.Obligation{UserID: uid, Price: price})
		if err != nil {
			return fmt.Errorf("create obligation: %w", err)
		}
		out.ObligationID = o.ID
	}

	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.RealtimeTokenSecret, cfg.JWTIssuer, cfg.RealtimeTokenTTL)
	if err != nil {
		return err
	}
	if out.AccessToken, err = tokens.IssueAccess(uid, tokenTTL); err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func minorUnits(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if d.IsZero() {
		return 0, nil
	}
	return payments.ToMinorUnits(d)
}
