package wallet

import (
	"context"
	"errors"

	"github.com/congo-pay/paygate/internal/ledger"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// Service exposes read-only balance views backed by the ledger.
type Service struct {
	ledger   ledger.Ledger
	currency string
}

// NewService builds a wallet service instance.
func NewService(led ledger.Ledger, currency string) *Service {
	return &Service{ledger: led, currency: currency}
}

// Balance returns the current balance of uid. Users without an account have
// a zero balance.
func (s *Service) Balance(ctx context.Context, uid string) (Balance, error) {
	if uid == "" {
		return Balance{}, errors.New("uid is required")
	}
	bal, err := s.ledger.Balance(ctx, uid)
	if err != nil {
		return Balance{}, err
	}
	return Balance{UID: uid, Amount: bal.Amount, Currency: s.currency, LastUpdated: bal.LastUpdated}, nil
}

// History returns the most recent ledger entries of uid, newest first.
func (s *Service) History(ctx context.Context, uid string, limit int) ([]HistoryEntry, error) {
	if uid == "" {
		return nil, errors.New("uid is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	entries, err := s.ledger.Entries(ctx, uid, limit)
	if err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, HistoryEntry{
			TransactionID: e.TransactionID,
			Direction:     string(e.Direction),
			Amount:        e.Amount,
			Description:   e.Description,
			CreatedAt:     e.CreatedAt,
		})
	}
	return out, nil
}
