package payments

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/paygate/internal/provider"
)

// Command names accepted by Handle.
const (
	CommandFund              = "fund"
	CommandPayObligation     = "pay_obligation"
	CommandTransactionStatus = "transaction_status"
	CommandReconcile         = "reconcile"
)

// Command is a transport-neutral payment request. HTTP handlers and realtime
// frames both decode into it.
type Command struct {
	Name          string          `json:"command"`
	UID           string          `json:"-"`
	TransactionID string          `json:"transaction_id,omitempty"`
	ObligationID  string          `json:"obligation_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Provider      string          `json:"provider,omitempty"`
	Phone         string          `json:"phone,omitempty"`
}

// InitiateView is the JSON shape of a created transaction.
type InitiateView struct {
	TransactionID        string    `json:"transaction_id"`
	Kind                 Kind      `json:"kind"`
	Amount               string    `json:"amount"`
	Provider             string    `json:"provider"`
	ProviderChargeHandle string    `json:"provider_charge_handle"`
	Status               Status    `json:"status"`
	CreatedAt            time.Time `json:"created_at"`
}

// StatusView is the JSON shape of a pending transaction's status.
type StatusView struct {
	TransactionID string    `json:"transaction_id"`
	Status        Status    `json:"status"`
	Kind          Kind      `json:"kind"`
	Amount        string    `json:"amount"`
	Provider      string    `json:"provider"`
	CreatedAt     time.Time `json:"created_at"`
}

// ReconcileView is the JSON shape of a reconcile request.
type ReconcileView struct {
	TransactionID  string           `json:"transaction_id"`
	ProviderStatus provider.Outcome `json:"provider_status"`
}

// Handle executes a command on behalf of cmd.UID.
func (s *Service) Handle(ctx context.Context, cmd Command) (any, error) {
	switch cmd.Name {
	case CommandFund, CommandPayObligation:
		amount, err := ToMinorUnits(cmd.Amount)
		if err != nil {
			return nil, err
		}
		in := InitiateInput{
			UID:      cmd.UID,
			Kind:     KindBalanceFunding,
			Amount:   amount,
			Provider: cmd.Provider,
			Phone:    cmd.Phone,
		}
		if cmd.Name == CommandPayObligation {
			in.Kind = KindObligationPayment
			in.ObligationID = cmd.ObligationID
		}
		res, err := s.Initiate(ctx, in)
		if err != nil {
			return nil, err
		}
		return InitiateView{
			TransactionID:        res.TransactionID,
			Kind:                 res.Kind,
			Amount:               provider.MajorUnits(res.Amount),
			Provider:             res.Provider,
			ProviderChargeHandle: res.ChargeHandle,
			Status:               res.Status,
			CreatedAt:            res.CreatedAt,
		}, nil

	case CommandTransactionStatus:
		st, err := s.Status(ctx, cmd.UID, cmd.TransactionID)
		if err != nil {
			return nil, err
		}
		return StatusView{
			TransactionID: st.TransactionID,
			Status:        st.Status,
			Kind:          st.Kind,
			Amount:        provider.MajorUnits(st.Amount),
			Provider:      st.Provider,
			CreatedAt:     st.CreatedAt,
		}, nil

	case CommandReconcile:
		res, err := s.Reconcile(ctx, cmd.UID, cmd.TransactionID)
		if err != nil {
			return nil, err
		}
		return ReconcileView{TransactionID: res.TransactionID, ProviderStatus: res.ProviderStatus}, nil

	default:
		return nil, ErrUnknownCommand
	}
}
