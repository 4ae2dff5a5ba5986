package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInsufficientFunds occurs when a debit would take the balance below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateTransaction indicates a ledger entry already exists for the
	// transaction id and therefore the settlement already happened.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	ErrObligationNotFound = errors.New("obligation not found")
	ErrNotOwner           = errors.New("obligation belongs to another user")
	ErrNotPayable         = errors.New("obligation is not awaiting payment")
	ErrAlreadyPaid        = errors.New("obligation already paid")
	ErrAmountMismatch     = errors.New("amount does not match obligation price")
	ErrInvalidAmount      = errors.New("amount must be positive")
)

// ObligationAwaitingPayment is the only status from which an obligation can be paid.
const ObligationAwaitingPayment = "awaiting_payment"

// Direction tells whether an entry adds to or removes from a balance.
type Direction string

const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

// Balance is the spendable amount of a user, in minor units.
type Balance struct {
	UID         string
	Amount      int64
	LastUpdated time.Time
}

// Entry is an immutable record of one balance mutation.
type Entry struct {
	ID            string
	TransactionID string
	UID           string
	Direction     Direction
	Amount        int64
	Description   string
	CreatedAt     time.Time
}

// Obligation is an externally created payable item (an order, a delivery fee).
type Obligation struct {
	ID        string
	UserID    string
	Status    string
	Price     int64
	Paid      bool
	PaidAt    *time.Time
	CreatedAt time.Time
}

// CheckPayable validates that uid may settle the obligation for amount.
func (o Obligation) CheckPayable(uid string, amount int64) error {
	switch {
	case o.UserID != uid:
		return ErrNotOwner
	case o.Paid:
		return ErrAlreadyPaid
	case o.Status != ObligationAwaitingPayment:
		return ErrNotPayable
	case o.Price != amount:
		return ErrAmountMismatch
	}
	return nil
}

// Settlement describes one confirmed payment to apply.
type Settlement struct {
	TransactionID string
	UID           string
	Direction     Direction
	Amount        int64
	// ObligationID, when set, is flipped to paid in the same atomic step.
	ObligationID string
	Description  string
}

// SettlementResult is returned after a settlement commits.
type SettlementResult struct {
	Entry   Entry
	Balance int64
}

// Ledger defines the contract implemented by ledger backends (e.g. Postgres).
type Ledger interface {
	EnsureAccount(ctx context.Context, uid string) error
	Balance(ctx context.Context, uid string) (Balance, error)
	Entries(ctx context.Context, uid string, limit int) ([]Entry, error)
	Obligation(ctx context.Context, id string) (Obligation, error)
	CreateObligation(ctx context.Context, o Obligation) (Obligation, error)
	// ApplySettlement atomically mutates the balance, appends the entry and,
	// for obligation payments, marks the obligation paid. Either all of it
	// commits or none of it does.
	ApplySettlement(ctx context.Context, s Settlement) (SettlementResult, error)
}

// IsBusinessFailure reports whether err is a rule violation (as opposed to an
// infrastructure failure) that will not go away on retry.
func IsBusinessFailure(err error) bool {
	for _, target := range []error{
		ErrInsufficientFunds, ErrObligationNotFound, ErrNotOwner,
		ErrNotPayable, ErrAlreadyPaid, ErrAmountMismatch, ErrInvalidAmount,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
