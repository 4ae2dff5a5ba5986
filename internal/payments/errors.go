package payments

import (
	"errors"
	"fmt"

	"github.com/congo-pay/paygate/internal/ledger"
)

var (
	ErrInvalidAmount  = errors.New("amount must be greater than zero and at most 1,000,000")
	ErrInvalidKind    = errors.New("unsupported payment kind")
	ErrNotFound       = errors.New("transaction not found")
	ErrUnknownCommand = errors.New("unknown command")

	// ErrIntegrity means a stored transaction failed decryption or signature
	// verification. It is never retried.
	ErrIntegrity = errors.New("pending transaction failed integrity verification")

	// ErrStoreUnavailable means the lock store or database could not be
	// reached; the provider should redeliver later.
	ErrStoreUnavailable = errors.New("settlement store unavailable")

	ErrObligationNotFound = ledger.ErrObligationNotFound
	ErrNotOwner           = ledger.ErrNotOwner
	ErrNotPayable         = ledger.ErrNotPayable
	ErrAlreadyPaid        = ledger.ErrAlreadyPaid
	ErrAmountMismatch     = ledger.ErrAmountMismatch
	ErrInsufficientFunds  = ledger.ErrInsufficientFunds
)

// ProviderError wraps a failure to create a charge. Nothing is persisted when
// it is returned.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
