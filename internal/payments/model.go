package payments

import (
	"encoding/binary"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/paygate/internal/envelope"
)

// Kind is the purpose of a payment.
type Kind string

const (
	KindBalanceFunding    Kind = "balance_funding"
	KindObligationPayment Kind = "obligation_payment"
)

// Status is the externally visible state of a transaction.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

const (
	// MaxAmountUnits is the largest accepted amount in major units.
	MaxAmountUnits = 1_000_000
	minorPerUnit   = 100
	// MaxAmount is MaxAmountUnits expressed in minor units.
	MaxAmount int64 = MaxAmountUnits * minorPerUnit

	canonicalVersion = "paygate.tx.v1"
)

// Record is the plaintext of a pending transaction. It never leaves the
// process unencrypted.
type Record struct {
	TransactionID string    `json:"transaction_id"`
	UID           string    `json:"uid"`
	Kind          Kind      `json:"kind"`
	Amount        int64     `json:"amount"`
	ObligationRef string    `json:"obligation_ref,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	Provider      string    `json:"provider"`
	ProviderRef   string    `json:"provider_ref"`
}

// CanonicalBytes is the signed serialization: every field that decides what a
// settlement does, length-prefixed so no two records share an encoding.
// Provider and ProviderRef are attached after signing and are not covered.
func (r Record) CanonicalBytes() []byte {
	fields := []string{
		canonicalVersion,
		r.TransactionID,
		r.UID,
		string(r.Kind),
		strconv.FormatInt(r.Amount, 10),
		r.ObligationRef,
		strconv.FormatInt(r.CreatedAt.UTC().UnixNano(), 10),
	}
	var out []byte
	for _, f := range fields {
		out = binary.AppendUvarint(out, uint64(len(f)))
		out = append(out, f...)
	}
	return out
}

// StoredTransaction is the at-rest form of a pending transaction. Only the
// routing columns are in the clear.
type StoredTransaction struct {
	TransactionID string
	Provider      string
	ProviderRef   string
	Envelope      envelope.Envelope
	Digest        []byte
	CreatedAt     time.Time
}

// ValidAmount reports whether a minor-unit amount is within bounds.
func ValidAmount(amount int64) bool {
	return amount > 0 && amount <= MaxAmount
}

// ToMinorUnits converts a client-supplied decimal amount to minor units,
// rejecting fractions of a minor unit and out-of-range values.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() || amount.GreaterThan(decimal.NewFromInt(MaxAmountUnits)) {
		return 0, ErrInvalidAmount
	}
	minor := amount.Shift(2)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, ErrInvalidAmount
	}
	return minor.IntPart(), nil
}
