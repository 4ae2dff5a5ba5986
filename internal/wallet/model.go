package wallet

import "time"

// Balance is a user's spendable funds in minor units.
type Balance struct {
	UID         string
	Amount      int64
	Currency    string
	LastUpdated time.Time
}

// HistoryEntry is one settled movement on a user's balance.
type HistoryEntry struct {
	TransactionID string
	Direction     string
	Amount        int64
	Description   string
	CreatedAt     time.Time
}
