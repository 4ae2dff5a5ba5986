package ledger

import "time"

// SeedBalance is a test helper that seeds the balance for a user when using the in-memory ledger.
func SeedBalance(l Ledger, uid string, amount int64) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.balances[uid] = Balance{UID: uid, Amount: amount, LastUpdated: time.Now().UTC()}
	}
}

// InjectFault makes the in-memory ledger call fn after a settlement has
// written the new balance and before it records the entry; returning an
// error interrupts the settlement there.
func InjectFault(l Ledger, fn func(Settlement) error) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.afterBalanceWrite = fn
	}
}
