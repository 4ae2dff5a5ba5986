package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestInMemoryLedger_CreditAndDebit(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	res, err := l.ApplySettlement(ctx, Settlement{TransactionID: "tx-1", UID: "user-a", Direction: Credit, Amount: 10_000})
	if err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	if res.Balance != 10_000 {
		t.Fatalf("expected balance 10000, got %d", res.Balance)
	}

	res, err = l.ApplySettlement(ctx, Settlement{TransactionID: "tx-2", UID: "user-a", Direction: Debit, Amount: 2_500})
	if err != nil {
		t.Fatalf("debit failed: %v", err)
	}
	if res.Balance != 7_500 {
		t.Fatalf("expected balance 7500, got %d", res.Balance)
	}

	entries, _ := l.Entries(ctx, "user-a", 0)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}

func TestInMemoryLedger_DuplicateTransaction(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	s := Settlement{TransactionID: "dup", UID: "user-a", Direction: Credit, Amount: 500}
	if _, err := l.ApplySettlement(ctx, s); err != nil {
		t.Fatalf("initial settlement failed: %v", err)
	}
	if _, err := l.ApplySettlement(ctx, s); !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	bal, _ := l.Balance(ctx, "user-a")
	if bal.Amount != 500 {
		t.Fatalf("expected balance 500 after duplicate, got %d", bal.Amount)
	}
}

func TestInMemoryLedger_DebitNeverGoesNegative(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, "user-a", 1_000)

	if _, err := l.ApplySettlement(ctx, Settlement{TransactionID: "tx", UID: "user-a", Direction: Debit, Amount: 1_001}); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	bal, _ := l.Balance(ctx, "user-a")
	if bal.Amount != 1_000 {
		t.Fatalf("balance changed on rejected debit: %d", bal.Amount)
	}
	if entries, _ := l.Entries(ctx, "user-a", 0); len(entries) != 0 {
		t.Fatalf("rejected debit wrote %d entries", len(entries))
	}
}

func TestInMemoryLedger_ConcurrentDebits(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, "user-a", 5_000)

	const workers = 20
	const amount = int64(500)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.ApplySettlement(ctx, Settlement{TransactionID: fmt.Sprintf("tx-%d", i), UID: "user-a", Direction: Debit, Amount: amount})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, ErrInsufficientFunds) {
				t.Errorf("debit %d: unexpected error %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 10 {
		t.Fatalf("expected 10 debits to succeed, got %d", succeeded)
	}
	bal, _ := l.Balance(ctx, "user-a")
	if bal.Amount != 0 {
		t.Fatalf("expected balance 0, got %d", bal.Amount)
	}
}

func TestInMemoryLedger_ObligationSettlement(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, "user-a", 2_500)
	o, err := l.CreateObligation(ctx, Obligation{UserID: "user-a", Price: 2_500})
	if err != nil {
		t.Fatalf("create obligation: %v", err)
	}

	s := Settlement{TransactionID: "tx-ob", UID: "user-a", Direction: Debit, Amount: 2_500, ObligationID: o.ID}
	res, err := l.ApplySettlement(ctx, s)
	if err != nil {
		t.Fatalf("settle obligation: %v", err)
	}
	if res.Balance != 0 {
		t.Fatalf("expected balance 0, got %d", res.Balance)
	}

	paid, _ := l.Obligation(ctx, o.ID)
	if !paid.Paid || paid.PaidAt == nil {
		t.Fatalf("expected obligation to be paid: %+v", paid)
	}

	SeedBalance(l, "user-a", 2_500)
	s.TransactionID = "tx-ob-2"
	if _, err := l.ApplySettlement(ctx, s); !errors.Is(err, ErrAlreadyPaid) {
		t.Fatalf("expected already paid, got %v", err)
	}
}

func TestInMemoryLedger_ObligationRevalidated(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, "user-b", 9_000)
	o, _ := l.CreateObligation(ctx, Obligation{UserID: "user-a", Price: 1_000})
	cancelled, _ := l.CreateObligation(ctx, Obligation{UserID: "user-b", Price: 1_000, Status: "cancelled"})

	cases := []struct {
		name string
		s    Settlement
		want error
	}{
		{"owner", Settlement{TransactionID: "a", UID: "user-b", Direction: Debit, Amount: 1_000, ObligationID: o.ID}, ErrNotOwner},
		{"status", Settlement{TransactionID: "b", UID: "user-b", Direction: Debit, Amount: 1_000, ObligationID: cancelled.ID}, ErrNotPayable},
		{"missing", Settlement{TransactionID: "c", UID: "user-b", Direction: Debit, Amount: 1_000, ObligationID: "nope"}, ErrObligationNotFound},
	}
	for _, tc := range cases {
		if _, err := l.ApplySettlement(ctx, tc.s); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	bal, _ := l.Balance(ctx, "user-b")
	if bal.Amount != 9_000 {
		t.Fatalf("rejected settlements changed balance: %d", bal.Amount)
	}
}

func TestInMemoryLedger_FaultLeavesNoPartialState(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, "user-a", 3_000)
	o, _ := l.CreateObligation(ctx, Obligation{UserID: "user-a", Price: 3_000})

	boom := errors.New("connection reset")
	mem := l.(*inMemoryLedger)
	var written int64 = -1
	InjectFault(l, func(Settlement) error {
		// Called with the ledger lock held.
		written = mem.balances["user-a"].Amount
		return boom
	})

	_, err := l.ApplySettlement(ctx, Settlement{TransactionID: "tx-fault", UID: "user-a", Direction: Debit, Amount: 3_000, ObligationID: o.ID})
	if !errors.Is(err, boom) {
		t.Fatalf("expected injected fault, got %v", err)
	}

	if written != 0 {
		t.Fatalf("fault should fire after the debit was written, saw balance %d", written)
	}
	bal, _ := l.Balance(ctx, "user-a")
	if bal.Amount != 3_000 {
		t.Fatalf("balance not rolled back: %d", bal.Amount)
	}
	if entries, _ := l.Entries(ctx, "user-a", 0); len(entries) != 0 {
		t.Fatalf("entry written despite fault")
	}
	if ob, _ := l.Obligation(ctx, o.ID); ob.Paid {
		t.Fatalf("obligation flipped despite fault")
	}

	InjectFault(l, nil)
	if _, err := l.ApplySettlement(ctx, Settlement{TransactionID: "tx-fault", UID: "user-a", Direction: Debit, Amount: 3_000, ObligationID: o.ID}); err != nil {
		t.Fatalf("retry after fault: %v", err)
	}
}

func TestInMemoryLedger_FaultOnFirstCreditLeavesNoAccount(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	InjectFault(l, func(Settlement) error { return errors.New("disk full") })

	if _, err := l.ApplySettlement(ctx, Settlement{TransactionID: "tx-new", UID: "user-new", Direction: Credit, Amount: 500}); err == nil {
		t.Fatalf("expected injected fault")
	}
	if _, ok := l.(*inMemoryLedger).balances["user-new"]; ok {
		t.Fatalf("balance row left behind by an interrupted settlement")
	}
}
