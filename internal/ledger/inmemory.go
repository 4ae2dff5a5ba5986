package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type inMemoryLedger struct {
	mu          sync.Mutex
	balances    map[string]Balance
	entries     []Entry
	byTx        map[string]int
	obligations map[string]Obligation
	now         func() time.Time

	// afterBalanceWrite runs once the new balance is stored and before the
	// entry is recorded; a non-nil error rolls the settlement back.
	afterBalanceWrite func(Settlement) error
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests
// and for running the service without Postgres.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		balances:    make(map[string]Balance),
		byTx:        make(map[string]int),
		obligations: make(map[string]Obligation),
		now:         time.Now,
	}
}

func (l *inMemoryLedger) EnsureAccount(_ context.Context, uid string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.balances[uid]; !exists {
		l.balances[uid] = Balance{UID: uid, LastUpdated: l.now().UTC()}
	}
	return nil
}

func (l *inMemoryLedger) Balance(_ context.Context, uid string) (Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if bal, ok := l.balances[uid]; ok {
		return bal, nil
	}
	return Balance{UID: uid}, nil
}

func (l *inMemoryLedger) Entries(_ context.Context, uid string, limit int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, e := range l.entries {
		if e.UID == uid {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *inMemoryLedger) Obligation(_ context.Context, id string) (Obligation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.obligations[id]
	if !ok {
		return Obligation{}, ErrObligationNotFound
	}
	return o, nil
}

func (l *inMemoryLedger) CreateObligation(_ context.Context, o Obligation) (Obligation, error) {
	if o.Price <= 0 {
		return Obligation{}, ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Status == "" {
		o.Status = ObligationAwaitingPayment
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = l.now().UTC()
	}
	l.obligations[o.ID] = o
	return o, nil
}

func (l *inMemoryLedger) ApplySettlement(_ context.Context, s Settlement) (SettlementResult, error) {
	if s.Amount <= 0 {
		return SettlementResult{}, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.byTx[s.TransactionID]; exists {
		return SettlementResult{}, ErrDuplicateTransaction
	}

	// Stage on copies; shared state is written only once every check passed.
	now := l.now().UTC()
	bal := l.balances[s.UID]
	bal.UID = s.UID

	var obligation *Obligation
	if s.ObligationID != "" {
		o, ok := l.obligations[s.ObligationID]
		if !ok {
			return SettlementResult{}, ErrObligationNotFound
		}
		if err := o.CheckPayable(s.UID, s.Amount); err != nil {
			return SettlementResult{}, err
		}
		o.Paid = true
		o.PaidAt = &now
		obligation = &o
	}

	switch s.Direction {
	case Credit:
		bal.Amount += s.Amount
	case Debit:
		if bal.Amount < s.Amount {
			return SettlementResult{}, ErrInsufficientFunds
		}
		bal.Amount -= s.Amount
	default:
		return SettlementResult{}, ErrInvalidAmount
	}
	bal.LastUpdated = now

	entry := Entry{
		ID:            uuid.NewString(),
		TransactionID: s.TransactionID,
		UID:           s.UID,
		Direction:     s.Direction,
		Amount:        s.Amount,
		Description:   s.Description,
		CreatedAt:     now,
	}

	prev, hadPrev := l.balances[s.UID]
	l.balances[s.UID] = bal
	if l.afterBalanceWrite != nil {
		if err := l.afterBalanceWrite(s); err != nil {
			if hadPrev {
				l.balances[s.UID] = prev
			} else {
				delete(l.balances, s.UID)
			}
			return SettlementResult{}, err
		}
	}

	l.byTx[s.TransactionID] = len(l.entries)
	l.entries = append(l.entries, entry)
	if obligation != nil {
		l.obligations[obligation.ID] = *obligation
	}

	return SettlementResult{Entry: entry, Balance: bal.Amount}, nil
}
