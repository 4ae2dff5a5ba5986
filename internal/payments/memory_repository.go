package payments

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[string]StoredTransaction
}

// NewMemoryRepository constructs an in-memory repository for tests and local runs.
func NewMemoryRepository() Repository {
	return &memoryRepository{storage: make(map[string]StoredTransaction)}
}

func (r *memoryRepository) Create(_ context.Context, tx StoredTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.storage[tx.TransactionID]; exists {
		return errors.New("pending transaction exists")
	}
	for _, existing := range r.storage {
		if existing.Provider == tx.Provider && existing.ProviderRef == tx.ProviderRef {
			return errors.New("provider reference already in use")
		}
	}
	r.storage[tx.TransactionID] = tx
	return nil
}

func (r *memoryRepository) Get(_ context.Context, transactionID string) (StoredTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tx, ok := r.storage[transactionID]
	if !ok {
		return StoredTransaction{}, ErrNotFound
	}
	return tx, nil
}

func (r *memoryRepository) FindByProviderRef(_ context.Context, provider, ref string) (StoredTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, tx := range r.storage {
		if tx.Provider == provider && tx.ProviderRef == ref {
			return tx, nil
		}
	}
	return StoredTransaction{}, ErrNotFound
}

func (r *memoryRepository) Delete(_ context.Context, transactionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.storage, transactionID)
	return nil
}

func (r *memoryRepository) ListExpired(_ context.Context, before time.Time, limit int) ([]StoredTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []StoredTransaction
	for _, tx := range r.storage {
		if tx.CreatedAt.Before(before) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
