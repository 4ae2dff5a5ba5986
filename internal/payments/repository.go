package payments

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/paygate/internal/envelope"
)

// Repository persists pending transactions.
type Repository interface {
	Create(ctx context.Context, tx StoredTransaction) error
	Get(ctx context.Context, transactionID string) (StoredTransaction, error)
	FindByProviderRef(ctx context.Context, provider, ref string) (StoredTransaction, error)
	// Delete removes a pending transaction. Deleting a missing one is not an error.
	Delete(ctx context.Context, transactionID string) error
	ListExpired(ctx context.Context, before time.Time, limit int) ([]StoredTransaction, error)
}

// PostgresRepository stores pending transactions in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectStored = `SELECT transaction_id, provider, provider_ref, nonce, tag, ciphertext, digest, created_at
        FROM pending_transactions`

// Create inserts a pending transaction.
func (r *PostgresRepository) Create(ctx context.Context, tx StoredTransaction) error {
	_, err := r.db.Exec(ctx, `INSERT INTO pending_transactions
        (transaction_id, provider, provider_ref, nonce, tag, ciphertext, digest, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tx.TransactionID, tx.Provider, tx.ProviderRef,
		tx.Envelope.Nonce, tx.Envelope.Tag, tx.Envelope.Ciphertext, tx.Digest, tx.CreatedAt.UTC())
	return err
}

// Get fetches a pending transaction by id.
func (r *PostgresRepository) Get(ctx context.Context, transactionID string) (StoredTransaction, error) {
	return scanStored(r.db.QueryRow(ctx, selectStored+` WHERE transaction_id = $1`, transactionID))
}

// FindByProviderRef fetches the pending transaction a webhook refers to.
func (r *PostgresRepository) FindByProviderRef(ctx context.Context, provider, ref string) (StoredTransaction, error) {
	return scanStored(r.db.QueryRow(ctx, selectStored+` WHERE provider = $1 AND provider_ref = $2`, provider, ref))
}

// Delete removes a pending transaction.
func (r *PostgresRepository) Delete(ctx context.Context, transactionID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM pending_transactions WHERE transaction_id = $1`, transactionID)
	return err
}

// ListExpired returns pending transactions created before the cutoff, oldest first.
func (r *PostgresRepository) ListExpired(ctx context.Context, before time.Time, limit int) ([]StoredTransaction, error) {
	rows, err := r.db.Query(ctx, selectStored+` WHERE created_at < $1 ORDER BY created_at LIMIT $2`, before.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredTransaction
	for rows.Next() {
		tx, err := scanStored(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanStored(row pgx.Row) (StoredTransaction, error) {
	var tx StoredTransaction
	var env envelope.Envelope
	if err := row.Scan(&tx.TransactionID, &tx.Provider, &tx.ProviderRef, &env.Nonce, &env.Tag, &env.Ciphertext, &tx.Digest, &tx.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StoredTransaction{}, ErrNotFound
		}
		return StoredTransaction{}, err
	}
	tx.Envelope = env
	tx.CreatedAt = tx.CreatedAt.UTC()
	return tx, nil
}
