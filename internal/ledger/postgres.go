package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const maxSettlementAttempts = 3

// PostgresLedger persists balances, entries and obligations in PostgreSQL.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// EnsureAccount guarantees a balance row exists for the user.
func (l *PostgresLedger) EnsureAccount(ctx context.Context, uid string) error {
	_, err := l.db.Exec(ctx, `INSERT INTO balances (uid, balance, last_updated) VALUES ($1, 0, now())
        ON CONFLICT (uid) DO NOTHING`, uid)
	return err
}

// Balance returns the current balance; users without a row have zero.
func (l *PostgresLedger) Balance(ctx context.Context, uid string) (Balance, error) {
	bal := Balance{UID: uid}
	err := l.db.QueryRow(ctx, `SELECT balance, last_updated FROM balances WHERE uid = $1`, uid).
		Scan(&bal.Amount, &bal.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{UID: uid}, nil
		}
		return Balance{}, err
	}
	bal.LastUpdated = bal.LastUpdated.UTC()
	return bal, nil
}

// Entries lists the most recent ledger entries of a user.
func (l *PostgresLedger) Entries(ctx context.Context, uid string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.Query(ctx, `
        SELECT id, transaction_id, uid, direction, amount, description, created_at
        FROM ledger_entries WHERE uid = $1
        ORDER BY created_at DESC LIMIT $2`, uid, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var id uuid.UUID
		var direction string
		if err := rows.Scan(&id, &e.TransactionID, &e.UID, &direction, &e.Amount, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ID = id.String()
		e.Direction = Direction(direction)
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Obligation loads an obligation by id.
func (l *PostgresLedger) Obligation(ctx context.Context, id string) (Obligation, error) {
	return scanObligation(l.db.QueryRow(ctx, obligationQuery, id))
}

// CreateObligation inserts an obligation; used by seeding tools.
func (l *PostgresLedger) CreateObligation(ctx context.Context, o Obligation) (Obligation, error) {
	if o.Price <= 0 {
		return Obligation{}, ErrInvalidAmount
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Status == "" {
		o.Status = ObligationAwaitingPayment
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	_, err := l.db.Exec(ctx, `INSERT INTO obligations (id, user_id, status, price, paid, paid_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`, o.ID, o.UserID, o.Status, o.Price, o.Paid, o.PaidAt, o.CreatedAt)
	if err != nil {
		return Obligation{}, err
	}
	return o, nil
}

// ApplySettlement runs the settlement in one database transaction, retrying
// on serialization failures and deadlocks.
func (l *PostgresLedger) ApplySettlement(ctx context.Context, s Settlement) (SettlementResult, error) {
	if s.Amount <= 0 {
		return SettlementResult{}, ErrInvalidAmount
	}

	var lastErr error
	for attempt := 1; attempt <= maxSettlementAttempts; attempt++ {
		res, err := l.applySettlement(ctx, s)
		if err == nil || !isRetryable(err) {
			return res, err
		}
		lastErr = err
	}
	return SettlementResult{}, fmt.Errorf("apply settlement after %d attempts: %w", maxSettlementAttempts, lastErr)
}

func (l *PostgresLedger) applySettlement(ctx context.Context, s Settlement) (SettlementResult, error) {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return SettlementResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `INSERT INTO balances (uid, balance, last_updated) VALUES ($1, 0, now())
        ON CONFLICT (uid) DO NOTHING`, s.UID); err != nil {
		return SettlementResult{}, err
	}

	// The row lock serializes every settlement of this user, so the duplicate
	// check below cannot race another writer.
	var balance int64
	if err := tx.QueryRow(ctx, `SELECT balance FROM balances WHERE uid = $1 FOR UPDATE`, s.UID).Scan(&balance); err != nil {
		return SettlementResult{}, err
	}

	var settled bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE transaction_id = $1)`, s.TransactionID).Scan(&settled); err != nil {
		return SettlementResult{}, err
	}
	if settled {
		return SettlementResult{}, ErrDuplicateTransaction
	}

	if s.ObligationID != "" {
		o, err := scanObligation(tx.QueryRow(ctx, obligationQuery+` FOR UPDATE`, s.ObligationID))
		if err != nil {
			return SettlementResult{}, err
		}
		if err := o.CheckPayable(s.UID, s.Amount); err != nil {
			return SettlementResult{}, err
		}
	}

	switch s.Direction {
	case Credit:
		balance += s.Amount
	case Debit:
		if balance < s.Amount {
			return SettlementResult{}, ErrInsufficientFunds
		}
		balance -= s.Amount
	default:
		return SettlementResult{}, fmt.Errorf("unknown direction %q", s.Direction)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `UPDATE balances SET balance = $2, last_updated = $3 WHERE uid = $1`, s.UID, balance, now); err != nil {
		return SettlementResult{}, err
	}

	entry := Entry{
		ID:            uuid.NewString(),
		TransactionID: s.TransactionID,
		UID:           s.UID,
		Direction:     s.Direction,
		Amount:        s.Amount,
		Description:   s.Description,
		CreatedAt:     now,
	}
	if _, err := tx.Exec(ctx, `INSERT INTO ledger_entries (id, transaction_id, uid, direction, amount, description, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.TransactionID, entry.UID, string(entry.Direction), entry.Amount, entry.Description, entry.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return SettlementResult{}, ErrDuplicateTransaction
		}
		return SettlementResult{}, err
	}

	if s.ObligationID != "" {
		tag, err := tx.Exec(ctx, `UPDATE obligations SET paid = TRUE, paid_at = $2 WHERE id = $1 AND paid = FALSE`, s.ObligationID, now)
		if err != nil {
			return SettlementResult{}, err
		}
		if tag.RowsAffected() != 1 {
			return SettlementResult{}, ErrAlreadyPaid
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return SettlementResult{}, err
	}

	return SettlementResult{Entry: entry, Balance: balance}, nil
}

const obligationQuery = `SELECT id, user_id, status, price, paid, paid_at, created_at FROM obligations WHERE id = $1`

func scanObligation(row pgx.Row) (Obligation, error) {
	var o Obligation
	if err := row.Scan(&o.ID, &o.UserID, &o.Status, &o.Price, &o.Paid, &o.PaidAt, &o.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Obligation{}, ErrObligationNotFound
		}
		return Obligation{}, err
	}
	o.CreatedAt = o.CreatedAt.UTC()
	return o, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
}
