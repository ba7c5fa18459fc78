package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jia-app/offhireservice/internal/rental/domain"
	"github.com/jia-app/offhireservice/internal/repository"
)

// Schema creates the tables used by the store
const Schema = `
CREATE TABLE IF NOT EXISTS rental_status (
	rental_id  TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS credit_notes (
	id           UUID PRIMARY KEY,
	rental_id    TEXT NOT NULL UNIQUE,
	amount_minor BIGINT NOT NULL CHECK (amount_minor >= 0),
	currency     TEXT NOT NULL,
	refund_id    TEXT,
	issued_at    TIMESTAMPTZ NOT NULL
);`

// DBTX is the subset of pgx used by the store; *pgxpool.Pool and pgx.Tx satisfy it
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store represents the PostgreSQL store implementation
type Store struct {
	db   DBTX
	pool *pgxpool.Pool
}

// NewStore creates a new PostgreSQL store
func NewStore(ctx context.Context, connString string, maxConns int32) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: pool, pool: pool}, nil
}

// NewStoreWithDB creates a store on an existing connection, pool or transaction
func NewStoreWithDB(db DBTX) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle cannot be nil")
	}
	return &Store{db: db}, nil
}

// Migrate creates the schema if it does not exist
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Rentals returns the rental status store
func (s *Store) Rentals() repository.RentalStatusStore {
	return &rentalStatusRepository{store: s}
}

// CreditNotes returns the credit note store
func (s *Store) CreditNotes() repository.CreditNoteStore {
	return &creditNoteRepository{store: s}
}

var _ repository.Store = (*Store)(nil)

// rentalStatusRepository implements repository.RentalStatusStore
type rentalStatusRepository struct {
	store *Store
}

const markReturnedSQL = `
INSERT INTO rental_status (rental_id, status, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (rental_id) DO UPDATE SET status = EXCLUDED.status, updated_at = now()`

// MarkReturned sets the rental status to returned
func (r *rentalStatusRepository) MarkReturned(ctx context.Context, rentalID string) error {
	if _, err := r.store.db.Exec(ctx, markReturnedSQL, rentalID, string(domain.RentalStatusReturned)); err != nil {
		return fmt.Errorf("failed to mark rental returned: %w", err)
	}
	return nil
}

const rentalStatusSQL = `SELECT status FROM rental_status WHERE rental_id = $1`

// Status returns the rental status; unknown rentals are active
func (r *rentalStatusRepository) Status(ctx context.Context, rentalID string) (domain.RentalStatus, error) {
	var status string
	err := r.store.db.QueryRow(ctx, rentalStatusSQL, rentalID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RentalStatusActive, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get rental status: %w", err)
	}
	return domain.RentalStatus(status), nil
}

// creditNoteRepository implements repository.CreditNoteStore
type creditNoteRepository struct {
	store *Store
}

const saveCreditNoteSQL = `
INSERT INTO credit_notes (id, rental_id, amount_minor, currency, refund_id, issued_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
ON CONFLICT (rental_id) DO UPDATE SET
	id = EXCLUDED.id,
	amount_minor = EXCLUDED.amount_minor,
	currency = EXCLUDED.currency,
	refund_id = EXCLUDED.refund_id,
	issued_at = EXCLUDED.issued_at`

// Save inserts or replaces the credit note of a rental
func (r *creditNoteRepository) Save(ctx context.Context, note domain.CreditNote) error {
	_, err := r.store.db.Exec(ctx, saveCreditNoteSQL,
		note.ID,
		note.RentalID,
		domain.ToMinorUnits(note.Amount),
		note.Currency,
		note.RefundID,
		note.IssuedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save credit note: %w", err)
	}
	return nil
}

const creditNoteByRentalSQL = `
SELECT id::text, rental_id, amount_minor, currency, COALESCE(refund_id, ''), issued_at
FROM credit_notes WHERE rental_id = $1`

// GetByRentalID returns the credit note of a rental or repository.ErrNotFound
func (r *creditNoteRepository) GetByRentalID(ctx context.Context, rentalID string) (domain.CreditNote, error) {
	var (
		note        domain.CreditNote
		amountMinor int64
	)
	err := r.store.db.QueryRow(ctx, creditNoteByRentalSQL, rentalID).Scan(
		&note.ID,
		&note.RentalID,
		&amountMinor,
		&note.Currency,
		&note.RefundID,
		&note.IssuedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CreditNote{}, repository.ErrNotFound
	}
	if err != nil {
		return domain.CreditNote{}, fmt.Errorf("failed to get credit note: %w", err)
	}
	note.Amount = domain.FromMinorUnits(amountMinor)
	note.IssuedAt = note.IssuedAt.UTC()
	return note, nil
}
