package repository

import (
	"context"
	"errors"

	"github.com/jia-app/offhireservice/internal/rental/domain"
)

// ErrNotFound is returned when a record is not found
var ErrNotFound = errors.New("record not found")

// RentalStatusStore records the lifecycle status of rentals
type RentalStatusStore interface {
	// MarkReturned sets the rental status to returned
	MarkReturned(ctx context.Context, rentalID string) error

	// Status returns the rental status; unknown rentals are active
	Status(ctx context.Context, rentalID string) (domain.RentalStatus, error)
}

// CreditNoteStore persists credit notes, one per rental
type CreditNoteStore interface {
	// Save inserts or replaces the credit note of a rental
	Save(ctx context.Context, note domain.CreditNote) error

	// GetByRentalID returns the credit note of a rental or ErrNotFound
	GetByRentalID(ctx context.Context, rentalID string) (domain.CreditNote, error)
}

// Store groups the stores used by the early return flow
type Store interface {
	Rentals() RentalStatusStore
	CreditNotes() CreditNoteStore
	Close() error
}
