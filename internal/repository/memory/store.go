// Package memory provides an in-process repository.Store for development
// and tests.
package memory

import (
	"context"
	"sync"

	"github.com/jia-app/offhireservice/internal/rental/domain"
	"github.com/jia-app/offhireservice/internal/repository"
)

// Store keeps rental statuses and credit notes in maps
type Store struct {
	mu          sync.RWMutex
	statuses    map[string]domain.RentalStatus
	creditNotes map[string]domain.CreditNote
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		statuses:    make(map[string]domain.RentalStatus),
		creditNotes: make(map[string]domain.CreditNote),
	}
}

var _ repository.Store = (*Store)(nil)

// Rentals returns the rental status store
func (s *Store) Rentals() repository.RentalStatusStore { return rentals{s} }

// CreditNotes returns the credit note store
func (s *Store) CreditNotes() repository.CreditNoteStore { return creditNotes{s} }

// Close is a no-op
func (s *Store) Close() error { return nil }

type rentals struct{ s *Store }

func (r rentals) MarkReturned(ctx context.Context, rentalID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.statuses[rentalID] = domain.RentalStatusReturned
	return nil
}

func (r rentals) Status(ctx context.Context, rentalID string) (domain.RentalStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if status, ok := r.s.statuses[rentalID]; ok {
		return status, nil
	}
	return domain.RentalStatusActive, nil
}

type creditNotes struct{ s *Store }

func (c creditNotes) Save(ctx context.Context, note domain.CreditNote) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.creditNotes[note.RentalID] = note
	return nil
}

func (c creditNotes) GetByRentalID(ctx context.Context, rentalID string) (domain.CreditNote, error) {
	if err := ctx.Err(); err != nil {
		return domain.CreditNote{}, err
	}
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	note, ok := c.s.creditNotes[rentalID]
	if !ok {
		return domain.CreditNote{}, repository.ErrNotFound
	}
	return note, nil
}
