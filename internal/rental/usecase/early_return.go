package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/jia-app/offhireservice/internal/events"
	"github.com/jia-app/offhireservice/internal/lock"
	"github.com/jia-app/offhireservice/internal/log"
	"github.com/jia-app/offhireservice/internal/metrics"
	"github.com/jia-app/offhireservice/internal/rental/domain"
	"github.com/jia-app/offhireservice/internal/repository"
	"github.com/jia-app/offhireservice/internal/tracing"
)

// EarlyReturnCoordinator is the entry point of the early return flow. It
// serialises work per rental, issues the credit note, commits the refund
// and records the rental as returned.
type EarlyReturnCoordinator struct {
	validator    *EligibilityValidator
	calculator   *RefundCalculator
	orchestrator *RefundOrchestrator
	rentals      repository.RentalStatusStore
	creditNotes  repository.CreditNoteStore
	locker       lock.Locker
	publisher    events.Publisher
	config       Config
	now          Clock
}

// NewEarlyReturnCoordinator creates a new early return coordinator
func NewEarlyReturnCoordinator(
	validator *EligibilityValidator,
	calculator *RefundCalculator,
	orchestrator *RefundOrchestrator,
	store repository.Store,
	locker lock.Locker,
	publisher events.Publisher,
	config Config,
	now Clock,
) *EarlyReturnCoordinator {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if now == nil {
		now = time.Now
	}
	return &EarlyReturnCoordinator{
		validator:    validator,
		calculator:   calculator,
		orchestrator: orchestrator,
		rentals:      store.Rentals(),
		creditNotes:  store.CreditNotes(),
		locker:       locker,
		publisher:    publisher,
		config:       config,
		now:          now,
	}
}

// ProcessEarlyReturn processes one early return. Every failure is returned
// as a *domain.EarlyReturnError; use domain.KindOf to dispatch on it.
func (c *EarlyReturnCoordinator) ProcessEarlyReturn(ctx context.Context, s domain.RentalSnapshot) (domain.EarlyReturnResult, error) {
	start := time.Now()
	ctx = log.WithRentalID(ctx, s.RentalID)
	ctx, span := tracing.StartSpan(ctx, "early_return.process", attribute.String("rental_id", s.RentalID))

	result, err := c.process(ctx, s)
	tracing.EndSpan(span, err)

	outcome := "success"
	switch {
	case err != nil:
		outcome = string(domain.KindOf(err))
	case result.AlreadyProcessed:
		outcome = "already_processed"
	}
	metrics.RecordEarlyReturn(outcome, time.Since(start))

	if err != nil {
		log.Warn(ctx, "Early return failed",
			zap.String("kind", string(domain.KindOf(err))),
			zap.Error(err))
		return domain.EarlyReturnResult{}, &domain.EarlyReturnError{RentalID: s.RentalID, Cause: err}
	}

	log.Info(ctx, "Early return processed",
		zap.String("credit_note_id", result.CreditNote.ID),
		zap.String("credit_amount", result.CreditAmount.StringFixed(domain.MinorUnitPlaces)),
		zap.Bool("refunded", result.Refund != nil),
		zap.Bool("already_processed", result.AlreadyProcessed))
	return result, nil
}

func (c *EarlyReturnCoordinator) process(ctx context.Context, s domain.RentalSnapshot) (domain.EarlyReturnResult, error) {
	if err := s.Validate(); err != nil {
		return domain.EarlyReturnResult{}, err
	}

	release, err := c.locker.Acquire(ctx, lock.RentalKey(s.RentalID), c.config.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			metrics.RecordLockContention()
			return domain.EarlyReturnResult{}, domain.ErrRentalLocked
		}
		return domain.EarlyReturnResult{}, fmt.Errorf("failed to acquire rental lock: %w", err)
	}
	defer c.release(ctx, release)

	if result, done, err := c.alreadyReturned(ctx, s); err != nil || done {
		return result, err
	}

	decision, err := c.validator.Check(ctx, s)
	if err != nil {
		var ineligible *domain.IneligibleError
		if errors.As(err, &ineligible) {
			metrics.RecordIneligible(string(ineligible.Reason))
		}
		return domain.EarlyReturnResult{}, err
	}

	quote, err := c.calculator.Calculate(ctx, s)
	if err != nil {
		return domain.EarlyReturnResult{}, err
	}

	note := domain.CreditNote{
		ID:       uuid.NewString(),
		RentalID: s.RentalID,
		Amount:   quote.Amount,
		Currency: quote.Currency,
		IssuedAt: c.now().UTC(),
	}
	tracing.AddSpanEvent(ctx, "credit_note.issued", attribute.String("credit_note_id", note.ID))

	var receipt *domain.RefundReceipt
	if !quote.IsZero() {
		receipt, err = c.orchestrator.ProcessRefund(ctx, s, WithEligibility(decision), WithQuote(quote))
		if err != nil {
			return domain.EarlyReturnResult{}, err
		}
		if receipt != nil {
			note.RefundID = receipt.ExternalRefundID
			ctx = context.WithoutCancel(ctx)
		}
	}

	if err := c.record(ctx, s.RentalID, note); err != nil {
		if receipt != nil {
			metrics.RecordRefundCommittedWithFailure()
			return domain.EarlyReturnResult{}, &domain.RefundCommittedError{Receipt: *receipt, Cause: err}
		}
		return domain.EarlyReturnResult{}, err
	}

	result := domain.EarlyReturnResult{
		Success:      true,
		CreditNote:   note,
		CreditAmount: note.Amount,
		Refund:       receipt,
		Message:      summary(note.Amount, receipt),
	}

	if err := withTimeout(ctx, c.config.StoreTimeout, func(ctx context.Context) error {
		return c.publisher.PublishEarlyReturned(ctx, s, result)
	}); err != nil {
		log.Warn(ctx, "Failed to publish early return event", zap.Error(err))
	}

	return result, nil
}

// alreadyReturned short-circuits a repeated request for a rental that has
// already been returned, answering with the stored credit note.
func (c *EarlyReturnCoordinator) alreadyReturned(ctx context.Context, s domain.RentalSnapshot) (domain.EarlyReturnResult, bool, error) {
	var status domain.RentalStatus
	err := withTimeout(ctx, c.config.StoreTimeout, func(ctx context.Context) error {
		var err error
		status, err = c.rentals.Status(ctx, s.RentalID)
		return err
	})
	if err != nil {
		return domain.EarlyReturnResult{}, false, fmt.Errorf("failed to read rental status: %w", err)
	}
	if status != domain.RentalStatusReturned {
		return domain.EarlyReturnResult{}, false, nil
	}

	var note domain.CreditNote
	err = withTimeout(ctx, c.config.StoreTimeout, func(ctx context.Context) error {
		var err error
		note, err = c.creditNotes.GetByRentalID(ctx, s.RentalID)
		return err
	})
	if err != nil {
		return domain.EarlyReturnResult{}, false, fmt.Errorf("rental %s is returned but its credit note is unavailable: %w", s.RentalID, err)
	}

	log.Info(ctx, "Rental already returned, skipping refund", zap.String("credit_note_id", note.ID))
	receipt := note.Receipt()
	return domain.EarlyReturnResult{
		Success:          true,
		CreditNote:       note,
		CreditAmount:     note.Amount,
		Refund:           receipt,
		Message:          summary(note.Amount, receipt),
		AlreadyProcessed: true,
	}, true, nil
}

// record persists the credit note, then marks the rental returned
func (c *EarlyReturnCoordinator) record(ctx context.Context, rentalID string, note domain.CreditNote) error {
	if err := withTimeout(ctx, c.config.StoreTimeout, func(ctx context.Context) error {
		return c.creditNotes.Save(ctx, note)
	}); err != nil {
		return fmt.Errorf("failed to save credit note: %w", err)
	}
	if err := withTimeout(ctx, c.config.StoreTimeout, func(ctx context.Context) error {
		return c.rentals.MarkReturned(ctx, rentalID)
	}); err != nil {
		return fmt.Errorf("failed to mark rental returned: %w", err)
	}
	return nil
}

func (c *EarlyReturnCoordinator) release(ctx context.Context, release lock.Release) {
	err := withTimeout(context.WithoutCancel(ctx), c.config.StoreTimeout, func(ctx context.Context) error {
		return release(ctx)
	})
	if err != nil {
		log.Warn(ctx, "Failed to release rental lock", zap.Error(err))
	}
}

// PreviewCredit runs eligibility and calculation only. It takes no lock,
// moves no money and writes nothing.
func (c *EarlyReturnCoordinator) PreviewCredit(ctx context.Context, s domain.RentalSnapshot) (domain.Quote, error) {
	ctx = log.WithRentalID(ctx, s.RentalID)
	ctx, span := tracing.StartSpan(ctx, "early_return.preview", attribute.String("rental_id", s.RentalID))

	quote, err := c.preview(ctx, s)
	tracing.EndSpan(span, err)
	return quote, err
}

func (c *EarlyReturnCoordinator) preview(ctx context.Context, s domain.RentalSnapshot) (domain.Quote, error) {
	if err := s.Validate(); err != nil {
		return domain.Quote{}, err
	}
	if _, err := c.validator.Check(ctx, s); err != nil {
		return domain.Quote{}, err
	}
	return c.calculator.Calculate(ctx, s)
}

func summary(credit decimal.Decimal, receipt *domain.RefundReceipt) string {
	msg := "Early return processed successfully. Credit amount: $" + credit.StringFixed(domain.MinorUnitPlaces)
	if receipt != nil {
		msg += ". Refund processed: $" + receipt.Amount.StringFixed(domain.MinorUnitPlaces)
	}
	return msg
}
