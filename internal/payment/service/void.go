package service

import (
	"context"
	"errors"

	"dues/internal/audit"
	"dues/internal/ledger/models"
	"dues/internal/payment/lock"
	dErrors "dues/pkg/domain-errors"
	"dues/pkg/platform/sentinel"
	"dues/pkg/requestcontext"
)

// Void marks a payment as logically deleted. The row is kept for audit
// history but excluded from uniqueness and sum calculations, which frees its
// receipt number and same-day slot. Admin only: voiding changes eligibility
// math retroactively.
func (r *Recorder) Void(ctx context.Context, paymentID, reason string) (*models.Payment, error) {
	caller := requestcontext.CallerFrom(ctx)
	if caller.Role != requestcontext.RoleAdmin {
		return nil, dErrors.New(dErrors.CodeForbidden, "only admins may void payments")
	}

	payment, err := r.store.GetPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "payment not found")
		}
		return nil, dErrors.Wrap(dErrors.CodePersistence, "failed to load payment, try again", err)
	}

	// The void shares the student lock with recording so eligibility sums
	// cannot change mid-commit.
	release, err := r.locks.Acquire(ctx, lock.StudentKey(payment.StudentID))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotAcquired) {
			r.metrics.IncrementLockFailures()
			return nil, dErrors.New(dErrors.CodeBusy, "system busy, try later")
		}
		return nil, dErrors.Wrap(dErrors.CodeInternal, "lock acquisition failed", err)
	}
	defer release()

	now := requestcontext.Now(ctx)
	if err := r.store.VoidPayment(ctx, paymentID, caller.ID, reason, now); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "payment not found")
		case errors.Is(err, sentinel.ErrInvalidState):
			return nil, dErrors.New(dErrors.CodeConflict, "payment is already voided")
		default:
			return nil, dErrors.Wrap(dErrors.CodePersistence, "failed to void payment, try again", err)
		}
	}
	r.metrics.IncrementVoided()

	r.audit.Emit(ctx, audit.Event{
		Action:    audit.ActionPaymentVoided,
		ActorID:   caller.ID,
		EntityID:  paymentID,
		RequestID: requestcontext.RequestID(ctx),
		Details: map[string]any{
			"student_id": payment.StudentID,
			"amount":     payment.Amount.String(),
			"reason":     reason,
		},
	})

	voided, err := r.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodePersistence, "failed to reload payment", err)
	}
	return &voided, nil
}
