package service

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"dues/internal/ledger/models"
	"dues/internal/payment/lock"
	dErrors "dues/pkg/domain-errors"
	"dues/pkg/platform/sentinel"
	"dues/pkg/requestcontext"
)

// SectionReport summarizes collection progress for one section.
type SectionReport struct {
	Section     models.Section  `json:"section"`
	Students    []StudentTotals `json:"students"`
	Expected    decimal.Decimal `json:"expected"`
	Paid        decimal.Decimal `json:"paid"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

// StudentTotals is one roster line of the section report.
type StudentTotals struct {
	Student     models.Student  `json:"student"`
	Paid        decimal.Decimal `json:"paid"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

// Report computes per-student and section totals under the section lock so
// the snapshot is consistent against concurrent batch operations. Individual
// payment commits hold per-student locks, not the section lock; their
// interleaving moves a student total atomically, which is fine for a report.
func (r *Recorder) Report(ctx context.Context, sectionID string) (*SectionReport, error) {
	caller := requestcontext.CallerFrom(ctx)
	if !caller.CanAccessSection(sectionID) {
		return nil, dErrors.New(dErrors.CodeForbidden, "section outside the caller's scope")
	}

	section, err := r.store.GetSection(ctx, sectionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "section not found")
		}
		return nil, dErrors.Wrap(dErrors.CodePersistence, "failed to load section, try again", err)
	}

	release, err := r.locks.Acquire(ctx, lock.SectionKey(sectionID))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotAcquired) {
			r.metrics.IncrementLockFailures()
			return nil, dErrors.New(dErrors.CodeBusy, "system busy, try later")
		}
		return nil, dErrors.Wrap(dErrors.CodeInternal, "lock acquisition failed", err)
	}
	defer release()

	students, err := r.store.ListStudents(ctx, sectionID)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodePersistence, "failed to list students, try again", err)
	}

	report := &SectionReport{
		Section:     section,
		Expected:    decimal.Zero,
		Paid:        decimal.Zero,
		Outstanding: decimal.Zero,
	}
	for _, student := range students {
		paid, err := r.store.SumNonVoidedPaymentsForStudent(ctx, student.ID)
		if err != nil {
			return nil, dErrors.Wrap(dErrors.CodePersistence, "failed to sum payments, try again", err)
		}
		outstanding := student.ExpectedAmount.Sub(paid)
		report.Students = append(report.Students, StudentTotals{
			Student:     student,
			Paid:        paid,
			Outstanding: outstanding,
		})
		report.Expected = report.Expected.Add(student.ExpectedAmount)
		report.Paid = report.Paid.Add(paid)
		report.Outstanding = report.Outstanding.Add(outstanding)
	}
	return report, nil
}

// GetPayment loads a single payment, subject to the caller's section scope.
func (r *Recorder) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	payment, err := r.store.GetPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "payment not found")
		}
		return nil, dErrors.Wrap(dErrors.CodePersistence, "failed to load payment, try again", err)
	}
	if !requestcontext.CallerFrom(ctx).CanAccessSection(payment.SectionID) {
		return nil, dErrors.New(dErrors.CodeNotFound, "payment not found")
	}
	return &payment, nil
}

// ListPayments returns payments visible to the caller. Treasurers only see
// their own section.
func (r *Recorder) ListPayments(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, error) {
	caller := requestcontext.CallerFrom(ctx)
	if caller.Role == requestcontext.RoleTreasurer {
		if filter.SectionID != "" && filter.SectionID != caller.Section {
			return nil, dErrors.New(dErrors.CodeForbidden, "section outside the caller's scope")
		}
		filter.SectionID = caller.Section
	}

	payments, err := r.store.ListPayments(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodePersistence, "failed to list payments, try again", err)
	}
	return payments, nil
}
