// Package validate holds the payment validation rules as pure predicate
// functions over a read-only ledger view. Validators never fail the request
// themselves: they return a structured Result the recorder inspects and maps
// to a response. The error return is reserved for infrastructure faults from
// ledger reads.
package validate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"dues/internal/ledger/models"
	"dues/internal/platform/config"
	"dues/pkg/platform/sentinel"
	"dues/pkg/requestcontext"
)

// Ledger is the read-only view validators scan. Both store implementations
// satisfy it.
type Ledger interface {
	ListPayments(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, error)
	GetStudent(ctx context.Context, id string) (models.Student, error)
	SumNonVoidedPaymentsForStudent(ctx context.Context, studentID string) (decimal.Decimal, error)
}

// Result is the outcome of one validator. Message carries the specific
// human-readable reason and is surfaced verbatim to callers.
type Result struct {
	Valid   bool
	Message string
	// ConflictID names the existing payment on a receipt or idempotency
	// match so the recorder can short-circuit or report the collision.
	ConflictID string
	// Student and PaidTotal are populated by StudentEligibility on success
	// so the recorder does not rescan the ledger.
	Student   *models.Student
	PaidTotal decimal.Decimal
}

func ok() Result { return Result{Valid: true} }

func fail(message string) Result { return Result{Valid: false, Message: message} }

// Amount checks the configured bounds: positive, within [min, max], and an
// exact multiple of the unit.
func Amount(rules config.Rules, amount decimal.Decimal) Result {
	if !amount.IsPositive() {
		return fail("amount must be greater than zero")
	}
	if amount.LessThan(rules.MinAmount) {
		return fail(fmt.Sprintf("amount %s is below the minimum of %s", amount, rules.MinAmount))
	}
	if amount.GreaterThan(rules.MaxAmount) {
		return fail(fmt.Sprintf("amount %s is above the maximum of %s", amount, rules.MaxAmount))
	}
	if !amount.Mod(rules.AmountUnit).IsZero() {
		return fail(fmt.Sprintf("amount %s is not a multiple of %s", amount, rules.AmountUnit))
	}
	return ok()
}

// UniqueReceipt scans non-voided payments for the normalized physical receipt
// number. excludeID lets a re-validate path ignore the payment being revised.
func UniqueReceipt(ctx context.Context, ledger Ledger, receiptNo, excludeID string) (Result, error) {
	normalized := models.NormalizeReceiptNo(receiptNo)
	if normalized == "" {
		return fail("physical receipt number is required"), nil
	}

	payments, err := ledger.ListPayments(ctx, models.PaymentFilter{})
	if err != nil {
		return Result{}, fmt.Errorf("scan payments for receipt: %w", err)
	}
	for _, p := range payments {
		if p.ID == excludeID {
			continue
		}
		if models.NormalizeReceiptNo(p.PhysicalReceiptNo) == normalized {
			return Result{
				Valid:      false,
				Message:    fmt.Sprintf("receipt number %s already used by payment %s", normalized, p.ID),
				ConflictID: p.ID,
			}, nil
		}
	}
	return ok(), nil
}

// IdempotencyKey scans non-voided payments created within the retention
// window. A match is reported invalid with the existing payment id, which the
// recorder turns into a duplicate-success response rather than an error.
func IdempotencyKey(ctx context.Context, ledger Ledger, key string, retention time.Duration, now time.Time) (Result, error) {
	if key == "" {
		return fail("idempotency key is required"), nil
	}

	payments, err := ledger.ListPayments(ctx, models.PaymentFilter{CreatedSince: now.Add(-retention)})
	if err != nil {
		return Result{}, fmt.Errorf("scan payments for idempotency key: %w", err)
	}
	for _, p := range payments {
		if p.IdempotencyKey == key {
			return Result{
				Valid:      false,
				Message:    fmt.Sprintf("idempotency key already used by payment %s", p.ID),
				ConflictID: p.ID,
			}, nil
		}
	}
	return ok(), nil
}

// StudentEligibility checks that the student exists, is active, is visible to
// the caller, and that the new amount would not push the non-voided total past
// the expected amount. The boundary is inclusive: paying up to exactly the
// expected amount is allowed.
func StudentEligibility(ctx context.Context, ledger Ledger, studentID string, amount decimal.Decimal, caller requestcontext.Caller) (Result, error) {
	student, err := ledger.GetStudent(ctx, studentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return fail(fmt.Sprintf("student %s not found", studentID)), nil
		}
		return Result{}, fmt.Errorf("look up student %s: %w", studentID, err)
	}
	if !student.Active {
		return fail(fmt.Sprintf("student %s is deactivated", studentID)), nil
	}
	if !caller.CanAccessSection(student.SectionID) {
		return fail(fmt.Sprintf("student %s belongs to section %s, outside the caller's section", studentID, student.SectionID)), nil
	}

	paid, err := ledger.SumNonVoidedPaymentsForStudent(ctx, studentID)
	if err != nil {
		return Result{}, fmt.Errorf("sum payments for student %s: %w", studentID, err)
	}

	wouldBe := paid.Add(amount)
	if wouldBe.GreaterThan(student.ExpectedAmount) {
		return Result{
			Valid: false,
			Message: fmt.Sprintf("payment would exceed expected amount: expected %s, already paid %s, would be %s",
				student.ExpectedAmount, paid, wouldBe),
		}, nil
	}

	return Result{Valid: true, Student: &student, PaidTotal: paid}, nil
}

// SameDay enforces the one-payment-per-student-per-calendar-date policy.
func SameDay(ctx context.Context, ledger Ledger, studentID string, date time.Time) (Result, error) {
	payments, err := ledger.ListPayments(ctx, models.PaymentFilter{StudentID: studentID, PaymentDate: &date})
	if err != nil {
		return Result{}, fmt.Errorf("scan payments for same-day check: %w", err)
	}
	if len(payments) > 0 {
		return Result{
			Valid: false,
			Message: fmt.Sprintf("student %s already has payment %s dated %s",
				studentID, payments[0].ID, date.UTC().Format("2006-01-02")),
			ConflictID: payments[0].ID,
		}, nil
	}
	return ok(), nil
}
