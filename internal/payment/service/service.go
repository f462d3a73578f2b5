// Package service orchestrates payment recording: validators, the per-student
// lock, the ledger append, and the audit sink. Every commit path goes through
// Record, which never appends outside the held lock.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"dues/internal/audit"
	"dues/internal/ledger/models"
	"dues/internal/payment/lock"
	"dues/internal/payment/metrics"
	"dues/internal/payment/validate"
	"dues/internal/platform/config"
	dErrors "dues/pkg/domain-errors"
	"dues/pkg/platform/sentinel"
	"dues/pkg/requestcontext"
)

// Store is the ledger surface the recorder needs.
type Store interface {
	validate.Ledger
	AppendPayment(ctx context.Context, payment models.Payment) (string, error)
	GetPayment(ctx context.Context, id string) (models.Payment, error)
	VoidPayment(ctx context.Context, id, voidedBy, reason string, at time.Time) error
	ListStudents(ctx context.Context, sectionID string) ([]models.Student, error)
	GetSection(ctx context.Context, id string) (models.Section, error)
}

// RecordRequest is the "record payment" operation input. PaymentDate is the
// caller-supplied business date; zero means today. An absent IdempotencyKey
// gets a generated one, making the single attempt safe but retries
// non-idempotent, so callers are expected to supply their own.
type RecordRequest struct {
	StudentID         string
	Amount            decimal.Decimal
	PhysicalReceiptNo string
	IdempotencyKey    string
	PaymentDate       time.Time
	Notes             string
}

// RecordResult is the success payload. Duplicate marks an idempotency-key
// replay: the payment is the original commit, not a new row.
type RecordResult struct {
	Payment       models.Payment
	PreviousTotal decimal.Decimal
	NewTotal      decimal.Decimal
	Duplicate     bool
}

// Recorder commits payments exactly once per idempotency key.
type Recorder struct {
	store   Store
	locks   lock.Manager
	rules   config.Rules
	audit   *audit.Service
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewRecorder(store Store, locks lock.Manager, rules config.Rules, auditSvc *audit.Service, logger *slog.Logger, m *metrics.Metrics) *Recorder {
	return &Recorder{
		store:   store,
		locks:   locks,
		rules:   rules,
		audit:   auditSvc,
		logger:  logger,
		metrics: m,
	}
}

// Record runs the payment state machine:
// shape check and cheap validation outside the lock, then eligibility,
// idempotency/receipt re-checks and the same-day rule inside the per-student
// lock, then the append. The pre-lock idempotency check only short-circuits
// the happy retry path; the in-lock re-check is the authoritative one.
func (r *Recorder) Record(ctx context.Context, req RecordRequest) (*RecordResult, error) {
	start := time.Now()
	caller := requestcontext.CallerFrom(ctx)

	result, err := r.record(ctx, req, caller)
	r.observe(ctx, start, req, result, err)
	return result, err
}

func (r *Recorder) record(ctx context.Context, req RecordRequest, caller requestcontext.Caller) (*RecordResult, error) {
	// Input shape check, before any lock or scan.
	if req.StudentID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "student id is required")
	}
	if req.Amount.IsZero() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "amount is required")
	}
	if models.NormalizeReceiptNo(req.PhysicalReceiptNo) == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "physical receipt number is required")
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}
	now := requestcontext.Now(ctx)
	if req.PaymentDate.IsZero() {
		req.PaymentDate = now
	}

	// Pre-lock validation: cheap, read-only.
	if result := validate.Amount(r.rules, req.Amount); !result.Valid {
		return nil, dErrors.New(dErrors.CodeValidation, result.Message)
	}
	keyResult, err := validate.IdempotencyKey(ctx, r.store, req.IdempotencyKey, r.rules.IdempotencyRetention, now)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodePersistence, "failed to check idempotency key, try again", err)
	}
	if !keyResult.Valid {
		if keyResult.ConflictID != "" {
			return r.replay(ctx, keyResult.ConflictID)
		}
		return nil, dErrors.New(dErrors.CodeBadRequest, keyResult.Message)
	}
	receiptResult, err := validate.UniqueReceipt(ctx, r.store, req.PhysicalReceiptNo, "")
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodePersistence, "failed to check receipt number, try again", err)
	}
	if !receiptResult.Valid {
		return nil, dErrors.New(dErrors.CodeValidation, receiptResult.Message)
	}

	// Serialize same-student commits.
	release, err := r.locks.Acquire(ctx, lock.StudentKey(req.StudentID))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotAcquired) {
			r.metrics.IncrementLockFailures()
			return nil, dErrors.New(dErrors.CodeBusy, "system busy, try later")
		}
		return nil, dErrors.Wrap(dErrors.CodeInternal, "lock acquisition failed", err)
	}
	defer release()

	return r.commitLocked(ctx, req, caller, now)
}

// commitLocked runs the in-lock portion. The deferred recover maps anything
// unexpected to a persistence error after the caller's deferred release has
// been armed, so the lock is never leaked.
func (r *Recorder) commitLocked(ctx context.Context, req RecordRequest, caller requestcontext.Caller, now time.Time) (result *RecordResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.ErrorContext(ctx, "panic during payment commit",
				"student_id", req.StudentID,
				"panic", fmt.Sprint(p),
			)
			result = nil
			err = dErrors.New(dErrors.CodePersistence, "failed to save payment, try again")
		}
	}()

	// Eligibility against current ledger state; reads before the lock are
	// not authoritative.
	eligibility, err := validate.StudentEligibility(ctx, r.store, req.StudentID, req.Amount, caller)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodePersistence, "failed to check eligibility, try again", err)
	}
	if !eligibility.Valid {
		return nil, dErrors.New(dErrors.CodeValidation, eligibility.Message)
	}

	// Re-check idempotency and receipt: closes the window between the
	// pre-lock read and lock acquisition.
	keyResult, err := validate.IdempotencyKey(ctx, r.store, req.IdempotencyKey, r.rules.IdempotencyRetention, now)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodePersistence, "failed to re-check idempotency key, try again", err)
	}
	if !keyResult.Valid && keyResult.ConflictID != "" {
		return r.replay(ctx, keyResult.ConflictID)
	}
	receiptResult, err := validate.UniqueReceipt(ctx, r.store, req.PhysicalReceiptNo, "")
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodePersistence, "failed to re-check receipt number, try again", err)
	}
	if !receiptResult.Valid {
		return nil, dErrors.New(dErrors.CodeValidation, receiptResult.Message)
	}

	// One recorded payment per student per calendar date.
	sameDay, err := validate.SameDay(ctx, r.store, req.StudentID, req.PaymentDate)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodePersistence, "failed to check payment date, try again", err)
	}
	if !sameDay.Valid {
		return nil, dErrors.New(dErrors.CodeValidation, sameDay.Message)
	}

	systemReceiptNo, err := r.newSystemReceiptNo(ctx, now)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodePersistence, "failed to allocate receipt reference, try again", err)
	}

	payment := models.Payment{
		StudentID:         req.StudentID,
		SectionID:         eligibility.Student.SectionID,
		Amount:            req.Amount,
		PaymentDate:       req.PaymentDate,
		EnteredBy:         caller.ID,
		CreatedAt:         now,
		PhysicalReceiptNo: models.NormalizeReceiptNo(req.PhysicalReceiptNo),
		SystemReceiptNo:   systemReceiptNo,
		IdempotencyKey:    req.IdempotencyKey,
		Notes:             req.Notes,
	}

	id, err := r.store.AppendPayment(ctx, payment)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodePersistence, "failed to save payment, try again", err)
	}
	payment.ID = id

	r.audit.Emit(ctx, audit.Event{
		Action:    audit.ActionPaymentRecorded,
		ActorID:   caller.ID,
		EntityID:  id,
		RequestID: requestcontext.RequestID(ctx),
		Details: map[string]any{
			"student_id":          req.StudentID,
			"section_id":          payment.SectionID,
			"amount":              req.Amount.String(),
			"payment_date":        req.PaymentDate.UTC().Format("2006-01-02"),
			"physical_receipt_no": payment.PhysicalReceiptNo,
			"system_receipt_no":   systemReceiptNo,
		},
	})

	return &RecordResult{
		Payment:       payment,
		PreviousTotal: eligibility.PaidTotal,
		NewTotal:      eligibility.PaidTotal.Add(req.Amount),
	}, nil
}

// replay returns the originally committed payment for a repeated idempotency
// key. This is a success response, not an error: retried client requests must
// be safe to resend.
func (r *Recorder) replay(ctx context.Context, paymentID string) (*RecordResult, error) {
	payment, err := r.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodePersistence, "failed to load the previously recorded payment, try again", err)
	}
	total, err := r.store.SumNonVoidedPaymentsForStudent(ctx, payment.StudentID)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodePersistence, "failed to sum payments, try again", err)
	}
	return &RecordResult{
		Payment:       payment,
		PreviousTotal: total.Sub(payment.Amount),
		NewTotal:      total,
		Duplicate:     true,
	}, nil
}

// receiptAlphabet avoids ambiguous characters on printed receipts.
const receiptAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const receiptAttempts = 5

// newSystemReceiptNo generates the system receipt reference, collision-checked
// against non-voided payments, with a timestamp-derived fallback after the
// random attempts are exhausted.
func (r *Recorder) newSystemReceiptNo(ctx context.Context, now time.Time) (string, error) {
	payments, err := r.store.ListPayments(ctx, models.PaymentFilter{})
	if err != nil {
		return "", fmt.Errorf("scan payments for receipt reference: %w", err)
	}
	taken := make(map[string]struct{}, len(payments))
	for _, p := range payments {
		taken[p.SystemReceiptNo] = struct{}{}
	}

	for attempt := 0; attempt < receiptAttempts; attempt++ {
		candidate, err := randomReceiptNo()
		if err != nil {
			return "", err
		}
		if _, exists := taken[candidate]; !exists {
			return candidate, nil
		}
	}
	return fmt.Sprintf("RCT-TS-%d", now.UnixNano()), nil
}

func randomReceiptNo() (string, error) {
	var buf [10]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = receiptAlphabet[int(b)%len(receiptAlphabet)]
	}
	return "RCT-" + string(buf[:]), nil
}

func (r *Recorder) observe(ctx context.Context, start time.Time, req RecordRequest, result *RecordResult, err error) {
	outcome := metrics.OutcomeCommitted
	switch {
	case err != nil:
		switch dErrors.CodeFrom(err) {
		case dErrors.CodeBusy:
			outcome = metrics.OutcomeBusy
		case dErrors.CodePersistence:
			outcome = metrics.OutcomePersistenceError
		default:
			outcome = metrics.OutcomeRejected
		}
	case result.Duplicate:
		outcome = metrics.OutcomeDuplicate
	}
	r.metrics.ObserveRecord(outcome, start)

	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"student_id", req.StudentID,
		"outcome", outcome,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if err != nil {
		r.logger.InfoContext(ctx, "payment record attempt failed", append(attrs, "error", err)...)
		return
	}
	r.logger.InfoContext(ctx, "payment recorded", append(attrs, "payment_id", result.Payment.ID, "duplicate", result.Duplicate)...)
}
