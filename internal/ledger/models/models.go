// Package models holds the ledger data model. Payments are append-only: once
// written the only mutation is the voided flag, set by the void operation.
package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Section is an organizational unit students belong to and treasurers are
// scoped to.
type Section struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Student is a roster entry. Students are never physically deleted; they are
// soft-deactivated so historical payments keep their foreign key.
type Student struct {
	ID             string          `json:"id"`
	DisplayNumber  int             `json:"display_number"`
	FullName       string          `json:"full_name"`
	SectionID      string          `json:"section_id"`
	Active         bool            `json:"active"`
	ExpectedAmount decimal.Decimal `json:"expected_amount"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Payment is one recorded cash collection. SectionID is denormalized from the
// student at write time so section reports survive roster moves.
type Payment struct {
	ID                string          `json:"id"`
	StudentID         string          `json:"student_id"`
	SectionID         string          `json:"section_id"`
	Amount            decimal.Decimal `json:"amount"`
	PaymentDate       time.Time       `json:"payment_date"`
	EnteredBy         string          `json:"entered_by"`
	CreatedAt         time.Time       `json:"created_at"`
	PhysicalReceiptNo string          `json:"physical_receipt_no"`
	SystemReceiptNo   string          `json:"system_receipt_no"`
	IdempotencyKey    string          `json:"idempotency_key"`
	Voided            bool            `json:"voided"`
	VoidedBy          string          `json:"voided_by,omitempty"`
	VoidedAt          *time.Time      `json:"voided_at,omitempty"`
	VoidReason        string          `json:"void_reason,omitempty"`
	Notes             string          `json:"notes,omitempty"`
}

// PaymentFilter narrows ListPayments. Zero values mean "no constraint";
// voided rows are excluded unless IncludeVoided is set.
type PaymentFilter struct {
	StudentID     string
	SectionID     string
	IncludeVoided bool
	CreatedSince  time.Time
	// PaymentDate matches by calendar day (UTC) when non-nil.
	PaymentDate *time.Time
}

// Matches reports whether a payment passes the filter. Shared by store
// implementations so scan semantics cannot drift between them.
func (f PaymentFilter) Matches(p Payment) bool {
	if !f.IncludeVoided && p.Voided {
		return false
	}
	if f.StudentID != "" && p.StudentID != f.StudentID {
		return false
	}
	if f.SectionID != "" && p.SectionID != f.SectionID {
		return false
	}
	if !f.CreatedSince.IsZero() && p.CreatedAt.Before(f.CreatedSince) {
		return false
	}
	if f.PaymentDate != nil && !SameCalendarDay(p.PaymentDate, *f.PaymentDate) {
		return false
	}
	return true
}

// NormalizeReceiptNo trims and uppercases a physical receipt number so
// uniqueness is case-insensitive.
func NormalizeReceiptNo(receiptNo string) string {
	return strings.ToUpper(strings.TrimSpace(receiptNo))
}

// SameCalendarDay compares two business dates by their UTC calendar day.
func SameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
