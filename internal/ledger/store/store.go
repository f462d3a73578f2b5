// Package store provides the ledger behind a narrow interface so the core
// never assumes row semantics of a particular backend. Uniqueness and sum
// checks are full scans over non-voided rows; at the data volumes of a
// seasonal collection that is fine, and it keeps voided-row exclusion in one
// place.
package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"dues/internal/ledger/models"
)

// Store is the full ledger surface. The payment core consumes a narrower view
// of it (see the service packages); handlers for roster and listing use the
// rest.
type Store interface {
	ListPayments(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, error)
	AppendPayment(ctx context.Context, payment models.Payment) (string, error)
	GetPayment(ctx context.Context, id string) (models.Payment, error)
	VoidPayment(ctx context.Context, id, voidedBy, reason string, at time.Time) error
	SumNonVoidedPaymentsForStudent(ctx context.Context, studentID string) (decimal.Decimal, error)

	GetStudent(ctx context.Context, id string) (models.Student, error)
	ListStudents(ctx context.Context, sectionID string) ([]models.Student, error)
	PutStudent(ctx context.Context, student models.Student) error
	SetStudentActive(ctx context.Context, id string, active bool) error
	SetStudentExpected(ctx context.Context, id string, expected decimal.Decimal) error

	CreateSection(ctx context.Context, section models.Section) error
	GetSection(ctx context.Context, id string) (models.Section, error)
	ListSections(ctx context.Context) ([]models.Section, error)
}

// NewPaymentID builds a monotonic-ish payment identifier: creation-ordered by
// the nanosecond prefix with a random suffix to break ties.
func NewPaymentID(now time.Time) string {
	var suffix [2]byte
	_, _ = rand.Read(suffix[:])
	return fmt.Sprintf("PAY-%d-%s", now.UnixNano(), hex.EncodeToString(suffix[:]))
}
