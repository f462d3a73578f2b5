package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dues/internal/ledger/models"
	"dues/pkg/platform/sentinel"
)

// InMemoryStore is the in-process ledger used by unit tests and single-node
// deployments. Payments are held in creation order; reads return copies.
type InMemoryStore struct {
	mu         sync.RWMutex
	payments   []models.Payment
	paymentIdx map[string]int
	students   map[string]models.Student
	sections   map[string]models.Section
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		paymentIdx: make(map[string]int),
		students:   make(map[string]models.Student),
		sections:   make(map[string]models.Section),
	}
}

func (s *InMemoryStore) ListPayments(_ context.Context, filter models.PaymentFilter) ([]models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Payment
	for _, p := range s.payments {
		if filter.Matches(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *InMemoryStore) AppendPayment(_ context.Context, payment models.Payment) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now()
	}
	if payment.ID == "" {
		payment.ID = NewPaymentID(payment.CreatedAt)
	}
	if _, exists := s.paymentIdx[payment.ID]; exists {
		return "", sentinel.ErrConflict
	}

	s.paymentIdx[payment.ID] = len(s.payments)
	s.payments = append(s.payments, payment)
	return payment.ID, nil
}

func (s *InMemoryStore) GetPayment(_ context.Context, id string) (models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.paymentIdx[id]
	if !ok {
		return models.Payment{}, sentinel.ErrNotFound
	}
	return s.payments[idx], nil
}

func (s *InMemoryStore) VoidPayment(_ context.Context, id, voidedBy, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.paymentIdx[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if s.payments[idx].Voided {
		return sentinel.ErrInvalidState
	}
	s.payments[idx].Voided = true
	s.payments[idx].VoidedBy = voidedBy
	s.payments[idx].VoidReason = reason
	s.payments[idx].VoidedAt = &at
	return nil
}

func (s *InMemoryStore) SumNonVoidedPaymentsForStudent(_ context.Context, studentID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := decimal.Zero
	for _, p := range s.payments {
		if p.Voided || p.StudentID != studentID {
			continue
		}
		sum = sum.Add(p.Amount)
	}
	return sum, nil
}

func (s *InMemoryStore) GetStudent(_ context.Context, id string) (models.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	student, ok := s.students[id]
	if !ok {
		return models.Student{}, sentinel.ErrNotFound
	}
	return student, nil
}

func (s *InMemoryStore) ListStudents(_ context.Context, sectionID string) ([]models.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Student
	for _, student := range s.students {
		if sectionID == "" || student.SectionID == sectionID {
			out = append(out, student)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayNumber < out[j].DisplayNumber })
	return out, nil
}

func (s *InMemoryStore) PutStudent(_ context.Context, student models.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if student.CreatedAt.IsZero() {
		student.CreatedAt = time.Now()
	}
	s.students[student.ID] = student
	return nil
}

func (s *InMemoryStore) SetStudentActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	student, ok := s.students[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	student.Active = active
	s.students[id] = student
	return nil
}

func (s *InMemoryStore) SetStudentExpected(_ context.Context, id string, expected decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	student, ok := s.students[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	student.ExpectedAmount = expected
	s.students[id] = student
	return nil
}

func (s *InMemoryStore) CreateSection(_ context.Context, section models.Section) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sections[section.ID]; exists {
		return sentinel.ErrConflict
	}
	if section.CreatedAt.IsZero() {
		section.CreatedAt = time.Now()
	}
	s.sections[section.ID] = section
	return nil
}

func (s *InMemoryStore) GetSection(_ context.Context, id string) (models.Section, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	section, ok := s.sections[id]
	if !ok {
		return models.Section{}, sentinel.ErrNotFound
	}
	return section, nil
}

func (s *InMemoryStore) ListSections(_ context.Context) ([]models.Section, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Section, 0, len(s.sections))
	for _, section := range s.sections {
		out = append(out, section)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
