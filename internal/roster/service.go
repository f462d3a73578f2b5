// Package roster manages sections and their students: provisioning, listing,
// activation toggles, and expected-amount changes. All mutations are
// admin-only and audited; payment math reacts to roster state through the
// shared ledger.
package roster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"dues/internal/audit"
	"dues/internal/ledger/models"
	"dues/internal/payment/lock"
	dErrors "dues/pkg/domain-errors"
	"dues/pkg/platform/sentinel"
	"dues/pkg/requestcontext"
)

// Store is the roster's slice of the ledger.
type Store interface {
	CreateSection(ctx context.Context, section models.Section) error
	GetSection(ctx context.Context, id string) (models.Section, error)
	ListSections(ctx context.Context) ([]models.Section, error)

	GetStudent(ctx context.Context, id string) (models.Student, error)
	ListStudents(ctx context.Context, sectionID string) ([]models.Student, error)
	PutStudent(ctx context.Context, student models.Student) error
	SetStudentActive(ctx context.Context, id string, active bool) error
	SetStudentExpected(ctx context.Context, id string, expected decimal.Decimal) error

	SumNonVoidedPaymentsForStudent(ctx context.Context, studentID string) (decimal.Decimal, error)
}

// NewStudent is one roster line of a section being provisioned.
type NewStudent struct {
	DisplayNumber  int
	FullName       string
	ExpectedAmount decimal.Decimal
}

// CreateSectionRequest provisions a section together with its initial roster.
type CreateSectionRequest struct {
	Name     string
	Students []NewStudent
}

type Service struct {
	store  Store
	locks  lock.Manager
	audit  *audit.Service
	logger *slog.Logger
}

func New(store Store, locks lock.Manager, auditSvc *audit.Service, logger *slog.Logger) *Service {
	return &Service{store: store, locks: locks, audit: auditSvc, logger: logger}
}

// CreateSection provisions a section and its initial students in one call.
// Students are validated up front so a bad roster line does not leave a
// half-provisioned section behind.
func (s *Service) CreateSection(ctx context.Context, req CreateSectionRequest) (*models.Section, []models.Student, error) {
	caller := requestcontext.CallerFrom(ctx)
	if caller.Role != requestcontext.RoleAdmin {
		return nil, nil, dErrors.New(dErrors.CodeForbidden, "only admins may create sections")
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, nil, dErrors.New(dErrors.CodeBadRequest, "section name is required")
	}
	for i, line := range req.Students {
		if err := validateStudentLine(line); err != nil {
			return nil, nil, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("student %d: %s", i+1, dErrors.MessageFrom(err)))
		}
	}

	now := requestcontext.Now(ctx)
	section := models.Section{
		ID:        "SEC-" + uuid.New().String()[:8],
		Name:      strings.TrimSpace(req.Name),
		CreatedAt: now,
	}
	if err := s.store.CreateSection(ctx, section); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, nil, dErrors.New(dErrors.CodeConflict, "section already exists")
		}
		return nil, nil, dErrors.Wrap(dErrors.CodePersistence, "failed to create section, try again", err)
	}
	s.audit.Emit(ctx, audit.Event{
		Action:    audit.ActionSectionCreated,
		ActorID:   caller.ID,
		EntityID:  section.ID,
		RequestID: requestcontext.RequestID(ctx),
		Details:   map[string]any{"name": section.Name, "students": len(req.Students)},
	})

	students := make([]models.Student, 0, len(req.Students))
	for _, line := range req.Students {
		student, err := s.addStudent(ctx, caller, section.ID, line, now)
		if err != nil {
			return nil, nil, err
		}
		students = append(students, *student)
	}
	return &section, students, nil
}

// AddStudent appends one student to an existing section.
func (s *Service) AddStudent(ctx context.Context, sectionID string, line NewStudent) (*models.Student, error) {
	caller := requestcontext.CallerFrom(ctx)
	if caller.Role != requestcontext.RoleAdmin {
		return nil, dErrors.New(dErrors.CodeForbidden, "only admins may add students")
	}
	if err := validateStudentLine(line); err != nil {
		return nil, err
	}
	if _, err := s.store.GetSection(ctx, sectionID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "section not found")
		}
		return nil, dErrors.Wrap(dErrors.CodePersistence, "failed to load section, try again", err)
	}
	return s.addStudent(ctx, caller, sectionID, line, requestcontext.Now(ctx))
}

func (s *Service) addStudent(ctx context.Context, caller requestcontext.Caller, sectionID string, line NewStudent, now time.Time) (*models.Student, error) {
	student := models.Student{
		ID:             "STU-" + uuid.New().String()[:8],
		DisplayNumber:  line.DisplayNumber,
		FullName:       strings.TrimSpace(line.FullName),
		SectionID:      sectionID,
		Active:         true,
		ExpectedAmount: line.ExpectedAmount,
		CreatedAt:      now,
	}
	if err := s.store.PutStudent(ctx, student); err != nil {
		return nil, dErrors.Wrap(dErrors.CodePersistence, "failed to save student, try again", err)
	}
	s.audit.Emit(ctx, audit.Event{
		Action:    audit.ActionStudentCreated,
		ActorID:   caller.ID,
		EntityID:  student.ID,
		RequestID: requestcontext.RequestID(ctx),
		Details: map[string]any{
			"section_id":      sectionID,
			"full_name":       student.FullName,
			"expected_amount": student.ExpectedAmount.String(),
		},
	})
	return &student, nil
}

func validateStudentLine(line NewStudent) error {
	if strings.TrimSpace(line.FullName) == "" {
		return dErrors.New(dErrors.CodeBadRequest, "full name is required")
	}
	if line.DisplayNumber <= 0 {
		return dErrors.New(dErrors.CodeBadRequest, "display number must be positive")
	}
	if !line.ExpectedAmount.IsPositive() {
		return dErrors.New(dErrors.CodeBadRequest, "expected amount must be greater than zero")
	}
	return nil
}

// ListSections returns sections visible to the caller. Treasurers see only
// their own.
func (s *Service) ListSections(ctx context.Context) ([]models.Section, error) {
	caller := requestcontext.CallerFrom(ctx)
	sections, err := s.store.ListSections(ctx)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodePersistence, "failed to list sections, try again", err)
	}
	if caller.Role == requestcontext.RoleAdmin {
		return sections, nil
	}
	visible := sections[:0]
	for _, section := range sections {
		if caller.CanAccessSection(section.ID) {
			visible = append(visible, section)
		}
	}
	return visible, nil
}

// ListStudents returns the roster of one section, subject to caller scope.
func (s *Service) ListStudents(ctx context.Context, sectionID string) ([]models.Student, error) {
	caller := requestcontext.CallerFrom(ctx)
	if !caller.CanAccessSection(sectionID) {
		return nil, dErrors.New(dErrors.CodeForbidden, "section outside the caller's scope")
	}
	if _, err := s.store.GetSection(ctx, sectionID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "section not found")
		}
		return nil, dErrors.Wrap(dErrors.CodePersistence, "failed to load section, try again", err)
	}
	students, err := s.store.ListStudents(ctx, sectionID)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodePersistence, "failed to list students, try again", err)
	}
	return students, nil
}

// GetStudent loads one student, subject to caller scope.
func (s *Service) GetStudent(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.store.GetStudent(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "student not found")
		}
		return nil, dErrors.Wrap(dErrors.CodePersistence, "failed to load student, try again", err)
	}
	if !requestcontext.CallerFrom(ctx).CanAccessSection(student.SectionID) {
		return nil, dErrors.New(dErrors.CodeNotFound, "student not found")
	}
	return &student, nil
}

// SetStudentActive toggles a student's active flag. Deactivated students keep
// their payment history but reject new payments. The per-student lock keeps
// the toggle from racing an in-flight payment commit.
func (s *Service) SetStudentActive(ctx context.Context, studentID string, active bool) (*models.Student, error) {
	caller := requestcontext.CallerFrom(ctx)
	if caller.Role != requestcontext.RoleAdmin {
		return nil, dErrors.New(dErrors.CodeForbidden, "only admins may change student status")
	}

	release, err := s.acquireStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.store.SetStudentActive(ctx, studentID, active); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "student not found")
		}
		return nil, dErrors.Wrap(dErrors.CodePersistence, "failed to update student, try again", err)
	}

	action := audit.ActionStudentDeactivated
	if active {
		action = audit.ActionStudentReactivated
	}
	s.audit.Emit(ctx, audit.Event{
		Action:    action,
		ActorID:   caller.ID,
		EntityID:  studentID,
		RequestID: requestcontext.RequestID(ctx),
	})

	student, err := s.store.GetStudent(ctx, studentID)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodePersistence, "failed to reload student, try again", err)
	}
	return &student, nil
}

// SetExpectedAmount changes a student's dues ceiling. Lowering it below what
// the student has already paid is rejected: it would strand committed
// payments above the ceiling.
func (s *Service) SetExpectedAmount(ctx context.Context, studentID string, expected decimal.Decimal) (*models.Student, error) {
	caller := requestcontext.CallerFrom(ctx)
	if caller.Role != requestcontext.RoleAdmin {
		return nil, dErrors.New(dErrors.CodeForbidden, "only admins may change expected amounts")
	}
	if !expected.IsPositive() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "expected amount must be greater than zero")
	}

	release, err := s.acquireStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	defer release()

	student, err := s.store.GetStudent(ctx, studentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "student not found")
		}
		return nil, dErrors.Wrap(dErrors.CodePersistence, "failed to load student, try again", err)
	}

	paid, err := s.store.SumNonVoidedPaymentsForStudent(ctx, studentID)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodePersistence, "failed to sum payments, try again", err)
	}
	if expected.LessThan(paid) {
		return nil, dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("expected amount %s is below the %s already paid", expected, paid))
	}

	if err := s.store.SetStudentExpected(ctx, studentID, expected); err != nil {
		return nil, dErrors.Wrap(dErrors.CodePersistence, "failed to update student, try again", err)
	}
	s.audit.Emit(ctx, audit.Event{
		Action:    audit.ActionExpectedAmountChanged,
		ActorID:   caller.ID,
		EntityID:  studentID,
		RequestID: requestcontext.RequestID(ctx),
		Details: map[string]any{
			"previous": student.ExpectedAmount.String(),
			"expected": expected.String(),
		},
	})

	student.ExpectedAmount = expected
	return &student, nil
}

func (s *Service) acquireStudent(ctx context.Context, studentID string) (lock.ReleaseFunc, error) {
	release, err := s.locks.Acquire(ctx, lock.StudentKey(studentID))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotAcquired) {
			return nil, dErrors.New(dErrors.CodeBusy, "system busy, try later")
		}
		return nil, dErrors.Wrap(dErrors.CodeInternal, "lock acquisition failed", err)
	}
	return release, nil
}
