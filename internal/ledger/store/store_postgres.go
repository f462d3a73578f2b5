package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// Registers the "pgx" database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"dues/internal/ledger/models"
	"dues/pkg/platform/sentinel"
)

// PostgresStore persists the ledger in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres opens a pgx-backed connection pool and verifies connectivity.
func NewPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresFromDB wraps an existing pool; integration tests use this.
func NewPostgresFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

// DB exposes the underlying pool so other stores can share the connection.
func (s *PostgresStore) DB() *sql.DB { return s.db }

// Health verifies the database connection.
func (s *PostgresStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureSchema creates the ledger tables when they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS sections (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS students (
	id              TEXT PRIMARY KEY,
	display_number  INT NOT NULL,
	full_name       TEXT NOT NULL,
	section_id      TEXT NOT NULL REFERENCES sections(id),
	active          BOOLEAN NOT NULL DEFAULT true,
	expected_amount NUMERIC(12,2) NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS payments (
	id                  TEXT PRIMARY KEY,
	student_id          TEXT NOT NULL REFERENCES students(id),
	section_id          TEXT NOT NULL,
	amount              NUMERIC(12,2) NOT NULL,
	payment_date        DATE NOT NULL,
	entered_by          TEXT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL,
	physical_receipt_no TEXT NOT NULL,
	system_receipt_no   TEXT NOT NULL,
	idempotency_key     TEXT NOT NULL,
	voided              BOOLEAN NOT NULL DEFAULT false,
	voided_by           TEXT,
	voided_at           TIMESTAMPTZ,
	void_reason         TEXT,
	notes               TEXT NOT NULL DEFAULT ''
);
`

const paymentColumns = `id, student_id, section_id, amount, payment_date, entered_by, created_at,
	physical_receipt_no, system_receipt_no, idempotency_key, voided,
	COALESCE(voided_by, ''), voided_at, COALESCE(void_reason, ''), notes`

func scanPayment(row interface{ Scan(...any) error }) (models.Payment, error) {
	var p models.Payment
	err := row.Scan(
		&p.ID, &p.StudentID, &p.SectionID, &p.Amount, &p.PaymentDate, &p.EnteredBy, &p.CreatedAt,
		&p.PhysicalReceiptNo, &p.SystemReceiptNo, &p.IdempotencyKey, &p.Voided,
		&p.VoidedBy, &p.VoidedAt, &p.VoidReason, &p.Notes,
	)
	return p, err
}

func (s *PostgresStore) ListPayments(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE 1=1`
	var args []any
	if !filter.IncludeVoided {
		query += ` AND voided = false`
	}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		query += fmt.Sprintf(" AND student_id = $%d", len(args))
	}
	if filter.SectionID != "" {
		args = append(args, filter.SectionID)
		query += fmt.Sprintf(" AND section_id = $%d", len(args))
	}
	if !filter.CreatedSince.IsZero() {
		args = append(args, filter.CreatedSince)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if filter.PaymentDate != nil {
		args = append(args, filter.PaymentDate.UTC().Format("2006-01-02"))
		query += fmt.Sprintf(" AND payment_date = $%d", len(args))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var out []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendPayment(ctx context.Context, payment models.Payment) (string, error) {
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now()
	}
	if payment.ID == "" {
		payment.ID = NewPaymentID(payment.CreatedAt)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (id, student_id, section_id, amount, payment_date, entered_by, created_at,
			physical_receipt_no, system_receipt_no, idempotency_key, voided, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false, $11)`,
		payment.ID, payment.StudentID, payment.SectionID, payment.Amount,
		payment.PaymentDate.UTC().Format("2006-01-02"), payment.EnteredBy, payment.CreatedAt,
		payment.PhysicalReceiptNo, payment.SystemReceiptNo, payment.IdempotencyKey, payment.Notes,
	)
	if err != nil {
		return "", fmt.Errorf("append payment: %w", err)
	}
	return payment.ID, nil
}

func (s *PostgresStore) GetPayment(ctx context.Context, id string) (models.Payment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Payment{}, sentinel.ErrNotFound
		}
		return models.Payment{}, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) VoidPayment(ctx context.Context, id, voidedBy, reason string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payments SET voided = true, voided_by = $2, void_reason = $3, voided_at = $4
		WHERE id = $1 AND voided = false`,
		id, voidedBy, reason, at,
	)
	if err != nil {
		return fmt.Errorf("void payment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("void payment rows affected: %w", err)
	}
	if affected == 0 {
		// Distinguish missing from already voided.
		if _, getErr := s.GetPayment(ctx, id); getErr != nil {
			return getErr
		}
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *PostgresStore) SumNonVoidedPaymentsForStudent(ctx context.Context, studentID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM payments WHERE student_id = $1 AND voided = false`,
		studentID,
	).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum payments: %w", err)
	}
	return sum, nil
}

func (s *PostgresStore) GetStudent(ctx context.Context, id string) (models.Student, error) {
	var student models.Student
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_number, full_name, section_id, active, expected_amount, created_at
		FROM students WHERE id = $1`, id,
	).Scan(&student.ID, &student.DisplayNumber, &student.FullName, &student.SectionID,
		&student.Active, &student.ExpectedAmount, &student.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Student{}, sentinel.ErrNotFound
		}
		return models.Student{}, fmt.Errorf("get student: %w", err)
	}
	return student, nil
}

func (s *PostgresStore) ListStudents(ctx context.Context, sectionID string) ([]models.Student, error) {
	query := `SELECT id, display_number, full_name, section_id, active, expected_amount, created_at FROM students`
	var args []any
	if sectionID != "" {
		query += ` WHERE section_id = $1`
		args = append(args, sectionID)
	}
	query += ` ORDER BY display_number`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	var out []models.Student
	for rows.Next() {
		var student models.Student
		if err := rows.Scan(&student.ID, &student.DisplayNumber, &student.FullName, &student.SectionID,
			&student.Active, &student.ExpectedAmount, &student.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		out = append(out, student)
	}
	return out, rows.Err()
}

func (s *PostgresStore) PutStudent(ctx context.Context, student models.Student) error {
	if student.CreatedAt.IsZero() {
		student.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO students (id, display_number, full_name, section_id, active, expected_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			display_number = EXCLUDED.display_number,
			full_name = EXCLUDED.full_name,
			section_id = EXCLUDED.section_id,
			active = EXCLUDED.active,
			expected_amount = EXCLUDED.expected_amount`,
		student.ID, student.DisplayNumber, student.FullName, student.SectionID,
		student.Active, student.ExpectedAmount, student.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("put student: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetStudentActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE students SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set student active: %w", err)
	}
	return requireOneRow(res)
}

func (s *PostgresStore) SetStudentExpected(ctx context.Context, id string, expected decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, `UPDATE students SET expected_amount = $2 WHERE id = $1`, id, expected)
	if err != nil {
		return fmt.Errorf("set student expected: %w", err)
	}
	return requireOneRow(res)
}

func (s *PostgresStore) CreateSection(ctx context.Context, section models.Section) error {
	if section.CreatedAt.IsZero() {
		section.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sections (id, name, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`,
		section.ID, section.Name, section.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create section: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create section rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) GetSection(ctx context.Context, id string) (models.Section, error) {
	var section models.Section
	err := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM sections WHERE id = $1`, id).
		Scan(&section.ID, &section.Name, &section.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Section{}, sentinel.ErrNotFound
		}
		return models.Section{}, fmt.Errorf("get section: %w", err)
	}
	return section, nil
}

func (s *PostgresStore) ListSections(ctx context.Context) ([]models.Section, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM sections ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	defer rows.Close()

	var out []models.Section
	for rows.Next() {
		var section models.Section
		if err := rows.Scan(&section.ID, &section.Name, &section.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		out = append(out, section)
	}
	return out, rows.Err()
}

func requireOneRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
