package validate

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dues/internal/ledger/models"
	"dues/internal/ledger/store"
	"dues/internal/platform/config"
	"dues/pkg/requestcontext"
)

func seedLedger(t *testing.T) *store.InMemoryStore {
	t.Helper()
	s := store.NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateSection(ctx, models.Section{ID: "sec-1", Name: "Red Section"}))
	require.NoError(t, s.PutStudent(ctx, models.Student{
		ID:             "stu-1",
		DisplayNumber:  1,
		FullName:       "Ada Okoro",
		SectionID:      "sec-1",
		Active:         true,
		ExpectedAmount: decimal.NewFromInt(100),
	}))
	require.NoError(t, s.PutStudent(ctx, models.Student{
		ID:             "stu-2",
		DisplayNumber:  2,
		FullName:       "Ben Ade",
		SectionID:      "sec-2",
		Active:         true,
		ExpectedAmount: decimal.NewFromInt(100),
	}))
	require.NoError(t, s.PutStudent(ctx, models.Student{
		ID:             "stu-3",
		DisplayNumber:  3,
		FullName:       "Cara Eze",
		SectionID:      "sec-1",
		Active:         false,
		ExpectedAmount: decimal.NewFromInt(100),
	}))
	return s
}

func admin() requestcontext.Caller {
	return requestcontext.Caller{ID: "admin-1", Role: requestcontext.RoleAdmin}
}

func treasurer(section string) requestcontext.Caller {
	return requestcontext.Caller{ID: "tre-1", Role: requestcontext.RoleTreasurer, Section: section}
}

func TestAmount(t *testing.T) {
	rules := config.DefaultRules()

	tests := []struct {
		name    string
		amount  int64
		valid   bool
		message string
	}{
		{"below minimum", 3, false, "below the minimum"},
		{"not a multiple", 17, false, "not a multiple"},
		{"above maximum", 10005, false, "above the maximum"},
		{"valid amount", 50, true, ""},
		{"exact minimum", 5, true, ""},
		{"exact maximum", 10000, true, ""},
		{"zero", 0, false, "greater than zero"},
		{"negative", -5, false, "greater than zero"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Amount(rules, decimal.NewFromInt(tt.amount))
			assert.Equal(t, tt.valid, result.Valid)
			if tt.message != "" {
				assert.Contains(t, result.Message, tt.message)
			}
		})
	}
}

func TestUniqueReceipt(t *testing.T) {
	ctx := context.Background()
	ledger := seedLedger(t)

	id1, err := ledger.AppendPayment(ctx, models.Payment{
		StudentID:         "stu-1",
		SectionID:         "sec-1",
		Amount:            decimal.NewFromInt(50),
		PaymentDate:       time.Now(),
		PhysicalReceiptNo: "r-100",
		IdempotencyKey:    "key-1",
	})
	require.NoError(t, err)

	t.Run("case-insensitive trimmed match conflicts", func(t *testing.T) {
		result, err := UniqueReceipt(ctx, ledger, "  R-100 ", "")
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Equal(t, id1, result.ConflictID)
		assert.Contains(t, result.Message, id1)
	})

	t.Run("exclude id ignores the payment being revised", func(t *testing.T) {
		result, err := UniqueReceipt(ctx, ledger, "R-100", id1)
		require.NoError(t, err)
		assert.True(t, result.Valid)
	})

	t.Run("fresh receipt passes", func(t *testing.T) {
		result, err := UniqueReceipt(ctx, ledger, "R-200", "")
		require.NoError(t, err)
		assert.True(t, result.Valid)
	})

	t.Run("voided payment frees its receipt number", func(t *testing.T) {
		require.NoError(t, ledger.VoidPayment(ctx, id1, "admin-1", "entry error", time.Now()))
		result, err := UniqueReceipt(ctx, ledger, "R-100", "")
		require.NoError(t, err)
		assert.True(t, result.Valid)
	})

	t.Run("empty receipt invalid", func(t *testing.T) {
		result, err := UniqueReceipt(ctx, ledger, "   ", "")
		require.NoError(t, err)
		assert.False(t, result.Valid)
	})
}

func TestIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	ledger := seedLedger(t)
	now := time.Now()

	id1, err := ledger.AppendPayment(ctx, models.Payment{
		StudentID:         "stu-1",
		SectionID:         "sec-1",
		Amount:            decimal.NewFromInt(50),
		PaymentDate:       now,
		PhysicalReceiptNo: "R-100",
		IdempotencyKey:    "key-1",
	})
	require.NoError(t, err)

	t.Run("empty key invalid", func(t *testing.T) {
		result, err := IdempotencyKey(ctx, ledger, "", 24*time.Hour, now)
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Empty(t, result.ConflictID)
	})

	t.Run("match within window reports existing payment", func(t *testing.T) {
		result, err := IdempotencyKey(ctx, ledger, "key-1", 24*time.Hour, now)
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Equal(t, id1, result.ConflictID)
	})

	t.Run("match outside window is fresh", func(t *testing.T) {
		result, err := IdempotencyKey(ctx, ledger, "key-1", 24*time.Hour, now.Add(25*time.Hour))
		require.NoError(t, err)
		assert.True(t, result.Valid)
	})

	t.Run("fresh key passes", func(t *testing.T) {
		result, err := IdempotencyKey(ctx, ledger, "key-2", 24*time.Hour, now)
		require.NoError(t, err)
		assert.True(t, result.Valid)
	})
}

func TestStudentEligibility(t *testing.T) {
	ctx := context.Background()
	ledger := seedLedger(t)

	_, err := ledger.AppendPayment(ctx, models.Payment{
		StudentID:         "stu-1",
		SectionID:         "sec-1",
		Amount:            decimal.NewFromInt(80),
		PaymentDate:       time.Now(),
		PhysicalReceiptNo: "R-100",
		IdempotencyKey:    "key-1",
	})
	require.NoError(t, err)

	t.Run("over the ceiling rejected", func(t *testing.T) {
		result, err := StudentEligibility(ctx, ledger, "stu-1", decimal.NewFromInt(25), admin())
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Contains(t, result.Message, "expected 100")
		assert.Contains(t, result.Message, "already paid 80")
		assert.Contains(t, result.Message, "would be 105")
	})

	t.Run("exactly the ceiling accepted", func(t *testing.T) {
		result, err := StudentEligibility(ctx, ledger, "stu-1", decimal.NewFromInt(20), admin())
		require.NoError(t, err)
		assert.True(t, result.Valid)
		require.NotNil(t, result.Student)
		assert.Equal(t, "stu-1", result.Student.ID)
		assert.True(t, result.PaidTotal.Equal(decimal.NewFromInt(80)))
	})

	t.Run("unknown student rejected", func(t *testing.T) {
		result, err := StudentEligibility(ctx, ledger, "missing", decimal.NewFromInt(20), admin())
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Contains(t, result.Message, "not found")
	})

	t.Run("inactive student rejected", func(t *testing.T) {
		result, err := StudentEligibility(ctx, ledger, "stu-3", decimal.NewFromInt(20), admin())
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Contains(t, result.Message, "deactivated")
	})

	t.Run("treasurer blocked outside own section", func(t *testing.T) {
		result, err := StudentEligibility(ctx, ledger, "stu-2", decimal.NewFromInt(20), treasurer("sec-1"))
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Contains(t, result.Message, "section")
	})

	t.Run("treasurer allowed in own section", func(t *testing.T) {
		result, err := StudentEligibility(ctx, ledger, "stu-1", decimal.NewFromInt(20), treasurer("sec-1"))
		require.NoError(t, err)
		assert.True(t, result.Valid)
	})

	t.Run("admin unrestricted by section", func(t *testing.T) {
		result, err := StudentEligibility(ctx, ledger, "stu-2", decimal.NewFromInt(20), admin())
		require.NoError(t, err)
		assert.True(t, result.Valid)
	})
}

func TestSameDay(t *testing.T) {
	ctx := context.Background()
	ledger := seedLedger(t)
	jan10 := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	id1, err := ledger.AppendPayment(ctx, models.Payment{
		StudentID:         "stu-1",
		SectionID:         "sec-1",
		Amount:            decimal.NewFromInt(50),
		PaymentDate:       jan10,
		PhysicalReceiptNo: "R-100",
		IdempotencyKey:    "key-1",
	})
	require.NoError(t, err)

	t.Run("same calendar day rejected", func(t *testing.T) {
		result, err := SameDay(ctx, ledger, "stu-1", jan10.Add(13*time.Hour))
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Equal(t, id1, result.ConflictID)
	})

	t.Run("next day accepted", func(t *testing.T) {
		result, err := SameDay(ctx, ledger, "stu-1", jan10.AddDate(0, 0, 1))
		require.NoError(t, err)
		assert.True(t, result.Valid)
	})

	t.Run("voided same-day payment does not block", func(t *testing.T) {
		require.NoError(t, ledger.VoidPayment(ctx, id1, "admin-1", "entry error", time.Now()))
		result, err := SameDay(ctx, ledger, "stu-1", jan10)
		require.NoError(t, err)
		assert.True(t, result.Valid)
	})
}
