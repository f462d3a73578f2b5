package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dues/internal/audit"
	"dues/internal/ledger/models"
	"dues/internal/ledger/store"
	"dues/internal/payment/lock"
	"dues/internal/payment/service"
	"dues/internal/platform/config"
	"dues/pkg/requestcontext"
)

func newTestServer(t *testing.T, caller requestcontext.Caller) (*httptest.Server, *store.InMemoryStore) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := store.NewInMemoryStore()
	auditSvc := audit.NewService(audit.NewInMemoryStore(), nil, logger)
	locks := lock.NewKeyedMutex(config.DefaultLockSettings())
	recorder := service.NewRecorder(ledger, locks, config.DefaultRules(), auditSvc, logger, nil)

	ctx := context.Background()
	require.NoError(t, ledger.CreateSection(ctx, models.Section{ID: "sec-1", Name: "Red Section"}))
	require.NoError(t, ledger.PutStudent(ctx, models.Student{
		ID:             "stu-1",
		DisplayNumber:  1,
		FullName:       "Ada Okoro",
		SectionID:      "sec-1",
		Active:         true,
		ExpectedAmount: decimal.NewFromInt(100),
	}))

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(requestcontext.WithCaller(req.Context(), caller)))
		})
	})
	New(recorder, logger).Register(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, ledger
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestRecordPayment(t *testing.T) {
	treasurer := requestcontext.Caller{ID: "tre-1", Role: requestcontext.RoleTreasurer, Section: "sec-1"}
	srv, _ := newTestServer(t, treasurer)

	body := `{"student_id":"stu-1","amount":50,"physical_receipt_no":"R-001","idempotency_key":"key-1","payment_date":"2024-01-10"}`

	resp := postJSON(t, srv.URL+"/payments", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var first recordPaymentResponse
	decodeBody(t, resp, &first)
	assert.False(t, first.Duplicate)
	assert.Equal(t, "tre-1", first.Payment.EnteredBy)
	assert.True(t, first.NewTotal.Equal(decimal.NewFromInt(50)))

	t.Run("replay returns 200 with the original payment", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/payments", body)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var second recordPaymentResponse
		decodeBody(t, resp, &second)
		assert.True(t, second.Duplicate)
		assert.Equal(t, first.Payment.ID, second.Payment.ID)
	})

	t.Run("validation failure surfaces the reason", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/payments",
			`{"student_id":"stu-1","amount":17,"physical_receipt_no":"R-002","payment_date":"2024-01-11"}`)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var body map[string]string
		decodeBody(t, resp, &body)
		assert.Equal(t, "validation_failed", body["error"])
		assert.Contains(t, body["error_description"], "not a multiple")
	})

	t.Run("malformed date", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/payments",
			`{"student_id":"stu-1","amount":50,"physical_receipt_no":"R-003","payment_date":"10/01/2024"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/payments",
			`{"student_id":"stu-1","amount":50,"physical_receipt_no":"R-004","surprise":true}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestVoidPayment(t *testing.T) {
	admin := requestcontext.Caller{ID: "admin-1", Role: requestcontext.RoleAdmin}
	srv, ledger := newTestServer(t, admin)

	id, err := ledger.AppendPayment(context.Background(), models.Payment{
		StudentID:         "stu-1",
		SectionID:         "sec-1",
		Amount:            decimal.NewFromInt(50),
		PaymentDate:       time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		PhysicalReceiptNo: "R-001",
		SystemReceiptNo:   "RCT-AAAAAAAAAA",
		IdempotencyKey:    "key-1",
	})
	require.NoError(t, err)

	t.Run("missing reason", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/payments/"+id+"/void", `{}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("voids and returns the payment", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/payments/"+id+"/void", `{"reason":"entry error"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var payment models.Payment
		decodeBody(t, resp, &payment)
		assert.True(t, payment.Voided)
		assert.Equal(t, "entry error", payment.VoidReason)
	})

	t.Run("second void conflicts", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/payments/"+id+"/void", `{"reason":"again"}`)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("unknown payment", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/payments/missing/void", `{"reason":"x"}`)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestVoidPayment_TreasurerForbidden(t *testing.T) {
	treasurer := requestcontext.Caller{ID: "tre-1", Role: requestcontext.RoleTreasurer, Section: "sec-1"}
	srv, ledger := newTestServer(t, treasurer)

	id, err := ledger.AppendPayment(context.Background(), models.Payment{
		StudentID: "stu-1", SectionID: "sec-1",
		Amount:            decimal.NewFromInt(50),
		PaymentDate:       time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		PhysicalReceiptNo: "R-001", SystemReceiptNo: "RCT-AAAAAAAAAA", IdempotencyKey: "key-1",
	})
	require.NoError(t, err)

	resp := postJSON(t, srv.URL+"/payments/"+id+"/void", `{"reason":"oops"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestListAndReport(t *testing.T) {
	admin := requestcontext.Caller{ID: "admin-1", Role: requestcontext.RoleAdmin}
	srv, ledger := newTestServer(t, admin)

	_, err := ledger.AppendPayment(context.Background(), models.Payment{
		StudentID: "stu-1", SectionID: "sec-1",
		Amount:            decimal.NewFromInt(40),
		PaymentDate:       time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		PhysicalReceiptNo: "R-001", SystemReceiptNo: "RCT-AAAAAAAAAA", IdempotencyKey: "key-1",
	})
	require.NoError(t, err)

	get := func(t *testing.T, path string) *http.Response {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	t.Run("list by student", func(t *testing.T) {
		resp := get(t, "/students/stu-1/payments")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Payments []models.Payment `json:"payments"`
		}
		decodeBody(t, resp, &body)
		assert.Len(t, body.Payments, 1)
	})

	t.Run("list by date filter", func(t *testing.T) {
		resp := get(t, "/payments?date=2024-01-11")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Payments []models.Payment `json:"payments"`
		}
		decodeBody(t, resp, &body)
		assert.Empty(t, body.Payments)
	})

	t.Run("bad date filter", func(t *testing.T) {
		resp := get(t, "/payments?date=January")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("section report", func(t *testing.T) {
		resp := get(t, "/sections/sec-1/report")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var report service.SectionReport
		decodeBody(t, resp, &report)
		assert.True(t, report.Paid.Equal(decimal.NewFromInt(40)))
		assert.True(t, report.Outstanding.Equal(decimal.NewFromInt(60)))
	})

	t.Run("report for unknown section", func(t *testing.T) {
		resp := get(t, "/sections/missing/report")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
