// Package handler exposes the payment operations over HTTP. Handlers stay
// thin: decode, call the recorder, encode. All policy lives in the service
// layer.
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"dues/internal/ledger/models"
	"dues/internal/payment/service"
	dErrors "dues/pkg/domain-errors"
	"dues/pkg/platform/httputil"
)

const dateLayout = "2006-01-02"

type Handler struct {
	recorder *service.Recorder
	logger   *slog.Logger
}

func New(recorder *service.Recorder, logger *slog.Logger) *Handler {
	return &Handler{recorder: recorder, logger: logger}
}

// Register mounts the payment routes. The router is expected to already
// carry the auth middleware.
func (h *Handler) Register(r chi.Router) {
	r.Post("/payments", h.recordPayment)
	r.Get("/payments", h.listPayments)
	r.Get("/payments/{paymentID}", h.getPayment)
	r.Post("/payments/{paymentID}/void", h.voidPayment)
	r.Get("/students/{studentID}/payments", h.listStudentPayments)
	r.Get("/sections/{sectionID}/report", h.sectionReport)
}

type recordPaymentRequest struct {
	StudentID         string          `json:"student_id"`
	Amount            decimal.Decimal `json:"amount"`
	PhysicalReceiptNo string          `json:"physical_receipt_no"`
	IdempotencyKey    string          `json:"idempotency_key,omitempty"`
	PaymentDate       string          `json:"payment_date,omitempty"`
	Notes             string          `json:"notes,omitempty"`
}

type recordPaymentResponse struct {
	Payment       models.Payment  `json:"payment"`
	PreviousTotal decimal.Decimal `json:"previous_total"`
	NewTotal      decimal.Decimal `json:"new_total"`
	Duplicate     bool            `json:"duplicate"`
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[recordPaymentRequest](w, r, h.logger)
	if !ok {
		return
	}

	var paymentDate time.Time
	if req.PaymentDate != "" {
		var err error
		paymentDate, err = time.Parse(dateLayout, req.PaymentDate)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "payment_date must be formatted as YYYY-MM-DD"))
			return
		}
	}

	result, err := h.recorder.Record(r.Context(), service.RecordRequest{
		StudentID:         req.StudentID,
		Amount:            req.Amount,
		PhysicalReceiptNo: req.PhysicalReceiptNo,
		IdempotencyKey:    req.IdempotencyKey,
		PaymentDate:       paymentDate,
		Notes:             req.Notes,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, recordPaymentResponse{
		Payment:       result.Payment,
		PreviousTotal: result.PreviousTotal,
		NewTotal:      result.NewTotal,
		Duplicate:     result.Duplicate,
	})
}

type voidPaymentRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) voidPayment(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[voidPaymentRequest](w, r, h.logger)
	if !ok {
		return
	}
	if req.Reason == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "reason is required"))
		return
	}

	payment, err := h.recorder.Void(r.Context(), chi.URLParam(r, "paymentID"), req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, payment)
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.recorder.GetPayment(r.Context(), chi.URLParam(r, "paymentID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, payment)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.writePayments(w, r, filter)
}

func (h *Handler) listStudentPayments(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	filter.StudentID = chi.URLParam(r, "studentID")
	h.writePayments(w, r, filter)
}

func (h *Handler) writePayments(w http.ResponseWriter, r *http.Request, filter models.PaymentFilter) {
	payments, err := h.recorder.ListPayments(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if payments == nil {
		payments = []models.Payment{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (h *Handler) sectionReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.recorder.Report(r.Context(), chi.URLParam(r, "sectionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func filterFromQuery(r *http.Request) (models.PaymentFilter, error) {
	q := r.URL.Query()
	filter := models.PaymentFilter{
		StudentID:     q.Get("student_id"),
		SectionID:     q.Get("section_id"),
		IncludeVoided: q.Get("include_voided") == "true",
	}
	if raw := q.Get("date"); raw != "" {
		date, err := time.Parse(dateLayout, raw)
		if err != nil {
			return models.PaymentFilter{}, dErrors.New(dErrors.CodeBadRequest, "date must be formatted as YYYY-MM-DD")
		}
		filter.PaymentDate = &date
	}
	return filter, nil
}
