package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dErrors "dues/pkg/domain-errors"
)

func TestWriteError(t *testing.T) {
	t.Run("internal error omits description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeInternal, "db failed"))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "internal_error" {
			t.Fatalf("expected error code internal_error, got %q", body["error"])
		}
		if _, ok := body["error_description"]; ok {
			t.Fatalf("expected error_description to be omitted for internal errors")
		}
	})

	t.Run("validation error includes description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeValidation, "amount must be a multiple of 5"))

		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "validation_failed" {
			t.Fatalf("expected error code validation_failed, got %q", body["error"])
		}
		if body["error_description"] != "amount must be a multiple of 5" {
			t.Fatalf("expected verbatim validator message, got %q", body["error_description"])
		}
	})

	t.Run("busy maps to 503", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeBusy, "system busy, try later"))

		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
		}
	})
}

func TestDecode(t *testing.T) {
	type payload struct {
		StudentID string `json:"student_id"`
	}

	t.Run("valid body decodes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"student_id":"stu-1"}`))
		w := httptest.NewRecorder()
		got, ok := Decode[payload](w, req, nil)
		if !ok {
			t.Fatalf("expected decode to succeed")
		}
		if got.StudentID != "stu-1" {
			t.Fatalf("expected stu-1, got %q", got.StudentID)
		}
	})

	t.Run("malformed body writes bad_request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
		w := httptest.NewRecorder()
		_, ok := Decode[payload](w, req, nil)
		if ok {
			t.Fatalf("expected decode to fail")
		}
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
	})

	t.Run("unknown fields rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"bogus":1}`))
		w := httptest.NewRecorder()
		_, ok := Decode[payload](w, req, nil)
		if ok {
			t.Fatalf("expected decode to fail on unknown field")
		}
	})
}
