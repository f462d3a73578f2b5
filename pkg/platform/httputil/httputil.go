// Package httputil keeps JSON encoding/decoding and error mapping out of the
// handlers so transport concerns stay in one place.
package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"

	dErrors "dues/pkg/domain-errors"
)

// maxBodyBytes caps request bodies; payment payloads are small.
const maxBodyBytes = 1 << 20

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError maps a coded error onto an HTTP response. Internal and
// persistence causes are redacted; validation messages pass through verbatim
// so callers see the specific reason.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeFrom(err)
	status := dErrors.ToHTTPStatus(err)

	body := map[string]string{"error": string(code)}
	if code != dErrors.CodeInternal {
		if msg := dErrors.MessageFrom(err); msg != "" {
			body["error_description"] = msg
		}
	}
	WriteJSON(w, status, body)
}

// Decode parses a JSON request body into T, writing a bad_request response
// and returning ok=false on failure.
func Decode[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (T, bool) {
	var payload T
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		if logger != nil {
			logger.DebugContext(r.Context(), "request decode failed", "error", err)
		}
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON request body"))
		return payload, false
	}
	return payload, true
}
