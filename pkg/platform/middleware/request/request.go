// Package request attaches a correlation ID to every incoming request so logs
// and audit entries can be tied back to one call.
package request

import (
	"net/http"

	"github.com/google/uuid"

	"dues/pkg/requestcontext"
)

// HeaderRequestID is echoed back so callers can correlate retries.
const HeaderRequestID = "X-Request-Id"

// ID middleware reuses the caller-supplied request ID or generates one.
func ID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(HeaderRequestID, requestID)
		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
