// Package auth validates bearer tokens and injects the caller identity that
// gates section-scoped operations. Token issuance lives outside this service;
// we only verify and extract claims.
package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"dues/pkg/requestcontext"
)

// Claims are the token claims this service relies on. Section may be empty
// for admins.
type Claims struct {
	Role    string `json:"role"`
	Section string `json:"section"`
	jwt.RegisteredClaims
}

// Verifier parses and verifies HMAC-signed bearer tokens.
type Verifier struct {
	signingKey []byte
}

func NewVerifier(signingKey string) *Verifier {
	return &Verifier{signingKey: []byte(signingKey)}
}

// Verify parses the token and returns the caller it asserts.
func (v *Verifier) Verify(tokenString string) (requestcontext.Caller, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.signingKey, nil
	})
	if err != nil {
		return requestcontext.Caller{}, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return requestcontext.Caller{}, fmt.Errorf("token invalid")
	}

	role := requestcontext.Role(claims.Role)
	if role != requestcontext.RoleAdmin && role != requestcontext.RoleTreasurer {
		return requestcontext.Caller{}, fmt.Errorf("unknown role %q", claims.Role)
	}
	if claims.Subject == "" {
		return requestcontext.Caller{}, fmt.Errorf("missing subject claim")
	}
	if role == requestcontext.RoleTreasurer && claims.Section == "" {
		return requestcontext.Caller{}, fmt.Errorf("treasurer token missing section claim")
	}

	return requestcontext.Caller{
		ID:      claims.Subject,
		Role:    role,
		Section: claims.Section,
	}, nil
}

func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":%q,"error_description":%q}`, errCode, errDesc))
}

// RequireAuth rejects requests without a valid bearer token and stores the
// caller in the request context for handlers and services.
func RequireAuth(verifier *Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing bearer token")
				return
			}

			caller, err := verifier.Verify(token)
			if err != nil {
				ctx := r.Context()
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			ctx := requestcontext.WithCaller(r.Context(), caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin gates admin-only endpoints. Must run after RequireAuth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := requestcontext.CallerFrom(r.Context())
		if caller.Role != requestcontext.RoleAdmin {
			writeJSONError(w, http.StatusForbidden, "forbidden", "Admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
