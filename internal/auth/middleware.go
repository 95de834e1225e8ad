package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/duckmesh/duckmesh-source/internal/observability"
)

const (
	ErrorCodeMissingAPIKey = "MISSING_API_KEY"
	ErrorCodeInvalidAPIKey = "INVALID_API_KEY"
)

// Key sources reported in logs. The key itself is never logged.
const (
	keySourceNone   = "none"
	keySourceHeader = "x-api-key"
	keySourceBearer = "bearer"
)

type identityContextKey struct{}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(Identity)
	return identity, ok
}

// Middleware authenticates connector clients by API key and stores the
// resolved identity on the request context for role checks in handlers.
func Middleware(logger *slog.Logger, validator APIKeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, source := extractAPIKey(r)
			if apiKey == "" {
				rejectClient(logger, w, r, ErrorCodeMissingAPIKey, source,
					"send the API key in X-API-Key or as a Bearer token")
				return
			}

			identity, ok := validator.Validate(r.Context(), apiKey)
			if !ok {
				rejectClient(logger, w, r, ErrorCodeInvalidAPIKey, source, "API key is not recognised")
				return
			}

			if logger != nil {
				logger.DebugContext(r.Context(), "connector client authenticated",
					slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
					slog.String("client_id", identity.ClientID),
					slog.String("key_source", source),
					slog.String("route", r.URL.Path),
				)
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// RequireRole checks the identity placed by Middleware. Requests without an
// identity pass through, which is the case when auth is not required.
func RequireRole(r *http.Request, role string) error {
	identity, ok := IdentityFromContext(r.Context())
	if !ok || identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("client %q is missing required role %q", identity.ClientID, role)
}

func extractAPIKey(r *http.Request) (string, string) {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key, keySourceHeader
	}
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	const bearerPrefix = "Bearer "
	if strings.HasPrefix(authorization, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(authorization, bearerPrefix)), keySourceBearer
	}
	return "", keySourceNone
}

// rejectClient answers 401 with the same error envelope the API handlers use.
func rejectClient(logger *slog.Logger, w http.ResponseWriter, r *http.Request, code, source, message string) {
	traceID := observability.TraceIDFromContext(r.Context())
	if logger != nil {
		logger.WarnContext(r.Context(), "connector client rejected",
			slog.String("trace_id", traceID),
			slog.String("error_code", code),
			slog.String("key_source", source),
			slog.String("route", r.URL.Path),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="duckmesh-source"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  false,
		"context": map[string]any{
			"route":      r.URL.Path,
			"key_source": source,
		},
		"trace_id": traceID,
	})
}
