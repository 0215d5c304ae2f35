package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"reqguard/internal/governor"
	"reqguard/internal/models"
)

type contextKey string

// userContextKey carries the authenticated user's identity, set by the
// host's own auth layer before the governance middleware runs.
const userContextKey contextKey = "reqguard_user"

// User describes the authenticated caller for admission purposes.
type User struct {
	ID      string
	Premium bool
}

// ContextWithUser attaches the authenticated user to the request context
// so the governance middleware keys and classifies by user rather than
// origin.
func ContextWithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// userFromContext returns the authenticated user, if any.
func userFromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(userContextKey).(User)
	return user, ok
}

// Middleware returns HTTP middleware that submits every request to the
// governance engine before the wrapped handler runs. Rate limit headers
// are set on every governed response; refusals get a 429 with a
// Retry-After header and a JSON body.
func Middleware(engine *governor.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			meta := metaFromRequest(r)
			decision := engine.Evaluate(r.Context(), meta)

			if decision.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", decision.Limit))
				w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining))
				w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", decision.WindowResetAt.Unix()))
			}

			if !decision.Allowed {
				retryAfterSecs := decision.RetryAfterSeconds()
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)

				errorResp := models.NewErrorResponse("Rate limit exceeded", models.ErrorCodeRateLimitExceeded)
				errorResp.Details = map[string]string{"reason": decision.Reason}
				json.NewEncoder(w).Encode(errorResp)

				slog.Warn("Request refused",
					"source", meta.ClientIdentity,
					"path", meta.Path,
					"reason", decision.Reason,
					"rule_id", decision.RuleID,
					"retry_after", retryAfterSecs,
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// metaFromRequest builds the transport-neutral request description the
// engine evaluates.
func metaFromRequest(r *http.Request) models.RequestMeta {
	meta := models.RequestMeta{
		Path:                r.URL.Path,
		Method:              r.Method,
		ClientIdentity:      getClientIP(r),
		DeclaredClientAgent: r.Header.Get("User-Agent"),
		PresentHeaders:      make(map[string]bool, len(r.Header)),
	}
	for name := range r.Header {
		meta.PresentHeaders[name] = true
	}
	if user, ok := userFromContext(r.Context()); ok {
		meta.IsAuthenticated = true
		meta.UserID = user.ID
		meta.Premium = user.Premium
	}
	return meta
}

// getClientIP extracts the client IP from the request, checking proxy headers.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	return r.RemoteAddr
}
