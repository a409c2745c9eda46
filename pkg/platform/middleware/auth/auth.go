// Package auth extracts identity proofs from bearer headers. It does not
// verify them: the services that act on a proof resolve it themselves, so a
// proof is checked exactly once per operation.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	dErrors "escrow/pkg/domain-errors"
	"escrow/pkg/platform/httputil"
	request "escrow/pkg/platform/middleware/request"
)

type contextKeyProof struct{}

// ContextKeyProof is exported for tests that bypass the middleware.
var ContextKeyProof = contextKeyProof{}

// GetProof retrieves the bearer proof stored by RequireProof.
func GetProof(ctx context.Context) string {
	proof, ok := ctx.Value(ContextKeyProof).(string)
	if !ok {
		return ""
	}
	return proof
}

// WithProof injects a proof into a context.
func WithProof(ctx context.Context, proof string) context.Context {
	return context.WithValue(ctx, ContextKeyProof, proof)
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	after, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return "", false
	}
	token := strings.TrimSpace(after)
	return token, token != ""
}

// RequireProof rejects requests without a bearer proof.
func RequireProof(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			proof, ok := BearerToken(r)
			if !ok {
				ctx := r.Context()
				logger.WarnContext(ctx, "unauthorized access - missing proof",
					"request_id", request.GetRequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Missing or invalid Authorization header"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithProof(r.Context(), proof)))
		})
	}
}
