// Package requesttime pins one "now" per request so the sale time, delivery
// time and audit timestamps of a purchase agree.
package requesttime

import (
	"net/http"
	"time"

	"escrow/pkg/requestcontext"
)

// Middleware stamps the request context with the current time.
func Middleware(next http.Handler) http.Handler {
	return WithClock(time.Now)(next)
}

// WithClock stamps the request context using now. Tests pass a fixed clock.
func WithClock(now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithTime(r.Context(), now().UTC())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
