package testutil

import (
	"net/http"
	"time"

	authmw "escrow/pkg/platform/middleware/auth"
	"escrow/pkg/requestcontext"
)

// WithProof adds an identity proof to the request context, as RequireProof
// does for a request carrying a bearer header.
func WithProof(req *http.Request, proof string) *http.Request {
	return req.WithContext(authmw.WithProof(req.Context(), proof))
}

// WithBearer sets the Authorization header for a proof.
func WithBearer(req *http.Request, proof string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+proof)
	return req
}

// WithRequestTime pins the request clock.
func WithRequestTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}
