// Package fallback keeps the audit trail flowing when the primary sink is
// down. Events that fail to reach the primary are written to a local store
// instead, and a circuit breaker reports when the primary is degraded.
package fallback

import (
	"context"
	"log/slog"

	audit "escrow/pkg/platform/audit"
	"escrow/pkg/platform/circuit"
)

type Store struct {
	primary  audit.Store
	fallback audit.Store
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Store) {
		s.breaker = b
	}
}

func New(primary, fallback audit.Store, opts ...Option) *Store {
	s := &Store{
		primary:  primary,
		fallback: fallback,
		breaker:  circuit.New("audit-primary"),
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append tries the primary first. On failure the event goes to the fallback
// so it is never silently lost; the error is returned only if both fail.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	err := s.primary.Append(ctx, event)
	if err == nil {
		if _, change := s.breaker.RecordSuccess(); change.Closed {
			s.logger.InfoContext(ctx, "audit primary recovered", "breaker", s.breaker.Name())
		}
		return nil
	}

	if _, change := s.breaker.RecordFailure(); change.Opened {
		s.logger.WarnContext(ctx, "audit primary degraded, writing to fallback",
			"breaker", s.breaker.Name(),
			"error", err,
		)
	}
	if fbErr := s.fallback.Append(ctx, event); fbErr != nil {
		s.logger.ErrorContext(ctx, "audit event lost",
			"action", event.Action,
			"event_id", event.ID,
			"primary_error", err,
			"fallback_error", fbErr,
		)
		return fbErr
	}
	return nil
}

// Degraded reports whether the breaker is open.
func (s *Store) Degraded() bool {
	return s.breaker.IsOpen()
}
