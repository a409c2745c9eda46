package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"escrow/internal/identity/metrics"
	"escrow/internal/identity/models"
	id "escrow/pkg/domain"
	dErrors "escrow/pkg/domain-errors"
	"escrow/pkg/platform/audit"
	"escrow/pkg/platform/sentinel"
	"escrow/pkg/requestcontext"
)

type Store interface {
	CreateIfNameAvailable(ctx context.Context, identity *models.Identity) error
	FindByID(ctx context.Context, identityID id.IdentityID) (*models.Identity, error)
	Exists(ctx context.Context, identityID id.IdentityID) (bool, error)
	UpdateIfNameAvailable(ctx context.Context, identity *models.Identity) error
}

type ProofSigner interface {
	Issue(identityID id.IdentityID, displayName string) (string, error)
	Verify(proof string) (id.IdentityID, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service is the identity registry. It owns registration, membership checks
// and proof resolution; the settlement engine depends on Resolve only.
type Service struct {
	store          Store
	proofs         ProofSigner
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(store Store, proofs ProofSigner, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity store is required")
	}
	if proofs == nil {
		return nil, errors.New("proof signer is required")
	}
	s := &Service{store: store, proofs: proofs}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register creates an identity and returns it with a freshly issued proof.
// The proof is only handed out here; callers must keep it.
func (s *Service) Register(ctx context.Context, displayName, avatarRef string) (*models.Identity, string, error) {
	identity, err := models.NewIdentity(id.NewIdentityID(), displayName, avatarRef, requestcontext.Now(ctx))
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, "", dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, "", err
	}

	if err := s.store.CreateIfNameAvailable(ctx, identity); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, "", dErrors.New(dErrors.CodeDuplicateRegistration, "display name is already registered")
		}
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to register identity")
	}

	proof, err := s.proofs.Issue(identity.ID, identity.DisplayName)
	if err != nil {
		return nil, "", err
	}

	s.logAudit(ctx, audit.EventIdentityRegistered, identity.ID)
	if s.metrics != nil {
		s.metrics.IncrementRegistered()
	}
	return identity, proof, nil
}

// IsRegistered is a pure membership lookup.
func (s *Service) IsRegistered(ctx context.Context, identityID id.IdentityID) (bool, error) {
	ok, err := s.store.Exists(ctx, identityID)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check identity")
	}
	return ok, nil
}

// Resolve turns a proof into the identity it was issued to. A valid signature
// for an identity the registry does not know is still unauthorized.
func (s *Service) Resolve(ctx context.Context, proof string) (id.IdentityID, error) {
	if s.metrics != nil {
		defer s.metrics.ObserveResolve(time.Now())
	}
	identityID, err := s.proofs.Verify(proof)
	if err != nil {
		s.resolveFailed()
		return id.IdentityID{}, err
	}
	ok, err := s.IsRegistered(ctx, identityID)
	if err != nil {
		return id.IdentityID{}, err
	}
	if !ok {
		s.resolveFailed()
		return id.IdentityID{}, dErrors.New(dErrors.CodeUnauthorized, "identity is not registered")
	}
	return identityID, nil
}

// Get returns the public profile of an identity.
func (s *Service) Get(ctx context.Context, identityID id.IdentityID) (*models.Identity, error) {
	identity, err := s.store.FindByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "identity not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load identity")
	}
	return identity, nil
}

// UpdateProfile changes the display attributes of the proof holder.
func (s *Service) UpdateProfile(ctx context.Context, proof, displayName, avatarRef string) (*models.Identity, error) {
	identityID, err := s.Resolve(ctx, proof)
	if err != nil {
		return nil, err
	}
	identity, err := s.Get(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if err := identity.ApplyProfile(displayName, avatarRef, requestcontext.Now(ctx)); err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}
	if err := s.store.UpdateIfNameAvailable(ctx, identity); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrAlreadyUsed):
			return nil, dErrors.New(dErrors.CodeDuplicateRegistration, "display name is already registered")
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "identity not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update identity")
	}

	s.logAudit(ctx, audit.EventIdentityUpdated, identity.ID)
	if s.metrics != nil {
		s.metrics.IncrementProfileUpdated()
	}
	return identity, nil
}

func (s *Service) resolveFailed() {
	if s.metrics != nil {
		s.metrics.IncrementResolveFailure()
	}
}

func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, identityID id.IdentityID) {
	requestID := requestcontext.RequestID(ctx)
	if s.logger != nil {
		s.logger.InfoContext(ctx, string(event),
			"identity_id", identityID.String(),
			"request_id", requestID,
			"log_type", "audit",
		)
	}
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, audit.Event{
		IdentityID: identityID,
		Action:     string(event),
		Category:   event.Category(),
		Subject:    identityID.String(),
		RequestID:  requestID,
	}); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event", "event", string(event), "error", err)
	}
}
