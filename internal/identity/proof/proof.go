// Package proof issues and verifies identity proofs: HS256 JWTs whose subject
// is the identity id. A proof only shows that the registry issued it; callers
// still check that the identity is registered.
package proof

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "escrow/pkg/domain"
	dErrors "escrow/pkg/domain-errors"
)

// Claims are the JWT claims carried by an identity proof.
type Claims struct {
	DisplayName string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Signer issues and validates identity proofs.
type Signer struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	now        func() time.Time
}

type Option func(*Signer)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		s.now = now
	}
}

func NewSigner(signingKey, issuer string, ttl time.Duration, opts ...Option) *Signer {
	s := &Signer{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		ttl:        ttl,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue signs a proof for the identity.
func (s *Signer) Issue(identityID id.IdentityID, displayName string) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign identity proof")
	}
	return signed, nil
}

// Verify validates the signature, issuer and expiry and returns the identity
// the proof was issued to. All failures are CodeUnauthorized.
func (s *Signer) Verify(proof string) (id.IdentityID, error) {
	if proof == "" {
		return id.IdentityID{}, dErrors.New(dErrors.CodeUnauthorized, "identity proof is required")
	}
	parsed, err := jwt.ParseWithClaims(proof, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return id.IdentityID{}, dErrors.New(dErrors.CodeUnauthorized, "identity proof has expired")
		}
		return id.IdentityID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid identity proof")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return id.IdentityID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid identity proof claims")
	}
	identityID, err := id.ParseIdentityID(claims.Subject)
	if err != nil {
		return id.IdentityID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid identity proof subject")
	}
	return identityID, nil
}
