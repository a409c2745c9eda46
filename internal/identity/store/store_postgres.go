package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"escrow/internal/identity/models"
	"escrow/internal/platform/postgres"
	id "escrow/pkg/domain"
	"escrow/pkg/platform/sentinel"
	txcontext "escrow/pkg/platform/tx"
)

const displayNameConstraint = "identities_display_name_key"

// PostgresStore persists identities in PostgreSQL. Display name uniqueness is
// enforced by a unique index on LOWER(display_name).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateIfNameAvailable(ctx context.Context, identity *models.Identity) error {
	query := `
		INSERT INTO identities (id, display_name, avatar_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(identity.ID),
		identity.DisplayName,
		identity.AvatarRef,
		identity.CreatedAt,
		identity.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err, "") {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("create identity: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, identityID id.IdentityID) (*models.Identity, error) {
	query := `
		SELECT id, display_name, avatar_ref, created_at, updated_at
		FROM identities
		WHERE id = $1
	`
	var (
		rawID    uuid.UUID
		identity models.Identity
	)
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(identityID)).Scan(
		&rawID,
		&identity.DisplayName,
		&identity.AvatarRef,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find identity: %w", err)
	}
	identity.ID = id.IdentityID(rawID)
	return &identity, nil
}

func (s *PostgresStore) Exists(ctx context.Context, identityID id.IdentityID) (bool, error) {
	var exists bool
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM identities WHERE id = $1)`, uuid.UUID(identityID),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check identity: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) UpdateIfNameAvailable(ctx context.Context, identity *models.Identity) error {
	query := `
		UPDATE identities
		SET display_name = $2, avatar_ref = $3, updated_at = $4
		WHERE id = $1
	`
	result, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(identity.ID),
		identity.DisplayName,
		identity.AvatarRef,
		identity.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err, displayNameConstraint) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("update identity: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update identity rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
