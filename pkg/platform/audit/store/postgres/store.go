package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	id "escrow/pkg/domain"
	audit "escrow/pkg/platform/audit"
	txcontext "escrow/pkg/platform/tx"
)

// Store implements audit.Store on the audit_events table. Appends made with a
// transaction in the context join that transaction.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append inserts the event. Replays of the same event id are ignored.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID, err := uuid.Parse(event.ID)
	if err != nil {
		eventID = uuid.New()
	}
	category := event.Category
	if category == "" {
		category = audit.AuditEvent(event.Action).Category()
	}

	var identityID *uuid.UUID
	if !event.IdentityID.IsNil() {
		u := uuid.UUID(event.IdentityID)
		identityID = &u
	}

	_, err = txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO audit_events (id, category, timestamp, identity_id, action, subject, amount, fee, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		eventID,
		string(category),
		event.Timestamp,
		identityID,
		event.Action,
		event.Subject,
		event.Amount,
		event.Fee,
		event.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByIdentity returns events for one identity, newest first.
func (s *Store) ListByIdentity(ctx context.Context, identityID id.IdentityID) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, timestamp, identity_id, action, subject, amount, fee, request_id
		FROM audit_events
		WHERE identity_id = $1
		ORDER BY timestamp DESC`, uuid.UUID(identityID))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListRecent returns the most recent events, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, timestamp, identity_id, action, subject, amount, fee, request_id
		FROM audit_events
		ORDER BY timestamp DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		var (
			e          audit.Event
			eventID    uuid.UUID
			category   string
			identityID uuid.NullUUID
		)
		if err := rows.Scan(&eventID, &category, &e.Timestamp, &identityID,
			&e.Action, &e.Subject, &e.Amount, &e.Fee, &e.RequestID); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.ID = eventID.String()
		e.Category = audit.EventCategory(category)
		if identityID.Valid {
			e.IdentityID = id.IdentityID(identityID.UUID)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
