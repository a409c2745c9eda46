package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"escrow/internal/claims/models"
	"escrow/internal/platform/postgres"
	id "escrow/pkg/domain"
	"escrow/pkg/platform/sentinel"
	txcontext "escrow/pkg/platform/tx"
)

// PostgresStore keeps the claim ledger in claim_certificates. item_id is
// UNIQUE, so the 1:1 item mapping holds at the schema level too.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, cert *models.Certificate) error {
	query := `
		INSERT INTO claim_certificates (id, item_id, claimable_amount, issued_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(cert.ID),
		uuid.UUID(cert.ItemID),
		cert.ClaimableAmount.String(),
		cert.IssuedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err, "") {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("record certificate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, certID id.CertificateID) (*models.Certificate, error) {
	query := `SELECT id, item_id, claimable_amount, issued_at FROM claim_certificates WHERE id = $1`
	return scanCertificate(txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(certID)))
}

func (s *PostgresStore) LookupItem(ctx context.Context, certID id.CertificateID) (id.ItemID, error) {
	var itemID uuid.UUID
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT item_id FROM claim_certificates WHERE id = $1`, uuid.UUID(certID)).Scan(&itemID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return id.ItemID{}, sentinel.ErrNotFound
		}
		return id.ItemID{}, fmt.Errorf("lookup certificate item: %w", err)
	}
	return id.ItemID(itemID), nil
}

func (s *PostgresStore) FindByItem(ctx context.Context, itemID id.ItemID) (*models.Certificate, error) {
	query := `SELECT id, item_id, claimable_amount, issued_at FROM claim_certificates WHERE item_id = $1`
	return scanCertificate(txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(itemID)))
}

func (s *PostgresStore) FindByItems(ctx context.Context, itemIDs []id.ItemID) (map[id.ItemID]*models.Certificate, error) {
	out := make(map[id.ItemID]*models.Certificate, len(itemIDs))
	if len(itemIDs) == 0 {
		return out, nil
	}
	raw := make([]string, len(itemIDs))
	for i, itemID := range itemIDs {
		raw[i] = itemID.String()
	}
	query := `
		SELECT id, item_id, claimable_amount, issued_at
		FROM claim_certificates
		WHERE item_id = ANY($1::uuid[])
	`
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, query, pq.Array(raw))
	if err != nil {
		return nil, fmt.Errorf("find certificates by items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		cert, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		out[cert.ItemID] = cert
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate certificates: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SetClaimable(ctx context.Context, certID id.CertificateID, amount decimal.Decimal) (decimal.Decimal, error) {
	query := `
		UPDATE claim_certificates AS c
		SET claimable_amount = $2
		FROM (SELECT id, claimable_amount FROM claim_certificates WHERE id = $1 FOR UPDATE) AS prev
		WHERE c.id = prev.id
		RETURNING prev.claimable_amount
	`
	var previous string
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(certID), amount.String()).Scan(&previous)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, sentinel.ErrNotFound
		}
		return decimal.Zero, fmt.Errorf("set claimable amount: %w", err)
	}
	return decimal.NewFromString(previous)
}

// Remove deletes and returns the certificate in one statement, so two
// concurrent redemptions cannot both see it.
func (s *PostgresStore) Remove(ctx context.Context, certID id.CertificateID) (*models.Certificate, error) {
	query := `
		DELETE FROM claim_certificates
		WHERE id = $1
		RETURNING id, item_id, claimable_amount, issued_at
	`
	return scanCertificate(txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(certID)))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCertificate(row rowScanner) (*models.Certificate, error) {
	var (
		rawID, itemID uuid.UUID
		amount        string
		cert          models.Certificate
	)
	if err := row.Scan(&rawID, &itemID, &amount, &cert.IssuedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan certificate: %w", err)
	}
	claimable, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse claimable amount: %w", err)
	}
	cert.ID = id.CertificateID(rawID)
	cert.ItemID = id.ItemID(itemID)
	cert.ClaimableAmount = claimable
	return &cert, nil
}
