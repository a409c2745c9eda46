package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"escrow/internal/collectible/models"
	"escrow/internal/platform/postgres"
	id "escrow/pkg/domain"
	"escrow/pkg/platform/sentinel"
	txcontext "escrow/pkg/platform/tx"
)

const itemColumns = `id, creator_id, name, description, image_ref, price, status, buyer_id, sold_at, delivered_at, created_at`

// PostgresStore persists items in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, item *models.Item) error {
	query := `
		INSERT INTO items (id, creator_id, name, description, image_ref, price, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(item.ID),
		uuid.UUID(item.CreatorID),
		item.Name,
		item.Description,
		item.ImageRef,
		item.Price.String(),
		string(item.Status),
		item.CreatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err, "items_pkey") {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("create item: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, itemID id.ItemID) (*models.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1`
	return s.scanOne(txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(itemID)))
}

func (s *PostgresStore) GetStatus(ctx context.Context, itemID id.ItemID) (models.Status, error) {
	var status string
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT status FROM items WHERE id = $1`, uuid.UUID(itemID)).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", sentinel.ErrNotFound
		}
		return "", fmt.Errorf("get item status: %w", err)
	}
	return models.Status(status), nil
}

// Execute locks the row with FOR UPDATE for the validate/mutate cycle. It
// joins the transaction in ctx, or opens its own when there is none.
func (s *PostgresStore) Execute(ctx context.Context, itemID id.ItemID, validate func(*models.Item) error, mutate func(*models.Item)) (*models.Item, error) {
	if tx, ok := txcontext.From(ctx); ok {
		return s.execute(ctx, tx, itemID, validate, mutate)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin item tx: %w", err)
	}
	item, err := s.execute(ctx, tx, itemID, validate, mutate)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit item tx: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) execute(ctx context.Context, tx *sql.Tx, itemID id.ItemID, validate func(*models.Item) error, mutate func(*models.Item)) (*models.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1 FOR UPDATE`
	item, err := s.scanOne(tx.QueryRowContext(ctx, query, uuid.UUID(itemID)))
	if err != nil {
		return nil, err
	}
	if err := validate(item); err != nil {
		return nil, err
	}
	mutate(item)

	update := `
		UPDATE items
		SET status = $2, buyer_id = $3, sold_at = $4, delivered_at = $5
		WHERE id = $1
	`
	var buyer any
	if item.BuyerID != nil {
		buyer = uuid.UUID(*item.BuyerID)
	}
	if _, err := tx.ExecContext(ctx, update,
		uuid.UUID(item.ID),
		string(item.Status),
		buyer,
		item.SoldAt,
		item.DeliveredAt,
	); err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}
	return item, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanOne(row rowScanner) (*models.Item, error) {
	var (
		rawID, creatorID uuid.UUID
		buyerID          uuid.NullUUID
		price, status    string
		soldAt           sql.NullTime
		deliveredAt      sql.NullTime
		item             models.Item
	)
	err := row.Scan(
		&rawID,
		&creatorID,
		&item.Name,
		&item.Description,
		&item.ImageRef,
		&price,
		&status,
		&buyerID,
		&soldAt,
		&deliveredAt,
		&item.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan item: %w", err)
	}
	item.ID = id.ItemID(rawID)
	item.CreatorID = id.IdentityID(creatorID)
	item.Status = models.Status(status)
	item.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse item price: %w", err)
	}
	if buyerID.Valid {
		buyer := id.IdentityID(buyerID.UUID)
		item.BuyerID = &buyer
	}
	if soldAt.Valid {
		t := soldAt.Time
		item.SoldAt = &t
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		item.DeliveredAt = &t
	}
	return &item, nil
}
