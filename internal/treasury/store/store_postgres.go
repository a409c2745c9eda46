package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"escrow/internal/treasury/models"
	dErrors "escrow/pkg/domain-errors"
	"escrow/pkg/platform/sentinel"
	txcontext "escrow/pkg/platform/tx"
)

// PostgresStore keeps the balances in the single treasury_balances row.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreditFees(ctx context.Context, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return dErrors.New(dErrors.CodeInvariantViolation, "fee credit cannot be negative")
	}
	return s.adjust(ctx, `UPDATE treasury_balances SET collected_fees = collected_fees + $1 WHERE id = 1`, amount)
}

func (s *PostgresStore) CreditClaimable(ctx context.Context, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return dErrors.New(dErrors.CodeInvariantViolation, "pool credit cannot be negative")
	}
	return s.adjust(ctx, `UPDATE treasury_balances SET claimable_pool = claimable_pool + $1 WHERE id = 1`, amount)
}

// DebitClaimable only matches the row when the pool covers amount.
func (s *PostgresStore) DebitClaimable(ctx context.Context, amount decimal.Decimal) error {
	return s.adjust(ctx, `UPDATE treasury_balances SET claimable_pool = claimable_pool - $1 WHERE id = 1 AND claimable_pool >= $1`, amount)
}

func (s *PostgresStore) Balances(ctx context.Context) (models.Balance, error) {
	var fees, pool string
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT collected_fees, claimable_pool FROM treasury_balances WHERE id = 1`).Scan(&fees, &pool)
	if err != nil {
		return models.Balance{}, fmt.Errorf("read treasury balances: %w", err)
	}
	var b models.Balance
	if b.CollectedFees, err = decimal.NewFromString(fees); err != nil {
		return models.Balance{}, fmt.Errorf("parse collected fees: %w", err)
	}
	if b.ClaimablePool, err = decimal.NewFromString(pool); err != nil {
		return models.Balance{}, fmt.Errorf("parse claimable pool: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) adjust(ctx context.Context, query string, amount decimal.Decimal) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, query, amount.String())
	if err != nil {
		return fmt.Errorf("adjust treasury: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("adjust treasury: %w", err)
	}
	if n == 0 {
		return sentinel.ErrInsufficient
	}
	return nil
}
