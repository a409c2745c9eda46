package store

import (
	"context"
	"time"

	"escrow/internal/collectible/models"
	id "escrow/pkg/domain"
)

// Executor is the validate-then-mutate primitive both stores provide.
type Executor interface {
	Execute(ctx context.Context, itemID id.ItemID, validate func(*models.Item) error, mutate func(*models.Item)) (*models.Item, error)
}

// MarkSold moves an available item to sold. A second call fails with
// CodeAlreadySold; an unknown id returns sentinel.ErrNotFound. Extra checks
// run against the locked item after the status check and abort the sale on
// error.
func MarkSold(ctx context.Context, items Executor, itemID id.ItemID, buyerID id.IdentityID, now time.Time, checks ...func(*models.Item) error) (*models.Item, error) {
	return items.Execute(ctx, itemID,
		func(item *models.Item) error {
			if err := item.CanMarkSold(); err != nil {
				return err
			}
			for _, check := range checks {
				if err := check(item); err != nil {
					return err
				}
			}
			return nil
		},
		func(item *models.Item) { item.ApplySold(buyerID, now) },
	)
}

// TakeForDelivery releases a sold item to its buyer once.
func TakeForDelivery(ctx context.Context, items Executor, itemID id.ItemID, now time.Time) (*models.Item, error) {
	return items.Execute(ctx, itemID,
		func(item *models.Item) error { return item.CanDeliver() },
		func(item *models.Item) { item.ApplyDelivery(now) },
	)
}
