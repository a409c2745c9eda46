package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	claims "escrow/internal/claims/models"
	claimstore "escrow/internal/claims/store"
	collectible "escrow/internal/collectible/models"
	itemstore "escrow/internal/collectible/store"
	treasury "escrow/internal/treasury/models"
	treasurystore "escrow/internal/treasury/store"
	id "escrow/pkg/domain"
	dErrors "escrow/pkg/domain-errors"
)

type ItemStore interface {
	Create(ctx context.Context, item *collectible.Item) error
	FindByID(ctx context.Context, itemID id.ItemID) (*collectible.Item, error)
	GetStatus(ctx context.Context, itemID id.ItemID) (collectible.Status, error)
	Execute(ctx context.Context, itemID id.ItemID, validate func(*collectible.Item) error, mutate func(*collectible.Item)) (*collectible.Item, error)
}

type ClaimLedger interface {
	Record(ctx context.Context, cert *claims.Certificate) error
	LookupItem(ctx context.Context, certID id.CertificateID) (id.ItemID, error)
	FindByItem(ctx context.Context, itemID id.ItemID) (*claims.Certificate, error)
	FindByItems(ctx context.Context, itemIDs []id.ItemID) (map[id.ItemID]*claims.Certificate, error)
	SetClaimable(ctx context.Context, certID id.CertificateID, amount decimal.Decimal) (decimal.Decimal, error)
	Remove(ctx context.Context, certID id.CertificateID) (*claims.Certificate, error)
}

type Treasury interface {
	CreditFees(ctx context.Context, amount decimal.Decimal) error
	CreditClaimable(ctx context.Context, amount decimal.Decimal) error
	DebitClaimable(ctx context.Context, amount decimal.Decimal) error
	Balances(ctx context.Context) (treasury.Balance, error)
}

// Stores is the set of stores a transaction function works against.
type Stores struct {
	Items    ItemStore
	Claims   ClaimLedger
	Treasury Treasury
}

// StoreTx provides the transactional boundary for settlement. Every store
// mutation made through the Stores passed to fn commits together or not at
// all. Implementations wrap a database transaction or, in memory, a sharded
// lock with an undo journal.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, stores Stores) error) error
}

// numItemShards spreads items across locks so unrelated purchases do not
// contend. Operations on one item always map to the same shard.
const numItemShards = 128

// DefaultTxTimeout bounds a transaction whose context has no deadline.
const DefaultTxTimeout = 5 * time.Second

type txItemKey struct{}

var txItemKeyCtx = txItemKey{}

// WithTxItem names the item a transaction serializes on.
func WithTxItem(ctx context.Context, itemID id.ItemID) context.Context {
	return context.WithValue(ctx, txItemKeyCtx, itemID)
}

// ShardedTx is the in-memory StoreTx. Mutations apply to the memory stores
// immediately and register a compensation; if fn fails the compensations run
// in reverse. Treasury compensations are inverse deltas, so a rollback on one
// shard never erases a concurrent credit on another.
type ShardedTx struct {
	shards   [numItemShards]sync.Mutex
	items    *itemstore.InMemory
	claims   *claimstore.InMemory
	treasury *treasurystore.InMemory
	timeout  time.Duration
	logger   *slog.Logger
}

type ShardedTxOption func(*ShardedTx)

func WithTxTimeout(d time.Duration) ShardedTxOption {
	return func(t *ShardedTx) {
		t.timeout = d
	}
}

func WithTxLogger(logger *slog.Logger) ShardedTxOption {
	return func(t *ShardedTx) {
		t.logger = logger
	}
}

func NewShardedTx(items *itemstore.InMemory, claims *claimstore.InMemory, treasury *treasurystore.InMemory, opts ...ShardedTxOption) *ShardedTx {
	t := &ShardedTx{items: items, claims: claims, treasury: treasury}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Stores returns the non-transactional view used for reads.
func (t *ShardedTx) Stores() Stores {
	return Stores{Items: t.items, Claims: t.claims, Treasury: t.treasury}
}

func (t *ShardedTx) RunInTx(ctx context.Context, fn func(ctx context.Context, stores Stores) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = DefaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shard := t.selectShard(ctx)
	t.shards[shard].Lock()
	defer t.shards[shard].Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	j := &journal{}
	stores := Stores{
		Items:    &journaledItems{InMemory: t.items, j: j},
		Claims:   &journaledClaims{InMemory: t.claims, j: j},
		Treasury: &journaledTreasury{InMemory: t.treasury, j: j},
	}
	if err := fn(ctx, stores); err != nil {
		if rbErr := j.rollback(context.WithoutCancel(ctx)); rbErr != nil && t.logger != nil {
			t.logger.ErrorContext(ctx, "in-memory rollback incomplete", "error", rbErr, "cause", err)
		}
		return err
	}
	return nil
}

// selectShard picks a shard from the item in context, or shard 0.
func (t *ShardedTx) selectShard(ctx context.Context) int {
	if itemID, ok := ctx.Value(txItemKeyCtx).(id.ItemID); ok && !itemID.IsNil() {
		return int(hashItemID(itemID) % numItemShards)
	}
	return 0
}

// hashItemID is FNV-1a over the 16 id bytes.
func hashItemID(itemID id.ItemID) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for _, b := range itemID {
		h ^= uint32(b)
		h *= fnvPrime
	}
	return h
}
