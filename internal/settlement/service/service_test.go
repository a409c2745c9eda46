package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks IdentityResolver,AuditPublisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/mock/gomock"

	claimstore "escrow/internal/claims/store"
	collectible "escrow/internal/collectible/models"
	itemstore "escrow/internal/collectible/store"
	"escrow/internal/settlement/metrics"
	"escrow/internal/settlement/models"
	"escrow/internal/settlement/service/mocks"
	treasury "escrow/internal/treasury/models"
	treasurystore "escrow/internal/treasury/store"
	id "escrow/pkg/domain"
	dErrors "escrow/pkg/domain-errors"
	"escrow/pkg/funds"
	"escrow/pkg/platform/audit"
	auditmemory "escrow/pkg/platform/audit/store/memory"
	"escrow/pkg/platform/audit/publisher"
	"escrow/pkg/requestcontext"
)

const (
	sellerProof = "seller-proof"
	buyerProof  = "buyer-proof"
	forgedProof = "forged-proof"
)

// The engine runs against the real in-memory stores and transaction so that
// rollback, sharding and concurrency are exercised end to end. Only identity
// resolution is mocked.
type SettlementSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	resolver   *mocks.MockIdentityResolver
	items      *itemstore.InMemory
	claims     *claimstore.InMemory
	treasury   *treasurystore.InMemory
	tx         *ShardedTx
	auditStore *auditmemory.InMemoryStore
	metrics    *metrics.Metrics
	spans      *tracetest.SpanRecorder
	service    *Service
	ctx        context.Context
	sellerID   id.IdentityID
	buyerID    id.IdentityID
}

func TestSettlementSuite(t *testing.T) {
	suite.Run(t, new(SettlementSuite))
}

func (s *SettlementSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.resolver = mocks.NewMockIdentityResolver(s.ctrl)
	s.sellerID = id.NewIdentityID()
	s.buyerID = id.NewIdentityID()
	s.resolver.EXPECT().Resolve(gomock.Any(), sellerProof).Return(s.sellerID, nil).AnyTimes()
	s.resolver.EXPECT().Resolve(gomock.Any(), buyerProof).Return(s.buyerID, nil).AnyTimes()
	s.resolver.EXPECT().Resolve(gomock.Any(), forgedProof).
		Return(id.IdentityID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid identity proof")).AnyTimes()

	s.items = itemstore.NewInMemory()
	s.claims = claimstore.NewInMemory()
	s.treasury = treasurystore.NewInMemory()
	s.tx = NewShardedTx(s.items, s.claims, s.treasury)
	s.auditStore = auditmemory.NewInMemoryStore()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.spans = tracetest.NewSpanRecorder()
	s.service = s.build(s.tx)
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC))
}

func (s *SettlementSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *SettlementSuite) build(tx StoreTx) *Service {
	svc, err := New(tx, s.tx.Stores(), s.resolver, decimal.RequireFromString("0.025"),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(publisher.NewPublisher(s.auditStore)),
		WithMetrics(s.metrics),
		WithTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(s.spans))),
	)
	s.Require().NoError(err)
	return svc
}

func (s *SettlementSuite) mint(price string) *models.MintResult {
	res, err := s.service.Mint(s.ctx, sellerProof, models.MintRequest{
		Name:  "Genesis",
		Price: decimal.RequireFromString(price),
	})
	s.Require().NoError(err)
	return res
}

func (s *SettlementSuite) balances() treasury.Balance {
	b, err := s.service.Balances(s.ctx)
	s.Require().NoError(err)
	return b
}

func (s *SettlementSuite) requireDecimal(expected string, actual decimal.Decimal) {
	s.Require().True(decimal.RequireFromString(expected).Equal(actual), "expected %s, got %s", expected, actual)
}

func (s *SettlementSuite) TestNew() {
	rate := decimal.RequireFromString("0.025")

	s.Run("nil transaction", func() {
		_, err := New(nil, s.tx.Stores(), s.resolver, rate)
		s.ErrorContains(err, "store transaction is required")
	})

	s.Run("missing stores", func() {
		_, err := New(s.tx, Stores{}, s.resolver, rate)
		s.ErrorContains(err, "stores are required")
	})

	s.Run("nil resolver", func() {
		_, err := New(s.tx, s.tx.Stores(), nil, rate)
		s.ErrorContains(err, "identity resolver is required")
	})

	s.Run("fee rate out of range", func() {
		_, err := New(s.tx, s.tx.Stores(), s.resolver, decimal.NewFromInt(1))
		s.ErrorContains(err, "fee rate")
		_, err = New(s.tx, s.tx.Stores(), s.resolver, decimal.RequireFromString("-0.1"))
		s.ErrorContains(err, "fee rate")
	})
}

func (s *SettlementSuite) TestMint() {
	s.Run("creates available item with full-price certificate", func() {
		res := s.mint("100")

		view, err := s.service.GetItem(s.ctx, res.Item.ID)
		s.Require().NoError(err)
		s.Equal(collectible.StatusAvailable, view.Item.Status)
		s.Equal(s.sellerID, view.Item.CreatorID)
		s.Require().NotNil(view.CertificateID)
		s.Equal(res.Certificate.ID, *view.CertificateID)

		cert, err := s.claims.Find(s.ctx, res.Certificate.ID)
		s.Require().NoError(err)
		s.Equal(res.Item.ID, cert.ItemID)
		s.requireDecimal("100", cert.ClaimableAmount)
	})

	s.Run("zero price is allowed", func() {
		s.mint("0")
	})

	s.Run("negative price", func() {
		_, err := s.service.Mint(s.ctx, sellerProof, models.MintRequest{Name: "x", Price: decimal.NewFromInt(-1)})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidPrice))
	})

	s.Run("missing name", func() {
		_, err := s.service.Mint(s.ctx, sellerProof, models.MintRequest{Price: decimal.NewFromInt(1)})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("unregistered caller", func() {
		_, err := s.service.Mint(s.ctx, forgedProof, models.MintRequest{Name: "x", Price: decimal.NewFromInt(1)})
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Equal(2.0, testutil.ToFloat64(s.metrics.ItemsMinted))
}

func (s *SettlementSuite) TestPurchaseScenario() {
	minted := s.mint("100")

	res, err := s.service.Purchase(s.ctx, buyerProof, minted.Item.ID, funds.MustBucket("100"))
	s.Require().NoError(err)
	s.Equal(minted.Item.ID, res.Item.ID)
	s.True(res.Change.IsEmpty())
	s.requireDecimal("2.5", res.Split.Fee)
	s.requireDecimal("97.5", res.Split.Proceeds)

	b := s.balances()
	s.requireDecimal("2.5", b.CollectedFees)
	s.requireDecimal("97.5", b.ClaimablePool)

	view, err := s.service.GetItem(s.ctx, minted.Item.ID)
	s.Require().NoError(err)
	s.Equal(collectible.StatusSold, view.Item.Status)
	s.Equal(s.buyerID, *view.Item.BuyerID)
	s.NotNil(view.Item.DeliveredAt)

	cert, err := s.claims.Find(s.ctx, minted.Certificate.ID)
	s.Require().NoError(err)
	s.requireDecimal("97.5", cert.ClaimableAmount)

	events, err := s.auditStore.ListRecent(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(string(audit.EventItemMinted), events[0].Action)
	s.Equal(string(audit.EventItemSold), events[1].Action)
	s.Equal(audit.CategoryFinancial, events[1].Category)
	s.Equal("100", events[1].Amount)
	s.Equal("2.5", events[1].Fee)
	s.Equal(s.buyerID, events[1].IdentityID)
}

func (s *SettlementSuite) TestPurchaseReturnsChange() {
	minted := s.mint("40")

	payment := funds.MustBucket("55.5")
	res, err := s.service.Purchase(s.ctx, buyerProof, minted.Item.ID, payment)
	s.Require().NoError(err)
	s.requireDecimal("15.5", res.Change.Amount())
	s.requireDecimal("55.5", payment.Amount())
}

func (s *SettlementSuite) TestPurchaseSplitsPriceWithoutLeakage() {
	for _, price := range []string{"0", "1", "19.99", "1000000", "0.000000000000000003", "33.333333333333333333"} {
		s.Run(price, func() {
			before := s.balances()
			minted := s.mint(price)

			_, err := s.service.Purchase(s.ctx, buyerProof, minted.Item.ID, funds.MustBucket(price))
			s.Require().NoError(err)

			after := s.balances()
			gained := after.CollectedFees.Add(after.ClaimablePool).Sub(before.CollectedFees.Add(before.ClaimablePool))
			s.requireDecimal(price, gained)
		})
	}
}

func (s *SettlementSuite) TestPurchaseFailures() {
	minted := s.mint("100")

	s.Run("unknown item", func() {
		_, err := s.service.Purchase(s.ctx, buyerProof, id.NewItemID(), funds.MustBucket("100"))
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("unregistered buyer", func() {
		_, err := s.service.Purchase(s.ctx, forgedProof, minted.Item.ID, funds.MustBucket("100"))
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("insufficient payment moves nothing", func() {
		payment := funds.MustBucket("99.99")
		_, err := s.service.Purchase(s.ctx, buyerProof, minted.Item.ID, payment)
		s.True(dErrors.HasCode(err, dErrors.CodeInsufficientPayment))
		s.requireDecimal("99.99", payment.Amount())

		status, err := s.items.GetStatus(s.ctx, minted.Item.ID)
		s.Require().NoError(err)
		s.Equal(collectible.StatusAvailable, status)
		b := s.balances()
		s.True(b.CollectedFees.IsZero())
		s.True(b.ClaimablePool.IsZero())
	})

	s.Run("sold item always conflicts", func() {
		_, err := s.service.Purchase(s.ctx, buyerProof, minted.Item.ID, funds.MustBucket("100"))
		s.Require().NoError(err)

		for range 3 {
			_, err = s.service.Purchase(s.ctx, sellerProof, minted.Item.ID, funds.MustBucket("1000"))
			s.True(dErrors.HasCode(err, dErrors.CodeAlreadySold))
		}
		s.Equal(3.0, testutil.ToFloat64(s.metrics.PurchaseConflicts))
	})

	s.Run("sold item with short payment is still already sold", func() {
		_, err := s.service.Purchase(s.ctx, buyerProof, minted.Item.ID, funds.Empty())
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadySold))
	})
}

func (s *SettlementSuite) TestPurchaseSpanRecordsConflict() {
	minted := s.mint("10")
	_, err := s.service.Purchase(s.ctx, buyerProof, minted.Item.ID, funds.MustBucket("10"))
	s.Require().NoError(err)
	_, err = s.service.Purchase(s.ctx, buyerProof, minted.Item.ID, funds.MustBucket("10"))
	s.Require().Error(err)

	var purchases []sdktrace.ReadOnlySpan
	for _, span := range s.spans.Ended() {
		if span.Name() == "settlement.Purchase" {
			purchases = append(purchases, span)
		}
	}
	s.Require().Len(purchases, 2)
	s.Equal(codes.Unset, purchases[0].Status().Code)
	s.Equal(codes.Error, purchases[1].Status().Code)
	s.Equal(string(dErrors.CodeAlreadySold), purchases[1].Status().Description)
}

func (s *SettlementSuite) TestRedeemBeforeSaleIsNoop() {
	minted := s.mint("100")

	for range 2 {
		res, err := s.service.Redeem(s.ctx, minted.Certificate)
		s.Require().NoError(err)
		s.False(res.Redeemed())
		s.Require().NotNil(res.Certificate)
		s.Equal(minted.Certificate, *res.Certificate)
	}

	b := s.balances()
	s.True(b.CollectedFees.IsZero())
	s.True(b.ClaimablePool.IsZero())
	cert, err := s.claims.Find(s.ctx, minted.Certificate.ID)
	s.Require().NoError(err)
	s.requireDecimal("100", cert.ClaimableAmount)
	s.Equal(2.0, testutil.ToFloat64(s.metrics.RedeemsPending))
}

func (s *SettlementSuite) TestRedeemAfterSale() {
	minted := s.mint("100")
	_, err := s.service.Purchase(s.ctx, buyerProof, minted.Item.ID, funds.MustBucket("100"))
	s.Require().NoError(err)

	res, err := s.service.Redeem(s.ctx, minted.Certificate)
	s.Require().NoError(err)
	s.Require().True(res.Redeemed())
	s.Nil(res.Certificate)
	s.requireDecimal("97.5", res.Funds.Amount())

	b := s.balances()
	s.requireDecimal("2.5", b.CollectedFees)
	s.True(b.ClaimablePool.IsZero())

	view, err := s.service.GetItem(s.ctx, minted.Item.ID)
	s.Require().NoError(err)
	s.Nil(view.CertificateID)

	_, err = s.service.Redeem(s.ctx, minted.Certificate)
	s.True(dErrors.HasCode(err, dErrors.CodeUnknownCertificate))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.ClaimsRedeemed))
}

func (s *SettlementSuite) TestRedeemUnknownCertificate() {
	_, err := s.service.Redeem(s.ctx, models.CertificateHandle{ID: id.NewCertificateID()})
	s.True(dErrors.HasCode(err, dErrors.CodeUnknownCertificate))
}

func (s *SettlementSuite) TestConcurrentPurchasesHaveOneWinner() {
	minted := s.mint("100")
	const buyers = 32

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.Purchase(s.ctx, buyerProof, minted.Item.ID, funds.MustBucket("100"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case dErrors.HasCode(err, dErrors.CodeAlreadySold):
				conflicts++
			}
		}()
	}
	wg.Wait()

	s.Equal(1, successes)
	s.Equal(buyers-1, conflicts)
	b := s.balances()
	s.requireDecimal("2.5", b.CollectedFees)
	s.requireDecimal("97.5", b.ClaimablePool)
}

func (s *SettlementSuite) TestConcurrentRedeemsPayOnce() {
	minted := s.mint("100")
	_, err := s.service.Purchase(s.ctx, buyerProof, minted.Item.ID, funds.MustBucket("100"))
	s.Require().NoError(err)

	const holders = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		payouts []decimal.Decimal
		unknown int
	)
	for range holders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.service.Redeem(s.ctx, minted.Certificate)
			mu.Lock()
			defer mu.Unlock()
			if err == nil && res.Redeemed() {
				payouts = append(payouts, res.Funds.Amount())
				return
			}
			if dErrors.HasCode(err, dErrors.CodeUnknownCertificate) {
				unknown++
			}
		}()
	}
	wg.Wait()

	s.Require().Len(payouts, 1)
	s.requireDecimal("97.5", payouts[0])
	s.Equal(holders-1, unknown)
	s.True(s.balances().ClaimablePool.IsZero())
}

func (s *SettlementSuite) TestConcurrentSalesOfDistinctItems() {
	const n = 20
	minted := make([]*models.MintResult, n)
	for i := range n {
		minted[i] = s.mint("10")
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.service.Purchase(s.ctx, buyerProof, minted[i].Item.ID, funds.MustBucket("10"))
		}()
	}
	wg.Wait()

	for _, err := range errs {
		s.Require().NoError(err)
	}
	b := s.balances()
	s.requireDecimal("5", b.CollectedFees)
	s.requireDecimal("195", b.ClaimablePool)
}

// failingTreasury fails the pool credit after the fee credit has applied.
type failingTreasury struct {
	Treasury
}

func (failingTreasury) CreditClaimable(context.Context, decimal.Decimal) error {
	return errors.New("pool write failed")
}

type faultyTx struct {
	inner StoreTx
}

func (f faultyTx) RunInTx(ctx context.Context, fn func(ctx context.Context, stores Stores) error) error {
	return f.inner.RunInTx(ctx, func(ctx context.Context, st Stores) error {
		st.Treasury = failingTreasury{Treasury: st.Treasury}
		return fn(ctx, st)
	})
}

func (s *SettlementSuite) TestPurchaseRollsBackOnMidTransactionFailure() {
	minted := s.mint("100")
	faulty := s.build(faultyTx{inner: s.tx})

	payment := funds.MustBucket("100")
	_, err := faulty.Purchase(s.ctx, buyerProof, minted.Item.ID, payment)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.requireDecimal("100", payment.Amount())

	status, err := s.items.GetStatus(s.ctx, minted.Item.ID)
	s.Require().NoError(err)
	s.Equal(collectible.StatusAvailable, status)

	b := s.balances()
	s.True(b.CollectedFees.IsZero())
	s.True(b.ClaimablePool.IsZero())

	cert, err := s.claims.Find(s.ctx, minted.Certificate.ID)
	s.Require().NoError(err)
	s.requireDecimal("100", cert.ClaimableAmount)

	s.Run("item can still be sold afterwards", func() {
		_, err := s.service.Purchase(s.ctx, buyerProof, minted.Item.ID, funds.MustBucket("100"))
		s.NoError(err)
	})
}

func (s *SettlementSuite) TestRedeemPoolShortfallIsFatalAndRollsBack() {
	minted := s.mint("100")
	_, err := s.service.Purchase(s.ctx, buyerProof, minted.Item.ID, funds.MustBucket("100"))
	s.Require().NoError(err)

	// Drain the pool behind the engine's back.
	s.Require().NoError(s.treasury.DebitClaimable(s.ctx, decimal.RequireFromString("97.5")))

	_, err = s.service.Redeem(s.ctx, minted.Certificate)
	s.True(dErrors.HasCode(err, dErrors.CodeInsufficientPool))
	s.True(dErrors.IsFatal(err))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.PoolShortfalls))

	_, err = s.claims.Find(s.ctx, minted.Certificate.ID)
	s.NoError(err, "certificate must survive the failed redemption")

	events, err := s.auditStore.ListRecent(s.ctx, 1)
	s.Require().NoError(err)
	s.Equal(string(audit.EventPoolShortfall), events[0].Action)
	s.Equal(audit.CategoryIncident, events[0].Category)
}

func (s *SettlementSuite) TestCancelledContextIsTimeout() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	_, err := s.service.Mint(ctx, sellerProof, models.MintRequest{Name: "x", Price: decimal.NewFromInt(1)})
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
}

func (s *SettlementSuite) TestGetItems() {
	sold := s.mint("5")
	open := s.mint("7")
	_, err := s.service.Purchase(s.ctx, buyerProof, sold.Item.ID, funds.MustBucket("5"))
	s.Require().NoError(err)
	_, err = s.service.Redeem(s.ctx, sold.Certificate)
	s.Require().NoError(err)

	views, err := s.service.GetItems(s.ctx, []id.ItemID{open.Item.ID, id.NewItemID(), sold.Item.ID})
	s.Require().NoError(err)
	s.Require().Len(views, 2)
	s.Equal(open.Item.ID, views[0].Item.ID)
	s.Require().NotNil(views[0].CertificateID)
	s.Equal(open.Certificate.ID, *views[0].CertificateID)
	s.Equal(sold.Item.ID, views[1].Item.ID)
	s.Nil(views[1].CertificateID)

	s.Run("too many ids", func() {
		_, err := s.service.GetItems(s.ctx, make([]id.ItemID, MaxBatchItems+1))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}
