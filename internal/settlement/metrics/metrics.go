package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// Metrics provides observability for the settlement engine.
// Tracks mints, sales, redemptions, conflicts and the fatal pool shortfall.
type Metrics struct {
	ItemsMinted       prometheus.Counter
	ItemsSold         prometheus.Counter
	ClaimsRedeemed    prometheus.Counter
	RedeemsPending    prometheus.Counter
	PurchaseConflicts prometheus.Counter
	PoolShortfalls    prometheus.Counter
	FeesCollected     prometheus.Counter
	OperationDuration *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ItemsMinted: factory.NewCounter(prometheus.CounterOpts{
			Name: "escrow_items_minted_total",
			Help: "Total number of items minted",
		}),
		ItemsSold: factory.NewCounter(prometheus.CounterOpts{
			Name: "escrow_items_sold_total",
			Help: "Total number of successful purchases",
		}),
		ClaimsRedeemed: factory.NewCounter(prometheus.CounterOpts{
			Name: "escrow_claims_redeemed_total",
			Help: "Certificates redeemed for funds",
		}),
		RedeemsPending: factory.NewCounter(prometheus.CounterOpts{
			Name: "escrow_claims_redeem_pending_total",
			Help: "Redemptions returned unchanged because the item is not sold yet",
		}),
		PurchaseConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "escrow_purchase_conflicts_total",
			Help: "Purchases rejected because the item was already sold",
		}),
		PoolShortfalls: factory.NewCounter(prometheus.CounterOpts{
			Name: "escrow_treasury_pool_shortfalls_total",
			Help: "Redemptions the claimable pool could not cover. Any increase needs an operator",
		}),
		FeesCollected: factory.NewCounter(prometheus.CounterOpts{
			Name: "escrow_fees_collected_total",
			Help: "Platform fees collected, in currency units",
		}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "escrow_settlement_operation_duration_seconds",
			Help:    "Duration of settlement operations",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation", "outcome"}),
	}
}

func (m *Metrics) IncrementMinted() {
	m.ItemsMinted.Inc()
}

// RecordSale counts a purchase and adds its fee.
func (m *Metrics) RecordSale(fee decimal.Decimal) {
	m.ItemsSold.Inc()
	m.FeesCollected.Add(fee.InexactFloat64())
}

func (m *Metrics) IncrementRedeemed() {
	m.ClaimsRedeemed.Inc()
}

func (m *Metrics) IncrementRedeemPending() {
	m.RedeemsPending.Inc()
}

func (m *Metrics) IncrementPurchaseConflict() {
	m.PurchaseConflicts.Inc()
}

func (m *Metrics) IncrementPoolShortfall() {
	m.PoolShortfalls.Inc()
}

// ObserveOperation records the duration of a settlement operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveOperation(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.OperationDuration.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
}
