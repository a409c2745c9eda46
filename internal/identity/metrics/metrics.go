package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the identity registry.
type Metrics struct {
	IdentitiesRegistered prometheus.Counter
	ProfilesUpdated      prometheus.Counter
	ResolveFailures      prometheus.Counter
	CacheLookups         *prometheus.CounterVec
	ResolveDuration      prometheus.Histogram
}

// New registers the identity metrics with reg. Pass prometheus.DefaultRegisterer
// in the server and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IdentitiesRegistered: factory.NewCounter(prometheus.CounterOpts{
			Name: "escrow_identities_registered_total",
			Help: "Total number of identities registered",
		}),
		ProfilesUpdated: factory.NewCounter(prometheus.CounterOpts{
			Name: "escrow_identity_profiles_updated_total",
			Help: "Total number of identity profile updates",
		}),
		ResolveFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "escrow_identity_resolve_failures_total",
			Help: "Identity proofs rejected during resolution",
		}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_identity_cache_lookups_total",
			Help: "Identity cache lookups by result (hit, miss, error)",
		}, []string{"result"}),
		ResolveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "escrow_identity_resolve_duration_seconds",
			Help:    "Duration of identity proof resolution (gates mint and purchase)",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
	}
}

func (m *Metrics) IncrementRegistered() {
	m.IdentitiesRegistered.Inc()
}

func (m *Metrics) IncrementProfileUpdated() {
	m.ProfilesUpdated.Inc()
}

func (m *Metrics) IncrementResolveFailure() {
	m.ResolveFailures.Inc()
}

// ObserveResolve records the duration of a Resolve call.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveResolve(start time.Time) {
	m.ResolveDuration.Observe(time.Since(start).Seconds())
}
