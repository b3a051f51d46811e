package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "greeter_deliveries_total",
			Help: "Total number of processed queue entries by outcome",
		},
		[]string{"outcome"},
	)

	QueuePending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "greeter_queue_pending",
			Help: "Number of queue entries seen by the last pass",
		},
	)

	PoolIdentities = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "greeter_pool_identities",
			Help: "Number of authenticated sending identities",
		},
	)

	ResolveAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "greeter_resolve_attempts_total",
			Help: "Total number of target resolution attempts by result",
		},
		[]string{"result"},
	)

	AffinityEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "greeter_affinity_entries",
			Help: "Number of user to identity bindings kept after the last cleanup",
		},
	)

	IntakeEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "greeter_intake_events_total",
			Help: "Total number of observed chat events by kind",
		},
		[]string{"kind"},
	)
)

var initOnce sync.Once

// Init registers metrics with Prometheus
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(Deliveries)
		prometheus.MustRegister(QueuePending)
		prometheus.MustRegister(PoolIdentities)
		prometheus.MustRegister(ResolveAttempts)
		prometheus.MustRegister(IntakeEvents)
		prometheus.MustRegister(AffinityEntries)
	})
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
