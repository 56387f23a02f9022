// Package metrics exposes Prometheus counters for the transfer engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the transfer engine's counters.
type Metrics struct {
	Initiated prometheus.Counter
	Outcomes  *prometheus.CounterVec
	Conflicts prometheus.Counter
}

// New registers the counters on reg. Tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Initiated: factory.NewCounter(prometheus.CounterOpts{
			Name: "landledger_transfers_initiated_total",
			Help: "Total number of transfers initiated.",
		}),
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "landledger_transfers_finished_total",
			Help: "Total number of transfers reaching a terminal state, by outcome.",
		}, []string{"outcome"}),
		Conflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "landledger_transfer_conflicts_total",
			Help: "Total number of transfer operations rejected with a conflict.",
		}),
	}
}
