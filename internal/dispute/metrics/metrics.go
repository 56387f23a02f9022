// Package metrics exposes Prometheus counters for the dispute engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Filed    prometheus.Counter
	Outcomes *prometheus.CounterVec
	Votes    *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Filed: factory.NewCounter(prometheus.CounterOpts{
			Name: "landledger_disputes_filed_total",
			Help: "Disputes filed.",
		}),
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "landledger_disputes_closed_total",
			Help: "Disputes closed, by outcome.",
		}, []string{"outcome"}),
		Votes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "landledger_dispute_votes_total",
			Help: "Community votes recorded, by choice.",
		}, []string{"choice"}),
	}
}
