package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "evm_swap_agent"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry            *prometheus.Registry
	entriesPlaced       prometheus.Counter
	entriesFailed       prometheus.Counter
	exitsPlaced         prometheus.Counter
	exitsFailed         prometheus.Counter
	reconciliationDrift prometheus.Counter
	feedReconnects      prometheus.Counter
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	entriesPlaced := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "entries_placed_total",
		Help:      "Total number of successful trade entries.",
	})
	entriesFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "entries_failed_total",
		Help:      "Total number of failed trade entries.",
	})
	exitsPlaced := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "exits_placed_total",
		Help:      "Total number of successful trade exits (partial or full).",
	})
	exitsFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "exits_failed_total",
		Help:      "Total number of failed trade exits.",
	})
	reconciliationDrift := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "reconciliation_drift_total",
		Help:      "Total number of ActiveTrades whose on-chain balance was found changed by reconciliation or found zero and archived.",
	})
	feedReconnects := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "feed_reconnects_total",
		Help:      "Total number of feed websocket reconnect attempts.",
	})

	registry.MustRegister(entriesPlaced, entriesFailed, exitsPlaced, exitsFailed, reconciliationDrift, feedReconnects)

	m := &Metrics{
		EntriesPlaced:       promCounter{entriesPlaced},
		EntriesFailed:       promCounter{entriesFailed},
		ExitsPlaced:         promCounter{exitsPlaced},
		ExitsFailed:         promCounter{exitsFailed},
		ReconciliationDrift: promCounter{reconciliationDrift},
		FeedReconnects:      promCounter{feedReconnects},
	}

	return &Prometheus{
		Metrics:             m,
		registry:            registry,
		entriesPlaced:       entriesPlaced,
		entriesFailed:       entriesFailed,
		exitsPlaced:         exitsPlaced,
		exitsFailed:         exitsFailed,
		reconciliationDrift: reconciliationDrift,
		feedReconnects:      feedReconnects,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
