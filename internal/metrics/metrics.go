// Package metrics exposes Prometheus collectors for the running monitor,
// wired the way polymarket-indexer's syncer package wires its gauges.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors groups every metric the watcher registers. Construct once per
// process with NewCollectors and update from the monitor's event handlers.
type Collectors struct {
	TreeSize          prometheus.Gauge
	MaxBlockNumber    prometheus.Gauge
	OldestBlockNumber prometheus.Gauge
	BlocksAdded       prometheus.Counter
	BlocksConfirmed   prometheus.Counter
	BlocksRolledBack  prometheus.Counter
	BackfillErrors    prometheus.Counter
	QueueDepth        prometheus.Gauge
}

// NewCollectors registers every collector against reg. Pass
// prometheus.DefaultRegisterer to use the global registry.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)

	return &Collectors{
		TreeSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ethstream",
			Name:      "tree_size",
			Help:      "Number of blocks currently retained in the tree.",
		}),
		MaxBlockNumber: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ethstream",
			Name:      "max_block_number",
			Help:      "Highest block number ever observed by the watcher.",
		}),
		OldestBlockNumber: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ethstream",
			Name:      "oldest_block_number",
			Help:      "Lowest block number currently retained in the tree.",
		}),
		BlocksAdded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ethstream",
			Name:      "blocks_added_total",
			Help:      "Total number of add events emitted.",
		}),
		BlocksConfirmed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ethstream",
			Name:      "blocks_confirmed_total",
			Help:      "Total number of confirm events emitted.",
		}),
		BlocksRolledBack: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ethstream",
			Name:      "blocks_rolled_back_total",
			Help:      "Total number of rollback events emitted.",
		}),
		BackfillErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ethstream",
			Name:      "backfill_errors_total",
			Help:      "Total number of error events emitted by the backfill coordinator.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ethstream",
			Name:      "queue_depth",
			Help:      "Number of blocks currently staged awaiting ancestry resolution.",
		}),
	}
}
