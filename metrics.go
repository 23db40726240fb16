package tinybase

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v3"
)

// tableMetrics are the per-table operation counters, bumped on the hot paths
// with plain atomics and scraped by the Collector.
type tableMetrics struct {
	inserts            atomic.Uint64
	deletes            atomic.Uint64
	updates            atomic.Uint64
	constraintFailures atomic.Uint64
	eventsPublished    atomic.Uint64
	replayedEvents     atomic.Uint64
}

type dbMetrics struct {
	tables *xsync.MapOf[string, *tableMetrics]
}

func newDBMetrics() *dbMetrics {
	return &dbMetrics{tables: xsync.NewMapOf[string, *tableMetrics]()}
}

func (m *dbMetrics) table(name string) *tableMetrics {
	tm, _ := m.tables.LoadOrStore(name, &tableMetrics{})
	return tm
}

// Collector exposes a DB's per-table counters as Prometheus metrics, labeled
// by table name. Register it with any prometheus.Registerer.
type Collector struct {
	db *DB

	inserts            *prometheus.Desc
	deletes            *prometheus.Desc
	updates            *prometheus.Desc
	constraintFailures *prometheus.Desc
	eventsPublished    *prometheus.Desc
	replayedEvents     *prometheus.Desc
}

// MetricsCollector returns a Prometheus collector over the database's
// operation counters.
func (db *DB) MetricsCollector() *Collector {
	labels := []string{"table"}
	return &Collector{
		db: db,
		inserts: prometheus.NewDesc(
			"tinybase_inserts_total",
			"Total number of records inserted",
			labels, nil,
		),
		deletes: prometheus.NewDesc(
			"tinybase_deletes_total",
			"Total number of records deleted",
			labels, nil,
		),
		updates: prometheus.NewDesc(
			"tinybase_updates_total",
			"Total number of records updated",
			labels, nil,
		),
		constraintFailures: prometheus.NewDesc(
			"tinybase_constraint_failures_total",
			"Total number of writes rejected by a constraint",
			labels, nil,
		),
		eventsPublished: prometheus.NewDesc(
			"tinybase_events_published_total",
			"Total number of change events published to index subscriptions",
			labels, nil,
		),
		replayedEvents: prometheus.NewDesc(
			"tinybase_events_replayed_total",
			"Total number of change events applied to indexes during replay",
			labels, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.inserts
	ch <- c.deletes
	ch <- c.updates
	ch <- c.constraintFailures
	ch <- c.eventsPublished
	ch <- c.replayedEvents
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.db.metrics.tables.Range(func(name string, tm *tableMetrics) bool {
		counter := func(desc *prometheus.Desc, v uint64) {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), name)
		}
		counter(c.inserts, tm.inserts.Load())
		counter(c.deletes, tm.deletes.Load())
		counter(c.updates, tm.updates.Load())
		counter(c.constraintFailures, tm.constraintFailures.Load())
		counter(c.eventsPublished, tm.eventsPublished.Load())
		counter(c.replayedEvents, tm.replayedEvents.Load())
		return true
	})
}
