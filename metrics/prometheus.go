// Package metrics provides a Prometheus implementation of the library's
// MetricsCollector. Register it as an option to expose the member's
// position, the cluster total, and heartbeat health:
//
//	collector := metrics.NewPrometheus(prometheus.DefaultRegisterer)
//	c, err := cluster.New("spider", cluster.WithMetrics(collector))
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bbcarchdev/libcluster/types"
)

// PrometheusCollector records engine measurements as Prometheus metrics.
type PrometheusCollector struct {
	baseIndex         prometheus.Gauge
	totalWorkers      prometheus.Gauge
	snapshotMembers   prometheus.Gauge
	rebalances        prometheus.Counter
	heartbeats        prometheus.Counter
	heartbeatFailures prometheus.Counter
}

var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a collector and registers its metrics with the
// given registerer.
func NewPrometheus(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		baseIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cluster_base_index",
			Help: "Base worker index of this member, -1 when not a member of the current snapshot.",
		}),
		totalWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cluster_total_workers",
			Help: "Cluster-wide worker total as last observed by this member.",
		}),
		snapshotMembers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cluster_snapshot_members",
			Help: "Number of members in the most recent registry snapshot.",
		}),
		rebalances: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cluster_rebalances_total",
			Help: "Committed (base, total) transitions.",
		}),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cluster_heartbeats_total",
			Help: "Announce attempts, successful or not.",
		}),
		heartbeatFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cluster_heartbeat_failures_total",
			Help: "Failed announce attempts.",
		}),
	}

	reg.MustRegister(
		c.baseIndex,
		c.totalWorkers,
		c.snapshotMembers,
		c.rebalances,
		c.heartbeats,
		c.heartbeatFailures,
	)

	return c
}

// RecordRebalance publishes the new position and counts the transition.
func (c *PrometheusCollector) RecordRebalance(_, current types.State) {
	c.baseIndex.Set(float64(current.Index))
	c.totalWorkers.Set(float64(current.Total))
	c.rebalances.Inc()
}

// RecordHeartbeat counts an announce attempt.
func (c *PrometheusCollector) RecordHeartbeat(err error) {
	c.heartbeats.Inc()
	if err != nil {
		c.heartbeatFailures.Inc()
	}
}

// RecordSnapshot publishes the size of the latest snapshot.
func (c *PrometheusCollector) RecordSnapshot(members int) {
	c.snapshotMembers.Set(float64(members))
}
