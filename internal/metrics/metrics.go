package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "zerocloud"

var (
	metricsOnce sync.Once

	clusterNodes     *prometheus.GaugeVec
	clusterHealth    *prometheus.GaugeVec
	clusterCompute   prometheus.Gauge
	clusterMemory    prometheus.Gauge
	evictions        prometheus.Counter
	taskOutcomes     *prometheus.CounterVec
	activeTasks      prometheus.Gauge
	stageDuration    *prometheus.HistogramVec
	chunksTotal      *prometheus.CounterVec
	messagesReceived *prometheus.CounterVec
)

// Ensure registers all collectors with the default registry once.
func Ensure() {
	metricsOnce.Do(func() {
		clusterNodes = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "nodes",
			Help:      "Remote nodes in the membership table by liveness",
		}, []string{"state"})
		clusterHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "health",
			Help:      "1 for the current cluster health value, 0 otherwise",
		}, []string{"health"})
		clusterCompute = promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "compute_gflops",
			Help:      "Aggregate estimated throughput of active nodes",
		})
		clusterMemory = promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "memory_megabytes",
			Help:      "Aggregate estimated memory of active nodes",
		})
		evictions = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "evictions_total",
			Help:      "Nodes marked offline after a heartbeat timeout",
		})
		taskOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "outcomes_total",
			Help:      "Finished tasks by execution path and outcome",
		}, []string{"path", "outcome"})
		activeTasks = promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "active",
			Help:      "Tasks awaiting a distributed result",
		})
		stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Latency of locally executed pipeline stages",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"final"})
		chunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "chunks_total",
			Help:      "Tensor chunks by direction and result",
		}, []string{"direction", "result"})
		messagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mesh",
			Name:      "messages_received_total",
			Help:      "Compute messages handled by type",
		}, []string{"type"})
	})
}
