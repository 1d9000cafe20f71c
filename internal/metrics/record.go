package metrics

import (
	"strconv"
	"time"
)

var healthValues = []string{"healthy", "degraded", "critical"}

// ObserveCluster publishes membership gauges.
func ObserveCluster(active, known int, health string, computeGFLOPS, memoryMB float64) {
	Ensure()
	clusterNodes.WithLabelValues("active").Set(float64(active))
	clusterNodes.WithLabelValues("offline").Set(float64(known - active))
	for _, h := range healthValues {
		v := 0.0
		if h == health {
			v = 1
		}
		clusterHealth.WithLabelValues(h).Set(v)
	}
	clusterCompute.Set(computeGFLOPS)
	clusterMemory.Set(memoryMB)
}

// AddEvictions counts timeout evictions.
func AddEvictions(n int) {
	Ensure()
	evictions.Add(float64(n))
}

// TaskFinished counts a finished task. path is "distributed" or "local".
func TaskFinished(path, outcome string) {
	Ensure()
	taskOutcomes.WithLabelValues(path, outcome).Inc()
}

// SetActiveTasks publishes the pending task count.
func SetActiveTasks(n int) {
	Ensure()
	activeTasks.Set(float64(n))
}

// ObserveStage records a local stage duration.
func ObserveStage(final bool, d time.Duration) {
	Ensure()
	stageDuration.WithLabelValues(strconv.FormatBool(final)).Observe(d.Seconds())
}

// ChunkSent counts an outgoing chunk.
func ChunkSent() {
	Ensure()
	chunksTotal.WithLabelValues("sent", "ok").Inc()
}

// ChunkReceived counts an incoming chunk by result (ok, duplicate, corrupt).
func ChunkReceived(result string) {
	Ensure()
	chunksTotal.WithLabelValues("received", result).Inc()
}

// MessageReceived counts a handled message.
func MessageReceived(msgType string) {
	Ensure()
	messagesReceived.WithLabelValues(msgType).Inc()
}
