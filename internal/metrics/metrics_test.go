package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveCluster(t *testing.T) {
	ObserveCluster(2, 3, "healthy", 120, 4096)

	assert.Equal(t, 2.0, testutil.ToFloat64(clusterNodes.WithLabelValues("active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(clusterNodes.WithLabelValues("offline")))
	assert.Equal(t, 1.0, testutil.ToFloat64(clusterHealth.WithLabelValues("healthy")))
	assert.Equal(t, 0.0, testutil.ToFloat64(clusterHealth.WithLabelValues("critical")))
	assert.Equal(t, 120.0, testutil.ToFloat64(clusterCompute))

	ObserveCluster(0, 3, "critical", 0, 0)
	assert.Equal(t, 0.0, testutil.ToFloat64(clusterHealth.WithLabelValues("healthy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(clusterHealth.WithLabelValues("critical")))
}

func TestCounters(t *testing.T) {
	Ensure()
	before := testutil.ToFloat64(taskOutcomes.WithLabelValues("local", "completed"))
	TaskFinished("local", "completed")
	assert.Equal(t, before+1, testutil.ToFloat64(taskOutcomes.WithLabelValues("local", "completed")))

	corrupt := testutil.ToFloat64(chunksTotal.WithLabelValues("received", "corrupt"))
	ChunkReceived("corrupt")
	assert.Equal(t, corrupt+1, testutil.ToFloat64(chunksTotal.WithLabelValues("received", "corrupt")))

	ObserveStage(true, 20*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(stageDuration))
}
