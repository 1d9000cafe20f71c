package probe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallConfig() Config {
	return Config{
		ProbeSize:       16,
		ProbeWarmup:     1,
		ProbeIterations: 2,
		BenchSize:       24,
		BenchWarmup:     1,
		BenchIterations: 3,
	}
}

func TestProbe_UsesVendorHeuristics(t *testing.T) {
	p := NewProber(StaticAdapter(AdapterInfo{
		Vendor:        "NVIDIA",
		Architecture:  "Ampere",
		MemoryMB:      8192,
		DispatchWidth: 1024,
	}), smallConfig())

	caps, err := p.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "nvidia", caps.Vendor)
	assert.Equal(t, "ampere", caps.Architecture)
	assert.InDelta(t, 12000*1.8, caps.EstimatedThroughput, 0.001)
	assert.Equal(t, 1024, caps.MaxDispatchWidth)
	assert.Equal(t, int64(8192*1024*1024/4), caps.MaxBufferSize)
}

func TestProbe_MeasuresUnknownVendor(t *testing.T) {
	p := NewProber(StaticAdapter(AdapterInfo{Architecture: "amd64"}), smallConfig())

	caps, err := p.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "generic", caps.Vendor)
	assert.Greater(t, caps.EstimatedThroughput, 0.0)
}

func TestProbe_NoDeviceFails(t *testing.T) {
	p := NewProber(NoDevice, smallConfig())

	caps, err := p.Probe(context.Background())
	assert.Error(t, err)
	assert.Nil(t, caps)
}

func TestProbe_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewProber(StaticAdapter(AdapterInfo{}), smallConfig())
	_, err := p.Probe(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBenchmark(t *testing.T) {
	p := NewProber(StaticAdapter(AdapterInfo{}), smallConfig())

	result, err := p.Benchmark(context.Background())
	require.NoError(t, err)
	assert.Greater(t, result.GFLOPS, 0.0)
	assert.Equal(t, 24, result.MatrixSize)
	assert.Equal(t, 3, result.Iterations)
	assert.GreaterOrEqual(t, result.MemoryBandwidthGBps, 0.0)
}

func TestMatmulTiming_Sustained(t *testing.T) {
	steady := matmulTiming{size: 8, samples: []time.Duration{10, 11, 12}}
	assert.True(t, steady.sustained(1.25))

	throttled := matmulTiming{size: 8, samples: []time.Duration{10, 11, 30}}
	assert.False(t, throttled.sustained(1.25))

	assert.False(t, matmulTiming{}.sustained(1.25))
}

func TestEstimateThroughput(t *testing.T) {
	v, ok := estimateThroughput("intel", "Integrated Xe")
	assert.True(t, ok)
	assert.InDelta(t, 1500*0.3, v, 0.001)

	v, ok = estimateThroughput("apple", "unknown")
	assert.True(t, ok)
	assert.InDelta(t, 4000, v, 0.001)

	_, ok = estimateThroughput("acme", "ampere")
	assert.False(t, ok)
}
