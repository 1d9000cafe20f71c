package probe

import (
	"context"
	"math/rand"
	"runtime"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/ulfberto/zerocloud/internal/compute/protocol"
	"gonum.org/v1/gonum/mat"
)

// AdapterInfo is descriptive metadata about the local compute device.
// A nil *AdapterInfo means no metadata is available.
type AdapterInfo struct {
	Vendor           string
	Architecture     string
	MemoryMB         float64
	MaxBufferSize    int64
	DispatchWidth    int
	ReducedPrecision bool
}

// AdapterSource reports the local device. It returns an error when no
// compute device exists at all.
type AdapterSource func() (*AdapterInfo, error)

// Config bounds the synthetic workloads.
type Config struct {
	ProbeSize          int
	ProbeWarmup        int
	ProbeIterations    int
	BenchSize          int
	BenchWarmup        int
	BenchIterations    int
	SustainedTolerance float64 // slowest/fastest iteration ratio still considered sustained
}

// DefaultConfig keeps probe() well under a second on commodity CPUs.
func DefaultConfig() Config {
	return Config{
		ProbeSize:          128,
		ProbeWarmup:        1,
		ProbeIterations:    3,
		BenchSize:          384,
		BenchWarmup:        1,
		BenchIterations:    5,
		SustainedTolerance: 1.25,
	}
}

// Prober measures local compute capacity.
type Prober struct {
	adapter AdapterSource
	cfg     Config
}

// NewProber creates a prober; a nil adapter source falls back to HostAdapter.
func NewProber(adapter AdapterSource, cfg Config) *Prober {
	if adapter == nil {
		adapter = HostAdapter
	}
	def := DefaultConfig()
	if cfg.ProbeSize <= 0 {
		cfg.ProbeSize = def.ProbeSize
	}
	if cfg.ProbeIterations <= 0 {
		cfg.ProbeIterations = def.ProbeIterations
	}
	if cfg.BenchSize <= 0 {
		cfg.BenchSize = def.BenchSize
	}
	if cfg.BenchIterations <= 0 {
		cfg.BenchIterations = def.BenchIterations
	}
	if cfg.SustainedTolerance <= 1 {
		cfg.SustainedTolerance = def.SustainedTolerance
	}
	return &Prober{adapter: adapter, cfg: cfg}
}

// Probe estimates local capabilities. Known vendors are estimated from
// heuristics; otherwise a small matmul workload is timed.
func (p *Prober) Probe(ctx context.Context) (*protocol.NodeCapabilities, error) {
	info, err := p.adapter()
	if err != nil {
		return nil, errors.Wrap(err, "no compute device")
	}

	caps := &protocol.NodeCapabilities{
		Vendor:           "generic",
		Architecture:     runtime.GOARCH,
		MaxDispatchWidth: runtime.NumCPU(),
	}
	if info != nil {
		if info.Vendor != "" {
			caps.Vendor = strings.ToLower(info.Vendor)
		}
		if info.Architecture != "" {
			caps.Architecture = strings.ToLower(info.Architecture)
		}
		if info.DispatchWidth > 0 {
			caps.MaxDispatchWidth = info.DispatchWidth
		}
		caps.MaxBufferSize = info.MaxBufferSize
		caps.ReducedPrecision = info.ReducedPrecision
		caps.EstimatedMemoryMB = info.MemoryMB
	}
	if caps.MaxBufferSize <= 0 && caps.EstimatedMemoryMB > 0 {
		caps.MaxBufferSize = int64(caps.EstimatedMemoryMB*1024*1024) / 4
	}

	if estimate, ok := estimateThroughput(caps.Vendor, caps.Architecture); ok {
		caps.EstimatedThroughput = estimate
		log.Debug().
			Str("vendor", caps.Vendor).
			Str("architecture", caps.Architecture).
			Float64("gflops", estimate).
			Msg("Estimated throughput from adapter heuristics")
		return caps, nil
	}

	timing, err := runMatMul(ctx, p.cfg.ProbeSize, p.cfg.ProbeWarmup, p.cfg.ProbeIterations)
	if err != nil {
		return nil, errors.Wrap(err, "probe workload failed")
	}
	caps.EstimatedThroughput = timing.gflops()

	log.Debug().
		Int("size", p.cfg.ProbeSize).
		Float64("gflops", caps.EstimatedThroughput).
		Msg("Measured throughput with synthetic workload")

	return caps, nil
}

// Benchmark runs the heavier workload. The warmup pass is excluded from timing.
func (p *Prober) Benchmark(ctx context.Context) (*protocol.BenchmarkResult, error) {
	if _, err := p.adapter(); err != nil {
		return nil, errors.Wrap(err, "no compute device")
	}

	timing, err := runMatMul(ctx, p.cfg.BenchSize, p.cfg.BenchWarmup, p.cfg.BenchIterations)
	if err != nil {
		return nil, errors.Wrap(err, "benchmark workload failed")
	}

	n := float64(p.cfg.BenchSize)
	avg := timing.average()
	// a, b and the product are each touched once per multiply
	bytesMoved := 3 * n * n * 8
	bandwidth := 0.0
	if avg > 0 {
		bandwidth = bytesMoved / avg.Seconds() / 1e9
	}

	result := &protocol.BenchmarkResult{
		GFLOPS:              timing.gflops(),
		MemoryBandwidthGBps: bandwidth,
		IterationLatency:    avg,
		Sustained:           timing.sustained(p.cfg.SustainedTolerance),
		MatrixSize:          p.cfg.BenchSize,
		Iterations:          p.cfg.BenchIterations,
	}

	log.Info().
		Float64("gflops", result.GFLOPS).
		Float64("bandwidth_gbps", result.MemoryBandwidthGBps).
		Dur("iteration_latency", result.IterationLatency).
		Bool("sustained", result.Sustained).
		Msg("Benchmark completed")

	return result, nil
}

type matmulTiming struct {
	size    int
	samples []time.Duration
}

func (t matmulTiming) total() time.Duration {
	var sum time.Duration
	for _, s := range t.samples {
		sum += s
	}
	return sum
}

func (t matmulTiming) average() time.Duration {
	if len(t.samples) == 0 {
		return 0
	}
	return t.total() / time.Duration(len(t.samples))
}

func (t matmulTiming) gflops() float64 {
	total := t.total().Seconds()
	if total <= 0 {
		// below timer resolution; report one sample's worth per nanosecond
		total = float64(len(t.samples)) * 1e-9
	}
	n := float64(t.size)
	flops := 2 * n * n * n * float64(len(t.samples))
	return flops / total / 1e9
}

func (t matmulTiming) sustained(tolerance float64) bool {
	if len(t.samples) == 0 {
		return false
	}
	fastest, slowest := t.samples[0], t.samples[0]
	for _, s := range t.samples[1:] {
		if s < fastest {
			fastest = s
		}
		if s > slowest {
			slowest = s
		}
	}
	if fastest <= 0 {
		return true
	}
	return float64(slowest)/float64(fastest) <= tolerance
}

// runMatMul times dense n×n multiplies, yielding between iterations so
// timers on other goroutines stay responsive.
func runMatMul(ctx context.Context, n, warmup, iterations int) (matmulTiming, error) {
	rnd := rand.New(rand.NewSource(int64(n)))
	a := randomDense(rnd, n)
	b := randomDense(rnd, n)
	var c mat.Dense

	for i := 0; i < warmup; i++ {
		if err := ctx.Err(); err != nil {
			return matmulTiming{}, err
		}
		c.Mul(a, b)
		runtime.Gosched()
	}

	timing := matmulTiming{size: n, samples: make([]time.Duration, 0, iterations)}
	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return matmulTiming{}, err
		}
		start := time.Now()
		c.Mul(a, b)
		timing.samples = append(timing.samples, time.Since(start))
		runtime.Gosched()
	}
	return timing, nil
}

func randomDense(rnd *rand.Rand, n int) *mat.Dense {
	data := make([]float64, n*n)
	for i := range data {
		data[i] = rnd.Float64()
	}
	return mat.NewDense(n, n, data)
}
