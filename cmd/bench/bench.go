package bench

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/ulfberto/zerocloud/internal/compute/probe"
	"github.com/ulfberto/zerocloud/internal/compute/protocol"
)

type report struct {
	Capabilities *protocol.NodeCapabilities `json:"capabilities"`
	Benchmark    *protocol.BenchmarkResult  `json:"benchmark,omitempty"`
}

func New() *cobra.Command {
	var (
		vendor     string
		size       int
		iterations int
		probeOnly  bool
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Probe the local device and print benchmark results as JSON",
		Run: func(cmd *cobra.Command, args []string) {
			var adapter probe.AdapterSource = probe.HostAdapter
			if vendor != "" {
				host, err := probe.HostAdapter()
				if err != nil {
					log.Fatal().Err(err).Msg("No compute device")
				}
				host.Vendor = vendor
				adapter = probe.StaticAdapter(*host)
			}

			cfg := probe.DefaultConfig()
			if size > 0 {
				cfg.BenchSize = size
			}
			if iterations > 0 {
				cfg.BenchIterations = iterations
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if err := run(ctx, probe.NewProber(adapter, cfg), probeOnly); err != nil {
				log.Fatal().Err(err).Msg("Benchmark failed")
			}
		},
	}

	cmd.Flags().StringVar(&vendor, "vendor", "", "Report this device vendor instead of measuring the probe")
	cmd.Flags().IntVar(&size, "size", 0, "Benchmark matrix size")
	cmd.Flags().IntVar(&iterations, "iterations", 0, "Measured benchmark iterations")
	cmd.Flags().BoolVar(&probeOnly, "probe-only", false, "Skip the benchmark and print capabilities only")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Overall time limit")

	return cmd
}

func run(ctx context.Context, prober *probe.Prober, probeOnly bool) error {
	caps, err := prober.Probe(ctx)
	if err != nil {
		return err
	}
	out := report{Capabilities: caps}

	if !probeOnly {
		if out.Benchmark, err = prober.Benchmark(ctx); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
