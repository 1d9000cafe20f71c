package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/ulfberto/zerocloud/internal/compute/heartbeat"
	"github.com/ulfberto/zerocloud/internal/compute/inference"
	"github.com/ulfberto/zerocloud/internal/compute/node"
	"github.com/ulfberto/zerocloud/internal/compute/pipeline"
	"github.com/ulfberto/zerocloud/internal/compute/planner"
	"github.com/ulfberto/zerocloud/internal/compute/probe"
	"github.com/ulfberto/zerocloud/internal/compute/protocol"
	"github.com/ulfberto/zerocloud/internal/compute/task"
	"github.com/ulfberto/zerocloud/internal/compute/transfer"
	"github.com/ulfberto/zerocloud/internal/compute/transport"
	"github.com/ulfberto/zerocloud/internal/metrics"
)

// Config 协调服务配置
type Config struct {
	ModelID          string
	TotalUnits       int
	FallbackTimeout  time.Duration
	HeartbeatTimeout time.Duration
	PruneAfter       time.Duration
	Heartbeat        heartbeat.Config
}

// DefaultConfig returns the daemon defaults.
func DefaultConfig() Config {
	return Config{
		ModelID:          "reference",
		TotalUnits:       32,
		FallbackTimeout:  30 * time.Second,
		HeartbeatTimeout: 15 * time.Second,
		PruneAfter:       60 * time.Second,
		Heartbeat: heartbeat.Config{
			Interval:      5 * time.Second,
			SweepInterval: 5 * time.Second,
		},
	}
}

// Service is the per-node owner of the membership table and the task
// registry. All cluster state changes go through its message handlers
// and the operations below.
type Service struct {
	cfg       Config
	tr        transport.Transport
	table     *node.Table
	registry  *task.Registry
	planner   *planner.Planner
	prober    *probe.Prober
	executor  *pipeline.Executor
	assembler *transfer.Assembler
	engine    inference.Engine
	clock     time2.Clock
	observer  task.Observer

	benchMu      sync.Mutex
	benchRunning bool

	mu   sync.Mutex
	loop *heartbeat.Loop
}

// NewService wires the coordinator and installs it as the transport handler.
// observer, if set, also receives snapshots of locally executed tasks.
func NewService(
	cfg Config,
	tr transport.Transport,
	table *node.Table,
	registry *task.Registry,
	plnr *planner.Planner,
	prober *probe.Prober,
	executor *pipeline.Executor,
	assembler *transfer.Assembler,
	engine inference.Engine,
	clock time2.Clock,
	observer task.Observer,
) *Service {
	if clock == nil {
		clock = time2.DefaultClock
	}
	s := &Service{
		cfg:       cfg,
		tr:        tr,
		table:     table,
		registry:  registry,
		planner:   plnr,
		prober:    prober,
		executor:  executor,
		assembler: assembler,
		engine:    engine,
		clock:     clock,
		observer:  observer,
	}
	tr.SetHandler(s.Handle)
	return s
}

// Start probes the local device, announces the node and starts the
// heartbeat loop. It returns once everything is scheduled.
func (s *Service) Start(ctx context.Context) error {
	s.Bootstrap(ctx)

	loop, err := heartbeat.NewLoop(s.cfg.Heartbeat, s.Beat, s.Sweep)
	if err != nil {
		return err
	}
	if err := loop.Start(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.loop = loop
	s.mu.Unlock()
	return nil
}

// Stop announces departure and halts background work.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	loop := s.loop
	s.loop = nil
	s.mu.Unlock()

	if loop != nil {
		loop.Stop()
	}
	s.tr.Broadcast(ctx, &protocol.LeaveCluster{PeerID: s.table.LocalID()})
	s.executor.Close()

	log.Info().Str("peer_id", s.table.LocalID()).Msg("Left cluster")
}

// Bootstrap probes capabilities and broadcasts the join announcement. A
// node without a usable device joins as a relay.
func (s *Service) Bootstrap(ctx context.Context) {
	caps, err := s.prober.Probe(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Capability probe failed, joining as relay")
		caps = nil
	}
	s.table.SetLocalCapabilities(caps)

	s.announce(ctx, "")
	s.observe()

	local := s.table.Local()
	log.Info().
		Str("peer_id", local.PeerID).
		Str("role", string(local.Role)).
		Bool("coordinator", s.table.IsCoordinator()).
		Msg("Joined cluster")
}

// announce sends join-cluster and, when probed, gpu-capabilities to peerID,
// or to everyone when peerID is empty.
func (s *Service) announce(ctx context.Context, peerID string) {
	local := s.table.Local()
	msgs := []protocol.Message{&protocol.JoinCluster{NodeInfo: local.Info()}}
	if local.Capabilities != nil {
		msgs = append(msgs, &protocol.GPUCapabilities{Capabilities: *local.Capabilities})
	}

	for _, msg := range msgs {
		if peerID == "" {
			s.tr.Broadcast(ctx, msg)
			continue
		}
		if err := s.tr.SendToPeer(ctx, peerID, msg); err != nil {
			log.Debug().Err(err).Str("peer_id", peerID).Msg("Handshake reply failed")
			return
		}
	}
}

// Beat broadcasts the local load and status.
func (s *Service) Beat(ctx context.Context) {
	local := s.table.Local()
	s.table.SetActiveTasks(s.registry.Active())

	s.tr.Broadcast(ctx, &protocol.Heartbeat{
		Load:   local.Load,
		Status: local.Status,
		SentAt: s.clock.Now(),
	})
	metrics.SetActiveTasks(s.registry.Active())
}

// Sweep evicts silent nodes, prunes long-offline ones and drops stale
// chunk buffers.
func (s *Service) Sweep(ctx context.Context) {
	evicted := s.table.Sweep(s.cfg.HeartbeatTimeout)
	if len(evicted) > 0 {
		metrics.AddEvictions(len(evicted))
		s.dropPlanIfUsing(evicted...)
	}
	if pruned := s.table.Prune(s.cfg.PruneAfter); len(pruned) > 0 {
		log.Debug().Strs("peers", pruned).Msg("Pruned offline nodes")
	}
	if dropped := s.assembler.Collect(); dropped > 0 {
		log.Debug().Int("buffers", dropped).Msg("Collected stale tensor buffers")
	}
	s.observe()
}

// State returns a snapshot of the cluster as seen from this node.
func (s *Service) State() node.ClusterState {
	s.table.SetActiveTasks(s.registry.Active())
	return s.table.Snapshot()
}

// Table exposes the membership table for read access.
func (s *Service) Table() *node.Table {
	return s.table
}

// Benchmark runs the local benchmark and shares the score. Concurrent
// calls are rejected while one is running.
func (s *Service) Benchmark(ctx context.Context) (*protocol.BenchmarkResult, error) {
	s.benchMu.Lock()
	if s.benchRunning {
		s.benchMu.Unlock()
		return nil, errors.New("benchmark already running")
	}
	s.benchRunning = true
	s.benchMu.Unlock()

	defer func() {
		s.benchMu.Lock()
		s.benchRunning = false
		s.benchMu.Unlock()
	}()

	prev := s.table.Local()
	s.table.SetLocalStatus(protocol.NodeStatusSyncing, prev.Load)
	result, err := s.prober.Benchmark(ctx)
	// 基准期间状态被其他流程改写时保留新状态
	s.table.SwapLocalStatus(protocol.NodeStatusSyncing, prev.Status, prev.Load)
	if err != nil {
		return nil, err
	}

	s.table.SetLocalBenchmark(result.GFLOPS)
	s.tr.Broadcast(ctx, &protocol.BenchmarkResultMessage{Score: result.GFLOPS, Details: *result})
	s.dropPlan("local benchmark updated")
	return result, nil
}

// RequestBenchmarks asks every peer to benchmark and runs the local one.
func (s *Service) RequestBenchmarks(ctx context.Context) (*protocol.BenchmarkResult, error) {
	s.tr.Broadcast(ctx, &protocol.BenchmarkRequest{})
	return s.Benchmark(ctx)
}

func (s *Service) observe() {
	state := s.State()
	metrics.ObserveCluster(state.ActiveNodes, state.KnownNodes, string(state.Health), state.TotalComputePower, state.TotalMemoryMB)
	metrics.SetActiveTasks(state.ActiveTasks)
}
