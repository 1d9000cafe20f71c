package coordinator

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/ulfberto/zerocloud/internal/compute/inference"
	"github.com/ulfberto/zerocloud/internal/compute/protocol"
	"github.com/ulfberto/zerocloud/internal/metrics"
)

const preloadTimeout = 2 * time.Minute

// Handle is the transport delivery callback. It runs on the transport's
// dispatcher goroutine, so messages from one node apply in arrival order.
// Long work (stages, benchmarks, preloads) is moved off this goroutine.
func (s *Service) Handle(ctx context.Context, from string, msg protocol.Message) {
	metrics.MessageReceived(string(msg.Type()))

	switch m := msg.(type) {
	case *protocol.JoinCluster:
		s.onJoin(ctx, from, m)
	case *protocol.LeaveCluster:
		s.onLeave(from, m)
	case *protocol.Heartbeat:
		s.onHeartbeat(from, m)
	case *protocol.GPUCapabilities:
		s.onCapabilities(from, m)
	case *protocol.BenchmarkRequest:
		s.onBenchmarkRequest(from)
	case *protocol.BenchmarkResultMessage:
		s.onBenchmarkResult(from, m)
	case *protocol.DistributionPlanMessage:
		s.onPlan(from, m)
	case *protocol.LayerAssignment:
		s.onLayerAssignment(from, m)
	case *protocol.ComputeRequest:
		_ = s.executor.OnComputeRequest(ctx, from, m)
	case *protocol.TensorChunk:
		if err := s.executor.OnTensorChunk(ctx, from, m); err != nil {
			log.Debug().Err(err).Str("task_id", m.TaskID).Str("from", from).Msg("Chunk rejected")
		}
	case *protocol.ComputeResult:
		s.executor.OnComputeResult(from, m)
	case *protocol.ComputeError:
		s.executor.OnComputeError(from, m)
	case *protocol.PipelineProgress:
		s.executor.OnPipelineProgress(from, m)
	default:
		log.Warn().Str("from", from).Str("type", string(msg.Type())).Msg("Unhandled message type")
	}
}

func (s *Service) onJoin(ctx context.Context, from string, m *protocol.JoinCluster) {
	info := m.NodeInfo
	if info.PeerID != from {
		log.Warn().Str("from", from).Str("claimed", info.PeerID).Msg("Join sender mismatch, using transport identity")
		info.PeerID = from
	}

	fresh := s.table.Join(info)
	if fresh {
		// the newcomer may have missed our own announcement
		s.announce(ctx, from)
		s.shareOrDropPlan(ctx, from, info)
	}
	s.observe()
}

// shareOrDropPlan runs on the coordinator when a node (re)joins. A capable
// newcomer invalidates the plan so the next task replans with it; anyone
// else receives the current plan.
func (s *Service) shareOrDropPlan(ctx context.Context, peerID string, info protocol.NodeInfo) {
	if !s.table.IsCoordinator() {
		return
	}
	plan := s.table.Plan()
	if plan == nil {
		return
	}
	if (info.Capabilities != nil && info.Capabilities.EstimatedThroughput > 0) || info.BenchmarkScore > 0 {
		s.dropPlan("capable node joined")
		return
	}
	if err := s.tr.SendToPeer(ctx, peerID, &protocol.DistributionPlanMessage{Plan: *plan}); err != nil {
		log.Debug().Err(err).Str("peer_id", peerID).Msg("Failed to share plan with newcomer")
	}
}

func (s *Service) onLeave(from string, m *protocol.LeaveCluster) {
	if m.PeerID != "" && m.PeerID != from {
		log.Warn().Str("from", from).Str("peer_id", m.PeerID).Msg("Ignoring leave on behalf of another node")
		return
	}
	if s.table.Leave(from) {
		s.dropPlanIfUsing(from)
	}
	s.observe()
}

func (s *Service) onHeartbeat(from string, m *protocol.Heartbeat) {
	if !s.table.Heartbeat(from, m.Load, m.Status) {
		log.Debug().Str("from", from).Msg("Heartbeat from unknown node ignored")
		return
	}
	if !m.SentAt.IsZero() {
		if latency := s.clock.Now().Sub(m.SentAt); latency > 0 {
			s.table.SetLatency(from, latency)
		}
	}
	if m.Status == protocol.NodeStatusOffline {
		s.dropPlanIfUsing(from)
	}
}

func (s *Service) onCapabilities(from string, m *protocol.GPUCapabilities) {
	if s.table.SetCapabilities(from, m.Capabilities) {
		s.dropPlan("capabilities changed")
		s.observe()
	}
}

func (s *Service) onBenchmarkRequest(from string) {
	log.Info().Str("from", from).Msg("Benchmark requested by peer")
	go func() {
		if _, err := s.Benchmark(context.Background()); err != nil {
			log.Warn().Err(err).Str("from", from).Msg("Requested benchmark failed")
		}
	}()
}

func (s *Service) onBenchmarkResult(from string, m *protocol.BenchmarkResultMessage) {
	if s.table.SetBenchmark(from, m.Score) {
		log.Info().Str("peer_id", from).Float64("score", m.Score).Msg("Peer benchmark received")
		s.dropPlan("peer benchmark updated")
	}
}

// onPlan applies a plan from the coordinator. The coordinator never
// accepts plans from others.
func (s *Service) onPlan(from string, m *protocol.DistributionPlanMessage) {
	if s.table.IsCoordinator() {
		log.Warn().Str("from", from).Msg("Coordinator ignoring foreign distribution plan")
		return
	}
	if !s.fromCoordinator(from) {
		log.Warn().Str("from", from).Msg("Ignoring distribution plan from non-coordinator")
		return
	}
	plan := m.Plan
	if !plan.Covers() {
		log.Warn().Str("from", from).Int("total_units", plan.TotalUnits).Msg("Rejecting plan that does not cover all units")
		return
	}
	s.table.SetPlan(&plan)

	log.Info().
		Str("from", from).
		Strs("pipeline", plan.Pipeline).
		Ints("local_units", plan.UnitsFor(s.table.LocalID())).
		Msg("Distribution plan applied")
}

// fromCoordinator reports whether peerID is a known member announcing the
// coordinator role.
func (s *Service) fromCoordinator(peerID string) bool {
	n, ok := s.table.Get(peerID)
	return ok && n.Active() && n.Role == protocol.NodeRoleCoordinator
}

func (s *Service) onLayerAssignment(from string, m *protocol.LayerAssignment) {
	if from != s.table.LocalID() && !s.fromCoordinator(from) {
		log.Warn().Str("from", from).Msg("Ignoring layer assignment from non-coordinator")
		return
	}
	s.table.AssignLocalUnits(m.Layers)
	log.Info().Str("from", from).Str("model_id", m.ModelID).Ints("layers", m.Layers).Msg("Layer assignment received")

	preloader, ok := s.engine.(inference.Preloader)
	if !ok || len(m.Layers) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), preloadTimeout)
		defer cancel()
		if err := preloader.Preload(ctx, m.ModelID, m.Layers); err != nil {
			log.Warn().Err(err).Str("model_id", m.ModelID).Msg("Preload failed")
		}
	}()
}
