package coordinator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/ulfberto/zerocloud/internal/compute/inference"
	"github.com/ulfberto/zerocloud/internal/compute/protocol"
	"github.com/ulfberto/zerocloud/internal/compute/task"
	"github.com/ulfberto/zerocloud/internal/metrics"
	"github.com/ulfberto/zerocloud/internal/observability"
	"go.opentelemetry.io/otel/attribute"
)

// Result is what a caller of RunWithFallback sees.
type Result struct {
	TaskID string `json:"taskId"`
	Result string `json:"result"`
	Path   string `json:"path"`
	// Cause is why the distributed attempt was abandoned, if it was.
	Cause string `json:"fallbackCause,omitempty"`
}

// Plan computes a fresh plan over the current members, stores it and
// disseminates it. Only the coordinator may plan.
func (s *Service) Plan(ctx context.Context) (*protocol.DistributionPlan, error) {
	if !s.table.IsCoordinator() {
		return nil, protocol.ErrNotCoordinator
	}

	plan, err := s.planner.Plan(s.table.Candidates(), s.cfg.TotalUnits, s.cfg.ModelID)
	if err != nil {
		return nil, err
	}
	s.table.SetPlan(plan)
	s.broadcastPlan(ctx, plan)

	log.Info().
		Str("target_id", plan.TargetID).
		Strs("pipeline", plan.Pipeline).
		Dur("estimated_latency", plan.EstimatedLatency).
		Msg("Distribution plan created")
	return plan, nil
}

// broadcastPlan sends the plan to everyone and each member its own units.
func (s *Service) broadcastPlan(ctx context.Context, plan *protocol.DistributionPlan) {
	s.tr.Broadcast(ctx, &protocol.DistributionPlanMessage{Plan: *plan})

	localID := s.table.LocalID()
	for _, peerID := range plan.Pipeline {
		msg := &protocol.LayerAssignment{Layers: plan.UnitsFor(peerID), ModelID: plan.TargetID}
		if peerID == localID {
			s.onLayerAssignment(localID, msg)
			continue
		}
		if err := s.tr.SendToPeer(ctx, peerID, msg); err != nil {
			log.Warn().Err(err).Str("peer_id", peerID).Msg("Failed to send layer assignment")
		}
	}
}

// currentPlan returns a usable plan. The coordinator replans when the plan
// is missing or references a node that is gone; workers never replan.
func (s *Service) currentPlan(ctx context.Context) (*protocol.DistributionPlan, error) {
	if plan := s.table.Plan(); plan != nil && s.planUsable(plan) {
		return plan, nil
	}
	if !s.table.IsCoordinator() {
		return nil, protocol.ErrNoPlan
	}
	return s.Plan(ctx)
}

func (s *Service) planUsable(plan *protocol.DistributionPlan) bool {
	if plan.TotalUnits != s.cfg.TotalUnits || len(plan.Pipeline) == 0 {
		return false
	}
	localID := s.table.LocalID()
	for _, peerID := range plan.Pipeline {
		if peerID == localID {
			continue
		}
		n, ok := s.table.Get(peerID)
		if !ok || !n.Active() {
			return false
		}
	}
	return true
}

func (s *Service) dropPlan(reason string) {
	if !s.table.IsCoordinator() || s.table.Plan() == nil {
		return
	}
	s.table.SetPlan(nil)
	log.Info().Str("reason", reason).Msg("Distribution plan invalidated")
}

// dropPlanIfUsing invalidates the plan when any of peers owns units in it.
func (s *Service) dropPlanIfUsing(peers ...string) {
	plan := s.table.Plan()
	for _, peerID := range peers {
		if plan.Contains(peerID) {
			s.dropPlan("member " + peerID + " went offline")
			return
		}
	}
}

// RunWithFallback runs input through the cluster and falls back to a
// fully local run on timeout or distributed failure. Callers only see a
// result or the local run's error. An explicit cancel is not retried and a
// task id that is still pending is rejected.
func (s *Service) RunWithFallback(ctx context.Context, taskID string, input []byte) (*Result, error) {
	if taskID == "" {
		taskID = uuid.NewString()
	}

	ctx, span := observability.StartSpan(ctx, "coordinator.run_with_fallback",
		attribute.String("task_id", taskID),
		attribute.Int("input_bytes", len(input)),
	)
	var err error
	defer func() { observability.EndSpan(span, err) }()

	res, cause := s.runDistributed(ctx, taskID, input)
	if cause == nil {
		metrics.TaskFinished(task.PathDistributed, "completed")
		span.SetAttributes(attribute.String("path", task.PathDistributed))
		return res, nil
	}
	if protocol.IsKind(cause, protocol.KindDuplicateTask) {
		// 重复的任务 ID 不回退，避免覆盖仍在运行的任务
		metrics.TaskFinished(task.PathDistributed, "rejected")
		err = cause
		return nil, err
	}
	if protocol.IsKind(cause, protocol.KindCancelled) {
		metrics.TaskFinished(task.PathDistributed, "cancelled")
		err = cause
		return nil, err
	}

	metrics.TaskFinished(task.PathDistributed, "abandoned")
	log.Warn().
		Err(cause).
		Str("task_id", taskID).
		Msg("Distributed run abandoned, falling back to local execution")
	span.SetAttributes(attribute.String("path", task.PathLocal))

	res, err = s.runLocal(ctx, taskID, input, cause)
	return res, err
}

// runDistributed returns a result, or the reason the distributed attempt
// was abandoned.
func (s *Service) runDistributed(ctx context.Context, taskID string, input []byte) (*Result, error) {
	plan, err := s.currentPlan(ctx)
	if err != nil {
		return nil, err
	}

	done, err := s.registry.Create(taskID, plan.TargetID, input, plan.Hops())
	if err != nil {
		return nil, err
	}
	defer s.assembler.Release(taskID)
	s.observe()

	if err := s.executor.Start(ctx, taskID, input, plan); err != nil {
		s.registry.Reject(taskID, err)
		<-done
		return nil, err
	}

	timer := time.NewTimer(s.cfg.FallbackTimeout)
	defer timer.Stop()

	var out task.Outcome
	select {
	case out = <-done:
	case <-timer.C:
		// a result racing the timer wins if it settled first
		s.registry.Reject(taskID, protocol.NewTimeoutError(taskID, s.cfg.FallbackTimeout))
		out = <-done
	case <-ctx.Done():
		s.registry.Cancel(taskID)
		out = <-done
	}

	if out.Err != nil {
		return nil, out.Err
	}
	log.Info().Str("task_id", taskID).Msg("Distributed task completed")
	return &Result{TaskID: taskID, Result: out.Result, Path: task.PathDistributed}, nil
}

// runLocal executes every unit on this node. Its snapshot replaces the
// abandoned distributed one in the task store.
func (s *Service) runLocal(ctx context.Context, taskID string, input []byte, cause error) (*Result, error) {
	started := s.clock.Now()
	units := make([]int, s.cfg.TotalUnits)
	for i := range units {
		units[i] = i
	}

	result, err := inference.RunLocal(ctx, s.engine, s.cfg.TotalUnits, input)
	ended := s.clock.Now()

	snap := &task.Task{
		ID:       taskID,
		TargetID: s.cfg.ModelID,
		Input:    input,
		Stages: []task.Stage{{
			Index:     0,
			NodeID:    s.table.LocalID(),
			Units:     units,
			Status:    protocol.StageStatusCompleted,
			StartedAt: &started,
			EndedAt:   &ended,
		}},
		Status:      protocol.TaskStatusCompleted,
		Path:        task.PathLocal,
		CreatedAt:   started,
		CompletedAt: &ended,
		Result:      result,
	}

	if err != nil {
		snap.Stages[0].Status = protocol.StageStatusFailed
		snap.Status = protocol.TaskStatusFailed
		snap.Error = err.Error()
		s.record(snap)
		metrics.TaskFinished(task.PathLocal, "failed")
		log.Error().Err(err).AnErr("cause", cause).Str("task_id", taskID).Msg("Local fallback failed")
		return nil, errors.Wrapf(err, "local fallback after %v", cause)
	}

	s.record(snap)
	metrics.TaskFinished(task.PathLocal, "completed")
	log.Info().Str("task_id", taskID).Msg("Task completed locally")
	return &Result{TaskID: taskID, Result: result, Path: task.PathLocal, Cause: cause.Error()}, nil
}

func (s *Service) record(t *task.Task) {
	if s.observer != nil {
		s.observer(t)
	}
}

// CancelTask settles a pending task with a cancellation error. Remote
// nodes are not told; their late messages miss the registry.
func (s *Service) CancelTask(taskID string) bool {
	ok := s.registry.Cancel(taskID)
	s.assembler.Release(taskID)
	if ok {
		log.Info().Str("task_id", taskID).Msg("Task cancelled")
	}
	return ok
}

// Task returns a pending task.
func (s *Service) Task(taskID string) (*task.Task, bool) {
	return s.registry.Get(taskID)
}
