package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/ulfberto/zerocloud/internal/compute/inference"
	"github.com/ulfberto/zerocloud/internal/compute/node"
	"github.com/ulfberto/zerocloud/internal/compute/protocol"
	"github.com/ulfberto/zerocloud/internal/compute/task"
	"github.com/ulfberto/zerocloud/internal/compute/transfer"
	"github.com/ulfberto/zerocloud/internal/metrics"
	"github.com/ulfberto/zerocloud/internal/observability"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultStageTimeout bounds one local stage.
const DefaultStageTimeout = 30 * time.Second

// Config 流水线执行器配置
type Config struct {
	StageTimeout time.Duration
}

// Executor runs the stages this node owns and moves tensors along the
// route carried in each compute-request. Tasks that originate here are
// tracked in the registry; everything else is reported to the origin.
type Executor struct {
	cfg       Config
	localID   string
	peers     transfer.PeerSender
	sender    *transfer.Sender
	assembler *transfer.Assembler
	engine    inference.Engine
	registry  *task.Registry
	table     *node.Table
	clock     time2.Clock

	inflight atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewExecutor creates an executor for the local node of table.
func NewExecutor(
	cfg Config,
	table *node.Table,
	peers transfer.PeerSender,
	sender *transfer.Sender,
	assembler *transfer.Assembler,
	engine inference.Engine,
	registry *task.Registry,
	clock time2.Clock,
) *Executor {
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = DefaultStageTimeout
	}
	if clock == nil {
		clock = time2.DefaultClock
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		cfg:       cfg,
		localID:   table.LocalID(),
		peers:     peers,
		sender:    sender,
		assembler: assembler,
		engine:    engine,
		registry:  registry,
		table:     table,
		clock:     clock,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Close stops accepting work and waits for running stages.
func (e *Executor) Close() {
	e.cancel()
	e.wg.Wait()
}

// Inflight returns the number of local stages running.
func (e *Executor) Inflight() int {
	return int(e.inflight.Load())
}

// Start launches a registered task along plan. The first hop runs here
// when the local node owns it, otherwise the input is handed to its owner.
func (e *Executor) Start(ctx context.Context, taskID string, input []byte, plan *protocol.DistributionPlan) error {
	route := plan.Hops()
	if len(route) == 0 {
		return errors.Wrapf(protocol.ErrNoPlan, "task %s", taskID)
	}
	e.registry.MarkRunning(taskID, task.PathDistributed)

	req := &protocol.ComputeRequest{
		TaskID:       taskID,
		OriginID:     e.localID,
		TargetID:     plan.TargetID,
		InputTensor:  uuid.NewString(),
		TargetLayers: route[0].Units,
		StageIndex:   0,
		Route:        route,
	}

	log.Info().
		Str("task_id", taskID).
		Strs("pipeline", plan.Pipeline).
		Msg("Starting distributed task")

	first := route[0].NodeID
	if first == e.localID {
		e.spawn(req, input)
		return nil
	}
	if err := e.sender.Send(ctx, first, req, input); err != nil {
		return errors.Wrapf(err, "failed to hand task %s to first stage", taskID)
	}
	return nil
}

// OnComputeRequest runs a stage forwarded by a peer.
func (e *Executor) OnComputeRequest(ctx context.Context, from string, req *protocol.ComputeRequest) error {
	if req.StageIndex < 0 || req.StageIndex >= len(req.Route) {
		err := errors.Errorf("stage %d outside route of %d hops", req.StageIndex, len(req.Route))
		e.fail(ctx, req, err)
		return err
	}
	if owner := req.Route[req.StageIndex].NodeID; owner != e.localID {
		err := errors.Errorf("stage %d belongs to %s", req.StageIndex, owner)
		e.fail(ctx, req, err)
		return err
	}

	log.Debug().
		Str("task_id", req.TaskID).
		Str("from", from).
		Int("stage", req.StageIndex).
		Int("bytes", len(req.TensorData)).
		Msg("Received compute request")

	e.spawn(req, req.TensorData)
	return nil
}

// OnTensorChunk buffers a chunk and runs the stage once the tensor is whole.
func (e *Executor) OnTensorChunk(ctx context.Context, from string, msg *protocol.TensorChunk) error {
	assembled, err := e.assembler.Add(msg)
	if err != nil {
		return err
	}
	if assembled == nil {
		return nil
	}
	if assembled.Metadata == nil {
		log.Warn().
			Str("task_id", assembled.TaskID).
			Str("tensor_id", assembled.TensorID).
			Msg("Reassembled tensor has no request metadata, dropping")
		return errors.Errorf("tensor %s arrived without metadata", assembled.TensorID)
	}

	req := *assembled.Metadata
	req.TensorData = assembled.Data
	return e.OnComputeRequest(ctx, from, &req)
}

// OnComputeResult resolves a task that originated here.
func (e *Executor) OnComputeResult(from string, msg *protocol.ComputeResult) bool {
	ok := e.registry.Resolve(msg.TaskID, task.Outcome{Result: msg.Result, Data: msg.Data})
	if !ok {
		log.Debug().Str("task_id", msg.TaskID).Str("from", from).Msg("Dropping result for unknown task")
	}
	return ok
}

// OnComputeError rejects a task that originated here.
func (e *Executor) OnComputeError(from string, msg *protocol.ComputeError) bool {
	ok := e.registry.Reject(msg.TaskID, protocol.NewRemoteStageError(msg))
	if !ok {
		log.Debug().Str("task_id", msg.TaskID).Str("from", from).Msg("Dropping error for unknown task")
	}
	return ok
}

// OnPipelineProgress records a stage transition reported by its owner.
func (e *Executor) OnPipelineProgress(from string, msg *protocol.PipelineProgress) bool {
	ok := e.registry.UpdateStage(msg.TaskID, task.StageUpdate{
		Index:  msg.StageIndex,
		Status: msg.Status,
		NodeID: msg.NodeID,
	})
	if !ok {
		log.Debug().
			Str("task_id", msg.TaskID).
			Str("from", from).
			Int("stage", msg.StageIndex).
			Str("status", string(msg.Status)).
			Msg("Progress not applied")
	}
	return ok
}

func (e *Executor) spawn(req *protocol.ComputeRequest, input []byte) {
	if e.ctx.Err() != nil {
		log.Warn().Str("task_id", req.TaskID).Msg("Executor closed, dropping stage")
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.processLocalStage(e.ctx, req, input)
	}()
}

// processLocalStage runs the units of req's stage against input, then
// either finishes the task or forwards the output to the next hop.
func (e *Executor) processLocalStage(ctx context.Context, req *protocol.ComputeRequest, input []byte) {
	idx := req.StageIndex
	hop := req.Route[idx]
	last := req.IsLastStage()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.StageTimeout)
	defer cancel()

	ctx, span := observability.StartSpan(ctx, "pipeline.stage",
		attribute.String("task_id", req.TaskID),
		attribute.String("origin_id", req.OriginID),
		attribute.Int("stage", idx),
		attribute.Int("units", len(hop.Units)),
		attribute.Bool("final", last),
	)
	var err error
	defer func() { observability.EndSpan(span, err) }()

	e.report(ctx, req, protocol.StageStatusComputing)
	e.enter()
	started := e.clock.Now()

	out, err := e.engine.RunUnits(ctx, hop.Units, input)
	var result string
	if err == nil && last {
		result, err = e.engine.GenerateFinalOutput(ctx, out)
	}

	metrics.ObserveStage(last, e.clock.Now().Sub(started))
	e.leave(err)

	if err != nil {
		e.fail(ctx, req, err)
		return
	}

	log.Debug().
		Str("task_id", req.TaskID).
		Int("stage", idx).
		Bool("final", last).
		Msg("Stage completed")

	if last {
		e.finish(ctx, req, out, result)
		return
	}

	e.report(ctx, req, protocol.StageStatusCompleted)
	if err = e.forward(ctx, req, out); err != nil {
		e.fail(ctx, req, err)
	}
}

func (e *Executor) enter() {
	n := e.inflight.Add(1)
	e.table.SetLocalStatus(protocol.NodeStatusComputing, float64(n))
}

func (e *Executor) leave(err error) {
	n := e.inflight.Add(-1)
	switch {
	case err != nil:
		e.table.SetLocalStatus(protocol.NodeStatusError, float64(n))
	case n == 0:
		e.table.SetLocalStatus(protocol.NodeStatusIdle, 0)
	default:
		e.table.SetLocalStatus(protocol.NodeStatusComputing, float64(n))
	}
}

// report records the stage status at the origin. A completed stage is also
// announced to the predecessor hop.
func (e *Executor) report(ctx context.Context, req *protocol.ComputeRequest, status protocol.StageStatus) {
	if req.OriginID == e.localID {
		e.registry.UpdateStage(req.TaskID, task.StageUpdate{
			Index:       req.StageIndex,
			Status:      status,
			NodeID:      e.localID,
			InputTensor: req.InputTensor,
		})
	} else {
		e.notify(ctx, req.OriginID, req, status)
	}

	if status != protocol.StageStatusCompleted || req.StageIndex == 0 {
		return
	}
	prev := req.Route[req.StageIndex-1].NodeID
	if prev != req.OriginID && prev != e.localID {
		e.notify(ctx, prev, req, status)
	}
}

func (e *Executor) notify(ctx context.Context, peerID string, req *protocol.ComputeRequest, status protocol.StageStatus) {
	msg := &protocol.PipelineProgress{
		TaskID:     req.TaskID,
		StageIndex: req.StageIndex,
		Status:     status,
		NodeID:     e.localID,
	}
	if err := e.peers.SendToPeer(ctx, peerID, msg); err != nil {
		log.Debug().Err(err).Str("task_id", req.TaskID).Str("peer_id", peerID).Msg("Progress report failed")
	}
}

func (e *Executor) forward(ctx context.Context, req *protocol.ComputeRequest, out []byte) error {
	next := *req
	next.StageIndex++
	next.InputTensor = uuid.NewString()
	next.TargetLayers = req.Route[next.StageIndex].Units
	next.TensorData = nil

	owner := req.Route[next.StageIndex].NodeID
	if owner == e.localID {
		e.spawn(&next, out)
		return nil
	}
	return e.sender.Send(ctx, owner, &next, out)
}

// finish delivers the terminal result to the origin named in the request,
// which need not be the node that sent it.
func (e *Executor) finish(ctx context.Context, req *protocol.ComputeRequest, out []byte, result string) {
	if req.OriginID == e.localID {
		e.registry.Resolve(req.TaskID, task.Outcome{Result: result, Data: out})
		return
	}

	msg := &protocol.ComputeResult{
		TaskID:       req.TaskID,
		OutputTensor: uuid.NewString(),
		Result:       result,
	}
	if err := e.peers.SendToPeer(ctx, req.OriginID, msg); err != nil {
		log.Error().
			Err(err).
			Str("task_id", req.TaskID).
			Str("origin_id", req.OriginID).
			Msg("Failed to return result to origin")
	}
}

// fail turns err into a stage failure. The origin rejects the task; any
// other node reports a compute-error back to the origin.
func (e *Executor) fail(ctx context.Context, req *protocol.ComputeRequest, err error) {
	stageErr := protocol.NewStageFailureError(req.TaskID, req.StageIndex, e.localID, err)
	log.Error().
		Err(err).
		Str("task_id", req.TaskID).
		Str("origin_id", req.OriginID).
		Int("stage", req.StageIndex).
		Msg("Stage failed")

	if req.OriginID == e.localID {
		e.registry.Reject(req.TaskID, stageErr)
		return
	}
	if req.OriginID == "" {
		return
	}

	msg := &protocol.ComputeError{
		TaskID:     req.TaskID,
		Error:      err.Error(),
		StageIndex: req.StageIndex,
		NodeID:     e.localID,
	}
	// the stage context may already be done
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if sendErr := e.peers.SendToPeer(sendCtx, req.OriginID, msg); sendErr != nil {
		log.Error().Err(sendErr).Str("task_id", req.TaskID).Msg("Failed to report stage failure to origin")
	}
}
