package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulfberto/zerocloud/internal/compute/inference"
	"github.com/ulfberto/zerocloud/internal/compute/node"
	"github.com/ulfberto/zerocloud/internal/compute/protocol"
	"github.com/ulfberto/zerocloud/internal/compute/task"
	"github.com/ulfberto/zerocloud/internal/compute/transfer"
	"github.com/ulfberto/zerocloud/internal/compute/transport"
)

const totalUnits = 6

type brokenEngine struct {
	inference.Engine
	unit int
}

func (b brokenEngine) RunUnits(ctx context.Context, units []int, input []byte) ([]byte, error) {
	for _, u := range units {
		if u == b.unit {
			return nil, errors.Errorf("device lost on unit %d", u)
		}
	}
	return b.Engine.RunUnits(ctx, units, input)
}

type member struct {
	tr       *transport.MemoryTransport
	table    *node.Table
	registry *task.Registry
	exec     *Executor

	mu    sync.Mutex
	snaps []*task.Task
}

func (m *member) observe(t *task.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, t)
}

func (m *member) last() *task.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.snaps) == 0 {
		return nil
	}
	return m.snaps[len(m.snaps)-1]
}

func (m *member) handle(ctx context.Context, from string, msg protocol.Message) {
	switch v := msg.(type) {
	case *protocol.ComputeRequest:
		_ = m.exec.OnComputeRequest(ctx, from, v)
	case *protocol.TensorChunk:
		_ = m.exec.OnTensorChunk(ctx, from, v)
	case *protocol.ComputeResult:
		m.exec.OnComputeResult(from, v)
	case *protocol.ComputeError:
		m.exec.OnComputeError(from, v)
	case *protocol.PipelineProgress:
		m.exec.OnPipelineProgress(from, v)
	}
}

type cluster struct {
	hub     *transport.Hub
	members map[string]*member
}

// newCluster joins one executor per id. chunk sets both the chunk size
// and the inline threshold.
func newCluster(t *testing.T, chunk int, engines map[string]inference.Engine, ids ...string) *cluster {
	t.Helper()
	ref, err := inference.NewReference(inference.ReferenceConfig{Width: 8, TotalUnits: totalUnits, Seed: 11})
	require.NoError(t, err)

	c := &cluster{hub: transport.NewHub(), members: make(map[string]*member)}
	for _, id := range ids {
		m := &member{}
		m.tr = c.hub.Join(id)
		m.table = node.NewTable(protocol.NodeInfo{PeerID: id, DisplayName: id}, id == "a", time2.DefaultClock)
		m.registry = task.NewRegistry(time2.DefaultClock, m.observe)

		var engine inference.Engine = ref
		if e, ok := engines[id]; ok {
			engine = e
		}
		m.exec = NewExecutor(
			Config{StageTimeout: 5 * time.Second},
			m.table,
			m.tr,
			transfer.NewSender(m.tr, chunk, chunk),
			transfer.NewAssembler(0, time2.DefaultClock),
			engine,
			m.registry,
			time2.DefaultClock,
		)
		m.tr.SetHandler(m.handle)
		c.members[id] = m

		id := id
		t.Cleanup(func() {
			m.exec.Close()
			c.hub.Disconnect(id)
		})
	}
	return c
}

func plan(pipeline []string, assignments map[string][]int) *protocol.DistributionPlan {
	return &protocol.DistributionPlan{
		TargetID:    "ref-model",
		TotalUnits:  totalUnits,
		Assignments: assignments,
		Pipeline:    pipeline,
	}
}

func await(t *testing.T, ch <-chan task.Outcome) task.Outcome {
	t.Helper()
	select {
	case out := <-ch:
		return out
	case <-time.After(5 * time.Second):
		t.Fatal("task did not settle")
		return task.Outcome{}
	}
}

func localResult(t *testing.T, input []byte) string {
	t.Helper()
	ref, err := inference.NewReference(inference.ReferenceConfig{Width: 8, TotalUnits: totalUnits, Seed: 11})
	require.NoError(t, err)
	out, err := inference.RunLocal(context.Background(), ref, totalUnits, input)
	require.NoError(t, err)
	return out
}

func TestExecutor_ThreeStagePipeline(t *testing.T) {
	c := newCluster(t, 0, nil, "a", "b", "c")
	a := c.members["a"]
	ctx := context.Background()
	input := []byte("route me through three nodes")

	p := plan([]string{"a", "b", "c"}, map[string][]int{"a": {0, 1}, "b": {2, 3}, "c": {4, 5}})
	ch, err := a.registry.Create("task-1", p.TargetID, input, p.Hops())
	require.NoError(t, err)
	require.NoError(t, a.exec.Start(ctx, "task-1", input, p))

	out := await(t, ch)
	require.NoError(t, out.Err)
	assert.Equal(t, localResult(t, input), out.Result)

	final := a.last()
	require.NotNil(t, final)
	assert.Equal(t, protocol.TaskStatusCompleted, final.Status)
	assert.Equal(t, task.PathDistributed, final.Path)

	type step struct {
		index  int
		status protocol.StageStatus
	}
	var got []step
	for _, ev := range final.History {
		got = append(got, step{ev.Index, ev.Status})
	}
	assert.Equal(t, []step{
		{0, protocol.StageStatusComputing}, {0, protocol.StageStatusCompleted},
		{1, protocol.StageStatusComputing}, {1, protocol.StageStatusCompleted},
		{2, protocol.StageStatusComputing}, {2, protocol.StageStatusCompleted},
	}, got)

	assert.Eventually(t, func() bool {
		return c.members["c"].table.Local().Status == protocol.NodeStatusIdle
	}, time.Second, 5*time.Millisecond)
}

func TestExecutor_ChunkedHandOff(t *testing.T) {
	c := newCluster(t, 16, nil, "a", "b", "c")
	a := c.members["a"]
	input := []byte("a payload comfortably larger than sixteen bytes")

	// a is not a stage: the raw input itself travels in chunks
	p := plan([]string{"b", "c"}, map[string][]int{"b": {0, 1, 2}, "c": {3, 4, 5}})
	ch, err := a.registry.Create("task-2", p.TargetID, input, p.Hops())
	require.NoError(t, err)
	require.NoError(t, a.exec.Start(context.Background(), "task-2", input, p))

	out := await(t, ch)
	require.NoError(t, out.Err)
	assert.Equal(t, localResult(t, input), out.Result)
	assert.Zero(t, c.members["b"].exec.assembler.Pending())
	assert.Zero(t, c.members["c"].exec.assembler.Pending())
}

func TestExecutor_OriginAsLastStage(t *testing.T) {
	c := newCluster(t, 0, nil, "a", "b")
	a := c.members["a"]
	input := []byte("come back home")

	p := plan([]string{"b", "a"}, map[string][]int{"b": {0, 1, 2, 3}, "a": {4, 5}})
	ch, err := a.registry.Create("task-3", p.TargetID, input, p.Hops())
	require.NoError(t, err)
	require.NoError(t, a.exec.Start(context.Background(), "task-3", input, p))

	out := await(t, ch)
	require.NoError(t, out.Err)
	assert.Equal(t, localResult(t, input), out.Result)
	assert.NotEmpty(t, out.Data)
}

func TestExecutor_RemoteStageFailure(t *testing.T) {
	ref, err := inference.NewReference(inference.ReferenceConfig{Width: 8, TotalUnits: totalUnits, Seed: 11})
	require.NoError(t, err)
	c := newCluster(t, 0, map[string]inference.Engine{"c": brokenEngine{Engine: ref, unit: 4}}, "a", "b", "c")
	a := c.members["a"]
	input := []byte("this will not finish")

	p := plan([]string{"a", "b", "c"}, map[string][]int{"a": {0, 1}, "b": {2, 3}, "c": {4, 5}})
	ch, err := a.registry.Create("task-4", p.TargetID, input, p.Hops())
	require.NoError(t, err)
	require.NoError(t, a.exec.Start(context.Background(), "task-4", input, p))

	out := await(t, ch)
	require.Error(t, out.Err)
	assert.True(t, protocol.IsKind(out.Err, protocol.KindStageFailure))
	assert.Contains(t, out.Err.Error(), "device lost")

	final := a.last()
	assert.Equal(t, protocol.TaskStatusFailed, final.Status)
	assert.Equal(t, protocol.StageStatusCompleted, final.Stages[1].Status)
	assert.Equal(t, protocol.StageStatusFailed, final.Stages[2].Status)
	assert.Equal(t, "c", final.Stages[2].NodeID)

	assert.Eventually(t, func() bool {
		return c.members["c"].table.Local().Status == protocol.NodeStatusError
	}, time.Second, 5*time.Millisecond)
}

func TestExecutor_LocalStageFailure(t *testing.T) {
	ref, err := inference.NewReference(inference.ReferenceConfig{Width: 8, TotalUnits: totalUnits, Seed: 11})
	require.NoError(t, err)
	c := newCluster(t, 0, map[string]inference.Engine{"a": brokenEngine{Engine: ref, unit: 0}}, "a", "b")
	a := c.members["a"]

	p := plan([]string{"a", "b"}, map[string][]int{"a": {0, 1, 2}, "b": {3, 4, 5}})
	ch, err := a.registry.Create("task-5", p.TargetID, []byte("x"), p.Hops())
	require.NoError(t, err)
	require.NoError(t, a.exec.Start(context.Background(), "task-5", []byte("x"), p))

	out := await(t, ch)
	assert.True(t, protocol.IsKind(out.Err, protocol.KindStageFailure))
	assert.Equal(t, protocol.StageStatusFailed, a.last().Stages[0].Status)
}

func TestExecutor_MisroutedRequestReportsToOrigin(t *testing.T) {
	c := newCluster(t, 0, nil, "a", "b", "c")
	a := c.members["a"]

	route := []protocol.Hop{{NodeID: "c", Units: []int{0, 1, 2, 3, 4, 5}}}
	ch, err := a.registry.Create("task-6", "ref-model", nil, route)
	require.NoError(t, err)

	req := &protocol.ComputeRequest{TaskID: "task-6", OriginID: "a", Route: route, StageIndex: 0}
	require.NoError(t, a.tr.SendToPeer(context.Background(), "b", req))

	out := await(t, ch)
	assert.True(t, protocol.IsKind(out.Err, protocol.KindStageFailure))
	assert.Contains(t, out.Err.Error(), "belongs to c")
}

func TestExecutor_StartErrors(t *testing.T) {
	c := newCluster(t, 0, nil, "a")
	a := c.members["a"]
	ctx := context.Background()

	err := a.exec.Start(ctx, "task-7", nil, plan(nil, nil))
	assert.ErrorIs(t, err, protocol.ErrNoPlan)

	p := plan([]string{"ghost"}, map[string][]int{"ghost": {0, 1, 2, 3, 4, 5}})
	_, err = a.registry.Create("task-8", p.TargetID, nil, p.Hops())
	require.NoError(t, err)
	err = a.exec.Start(ctx, "task-8", []byte("x"), p)
	assert.True(t, protocol.IsKind(err, protocol.KindPeerUnavailable))
}

func TestExecutor_LateMessagesMiss(t *testing.T) {
	c := newCluster(t, 0, nil, "a")
	a := c.members["a"]

	assert.False(t, a.exec.OnComputeResult("b", &protocol.ComputeResult{TaskID: "gone", Result: "late"}))
	assert.False(t, a.exec.OnComputeError("b", &protocol.ComputeError{TaskID: "gone", Error: "late"}))
	assert.False(t, a.exec.OnPipelineProgress("b", &protocol.PipelineProgress{TaskID: "gone", Status: protocol.StageStatusCompleted}))
}
