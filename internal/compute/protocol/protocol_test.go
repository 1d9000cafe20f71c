package protocol

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen_ComputeRequestKeepsRoute(t *testing.T) {
	req := &ComputeRequest{
		TaskID:       "task-1",
		OriginID:     "node-a",
		InputTensor:  "tensor-1",
		TensorData:   []byte{0x01, 0x02, 0xff},
		TargetLayers: []int{4, 5, 6},
		StageIndex:   1,
		Route: []Hop{
			{NodeID: "node-a", Units: []int{0, 1, 2, 3}},
			{NodeID: "node-b", Units: []int{4, 5, 6}},
		},
	}

	env, err := Seal("node-a", req)
	require.NoError(t, err)
	assert.Equal(t, Channel, env.Channel)
	assert.Equal(t, TypeComputeRequest, env.Type)
	assert.Equal(t, "node-a", env.From)

	msg, err := Open(env)
	require.NoError(t, err)

	got, ok := msg.(*ComputeRequest)
	require.True(t, ok, "expected *ComputeRequest, got %T", msg)
	assert.Equal(t, req, got)
	assert.True(t, got.IsLastStage())
}

func TestOpen_EmptyPayloadMessage(t *testing.T) {
	env, err := Seal("node-a", &BenchmarkRequest{})
	require.NoError(t, err)

	msg, err := Open(env)
	require.NoError(t, err)
	assert.IsType(t, &BenchmarkRequest{}, msg)
}

func TestOpen_RejectsForeignChannelAndUnknownType(t *testing.T) {
	env, err := Seal("node-a", &Heartbeat{Load: 10, Status: NodeStatusIdle})
	require.NoError(t, err)

	env.Channel = "chat"
	_, err = Open(env)
	assert.Error(t, err)

	env.Channel = Channel
	env.Type = "gossip"
	_, err = Open(env)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown message type")
}

func TestError_KindMatching(t *testing.T) {
	err := errors.Wrap(NewStageFailureError("task-1", 2, "node-b", errors.New("boom")), "process stage")

	assert.True(t, errors.Is(err, ErrStageFailure))
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, KindStageFailure, KindOf(err))
	assert.True(t, IsKind(err, KindStageFailure))
	assert.Contains(t, err.Error(), "STAGE_FAILURE")
	assert.Contains(t, err.Error(), "boom")

	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.False(t, IsKind(nil, KindUnknown))
}

func TestRemoteStageError(t *testing.T) {
	err := NewRemoteStageError(&ComputeError{TaskID: "t", Error: "out of memory", StageIndex: 1, NodeID: "node-c"})
	assert.True(t, errors.Is(err, ErrStageFailure))
	assert.Equal(t, "node-c", err.PeerID)
	assert.Contains(t, err.Error(), "out of memory")
}

func TestDistributionPlan_Queries(t *testing.T) {
	plan := &DistributionPlan{
		TargetID:   "model",
		TotalUnits: 6,
		Assignments: map[string][]int{
			"a": {0, 1, 2},
			"b": {3, 4, 5},
		},
		Pipeline: []string{"a", "b"},
	}

	assert.True(t, plan.Covers())
	assert.Equal(t, 1, plan.StageOf("b"))
	assert.Equal(t, -1, plan.StageOf("c"))
	assert.True(t, plan.Contains("a"))
	assert.False(t, plan.Contains("c"))
	assert.Equal(t, []Hop{{NodeID: "a", Units: []int{0, 1, 2}}, {NodeID: "b", Units: []int{3, 4, 5}}}, plan.Hops())

	plan.Assignments["b"] = []int{2, 3, 4, 5}
	assert.False(t, plan.Covers(), "overlap must not cover")

	plan.Assignments["b"] = []int{3, 4}
	assert.False(t, plan.Covers(), "gap must not cover")

	var nilPlan *DistributionPlan
	assert.Nil(t, nilPlan.UnitsFor("a"))
	assert.Equal(t, -1, nilPlan.StageOf("a"))
}
