package planner

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulfberto/zerocloud/internal/compute/node"
	"github.com/ulfberto/zerocloud/internal/compute/protocol"
)

func scored(id string, score float64) *node.ComputeNode {
	return &node.ComputeNode{PeerID: id, Status: protocol.NodeStatusIdle, BenchmarkScore: score}
}

func newPlanner() *Planner {
	return New(0, time2.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func units(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func TestPlan_ProportionalExample(t *testing.T) {
	plan, err := newPlanner().Plan([]*node.ComputeNode{
		scored("C", 10),
		scored("A", 40),
		scored("B", 30),
	}, 32, "model-x")
	require.NoError(t, err)

	assert.Equal(t, units(0, 15), plan.Assignments["A"])
	assert.Equal(t, units(16, 27), plan.Assignments["B"])
	assert.Equal(t, units(28, 31), plan.Assignments["C"])
	assert.Equal(t, []string{"A", "B", "C"}, plan.Pipeline)
	assert.Equal(t, "model-x", plan.TargetID)
	assert.Equal(t, 2*DefaultHopLatency, plan.EstimatedLatency)
	assert.True(t, plan.Covers())
}

func TestPlan_EqualScoresLastTakesRemainder(t *testing.T) {
	plan, err := newPlanner().Plan([]*node.ComputeNode{
		scored("b", 1), scored("a", 1), scored("c", 1),
	}, 32, "m")
	require.NoError(t, err)

	assert.Len(t, plan.Assignments["a"], 10)
	assert.Len(t, plan.Assignments["b"], 10)
	assert.Len(t, plan.Assignments["c"], 12)
	assert.Equal(t, []string{"a", "b", "c"}, plan.Pipeline)
}

func TestPlan_FallsBackToCapabilityEstimate(t *testing.T) {
	estimated := &node.ComputeNode{
		PeerID:       "est",
		Status:       protocol.NodeStatusIdle,
		Capabilities: &protocol.NodeCapabilities{EstimatedThroughput: 30},
	}
	plan, err := newPlanner().Plan([]*node.ComputeNode{scored("bench", 10), estimated}, 4, "m")
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2}, plan.Assignments["est"])
	assert.Equal(t, []int{3}, plan.Assignments["bench"])
}

func TestPlan_DropsZeroUnitNodes(t *testing.T) {
	plan, err := newPlanner().Plan([]*node.ComputeNode{
		scored("a", 100), scored("b", 1), scored("c", 1),
	}, 4, "m")
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2}, plan.Assignments["a"])
	_, hasB := plan.Assignments["b"]
	assert.False(t, hasB)
	assert.Equal(t, []int{3}, plan.Assignments["c"])
	assert.Equal(t, []string{"a", "c"}, plan.Pipeline)
	assert.Equal(t, -1, plan.StageOf("b"))
}

func TestPlan_ExcludesOfflineAndScoreless(t *testing.T) {
	offline := scored("gone", 500)
	offline.Status = protocol.NodeStatusOffline
	relay := &node.ComputeNode{PeerID: "relay", Status: protocol.NodeStatusIdle}

	plan, err := newPlanner().Plan([]*node.ComputeNode{offline, relay, scored("a", 5)}, 8, "m")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, plan.Pipeline)
	assert.Equal(t, units(0, 7), plan.Assignments["a"])
	assert.Equal(t, time.Duration(0), plan.EstimatedLatency)
}

func TestPlan_NoCapacity(t *testing.T) {
	_, err := newPlanner().Plan(nil, 8, "m")
	assert.ErrorIs(t, err, protocol.ErrNoCapacity)

	relay := &node.ComputeNode{PeerID: "relay", Status: protocol.NodeStatusIdle}
	_, err = newPlanner().Plan([]*node.ComputeNode{relay}, 8, "m")
	assert.True(t, protocol.IsKind(err, protocol.KindNoCapacity))

	_, err = newPlanner().Plan([]*node.ComputeNode{scored("a", 1)}, 0, "m")
	assert.Error(t, err)
}

func TestPlan_MeasuredLatency(t *testing.T) {
	b := scored("b", 10)
	b.Latency = 120 * time.Millisecond
	plan, err := New(30*time.Millisecond, nil).Plan([]*node.ComputeNode{scored("a", 30), b, scored("c", 5)}, 16, "m")
	require.NoError(t, err)

	require.Equal(t, []string{"a", "b", "c"}, plan.Pipeline)
	assert.Equal(t, 150*time.Millisecond, plan.EstimatedLatency)
}

func TestPlan_PartitionCompleteness(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	p := newPlanner()

	for round := 0; round < 500; round++ {
		total := 1 + rnd.Intn(96)
		count := 1 + rnd.Intn(8)
		nodes := make([]*node.ComputeNode, 0, count)
		for i := 0; i < count; i++ {
			nodes = append(nodes, scored(fmt.Sprintf("n%d", i), rnd.Float64()*100+0.01))
		}

		plan, err := p.Plan(nodes, total, "m")
		require.NoError(t, err)
		require.True(t, plan.Covers(), "round %d: %+v", round, plan.Assignments)

		// pipeline order follows data flow
		prev := -1
		for _, id := range plan.Pipeline {
			owned := plan.Assignments[id]
			require.NotEmpty(t, owned)
			require.Equal(t, prev+1, owned[0])
			for k := 1; k < len(owned); k++ {
				require.Equal(t, owned[k-1]+1, owned[k], "units must be contiguous")
			}
			prev = owned[len(owned)-1]
		}
		require.Equal(t, total-1, prev)
	}
}

func TestPlan_ShareGrowsWithScore(t *testing.T) {
	p := newPlanner()
	last := 0
	for score := 40.0; score <= 400; score += 10 {
		plan, err := p.Plan([]*node.ComputeNode{scored("a", score), scored("b", 30), scored("c", 10)}, 32, "m")
		require.NoError(t, err)
		got := len(plan.Assignments["a"])
		assert.GreaterOrEqual(t, got, last, "score %v", score)
		last = got
	}
}

// The remainder goes to the lowest-ranked node, so raising a score can
// move a node out of the last slot and shrink its share by the remainder.
func TestPlan_RemainderFollowsScoreOrder(t *testing.T) {
	p := newPlanner()

	even, err := p.Plan([]*node.ComputeNode{scored("a", 10), scored("b", 10), scored("c", 10)}, 32, "m")
	require.NoError(t, err)
	assert.Equal(t, units(20, 31), even.Assignments["c"])

	raised, err := p.Plan([]*node.ComputeNode{scored("a", 10), scored("b", 10), scored("c", 11)}, 32, "m")
	require.NoError(t, err)
	assert.Equal(t, units(0, 10), raised.Assignments["c"])
	assert.Equal(t, units(11, 20), raised.Assignments["a"])
	assert.Equal(t, units(21, 31), raised.Assignments["b"])
	assert.Equal(t, []string{"c", "a", "b"}, raised.Pipeline)
	assert.True(t, raised.Covers())
}
