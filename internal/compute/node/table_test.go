package node

import (
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulfberto/zerocloud/internal/compute/protocol"
)

func caps(gflops, memMB float64) *protocol.NodeCapabilities {
	return &protocol.NodeCapabilities{Vendor: "generic", EstimatedThroughput: gflops, EstimatedMemoryMB: memMB}
}

func newTestTable(t *testing.T) (*Table, *time2.MockClock) {
	t.Helper()
	clock := time2.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	table := NewTable(protocol.NodeInfo{PeerID: "local", DisplayName: "local", Capabilities: caps(10, 1024)}, true, clock)
	return table, clock
}

func TestJoin_UpsertsAndRecomputesTotals(t *testing.T) {
	table, _ := newTestTable(t)

	assert.True(t, table.Join(protocol.NodeInfo{PeerID: "a", DisplayName: "A", Capabilities: caps(40, 2048)}))
	assert.True(t, table.Join(protocol.NodeInfo{PeerID: "b", DisplayName: "B", Capabilities: caps(30, 512)}))

	compute, memory := table.Totals()
	assert.InDelta(t, 80, compute, 0.001)
	assert.InDelta(t, 3584, memory, 0.001)

	// second join of an active node is an update, not a new member
	assert.False(t, table.Join(protocol.NodeInfo{PeerID: "a", DisplayName: "A2"}))
	n, ok := table.Get("a")
	require.True(t, ok)
	assert.Equal(t, "A2", n.DisplayName)
	assert.Equal(t, protocol.NodeStatusIdle, n.Status)
	assert.NotNil(t, n.Capabilities, "join without capabilities keeps known ones")

	assert.False(t, table.Join(protocol.NodeInfo{PeerID: "local"}), "self join is ignored")
	assert.Equal(t, 2, table.Snapshot().KnownNodes)
}

func TestHeartbeat_KeepsUnitsAndIgnoresUnknown(t *testing.T) {
	table, clock := newTestTable(t)
	table.Join(protocol.NodeInfo{PeerID: "a", Capabilities: caps(40, 0)})
	table.SetPlan(&protocol.DistributionPlan{
		TotalUnits:  4,
		Assignments: map[string][]int{"a": {0, 1}, "local": {2, 3}},
		Pipeline:    []string{"a", "local"},
	})

	clock.Advance(3 * time.Second)
	assert.True(t, table.Heartbeat("a", 75, protocol.NodeStatusComputing))
	assert.False(t, table.Heartbeat("ghost", 10, protocol.NodeStatusIdle))

	n, _ := table.Get("a")
	assert.Equal(t, 75.0, n.Load)
	assert.Equal(t, protocol.NodeStatusComputing, n.Status)
	assert.Equal(t, clock.Now(), n.LastHeartbeat)
	assert.Equal(t, []int{0, 1}, n.AssignedUnits)
	assert.Equal(t, []int{2, 3}, table.Local().AssignedUnits)

	_, ok := table.Get("ghost")
	assert.False(t, ok)
}

func TestSweep_EvictsOnlyAfterTimeout(t *testing.T) {
	table, clock := newTestTable(t)
	table.Join(protocol.NodeInfo{PeerID: "a", Capabilities: caps(40, 0)})
	table.Join(protocol.NodeInfo{PeerID: "b", Capabilities: caps(30, 0)})

	clock.Advance(15 * time.Second)
	table.Heartbeat("b", 0, protocol.NodeStatusIdle)
	assert.Empty(t, table.Sweep(15*time.Second), "age equal to the timeout is not stale")

	clock.Advance(1 * time.Second)
	assert.Equal(t, []string{"a"}, table.Sweep(15*time.Second))

	n, _ := table.Get("a")
	assert.Equal(t, protocol.NodeStatusOffline, n.Status)
	assert.Equal(t, []string{"b"}, table.ActivePeers())

	compute, _ := table.Totals()
	assert.InDelta(t, 40, compute, 0.001)

	for _, c := range table.Candidates() {
		assert.NotEqual(t, "a", c.PeerID)
	}
}

func TestHealth(t *testing.T) {
	table, clock := newTestTable(t)
	assert.Equal(t, HealthCritical, table.Health(), "no remote members")

	table.Join(protocol.NodeInfo{PeerID: "a"})
	table.Join(protocol.NodeInfo{PeerID: "b"})
	table.Join(protocol.NodeInfo{PeerID: "c"})
	assert.Equal(t, HealthHealthy, table.Health())

	table.Leave("a")
	assert.Equal(t, HealthHealthy, table.Health(), "two of three active")

	table.Leave("b")
	assert.Equal(t, HealthDegraded, table.Health())

	clock.Advance(20 * time.Second)
	table.Sweep(15 * time.Second)
	assert.Equal(t, HealthCritical, table.Health())

	// a heartbeat revives an evicted node
	assert.True(t, table.Heartbeat("c", 5, protocol.NodeStatusIdle))
	assert.Equal(t, HealthDegraded, table.Health())
	assert.Equal(t, 1, table.Snapshot().ActiveNodes)
}

func TestLeaveAndPrune(t *testing.T) {
	table, clock := newTestTable(t)
	table.Join(protocol.NodeInfo{PeerID: "a"})

	assert.True(t, table.Leave("a"))
	assert.False(t, table.Leave("a"), "second leave is a no-op")
	assert.False(t, table.Leave("ghost"))

	clock.Advance(30 * time.Second)
	assert.Empty(t, table.Prune(60*time.Second))

	clock.Advance(31 * time.Second)
	assert.Equal(t, []string{"a"}, table.Prune(60*time.Second))
	_, ok := table.Get("a")
	assert.False(t, ok)

	// rejoin after prune is a fresh member
	assert.True(t, table.Join(protocol.NodeInfo{PeerID: "a"}))
}

func TestHeartbeat_OfflineStatusMarksOffline(t *testing.T) {
	table, _ := newTestTable(t)
	table.Join(protocol.NodeInfo{PeerID: "a"})

	table.Heartbeat("a", 0, protocol.NodeStatusOffline)
	n, _ := table.Get("a")
	assert.Equal(t, protocol.NodeStatusOffline, n.Status)
	assert.False(t, n.OfflineSince.IsZero())
}

func TestScore_PrefersBenchmark(t *testing.T) {
	n := &ComputeNode{Capabilities: caps(25, 0)}
	assert.Equal(t, 25.0, n.Score())

	n.BenchmarkScore = 60
	assert.Equal(t, 60.0, n.Score())

	assert.Equal(t, 0.0, (&ComputeNode{}).Score())
}

func TestLocalRelayWithoutCapabilities(t *testing.T) {
	table := NewTable(protocol.NodeInfo{PeerID: "local", Capabilities: caps(10, 1024)}, false, time2.DefaultClock)
	assert.Equal(t, protocol.NodeRoleWorker, table.Local().Role)
	table.SetLocalCapabilities(nil)

	local := table.Local()
	assert.Equal(t, protocol.NodeRoleRelay, local.Role)
	compute, _ := table.Totals()
	assert.Equal(t, 0.0, compute)
}

func TestCoordinatorKeepsRoleWithoutCapabilities(t *testing.T) {
	table, _ := newTestTable(t)
	assert.Equal(t, protocol.NodeRoleCoordinator, table.Local().Role)

	table.SetLocalCapabilities(nil)
	local := table.Local()
	assert.Equal(t, protocol.NodeRoleCoordinator, local.Role)
	assert.Nil(t, local.Capabilities)
}

func TestSwapLocalStatus_KeepsNewerStatus(t *testing.T) {
	table, _ := newTestTable(t)
	table.SetLocalStatus(protocol.NodeStatusSyncing, 0)

	// 期间执行器接管了本地状态
	table.SetLocalStatus(protocol.NodeStatusComputing, 2)
	assert.False(t, table.SwapLocalStatus(protocol.NodeStatusSyncing, protocol.NodeStatusIdle, 0))
	local := table.Local()
	assert.Equal(t, protocol.NodeStatusComputing, local.Status)
	assert.Equal(t, 2.0, local.Load)

	table.SetLocalStatus(protocol.NodeStatusSyncing, 1)
	assert.True(t, table.SwapLocalStatus(protocol.NodeStatusSyncing, protocol.NodeStatusIdle, 0))
	assert.Equal(t, protocol.NodeStatusIdle, table.Local().Status)
}

func TestSnapshotIsACopy(t *testing.T) {
	table, _ := newTestTable(t)
	table.Join(protocol.NodeInfo{PeerID: "a", Capabilities: caps(1, 1)})

	snap := table.Snapshot()
	snap.Nodes[0].Capabilities.EstimatedThroughput = 999
	snap.Local.DisplayName = "mutated"

	n, _ := table.Get("a")
	assert.Equal(t, 1.0, n.Capabilities.EstimatedThroughput)
	assert.Equal(t, "local", table.Local().DisplayName)
	assert.True(t, snap.IsCoordinator)
}
