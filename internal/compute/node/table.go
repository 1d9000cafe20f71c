package node

import (
	"sort"
	"sync"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/rs/zerolog/log"
	"github.com/ulfberto/zerocloud/internal/compute/protocol"
)

// Table is the membership table of one node. Remote members are keyed by
// peer id; the local node is kept apart so it is never evicted.
type Table struct {
	mu          sync.RWMutex
	clock       time2.Clock
	coordinator bool
	local       *ComputeNode
	nodes       map[string]*ComputeNode
	plan        *protocol.DistributionPlan
	activeTasks int

	totalCompute float64
	totalMemory  float64
	activeCount  int
	health       Health
}

// NewTable creates a table for the local node described by self.
func NewTable(self protocol.NodeInfo, coordinator bool, clock time2.Clock) *Table {
	if clock == nil {
		clock = time2.DefaultClock
	}
	role := self.Role
	if role == "" {
		role = protocol.NodeRoleWorker
		if coordinator {
			role = protocol.NodeRoleCoordinator
		}
	}
	t := &Table{
		clock:       clock,
		coordinator: coordinator,
		local: &ComputeNode{
			PeerID:         self.PeerID,
			DisplayName:    self.DisplayName,
			Endpoint:       self.Endpoint,
			Role:           role,
			Capabilities:   self.Capabilities,
			Status:         protocol.NodeStatusIdle,
			LastHeartbeat:  clock.Now(),
			BenchmarkScore: self.BenchmarkScore,
		},
		nodes: make(map[string]*ComputeNode),
	}
	t.recompute()
	return t
}

// IsCoordinator reports whether the local node is the session host.
func (t *Table) IsCoordinator() bool {
	return t.coordinator
}

// LocalID returns the local peer id.
func (t *Table) LocalID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.local.PeerID
}

// Join upserts a remote node as idle. It reports whether the node was
// previously unknown or offline, i.e. whether a handshake reply is due.
func (t *Table) Join(info protocol.NodeInfo) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if info.PeerID == "" || info.PeerID == t.local.PeerID {
		return false
	}

	now := t.clock.Now()
	n, ok := t.nodes[info.PeerID]
	fresh := !ok || !n.Active()
	if !ok {
		n = &ComputeNode{PeerID: info.PeerID}
		t.nodes[info.PeerID] = n
	}

	n.DisplayName = info.DisplayName
	if info.Endpoint != "" {
		n.Endpoint = info.Endpoint
	}
	if info.Role != "" {
		n.Role = info.Role
	}
	if info.Capabilities != nil {
		caps := *info.Capabilities
		n.Capabilities = &caps
	}
	if info.BenchmarkScore > 0 {
		n.BenchmarkScore = info.BenchmarkScore
	}
	n.Status = protocol.NodeStatusIdle
	n.LastHeartbeat = now
	n.OfflineSince = time.Time{}

	t.recompute()

	log.Info().
		Str("peer_id", info.PeerID).
		Str("display_name", info.DisplayName).
		Bool("fresh", fresh).
		Msg("Node joined cluster")

	return fresh
}

// Heartbeat refreshes a known node. Unknown senders are ignored and
// false is returned. Assigned units are left untouched.
func (t *Table) Heartbeat(peerID string, load float64, status protocol.NodeStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[peerID]
	if !ok {
		return false
	}

	wasActive := n.Active()
	n.LastHeartbeat = t.clock.Now()
	switch {
	case status == protocol.NodeStatusOffline:
		if wasActive {
			t.markOffline(n)
		}
	case status.Valid():
		n.Status = status
		n.Load = load
	default:
		if !wasActive {
			n.Status = protocol.NodeStatusIdle
		}
		n.Load = load
	}

	if wasActive != n.Active() {
		t.recompute()
		if n.Active() {
			n.OfflineSince = time.Time{}
			log.Info().Str("peer_id", peerID).Msg("Node back online")
		}
	}
	return true
}

// Leave marks a node offline. It reports whether the node was active.
func (t *Table) Leave(peerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[peerID]
	if !ok || !n.Active() {
		return false
	}
	t.markOffline(n)
	t.recompute()

	log.Info().Str("peer_id", peerID).Msg("Node left cluster")
	return true
}

// Sweep marks every node whose last heartbeat is older than timeout as
// offline and returns their ids. An age equal to timeout is still alive.
func (t *Table) Sweep(timeout time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	var evicted []string
	for id, n := range t.nodes {
		if !n.Active() {
			continue
		}
		age := now.Sub(n.LastHeartbeat)
		if age > timeout {
			t.markOffline(n)
			evicted = append(evicted, id)
			log.Warn().
				Str("peer_id", id).
				Dur("heartbeat_age", age).
				Msg("Evicting node after heartbeat timeout")
		}
	}
	if len(evicted) > 0 {
		sort.Strings(evicted)
		t.recompute()
	}
	return evicted
}

// Prune drops nodes that have been offline longer than after.
func (t *Table) Prune(after time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	var pruned []string
	for id, n := range t.nodes {
		if n.Active() || now.Sub(n.OfflineSince) <= after {
			continue
		}
		delete(t.nodes, id)
		pruned = append(pruned, id)
	}
	if len(pruned) > 0 {
		sort.Strings(pruned)
		t.recompute()
		log.Debug().Strs("peer_ids", pruned).Msg("Pruned offline nodes")
	}
	return pruned
}

// MarkError moves a node into the error state after a failure report.
func (t *Table) MarkError(peerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[peerID]
	if !ok || !n.Active() {
		return false
	}
	n.Status = protocol.NodeStatusError
	return true
}

// SetCapabilities records capabilities announced by a remote node.
func (t *Table) SetCapabilities(peerID string, caps protocol.NodeCapabilities) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[peerID]
	if !ok {
		return false
	}
	n.Capabilities = &caps
	t.recompute()
	return true
}

// SetBenchmark records a measured score for a remote node.
func (t *Table) SetBenchmark(peerID string, score float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[peerID]
	if !ok {
		return false
	}
	n.BenchmarkScore = score
	return true
}

// SetLatency records a round-trip estimate for a remote node.
func (t *Table) SetLatency(peerID string, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n, ok := t.nodes[peerID]; ok {
		n.Latency = latency
	}
}

// SetLocalCapabilities stores the probed local capabilities.
func (t *Table) SetLocalCapabilities(caps *protocol.NodeCapabilities) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.local.Capabilities = caps
	// the session host keeps its role so peers still accept its plans
	if caps == nil && !t.coordinator {
		t.local.Role = protocol.NodeRoleRelay
	}
	t.recompute()
}

// SetLocalBenchmark stores the local benchmark score.
func (t *Table) SetLocalBenchmark(score float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.local.BenchmarkScore = score
}

// SetLocalStatus updates the local status and load.
func (t *Table) SetLocalStatus(status protocol.NodeStatus, load float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if status.Valid() {
		t.local.Status = status
	}
	t.local.Load = load
	t.local.LastHeartbeat = t.clock.Now()
}

// SwapLocalStatus sets status and load only while the local status is
// still expected. It reports whether the swap happened.
func (t *Table) SwapLocalStatus(expected, status protocol.NodeStatus, load float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.local.Status != expected || !status.Valid() {
		return false
	}
	t.local.Status = status
	t.local.Load = load
	t.local.LastHeartbeat = t.clock.Now()
	return true
}

// AssignLocalUnits records the units the local node owns.
func (t *Table) AssignLocalUnits(units []int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.local.AssignedUnits = append([]int(nil), units...)
}

// Local returns a copy of the local node.
func (t *Table) Local() *ComputeNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.local.clone()
}

// Get returns a copy of a remote node.
func (t *Table) Get(peerID string) (*ComputeNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, ok := t.nodes[peerID]
	if !ok {
		return nil, false
	}
	return n.clone(), true
}

// Candidates returns copies of every non-offline remote node plus the
// local node, ordered by peer id.
func (t *Table) Candidates() []*ComputeNode {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := []*ComputeNode{t.local.clone()}
	for _, n := range t.nodes {
		if n.Active() {
			out = append(out, n.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

// ActivePeers returns the ids of non-offline remote nodes.
func (t *Table) ActivePeers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.nodes))
	for id, n := range t.nodes {
		if n.Active() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// SetPlan replaces the current plan and records the local assignment.
func (t *Table) SetPlan(plan *protocol.DistributionPlan) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.plan = plan
	t.local.AssignedUnits = append([]int(nil), plan.UnitsFor(t.local.PeerID)...)
	for id, n := range t.nodes {
		n.AssignedUnits = append([]int(nil), plan.UnitsFor(id)...)
	}
}

// Plan returns the current plan, or nil.
func (t *Table) Plan() *protocol.DistributionPlan {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.plan
}

// SetActiveTasks records the number of in-flight tasks.
func (t *Table) SetActiveTasks(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.activeTasks = n
}

// Health returns the derived cluster health.
func (t *Table) Health() Health {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.health
}

// Totals returns aggregate compute (GFLOPS) and memory (MB).
func (t *Table) Totals() (compute, memoryMB float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalCompute, t.totalMemory
}

// Snapshot returns a copy of the whole cluster state.
func (t *Table) Snapshot() ClusterState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	nodes := make([]*ComputeNode, 0, len(t.nodes))
	for _, n := range t.nodes {
		nodes = append(nodes, n.clone())
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].PeerID < nodes[j].PeerID })

	return ClusterState{
		IsCoordinator:     t.coordinator,
		Local:             t.local.clone(),
		Nodes:             nodes,
		Plan:              t.plan,
		TotalComputePower: t.totalCompute,
		TotalMemoryMB:     t.totalMemory,
		KnownNodes:        len(t.nodes),
		ActiveNodes:       t.activeCount,
		ActiveTasks:       t.activeTasks,
		Health:            t.health,
	}
}

func (t *Table) markOffline(n *ComputeNode) {
	n.Status = protocol.NodeStatusOffline
	n.OfflineSince = t.clock.Now()
	n.Load = 0
}

// recompute refreshes totals and health; callers hold the write lock.
func (t *Table) recompute() {
	var compute, memory float64
	if caps := t.local.Capabilities; caps != nil {
		compute += caps.EstimatedThroughput
		memory += caps.EstimatedMemoryMB
	}

	active := 0
	for _, n := range t.nodes {
		if !n.Active() {
			continue
		}
		active++
		if n.Capabilities != nil {
			compute += n.Capabilities.EstimatedThroughput
			memory += n.Capabilities.EstimatedMemoryMB
		}
	}

	t.totalCompute = compute
	t.totalMemory = memory
	t.activeCount = active
	t.health = deriveHealth(active, len(t.nodes))
}

// deriveHealth: critical iff no active node, degraded iff fewer than half
// of the known nodes are active.
func deriveHealth(active, known int) Health {
	switch {
	case active == 0:
		return HealthCritical
	case active*2 < known:
		return HealthDegraded
	default:
		return HealthHealthy
	}
}
