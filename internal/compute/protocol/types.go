package protocol

import "time"

// NodeStatus 节点在集群中的运行状态
type NodeStatus string

const (
	NodeStatusIdle      NodeStatus = "idle"
	NodeStatusComputing NodeStatus = "computing"
	NodeStatusSyncing   NodeStatus = "syncing"
	NodeStatusOffline   NodeStatus = "offline"
	NodeStatusError     NodeStatus = "error"
)

// Valid reports whether s is one of the known statuses.
func (s NodeStatus) Valid() bool {
	switch s {
	case NodeStatusIdle, NodeStatusComputing, NodeStatusSyncing, NodeStatusOffline, NodeStatusError:
		return true
	default:
		return false
	}
}

// NodeRole distinguishes the session host from plain workers.
type NodeRole string

const (
	NodeRoleCoordinator NodeRole = "coordinator"
	NodeRoleWorker      NodeRole = "worker"
	NodeRoleRelay       NodeRole = "relay" // no usable compute device
)

// NodeCapabilities 探测得到的节点计算能力，探测后不可变
type NodeCapabilities struct {
	Vendor              string  `json:"vendor"`
	Architecture        string  `json:"architecture"`
	MaxBufferSize       int64   `json:"maxBufferSize"`
	MaxDispatchWidth    int     `json:"maxDispatchWidth"`
	ReducedPrecision    bool    `json:"reducedPrecision"`
	EstimatedThroughput float64 `json:"estimatedThroughput"` // GFLOPS
	EstimatedMemoryMB   float64 `json:"estimatedMemoryMB"`
}

// BenchmarkResult 基准测试结果
type BenchmarkResult struct {
	GFLOPS              float64       `json:"gflops"`
	MemoryBandwidthGBps float64       `json:"memoryBandwidthGBps"`
	IterationLatency    time.Duration `json:"iterationLatency"`
	Sustained           bool          `json:"sustained"`
	MatrixSize          int           `json:"matrixSize"`
	Iterations          int           `json:"iterations"`
}

// NodeInfo is the wire form of a node announced in join-cluster.
type NodeInfo struct {
	PeerID         string            `json:"peerId"`
	DisplayName    string            `json:"displayName"`
	Endpoint       string            `json:"endpoint,omitempty"`
	Role           NodeRole          `json:"role"`
	Capabilities   *NodeCapabilities `json:"capabilities,omitempty"`
	BenchmarkScore float64           `json:"benchmarkScore,omitempty"`
}

// Hop 流水线中的一跳：节点及其负责的单元
type Hop struct {
	NodeID string `json:"nodeId"`
	Units  []int  `json:"units"`
}

// DistributionPlan 分布计划
type DistributionPlan struct {
	TargetID         string           `json:"targetId"`
	TotalUnits       int              `json:"totalUnits"`
	Assignments      map[string][]int `json:"assignments"`
	Pipeline         []string         `json:"pipeline"`
	EstimatedLatency time.Duration    `json:"estimatedLatency"`
	RedundancyLevel  int              `json:"redundancyLevel"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// UnitsFor returns the units owned by peerID, or nil.
func (p *DistributionPlan) UnitsFor(peerID string) []int {
	if p == nil {
		return nil
	}
	return p.Assignments[peerID]
}

// StageOf returns the pipeline index of peerID, or -1.
func (p *DistributionPlan) StageOf(peerID string) int {
	if p == nil {
		return -1
	}
	for i, id := range p.Pipeline {
		if id == peerID {
			return i
		}
	}
	return -1
}

// Hops returns the pipeline as an ordered route.
func (p *DistributionPlan) Hops() []Hop {
	if p == nil {
		return nil
	}
	hops := make([]Hop, 0, len(p.Pipeline))
	for _, id := range p.Pipeline {
		hops = append(hops, Hop{NodeID: id, Units: append([]int(nil), p.Assignments[id]...)})
	}
	return hops
}

// Contains reports whether peerID owns any unit in the plan.
func (p *DistributionPlan) Contains(peerID string) bool {
	return len(p.UnitsFor(peerID)) > 0
}

// Covers checks that the assignments partition [0, TotalUnits) exactly.
func (p *DistributionPlan) Covers() bool {
	if p == nil || p.TotalUnits <= 0 {
		return false
	}
	seen := make([]bool, p.TotalUnits)
	count := 0
	for _, units := range p.Assignments {
		for _, u := range units {
			if u < 0 || u >= p.TotalUnits || seen[u] {
				return false
			}
			seen[u] = true
			count++
		}
	}
	return count == p.TotalUnits
}

// StageStatus 流水线阶段状态
type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusComputing StageStatus = "computing"
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
)

// TaskStatus 分布式任务状态
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Chunk is one fragment of a tensor in flight.
type Chunk struct {
	TensorID string `json:"tensorId"`
	Index    int    `json:"index"`
	Total    int    `json:"total"`
	Payload  []byte `json:"payload"`
	Checksum uint32 `json:"checksum"`
}
