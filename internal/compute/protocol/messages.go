package protocol

import "time"

// MessageType 消息类型
type MessageType string

const (
	TypeJoinCluster      MessageType = "join-cluster"
	TypeLeaveCluster     MessageType = "leave-cluster"
	TypeHeartbeat        MessageType = "heartbeat"
	TypeGPUCapabilities  MessageType = "gpu-capabilities"
	TypeBenchmarkRequest MessageType = "benchmark-request"
	TypeBenchmarkResult  MessageType = "benchmark-result"
	TypeDistributionPlan MessageType = "distribution-plan"
	TypeLayerAssignment  MessageType = "layer-assignment"
	TypeComputeRequest   MessageType = "compute-request"
	TypeComputeResult    MessageType = "compute-result"
	TypeTensorChunk      MessageType = "tensor-chunk"
	TypeComputeError     MessageType = "compute-error"
	TypePipelineProgress MessageType = "pipeline-progress"
)

// Message is the closed set of compute/cluster messages. Only types in
// this file implement it.
type Message interface {
	Type() MessageType
	isMessage()
}

// JoinCluster 节点加入集群
type JoinCluster struct {
	NodeInfo NodeInfo `json:"nodeInfo"`
}

// LeaveCluster 节点离开集群
type LeaveCluster struct {
	PeerID string `json:"peerId"`
}

// Heartbeat 心跳
type Heartbeat struct {
	Load   float64    `json:"load"`
	Status NodeStatus `json:"status"`
	SentAt time.Time  `json:"sentAt"`
}

// GPUCapabilities 能力通告
type GPUCapabilities struct {
	Capabilities NodeCapabilities `json:"capabilities"`
}

// BenchmarkRequest asks the recipient to run a benchmark.
type BenchmarkRequest struct{}

// BenchmarkResultMessage carries a measured score.
type BenchmarkResultMessage struct {
	Score   float64         `json:"score"`
	Details BenchmarkResult `json:"details"`
}

// DistributionPlanMessage 协调者广播的分布计划
type DistributionPlanMessage struct {
	Plan DistributionPlan `json:"plan"`
}

// LayerAssignment 单个节点的单元分配
type LayerAssignment struct {
	Layers  []int  `json:"layers"`
	ModelID string `json:"modelId"`
}

// ComputeRequest forwards a task's intermediate tensor to a stage owner.
// TensorData is empty when the tensor travels as chunks.
type ComputeRequest struct {
	TaskID       string `json:"taskId"`
	OriginID     string `json:"originId"`
	TargetID     string `json:"targetId"`
	InputTensor  string `json:"inputTensor"`
	TensorData   []byte `json:"tensorData,omitempty"`
	TargetLayers []int  `json:"targetLayers"`
	StageIndex   int    `json:"stageIndex"`
	Route        []Hop  `json:"route"`
}

// IsLastStage reports whether the request targets the final hop.
func (m *ComputeRequest) IsLastStage() bool {
	return m.StageIndex == len(m.Route)-1
}

// ComputeResult 最后一个阶段返回给发起者的结果
type ComputeResult struct {
	TaskID       string `json:"taskId"`
	OutputTensor string `json:"outputTensor,omitempty"`
	Data         []byte `json:"data,omitempty"`
	Result       string `json:"result,omitempty"`
}

// TensorChunk carries one chunk; Metadata rides on chunk 0 only.
type TensorChunk struct {
	TaskID   string          `json:"taskId"`
	Chunk    Chunk           `json:"chunk"`
	Metadata *ComputeRequest `json:"metadata,omitempty"`
}

// ComputeError 阶段失败回传
type ComputeError struct {
	TaskID     string `json:"taskId"`
	Error      string `json:"error"`
	StageIndex int    `json:"stageIndex"`
	NodeID     string `json:"nodeId"`
}

// PipelineProgress 阶段进度
type PipelineProgress struct {
	TaskID     string      `json:"taskId"`
	StageIndex int         `json:"stageIndex"`
	Status     StageStatus `json:"status"`
	NodeID     string      `json:"nodeId"`
}

func (*JoinCluster) Type() MessageType             { return TypeJoinCluster }
func (*LeaveCluster) Type() MessageType            { return TypeLeaveCluster }
func (*Heartbeat) Type() MessageType               { return TypeHeartbeat }
func (*GPUCapabilities) Type() MessageType         { return TypeGPUCapabilities }
func (*BenchmarkRequest) Type() MessageType        { return TypeBenchmarkRequest }
func (*BenchmarkResultMessage) Type() MessageType  { return TypeBenchmarkResult }
func (*DistributionPlanMessage) Type() MessageType { return TypeDistributionPlan }
func (*LayerAssignment) Type() MessageType         { return TypeLayerAssignment }
func (*ComputeRequest) Type() MessageType          { return TypeComputeRequest }
func (*ComputeResult) Type() MessageType           { return TypeComputeResult }
func (*TensorChunk) Type() MessageType             { return TypeTensorChunk }
func (*ComputeError) Type() MessageType            { return TypeComputeError }
func (*PipelineProgress) Type() MessageType        { return TypePipelineProgress }

func (*JoinCluster) isMessage()             {}
func (*LeaveCluster) isMessage()            {}
func (*Heartbeat) isMessage()               {}
func (*GPUCapabilities) isMessage()         {}
func (*BenchmarkRequest) isMessage()        {}
func (*BenchmarkResultMessage) isMessage()  {}
func (*DistributionPlanMessage) isMessage() {}
func (*LayerAssignment) isMessage()         {}
func (*ComputeRequest) isMessage()          {}
func (*ComputeResult) isMessage()           {}
func (*TensorChunk) isMessage()             {}
func (*ComputeError) isMessage()            {}
func (*PipelineProgress) isMessage()        {}
