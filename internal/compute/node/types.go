package node

import (
	"time"

	"github.com/ulfberto/zerocloud/internal/compute/protocol"
)

// ComputeNode 集群成员
type ComputeNode struct {
	PeerID         string                     `json:"peerId"`
	DisplayName    string                     `json:"displayName"`
	Endpoint       string                     `json:"endpoint,omitempty"`
	Role           protocol.NodeRole          `json:"role"`
	Capabilities   *protocol.NodeCapabilities `json:"capabilities,omitempty"`
	Status         protocol.NodeStatus        `json:"status"`
	Load           float64                    `json:"load"`
	AssignedUnits  []int                      `json:"assignedUnits,omitempty"`
	LastHeartbeat  time.Time                  `json:"lastHeartbeat"`
	Latency        time.Duration              `json:"latency,omitempty"`
	BenchmarkScore float64                    `json:"benchmarkScore,omitempty"`
	OfflineSince   time.Time                  `json:"offlineSince,omitempty"`
}

// Active reports whether the node still counts toward capacity.
func (n *ComputeNode) Active() bool {
	return n != nil && n.Status != protocol.NodeStatusOffline
}

// Score is the planning weight: the benchmark score once measured,
// otherwise the static capability estimate.
func (n *ComputeNode) Score() float64 {
	if n == nil {
		return 0
	}
	if n.BenchmarkScore > 0 {
		return n.BenchmarkScore
	}
	if n.Capabilities != nil {
		return n.Capabilities.EstimatedThroughput
	}
	return 0
}

func (n *ComputeNode) clone() *ComputeNode {
	c := *n
	if n.Capabilities != nil {
		caps := *n.Capabilities
		c.Capabilities = &caps
	}
	c.AssignedUnits = append([]int(nil), n.AssignedUnits...)
	return &c
}

// Info converts the node to its join-cluster wire form.
func (n *ComputeNode) Info() protocol.NodeInfo {
	info := protocol.NodeInfo{
		PeerID:         n.PeerID,
		DisplayName:    n.DisplayName,
		Endpoint:       n.Endpoint,
		Role:           n.Role,
		BenchmarkScore: n.BenchmarkScore,
	}
	if n.Capabilities != nil {
		caps := *n.Capabilities
		info.Capabilities = &caps
	}
	return info
}

// Health 集群健康度
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthDegraded Health = "degraded"
	HealthCritical Health = "critical"
)

// ClusterState is a point-in-time copy of the membership table.
type ClusterState struct {
	IsCoordinator     bool                       `json:"isCoordinator"`
	Local             *ComputeNode               `json:"local"`
	Nodes             []*ComputeNode             `json:"nodes"`
	Plan              *protocol.DistributionPlan `json:"plan,omitempty"`
	TotalComputePower float64                    `json:"totalComputePower"`
	TotalMemoryMB     float64                    `json:"totalMemoryMB"`
	KnownNodes        int                        `json:"knownNodes"`
	ActiveNodes       int                        `json:"activeNodes"`
	ActiveTasks       int                        `json:"activeTasks"`
	Health            Health                     `json:"health"`
}
