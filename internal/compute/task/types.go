package task

import (
	"time"

	"github.com/ulfberto/zerocloud/internal/compute/protocol"
)

// Stage 流水线阶段
type Stage struct {
	Index        int                  `json:"index"`
	NodeID       string               `json:"nodeId"`
	Units        []int                `json:"units"`
	InputTensor  string               `json:"inputTensor,omitempty"`
	OutputTensor string               `json:"outputTensor,omitempty"`
	Status       protocol.StageStatus `json:"status"`
	StartedAt    *time.Time           `json:"startedAt,omitempty"`
	EndedAt      *time.Time           `json:"endedAt,omitempty"`
}

// StageEvent is one applied stage transition.
type StageEvent struct {
	Index  int                  `json:"index"`
	Status protocol.StageStatus `json:"status"`
	NodeID string               `json:"nodeId"`
	At     time.Time            `json:"at"`
}

// Execution paths recorded on a task.
const (
	PathDistributed = "distributed"
	PathLocal       = "local"
)

// Task 分布式任务，只由发起节点持有
type Task struct {
	ID          string              `json:"id"`
	TargetID    string              `json:"targetId"`
	Input       []byte              `json:"input,omitempty"`
	Stages      []Stage             `json:"stages"`
	History     []StageEvent        `json:"history,omitempty"`
	Status      protocol.TaskStatus `json:"status"`
	Path        string              `json:"path,omitempty"` // distributed or local
	CreatedAt   time.Time           `json:"createdAt"`
	CompletedAt *time.Time          `json:"completedAt,omitempty"`
	Result      string              `json:"result,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// Finished reports whether the task reached a terminal status.
func (t *Task) Finished() bool {
	return t.Status == protocol.TaskStatusCompleted || t.Status == protocol.TaskStatusFailed
}

func (t *Task) clone() *Task {
	c := *t
	c.Input = append([]byte(nil), t.Input...)
	c.Stages = make([]Stage, len(t.Stages))
	for i, s := range t.Stages {
		s.Units = append([]int(nil), s.Units...)
		c.Stages[i] = s
	}
	c.History = append([]StageEvent(nil), t.History...)
	return &c
}

// Outcome is what a pending continuation resolves with.
type Outcome struct {
	Result string
	Data   []byte
	Err    error
}

// StageUpdate describes a reported stage transition.
type StageUpdate struct {
	Index        int
	Status       protocol.StageStatus
	NodeID       string
	InputTensor  string
	OutputTensor string
}

// stageRank orders stage statuses; updates may only move forward.
func stageRank(s protocol.StageStatus) int {
	switch s {
	case protocol.StageStatusPending:
		return 0
	case protocol.StageStatusComputing:
		return 1
	case protocol.StageStatusCompleted, protocol.StageStatusFailed:
		return 2
	default:
		return -1
	}
}
