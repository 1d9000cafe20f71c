package task

import (
	"sync"

	"github.com/dropbox/godropbox/time2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/ulfberto/zerocloud/internal/compute/protocol"
)

// Observer receives a snapshot after every change to a task.
type Observer func(t *Task)

type entry struct {
	task *Task
	done chan Outcome
}

// Registry holds the originator's pending tasks. Resolve, Reject and
// Cancel remove the entry, so each task settles exactly once and later
// results for the same id miss.
type Registry struct {
	mu       sync.Mutex
	clock    time2.Clock
	tasks    map[string]*entry
	observer Observer
}

// NewRegistry creates an empty registry. observer may be nil.
func NewRegistry(clock time2.Clock, observer Observer) *Registry {
	if clock == nil {
		clock = time2.DefaultClock
	}
	return &Registry{
		clock:    clock,
		tasks:    make(map[string]*entry),
		observer: observer,
	}
}

// Create registers a queued task with one pending stage per hop. The
// returned channel receives exactly one Outcome.
func (r *Registry) Create(id, targetID string, input []byte, route []protocol.Hop) (<-chan Outcome, error) {
	r.mu.Lock()
	if _, ok := r.tasks[id]; ok {
		r.mu.Unlock()
		return nil, protocol.NewDuplicateTaskError(id)
	}

	stages := make([]Stage, len(route))
	for i, hop := range route {
		stages[i] = Stage{
			Index:  i,
			NodeID: hop.NodeID,
			Units:  append([]int(nil), hop.Units...),
			Status: protocol.StageStatusPending,
		}
	}

	e := &entry{
		task: &Task{
			ID:        id,
			TargetID:  targetID,
			Input:     append([]byte(nil), input...),
			Stages:    stages,
			Status:    protocol.TaskStatusQueued,
			CreatedAt: r.clock.Now(),
		},
		done: make(chan Outcome, 1),
	}
	r.tasks[id] = e
	r.emit(e.task)
	r.mu.Unlock()

	log.Debug().Str("task_id", id).Int("stages", len(stages)).Msg("Task registered")
	return e.done, nil
}

// MarkRunning moves a queued task to running.
func (r *Registry) MarkRunning(id, path string) bool {
	r.mu.Lock()
	e, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	e.task.Status = protocol.TaskStatusRunning
	e.task.Path = path
	r.emit(e.task)
	r.mu.Unlock()
	return true
}

// UpdateStage applies a stage transition. Stale or backward updates are
// ignored. A stage entering computing implies every earlier stage has
// completed.
func (r *Registry) UpdateStage(id string, u StageUpdate) bool {
	r.mu.Lock()
	e, ok := r.tasks[id]
	if !ok || u.Index < 0 || u.Index >= len(e.task.Stages) || stageRank(u.Status) < 0 {
		r.mu.Unlock()
		return false
	}

	changed := false
	if stageRank(u.Status) >= stageRank(protocol.StageStatusComputing) {
		for i := 0; i < u.Index; i++ {
			changed = r.completeStage(e.task, i, "") || changed
		}
	}
	if u.Status == protocol.StageStatusCompleted {
		changed = r.applyStage(e.task, StageUpdate{Index: u.Index, Status: protocol.StageStatusComputing, NodeID: u.NodeID}) || changed
	}
	applied := r.applyStage(e.task, u)
	if applied || changed {
		r.emit(e.task)
	}
	r.mu.Unlock()
	return applied
}

// completeStage walks stage i through computing to completed unless it
// already finished.
func (r *Registry) completeStage(t *Task, i int, nodeID string) bool {
	if stageRank(t.Stages[i].Status) >= 2 {
		return false
	}
	r.applyStage(t, StageUpdate{Index: i, Status: protocol.StageStatusComputing, NodeID: nodeID})
	return r.applyStage(t, StageUpdate{Index: i, Status: protocol.StageStatusCompleted, NodeID: nodeID})
}

func (r *Registry) applyStage(t *Task, u StageUpdate) bool {
	s := &t.Stages[u.Index]
	if stageRank(u.Status) <= stageRank(s.Status) {
		return false
	}
	now := r.clock.Now()
	s.Status = u.Status
	if u.NodeID != "" {
		s.NodeID = u.NodeID
	}
	if u.InputTensor != "" {
		s.InputTensor = u.InputTensor
	}
	if u.OutputTensor != "" {
		s.OutputTensor = u.OutputTensor
	}
	switch u.Status {
	case protocol.StageStatusComputing:
		s.StartedAt = &now
	case protocol.StageStatusCompleted, protocol.StageStatusFailed:
		s.EndedAt = &now
	}
	t.History = append(t.History, StageEvent{Index: u.Index, Status: u.Status, NodeID: s.NodeID, At: now})
	return true
}

// Resolve completes the task with a result. It reports false when the
// task is unknown or already settled.
func (r *Registry) Resolve(id string, out Outcome) bool {
	r.mu.Lock()
	e, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.tasks, id)

	now := r.clock.Now()
	for i := range e.task.Stages {
		r.completeStage(e.task, i, "")
	}
	e.task.Status = protocol.TaskStatusCompleted
	e.task.CompletedAt = &now
	e.task.Result = out.Result
	r.emit(e.task)
	r.mu.Unlock()

	out.Err = nil
	e.done <- out
	return true
}

// Reject fails the task. It reports false when the task is unknown or
// already settled.
func (r *Registry) Reject(id string, err error) bool {
	r.mu.Lock()
	e, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.tasks, id)

	if err == nil {
		err = protocol.ErrStageFailure
	}
	now := r.clock.Now()
	var pe *protocol.Error
	if errors.As(err, &pe) && pe.Kind == protocol.KindStageFailure && pe.Stage >= 0 && pe.Stage < len(e.task.Stages) {
		r.applyStage(e.task, StageUpdate{Index: pe.Stage, Status: protocol.StageStatusFailed, NodeID: pe.PeerID})
	}
	e.task.Status = protocol.TaskStatusFailed
	e.task.CompletedAt = &now
	e.task.Error = err.Error()
	r.emit(e.task)
	r.mu.Unlock()

	e.done <- Outcome{Err: err}
	return true
}

// Cancel rejects the task with a cancellation error.
func (r *Registry) Cancel(id string) bool {
	return r.Reject(id, protocol.NewCancelledError(id))
}

// Get returns a copy of a pending task.
func (r *Registry) Get(id string) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tasks[id]
	if !ok {
		return nil, false
	}
	return e.task.clone(), true
}

// Active returns the number of pending tasks.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// emit runs with the lock held, so snapshots reach the observer in
// order. Observers must not block or call back into the registry.
func (r *Registry) emit(t *Task) {
	if r.observer != nil {
		r.observer(t.clone())
	}
}
