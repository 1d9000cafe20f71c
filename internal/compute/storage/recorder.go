package storage

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/ulfberto/zerocloud/internal/compute/task"
)

// Recorder persists registry snapshots on a single goroutine so writes
// keep the order in which the registry produced them.
type Recorder struct {
	store TaskStore
	ttl   time.Duration
	queue chan *task.Task
}

// NewRecorder creates a recorder with a bounded queue.
func NewRecorder(store TaskStore, ttl time.Duration, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Recorder{store: store, ttl: ttl, queue: make(chan *task.Task, queueSize)}
}

// Observe enqueues a snapshot without blocking; it is a task.Observer.
func (r *Recorder) Observe(t *task.Task) {
	select {
	case r.queue <- t:
	default:
		log.Warn().Str("task_id", t.ID).Msg("Task snapshot queue full, dropping snapshot")
	}
}

// Run drains the queue until ctx is done, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case t := <-r.queue:
			r.save(ctx, t)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			for {
				select {
				case t := <-r.queue:
					r.save(flushCtx, t)
				default:
					cancel()
					return
				}
			}
		}
	}
}

func (r *Recorder) save(ctx context.Context, t *task.Task) {
	if err := r.store.SaveTask(ctx, t, r.ttl); err != nil {
		log.Error().Err(err).Str("task_id", t.ID).Msg("Failed to save task snapshot")
	}
}
