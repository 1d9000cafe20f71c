package storage

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/pkg/errors"
	"github.com/ulfberto/zerocloud/internal/compute/protocol"
	"github.com/ulfberto/zerocloud/internal/compute/task"
)

type memoryItem struct {
	data      []byte
	createdAt time.Time
	expiresAt time.Time
}

// MemoryStore keeps task snapshots in process, with the same TTL
// semantics as RedisStore.
type MemoryStore struct {
	mu    sync.Mutex
	clock time2.Clock
	items map[string]memoryItem
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(clock time2.Clock) *MemoryStore {
	if clock == nil {
		clock = time2.DefaultClock
	}
	return &MemoryStore{clock: clock, items: make(map[string]memoryItem)}
}

func (s *MemoryStore) SaveTask(_ context.Context, t *task.Task, ttl time.Duration) error {
	data, err := json.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "failed to marshal task")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item := memoryItem{data: data, createdAt: t.CreatedAt}
	if ttl > 0 {
		item.expiresAt = s.clock.Now().Add(ttl)
	}
	s.items[t.ID] = item
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, taskID string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[taskID]
	if !ok || s.expired(item) {
		delete(s.items, taskID)
		return nil, protocol.ErrUnknownTask
	}

	var t task.Task
	if err := json.Unmarshal(item.data, &t); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal task")
	}
	return &t, nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, taskID)
	return nil
}

func (s *MemoryStore) ListTasks(ctx context.Context, limit int) ([]*task.Task, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	type keyed struct {
		id        string
		createdAt time.Time
	}
	var live []keyed
	for id, item := range s.items {
		if s.expired(item) {
			delete(s.items, id)
			continue
		}
		live = append(live, keyed{id: id, createdAt: item.createdAt})
	}
	s.mu.Unlock()

	sort.Slice(live, func(i, j int) bool { return live[i].createdAt.After(live[j].createdAt) })
	if len(live) > limit {
		live = live[:limit]
	}

	tasks := make([]*task.Task, 0, len(live))
	for _, k := range live {
		t, err := s.GetTask(ctx, k.id)
		if err != nil {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (s *MemoryStore) expired(item memoryItem) bool {
	return !item.expiresAt.IsZero() && !s.clock.Now().Before(item.expiresAt)
}
