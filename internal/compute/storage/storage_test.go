package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulfberto/zerocloud/internal/compute/protocol"
	"github.com/ulfberto/zerocloud/internal/compute/task"
)

func sampleTask(id string, created time.Time) *task.Task {
	return &task.Task{
		ID:        id,
		TargetID:  "model",
		Status:    protocol.TaskStatusRunning,
		CreatedAt: created,
		Stages: []task.Stage{
			{Index: 0, NodeID: "a", Units: []int{0, 1}, Status: protocol.StageStatusCompleted},
			{Index: 1, NodeID: "b", Units: []int{2}, Status: protocol.StageStatusComputing},
		},
	}
}

func TestMemoryStore_SaveGetExpire(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := time2.NewMockClock(now)
	store := NewMemoryStore(clock)

	require.NoError(t, store.SaveTask(ctx, sampleTask("t1", now), time.Minute))
	require.NoError(t, store.SaveTask(ctx, sampleTask("t2", now.Add(time.Second)), 0))

	got, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, protocol.TaskStatusRunning, got.Status)
	assert.Equal(t, []int{0, 1}, got.Stages[0].Units)

	list, err := store.ListTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "t2", list[0].ID, "newest first")

	clock.Advance(time.Minute)
	_, err = store.GetTask(ctx, "t1")
	assert.ErrorIs(t, err, protocol.ErrUnknownTask)

	list, err = store.ListTasks(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, store.DeleteTask(ctx, "t2"))
	_, err = store.GetTask(ctx, "t2")
	assert.ErrorIs(t, err, protocol.ErrUnknownTask)
}

func TestRecorder_PersistsInOrder(t *testing.T) {
	store := NewMemoryStore(nil)
	rec := NewRecorder(store, time.Minute, 8)

	registry := task.NewRegistry(nil, rec.Observe)
	_, err := registry.Create("t1", "model", nil, []protocol.Hop{{NodeID: "a", Units: []int{0}}})
	require.NoError(t, err)
	registry.MarkRunning("t1", "distributed")
	registry.Resolve("t1", task.Outcome{Result: "done"})

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(finished)
	}()

	assert.Eventually(t, func() bool {
		got, err := store.GetTask(context.Background(), "t1")
		return err == nil && got.Status == protocol.TaskStatusCompleted
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-finished

	got, err := store.GetTask(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "done", got.Result)
}

func TestRedisStoreIntegration(t *testing.T) {
	addr := os.Getenv("ZC_REDIS_ADDR_INTEGRATION")
	if addr == "" {
		t.Skip("set ZC_REDIS_ADDR_INTEGRATION to run Redis integration tests")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	store := NewRedisStore(client)

	id := "it-" + uuid.NewString()
	require.NoError(t, store.SaveTask(ctx, sampleTask(id, time.Now()), time.Minute))
	defer store.DeleteTask(ctx, id)

	got, err := store.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Len(t, got.Stages, 2)

	list, err := store.ListTasks(ctx, 100)
	require.NoError(t, err)
	found := false
	for _, snap := range list {
		if snap.ID == id {
			found = true
		}
	}
	assert.True(t, found)

	require.NoError(t, store.DeleteTask(ctx, id))
	_, err = store.GetTask(ctx, id)
	assert.ErrorIs(t, err, protocol.ErrUnknownTask)
}
