package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/ulfberto/zerocloud/internal/compute/protocol"
	"github.com/ulfberto/zerocloud/internal/compute/task"
)

const (
	taskKeyPrefix = "zerocloud:task:"
	taskIndexKey  = "zerocloud:tasks"
)

// RedisStore Redis存储实现
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore 创建Redis存储实例
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// SaveTask 保存任务快照
func (s *RedisStore) SaveTask(ctx context.Context, t *task.Task, ttl time.Duration) error {
	data, err := json.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "failed to marshal task")
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, taskKeyPrefix+t.ID, data, ttl)
	pipe.ZAdd(ctx, taskIndexKey, redis.Z{Score: float64(t.CreatedAt.UnixNano()), Member: t.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to save task")
	}
	return nil
}

// GetTask 获取任务快照
func (s *RedisStore) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	data, err := s.client.Get(ctx, taskKeyPrefix+taskID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, protocol.ErrUnknownTask
		}
		return nil, errors.Wrap(err, "failed to get task")
	}

	var t task.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal task")
	}
	return &t, nil
}

// DeleteTask 删除任务快照
func (s *RedisStore) DeleteTask(ctx context.Context, taskID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, taskKeyPrefix+taskID)
	pipe.ZRem(ctx, taskIndexKey, taskID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to delete task")
	}
	return nil
}

// ListTasks 列出最近的任务；已过期的索引项顺带清理
func (s *RedisStore) ListTasks(ctx context.Context, limit int) ([]*task.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.client.ZRevRange(ctx, taskIndexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tasks")
	}

	tasks := make([]*task.Task, 0, len(ids))
	var expired []interface{}
	for _, id := range ids {
		t, err := s.GetTask(ctx, id)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownTask) {
				expired = append(expired, id)
				continue
			}
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if len(expired) > 0 {
		if err := s.client.ZRem(ctx, taskIndexKey, expired...).Err(); err != nil {
			return nil, errors.Wrap(err, "failed to prune task index")
		}
	}
	return tasks, nil
}

// Close 关闭Redis连接
func (s *RedisStore) Close() error {
	return s.client.Close()
}
