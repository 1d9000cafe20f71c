package storage

import (
	"context"
	"time"

	"github.com/ulfberto/zerocloud/internal/compute/task"
)

// TaskStore 任务快照存储接口
type TaskStore interface {
	// 保存任务快照（覆盖）
	SaveTask(ctx context.Context, t *task.Task, ttl time.Duration) error

	// 获取任务快照，不存在时返回 protocol.ErrUnknownTask
	GetTask(ctx context.Context, taskID string) (*task.Task, error)

	// 删除任务快照
	DeleteTask(ctx context.Context, taskID string) error

	// 按创建时间倒序列出最近的任务
	ListTasks(ctx context.Context, limit int) ([]*task.Task, error)
}
