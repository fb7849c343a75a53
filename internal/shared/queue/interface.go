// Package queue 摄取队列抽象接口
//
// 提供摄取任务分发和消费的队列能力，当前由 Redis Streams 实现。
//
// 摄取请求只入队并立即返回 jobID，绝不阻塞等待完成；
// 实际处理由后台工作进程消费队列驱动。
package queue

import (
	"context"
	"time"
)

// ============================================================================
// 队列接口定义
// ============================================================================

// IngestQueue 摄取任务队列接口
type IngestQueue interface {
	// EnqueueIngest 将摄取任务加入队列（等待工作进程认领）
	EnqueueIngest(ctx context.Context, jobID, agentID string) (string, error)
	CreateIngestConsumerGroup(ctx context.Context) error
	ConsumeIngest(ctx context.Context, consumerID string, count int64, blockTimeout time.Duration) ([]*IngestMessage, error)
	AckIngest(ctx context.Context, messageID string) error
	GetIngestQueueLength(ctx context.Context) (int64, error)
	GetIngestPendingCount(ctx context.Context) (int64, error)
}

// ============================================================================
// 组合接口
// ============================================================================

// Queue 消息队列组合接口
type Queue interface {
	IngestQueue
	Close() error
}
