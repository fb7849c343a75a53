// Package queue 内存队列实现（用于测试与单机模式）
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemQueue 内存摄取队列，保留与 Redis Streams 相同的消费者组语义：
// 消费后消息进入 pending 集合，直到 Ack 才真正移除。
type MemQueue struct {
	mu      sync.Mutex
	nextID  int
	ready   []*IngestMessage
	pending map[string]*IngestMessage
	notify  chan struct{}
}

// NewMemQueue 创建内存队列
func NewMemQueue() *MemQueue {
	return &MemQueue{
		pending: make(map[string]*IngestMessage),
		notify:  make(chan struct{}, 1),
	}
}

// EnqueueIngest 将摄取任务加入队列（等待工作进程认领）
func (q *MemQueue) EnqueueIngest(ctx context.Context, jobID, agentID string) (string, error) {
	q.mu.Lock()
	q.nextID++
	msg := &IngestMessage{
		ID:        fmt.Sprintf("%d-0", q.nextID),
		JobID:     jobID,
		AgentID:   agentID,
		CreatedAt: time.Now(),
	}
	q.ready = append(q.ready, msg)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return msg.ID, nil
}

// CreateIngestConsumerGroup 内存实现无需消费者组
func (q *MemQueue) CreateIngestConsumerGroup(ctx context.Context) error {
	return nil
}

// ConsumeIngest 消费摄取队列中的任务
func (q *MemQueue) ConsumeIngest(ctx context.Context, consumerID string, count int64, blockTimeout time.Duration) ([]*IngestMessage, error) {
	deadline := time.Now().Add(blockTimeout)
	for {
		q.mu.Lock()
		if len(q.ready) > 0 {
			n := int(count)
			if n <= 0 || n > len(q.ready) {
				n = len(q.ready)
			}
			batch := q.ready[:n]
			q.ready = q.ready[n:]
			for _, m := range batch {
				q.pending[m.ID] = m
			}
			q.mu.Unlock()
			return batch, nil
		}
		q.mu.Unlock()

		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
			return nil, nil
		}
	}
}

// AckIngest 确认摄取消息已处理
func (q *MemQueue) AckIngest(ctx context.Context, messageID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, messageID)
	return nil
}

// GetIngestQueueLength 获取摄取队列长度
func (q *MemQueue) GetIngestQueueLength(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.ready) + len(q.pending)), nil
}

// GetIngestPendingCount 获取未确认消息数量
func (q *MemQueue) GetIngestPendingCount(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.pending)), nil
}

// Close 关闭队列
func (q *MemQueue) Close() error {
	return nil
}

// 确保 MemQueue 实现了 Queue 接口
var _ Queue = (*MemQueue)(nil)
