// Package redis IngestQueue 操作
package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"knowledge-engine/internal/shared/queue"
)

// EnqueueIngest 将摄取任务加入队列（等待工作进程认领）
func (s *Store) EnqueueIngest(ctx context.Context, jobID, agentID string) (string, error) {
	args := &redis.XAddArgs{
		Stream: queue.KeyIngestJobs,
		MaxLen: queue.MaxIngestStreamLength,
		Approx: true,
		Values: map[string]interface{}{
			"job_id":     jobID,
			"agent_id":   agentID,
			"created_at": time.Now().Format(time.RFC3339Nano),
		},
	}

	return s.client.XAdd(ctx, args).Result()
}

// CreateIngestConsumerGroup 创建摄取消费者组
func (s *Store) CreateIngestConsumerGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, queue.KeyIngestJobs, queue.IngestConsumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return err
	}
	return nil
}

// ConsumeIngest 消费摄取队列中的任务
func (s *Store) ConsumeIngest(ctx context.Context, consumerID string, count int64, blockTimeout time.Duration) ([]*queue.IngestMessage, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    queue.IngestConsumerGroup,
		Consumer: consumerID,
		Streams:  []string{queue.KeyIngestJobs, ">"},
		Count:    count,
		Block:    blockTimeout,
	}).Result()

	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var messages []*queue.IngestMessage
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			m := &queue.IngestMessage{
				ID: msg.ID,
			}
			if jobID, ok := msg.Values["job_id"].(string); ok {
				m.JobID = jobID
			}
			if agentID, ok := msg.Values["agent_id"].(string); ok {
				m.AgentID = agentID
			}
			if createdAt, ok := msg.Values["created_at"].(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
					m.CreatedAt = t
				}
			}
			messages = append(messages, m)
		}
	}

	return messages, nil
}

// AckIngest 确认摄取消息已处理
func (s *Store) AckIngest(ctx context.Context, messageID string) error {
	return s.client.XAck(ctx, queue.KeyIngestJobs, queue.IngestConsumerGroup, messageID).Err()
}

// GetIngestQueueLength 获取摄取队列长度
func (s *Store) GetIngestQueueLength(ctx context.Context) (int64, error) {
	return s.client.XLen(ctx, queue.KeyIngestJobs).Result()
}

// GetIngestPendingCount 获取未确认消息数量
func (s *Store) GetIngestPendingCount(ctx context.Context) (int64, error) {
	pending, err := s.client.XPending(ctx, queue.KeyIngestJobs, queue.IngestConsumerGroup).Result()
	if err != nil {
		return 0, err
	}
	return pending.Count, nil
}

// 确保 Store 实现了 queue.Queue 接口
var _ queue.Queue = (*Store)(nil)
