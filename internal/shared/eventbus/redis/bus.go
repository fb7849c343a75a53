// Package redis Redis Pub/Sub 事件总线实现
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"knowledge-engine/internal/shared/eventbus"
)

// Bus Redis 事件总线
type Bus struct {
	client *redis.Client
}

// NewBusFromURL 从 URL 创建 Redis 事件总线
func NewBusFromURL(redisURL string) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("[Redis/EventBus] Connected to %s", opts.Addr)
	return &Bus{client: client}, nil
}

// NewBusFromClient 从现有 Redis 客户端创建事件总线
func NewBusFromClient(client *redis.Client) *Bus {
	return &Bus{client: client}
}

// PublishJobEvent 发布任务进度事件
func (b *Bus) PublishJobEvent(ctx context.Context, event *eventbus.JobEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}
	return b.client.Publish(ctx, eventbus.ChannelForJob(event.JobID), data).Err()
}

// SubscribeJobEvents 订阅指定任务的进度事件
func (b *Bus) SubscribeJobEvents(ctx context.Context, jobID string) (<-chan *eventbus.JobEvent, func(), error) {
	pubsub := b.client.Subscribe(ctx, eventbus.ChannelForJob(jobID))

	// 等待订阅确认，避免丢失紧随其后的事件
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to job events: %w", err)
	}

	out := make(chan *eventbus.JobEvent, 16)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var event eventbus.JobEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Printf("[Redis/EventBus] Dropping malformed job event: %v", err)
				continue
			}
			select {
			case out <- &event:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() { pubsub.Close() }
	return out, cancel, nil
}

// Close 关闭 Redis 连接
func (b *Bus) Close() error {
	return b.client.Close()
}

// 确保 Bus 实现了 eventbus.EventBus 接口
var _ eventbus.EventBus = (*Bus)(nil)
