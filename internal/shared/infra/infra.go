// Package infra 基础设施聚合层
//
// 提供统一的基础设施初始化和依赖注入，包括：
//   - Storage：持久化存储（MongoDB 或嵌入式 SQLite）
//   - Cache：Agent 隔离缓存（Redis）
//   - EventBus：任务进度事件总线（Redis Pub/Sub）
//   - Queue：摄取任务队列（Redis Streams）
package infra

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"knowledge-engine/internal/shared/cache"
	cacheredis "knowledge-engine/internal/shared/cache/redis"
	"knowledge-engine/internal/shared/eventbus"
	busredis "knowledge-engine/internal/shared/eventbus/redis"
	"knowledge-engine/internal/shared/queue"
	queueredis "knowledge-engine/internal/shared/queue/redis"
	"knowledge-engine/internal/shared/storage"
)

// Infrastructure 基础设施聚合结构
type Infrastructure struct {
	// Storage 持久化存储（MongoDB 或 SQLite）
	Storage storage.Store

	// Cache Agent 隔离缓存（Redis）
	Cache cache.Cache

	// EventBus 任务进度事件总线（Redis）
	EventBus eventbus.EventBus

	// Queue 摄取任务队列（Redis）
	Queue queue.Queue

	// redisClient 三个 Redis 组件共享的底层连接，由 Close 统一释放
	redisClient *goredis.Client
}

// NewRedisInfrastructure 基于单个 Redis 连接构建缓存、事件总线和队列。
// Storage 由调用方按配置选择后注入。
func NewRedisInfrastructure(redisURL string, store storage.Store) (*Infrastructure, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("[Redis/Infra] Connected to %s", opts.Addr)

	return &Infrastructure{
		Storage:     store,
		Cache:       cacheredis.NewStoreFromClient(client),
		EventBus:    busredis.NewBusFromClient(client),
		Queue:       queueredis.NewStoreFromClient(client),
		redisClient: client,
	}, nil
}

// NewMemInfrastructure 创建纯内存的基础设施（用于测试与单机模式）
func NewMemInfrastructure() *Infrastructure {
	return &Infrastructure{
		Storage:  storage.NewMemStore(),
		Cache:    cache.NewMemCache(),
		EventBus: eventbus.NewMemBus(),
		Queue:    queue.NewMemQueue(),
	}
}

// Close 关闭所有基础设施连接
func (i *Infrastructure) Close() error {
	var lastErr error

	if i.Storage != nil {
		if err := i.Storage.Close(); err != nil {
			lastErr = err
		}
	}

	if i.redisClient != nil {
		// 缓存、事件总线和队列共享同一个连接，只关闭一次
		if err := i.redisClient.Close(); err != nil {
			lastErr = err
		}
		return lastErr
	}

	if i.Cache != nil {
		if err := i.Cache.Close(); err != nil {
			lastErr = err
		}
	}

	if i.EventBus != nil {
		if err := i.EventBus.Close(); err != nil {
			lastErr = err
		}
	}

	if i.Queue != nil {
		if err := i.Queue.Close(); err != nil {
			lastErr = err
		}
	}

	return lastErr
}
