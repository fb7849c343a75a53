// Package cache 缓存层抽象接口
//
// mock.go 提供用于测试的实现：
//   - MemCache：带真实语义的内存缓存（有界列表、相似度复用、命名空间失效）
//   - NoOpCache：空操作实现（缓存旁路场景）
package cache

import (
	"context"
	"sync"

	"knowledge-engine/internal/shared/vectors"
)

// ============================================================================
// MemCache - 内存缓存（用于测试）
// ============================================================================

// MemCache 内存缓存实现
type MemCache struct {
	mu         sync.RWMutex
	embeddings map[string][]float32        // "{agentId}:{textHash}" -> vec
	answers    map[string][]*CachedAnswer  // agentID -> 新→旧
	contexts   map[string][]*CachedContext // agentID -> 新→旧
}

// NewMemCache 创建内存缓存实例
func NewMemCache() *MemCache {
	return &MemCache{
		embeddings: make(map[string][]float32),
		answers:    make(map[string][]*CachedAnswer),
		contexts:   make(map[string][]*CachedContext),
	}
}

func (c *MemCache) Close() error { return nil }

func (c *MemCache) GetEmbedding(ctx context.Context, agentID, textHash string) ([]float32, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.embeddings[agentID+":"+textHash], nil
}

func (c *MemCache) SetEmbedding(ctx context.Context, agentID, textHash string, vec []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.embeddings[agentID+":"+textHash] = vec
	return nil
}

func (c *MemCache) FindSimilarAnswer(ctx context.Context, agentID string, questionVec []float32, threshold float64) (*CachedAnswer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var best *CachedAnswer
	bestSim := threshold
	for _, entry := range c.answers[agentID] {
		sim := vectors.CosineRaw(questionVec, entry.QuestionEmbedding)
		if sim >= bestSim {
			best = entry
			bestSim = sim
		}
	}
	return best, nil
}

func (c *MemCache) AppendAnswer(ctx context.Context, agentID string, entry *CachedAnswer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := append([]*CachedAnswer{entry}, c.answers[agentID]...)
	if len(list) > MaxCacheSize {
		list = list[:MaxCacheSize]
	}
	c.answers[agentID] = list
	return nil
}

func (c *MemCache) AppendContext(ctx context.Context, agentID string, entry *CachedContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := append([]*CachedContext{entry}, c.contexts[agentID]...)
	if len(list) > MaxCacheSize {
		list = list[:MaxCacheSize]
	}
	c.contexts[agentID] = list
	return nil
}

func (c *MemCache) ListContexts(ctx context.Context, agentID string) ([]*CachedContext, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*CachedContext(nil), c.contexts[agentID]...), nil
}

func (c *MemCache) InvalidateAgent(ctx context.Context, agentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := agentID + ":"
	for k := range c.embeddings {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.embeddings, k)
		}
	}
	delete(c.answers, agentID)
	delete(c.contexts, agentID)
	return nil
}

// AnswerCount 返回该 Agent 的答案条目数（测试辅助）
func (c *MemCache) AnswerCount(agentID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.answers[agentID])
}

// ============================================================================
// NoOpCache - 空操作实现
// ============================================================================

// NoOpCache 空操作缓存（缓存旁路）
type NoOpCache struct{}

// NewNoOpCache 创建 NoOpCache 实例
func NewNoOpCache() *NoOpCache { return &NoOpCache{} }

func (c *NoOpCache) Close() error { return nil }

func (c *NoOpCache) GetEmbedding(ctx context.Context, agentID, textHash string) ([]float32, error) {
	return nil, nil
}
func (c *NoOpCache) SetEmbedding(ctx context.Context, agentID, textHash string, vec []float32) error {
	return nil
}
func (c *NoOpCache) FindSimilarAnswer(ctx context.Context, agentID string, questionVec []float32, threshold float64) (*CachedAnswer, error) {
	return nil, nil
}
func (c *NoOpCache) AppendAnswer(ctx context.Context, agentID string, entry *CachedAnswer) error {
	return nil
}
func (c *NoOpCache) AppendContext(ctx context.Context, agentID string, entry *CachedContext) error {
	return nil
}
func (c *NoOpCache) ListContexts(ctx context.Context, agentID string) ([]*CachedContext, error) {
	return nil, nil
}
func (c *NoOpCache) InvalidateAgent(ctx context.Context, agentID string) error { return nil }

// 确保实现了 Cache 接口
var (
	_ Cache = (*MemCache)(nil)
	_ Cache = (*NoOpCache)(nil)
)
