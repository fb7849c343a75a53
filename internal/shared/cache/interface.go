// Package cache Agent 隔离缓存层抽象接口
//
// 提供嵌入向量、答案和检索上下文的缓存能力，当前由 Redis 实现。
//
// 隔离不变量：所有 key 都以 agentID 作为命名空间，跨 Agent 读取在
// 接口层面即不可能发生——这是硬性隔离保证，不是约定。
package cache

import (
	"context"
)

// ============================================================================
// 缓存接口定义
// ============================================================================

// EmbeddingCache 嵌入向量缓存接口
type EmbeddingCache interface {
	// GetEmbedding 按文本指纹读取缓存向量，未命中返回 (nil, nil)
	GetEmbedding(ctx context.Context, agentID, textHash string) ([]float32, error)
	SetEmbedding(ctx context.Context, agentID, textHash string, vec []float32) error
}

// AnswerCache 答案缓存接口
//
// 答案按 Agent 维度保存为有界列表（最旧先逐出）。
// FindSimilarAnswer 将新问题的向量与缓存问题向量做余弦比较，
// 达到阈值即复用缓存答案。
type AnswerCache interface {
	FindSimilarAnswer(ctx context.Context, agentID string, questionVec []float32, threshold float64) (*CachedAnswer, error)
	AppendAnswer(ctx context.Context, agentID string, entry *CachedAnswer) error
}

// ContextCache 检索上下文缓存接口
type ContextCache interface {
	AppendContext(ctx context.Context, agentID string, entry *CachedContext) error
	ListContexts(ctx context.Context, agentID string) ([]*CachedContext, error)
}

// Invalidator 缓存失效接口
//
// 摄取成功后该 Agent 的检索相关内容已变化，整个命名空间必须失效。
type Invalidator interface {
	InvalidateAgent(ctx context.Context, agentID string) error
}

// ============================================================================
// 组合接口
// ============================================================================

// Cache 缓存组合接口
type Cache interface {
	EmbeddingCache
	AnswerCache
	ContextCache
	Invalidator
	Close() error
}
