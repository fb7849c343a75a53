// Package cache 缓存层类型定义
package cache

import (
	"time"

	"knowledge-engine/internal/shared/model"
)

// ============================================================================
// 缓存数据类型
// ============================================================================

// CachedAnswer 缓存的问答条目
type CachedAnswer struct {
	ID                string            `json:"id"`
	Question          string            `json:"question"`
	QuestionEmbedding []float32         `json:"question_embedding"`
	Answer            string            `json:"answer"`
	Sources           []model.SourceRef `json:"sources,omitempty"`
	Confidence        float64           `json:"confidence"`
	CreatedAt         time.Time         `json:"created_at"`
}

// CachedContext 缓存的检索上下文条目
type CachedContext struct {
	QuestionHash string    `json:"question_hash"`
	ChunkIDs     []string  `json:"chunk_ids"`
	Context      string    `json:"context"`
	CreatedAt    time.Time `json:"created_at"`
}

// ============================================================================
// Key 前缀和 TTL 常量
// ============================================================================

const (
	// Key 前缀（均以 agentID 作为命名空间段）
	KeyEmbedding = "embedding:" // embedding:{agentId}:{textHash}
	KeyAnswers   = "answers:"   // answers:{agentId}
	KeyContexts  = "contexts:"  // contexts:{agentId}

	// TTL 常量
	TTLEmbedding = 24 * time.Hour
	TTLAnswers   = 1 * time.Hour
	TTLContexts  = 30 * time.Minute

	// MaxCacheSize 答案/上下文列表上界（最旧先逐出）
	MaxCacheSize = 100

	// DefaultSimilarityThreshold 答案复用的余弦相似度阈值
	DefaultSimilarityThreshold = 0.85
)
