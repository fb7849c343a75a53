// Package model 定义核心数据模型
//
// retrieval.go 包含检索相关的临时数据结构：
//   - RetrievalResult：单个命中块及其评分
//   - MatchType：命中方式枚举
//   - RetrievalStats：一次检索的聚合元数据
//
// 这些结构只存在于单次查询的生命周期内，除写入响应/缓存外不落盘。
package model

// ============================================================================
// MatchType - 命中方式枚举
// ============================================================================

// MatchType 检索命中方式
type MatchType string

const (
	// MatchVector 仅向量检索命中
	MatchVector MatchType = "vector"
	// MatchKeyword 仅关键词检索命中
	MatchKeyword MatchType = "keyword"
	// MatchBoth 两种检索同时命中（语义得分优先）
	MatchBoth MatchType = "both"
)

// ============================================================================
// RetrievalResult - 检索命中
// ============================================================================

// RetrievalResult 单个命中块及其评分
type RetrievalResult struct {
	Chunk *Chunk `json:"chunk"`

	// Similarity 原始相似度（向量命中为余弦相似度，[0,1]）
	Similarity float64 `json:"similarity"`

	// Confidence 融合置信度（相似度与命中方式的单调组合，[0,1]）
	Confidence float64 `json:"confidence"`

	// MatchType 命中方式
	MatchType MatchType `json:"match_type"`
}

// RetrievalStats 一次检索的聚合元数据
type RetrievalStats struct {
	ChunksSearched    int     `json:"chunks_searched"`
	ChunksFiltered    int     `json:"chunks_filtered"`
	AverageSimilarity float64 `json:"average_similarity"`
	RetrievalTimeMs   int64   `json:"retrieval_time_ms"`
}

// SourceRef 响应中携带的单条来源引用
type SourceRef struct {
	Source     ChunkSource `json:"source"`
	SourceURL  string      `json:"source_url,omitempty"`
	ChunkIndex int         `json:"chunk_index"`
	Confidence float64     `json:"confidence"`
	Similarity float64     `json:"similarity"`
}
