// Package model 定义核心数据模型
//
// chunk.go 包含知识块相关的数据模型定义：
//   - Chunk：知识块（检索的基本单元）
//   - ChunkSource：内容来源枚举
//   - ChunkMetadata：分块元数据
//
// 设计理念：
//   - 每个 Chunk 归属于一个 Agent，通过 (agent_id, content_hash) 去重
//   - ContentVersion 按 Agent 维度单调递增，永不复用
//   - Chunk 在摄取时创建，之后不可变
package model

import (
	"encoding/json"
	"strings"
	"time"
)

// EmbeddingDim 向量维度
//
// 与嵌入模型输出保持一致，所有写入存储的向量必须是该维度。
const EmbeddingDim = 768

// ============================================================================
// ChunkSource - 内容来源枚举
// ============================================================================

// ChunkSource 内容来源类型
type ChunkSource string

const (
	SourceDocument ChunkSource = "document"
	SourceWebsite  ChunkSource = "website"
	SourceYouTube  ChunkSource = "youtube"
	SourceAudio    ChunkSource = "audio"
	SourceVideo    ChunkSource = "video"
)

// Valid 判断来源类型是否合法
func (s ChunkSource) Valid() bool {
	switch s {
	case SourceDocument, SourceWebsite, SourceYouTube, SourceAudio, SourceVideo:
		return true
	}
	return false
}

// ============================================================================
// ChunkMetadata - 分块元数据
// ============================================================================

// ChunkMetadata 分块过程产生的位置和来源信息
type ChunkMetadata struct {
	TotalChunks   int    `json:"total_chunks" bson:"total_chunks"`
	ChunkSize     int    `json:"chunk_size" bson:"chunk_size"`
	StartPosition *int   `json:"start_position,omitempty" bson:"start_position,omitempty"`
	EndPosition   *int   `json:"end_position,omitempty" bson:"end_position,omitempty"`
	FileName      string `json:"file_name,omitempty" bson:"file_name,omitempty"`
	PageNumber    *int   `json:"page_number,omitempty" bson:"page_number,omitempty"`
	Timestamp     string `json:"timestamp,omitempty" bson:"timestamp,omitempty"`
	Section       string `json:"section,omitempty" bson:"section,omitempty"`
}

// ============================================================================
// Chunk - 知识块
// ============================================================================

// Chunk 知识块，检索的基本单元
//
// 不变量：
//   - (AgentID, ContentHash) 唯一确定一个版本类：相同 Agent 下相同内容
//     永不产生重复 Chunk
//   - ContentVersion 是该 Agent 下按首见顺序分配的 1 起始序号，
//     单调递增，永不复用或回退
type Chunk struct {
	// ID 唯一标识
	ID string `json:"id" bson:"_id"`

	// AgentID 所属 Agent（隔离边界）
	AgentID string `json:"agent_id" bson:"agent_id"`

	// Text 分块文本内容
	Text string `json:"text" bson:"text"`

	// Embedding 向量表示（EmbeddingDim 维）
	Embedding []float32 `json:"embedding,omitempty" bson:"embedding,omitempty"`

	// Source 内容来源类型
	Source ChunkSource `json:"source" bson:"source"`

	// SourceURL 来源地址（可选）
	SourceURL string `json:"source_url,omitempty" bson:"source_url,omitempty"`

	// ChunkIndex 分块序号（0 起始，按摄取顺序）
	ChunkIndex int `json:"chunk_index" bson:"chunk_index"`

	// ContentHash 内容指纹（规整化文本的 SHA-256 十六进制摘要）
	ContentHash string `json:"content_hash" bson:"content_hash"`

	// ContentVersion 内容版本（Agent 维度单调递增，1 起始）
	ContentVersion int `json:"content_version" bson:"content_version"`

	// Metadata 分块元数据
	Metadata ChunkMetadata `json:"chunk_metadata" bson:"chunk_metadata"`

	// SourceMetadata 来源附加元数据（可选，结构由提取器决定）
	SourceMetadata json.RawMessage `json:"source_metadata,omitempty" bson:"source_metadata,omitempty"`

	// CreatedAt 创建时间
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// HasEmbedding 判断是否携带向量
func (c *Chunk) HasEmbedding() bool {
	return len(c.Embedding) > 0
}

// NormalizedText 返回用于指纹计算的规整化文本
func (c *Chunk) NormalizedText() string {
	return strings.TrimSpace(c.Text)
}
