// Package storage 定义持久化存储层抽象接口
//
// 设计原则：依赖倒置 (DIP)
//   - 调用方只依赖接口，不知道具体实现
//   - 具体实现在子包中：mongostore/（主力）、sqlitestore/（单机嵌入式）
//   - 初始化时通过依赖注入传入实现
//
// 注意：缓存、事件总线、队列在独立包中：
//   - cache/：Agent 隔离缓存接口
//   - eventbus/：任务事件总线接口
//   - queue/：摄取队列接口
package storage

import (
	"context"
	"time"

	"knowledge-engine/internal/shared/model"
)

// ============================================================================
// MemoryStore - 知识块存储接口
// ============================================================================

// MemoryStore 知识块存储接口
//
// 向量检索与关键词检索是混合检索器消费的两个查询原语，
// 均按 agentID 做强制隔离。
type MemoryStore interface {
	// InsertChunk 写入单个知识块，返回其 ID
	// 同一 Agent 下 (content_version, content_hash) 不一致时返回 ErrVersionCorruption
	InsertChunk(ctx context.Context, chunk *model.Chunk) (string, error)

	// VectorQuery 按余弦相似度返回 top-k 命中（相似度归一化到 [0,1]）
	VectorQuery(ctx context.Context, agentID string, queryVec []float32, k int) ([]*model.RetrievalResult, error)

	// KeywordQuery 按关键词命中返回 top-k（词项来自停用词过滤后的问题）
	KeywordQuery(ctx context.Context, agentID string, terms []string, k int) ([]*model.RetrievalResult, error)

	// HighestVersion 返回该 Agent 已分配的最高内容版本，无数据时为 0
	HighestVersion(ctx context.Context, agentID string) (int, error)

	// FindByHash 按内容指纹查找既有块，不存在时返回 (nil, nil)
	FindByHash(ctx context.Context, agentID, hash string) (*model.Chunk, error)

	// DeleteAgentChunks 删除该 Agent 的全部知识块（重训练），返回删除数量
	DeleteAgentChunks(ctx context.Context, agentID string) (int64, error)

	// CountChunks 统计该 Agent 的知识块数量
	CountChunks(ctx context.Context, agentID string) (int64, error)
}

// ============================================================================
// JobStore - 摄取任务存储接口
// ============================================================================

// JobStore 摄取任务存储接口
//
// UpdateJob 通过 model.Job.Apply 做状态机与单调性校验，
// 终态不可逆由存储层兜底保证（并发更新返回 ErrConflict）。
type JobStore interface {
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	UpdateJob(ctx context.Context, id string, patch *model.JobPatch) (*model.Job, error)

	// ListStaleJobs 返回 processing 状态且心跳早于 cutoff 的任务（看门狗消费）
	ListStaleJobs(ctx context.Context, cutoff time.Time) ([]*model.Job, error)
}

// ============================================================================
// AgentStore - Agent 元数据接口
// ============================================================================

// AgentStore Agent 元数据读取接口
//
// 元数据由外部系统维护，本引擎只读；Upsert 仅供部署初始化和测试使用。
type AgentStore interface {
	// GetAgentMetadata 读取元数据并填充缺省值，不存在时返回 (nil, nil)
	GetAgentMetadata(ctx context.Context, agentID string) (*model.AgentMetadata, error)
	UpsertAgentMetadata(ctx context.Context, meta *model.AgentMetadata) error
}

// ============================================================================
// 组合接口
// ============================================================================

// Store 持久化存储组合接口
type Store interface {
	MemoryStore
	JobStore
	AgentStore
	Close() error
}
