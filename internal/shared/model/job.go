// Package model 定义核心数据模型
//
// job.go 包含摄取任务相关的数据模型定义：
//   - Job：异步摄取任务
//   - JobStatus：任务状态枚举
//   - JobPatch：任务状态更新补丁
//
// 状态机：
//
//	queued → processing → completed
//	                    → failed
//
// 终态不可逆：completed/failed 之后任何状态迁移都被拒绝。
// Progress 与各计数器单调不减。
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// JobStatus - 任务状态枚举
// ============================================================================

// JobStatus 摄取任务状态
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal 判断是否为终态
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// canTransition 合法状态迁移表
func (s JobStatus) canTransition(to JobStatus) bool {
	switch s {
	case JobQueued:
		return to == JobProcessing || to == JobFailed
	case JobProcessing:
		return to == JobCompleted || to == JobFailed
	default:
		return false
	}
}

// ============================================================================
// Job - 异步摄取任务
// ============================================================================

// IngestSource 摄取请求中的单个来源（内联文本或对象存储键，二选一）
type IngestSource struct {
	Source    ChunkSource `json:"source" bson:"source"`
	SourceURL string      `json:"source_url,omitempty" bson:"source_url,omitempty"`
	FileName  string      `json:"file_name,omitempty" bson:"file_name,omitempty"`
	Text      string      `json:"text,omitempty" bson:"text,omitempty"`
	ObjectKey string      `json:"object_key,omitempty" bson:"object_key,omitempty"`
}

// Job 异步摄取任务
//
// 由摄取请求创建（初始 queued），仅由摄取流水线驱动状态变化。
// Sources 在创建时固定，之后不再修改。
// 部分成功可见：失败任务保留已提交的 SuccessCount/ErrorCount。
type Job struct {
	ID              string          `json:"job_id" bson:"_id"`
	AgentID         string          `json:"agent_id" bson:"agent_id"`
	Sources         []IngestSource  `json:"sources,omitempty" bson:"sources,omitempty"`
	Status          JobStatus       `json:"status" bson:"status"`
	Progress        int             `json:"progress" bson:"progress"` // 0-100
	FileNames       []string        `json:"file_names,omitempty" bson:"file_names,omitempty"`
	ChunksProcessed int             `json:"chunks_processed" bson:"chunks_processed"`
	TotalChunks     int             `json:"total_chunks" bson:"total_chunks"`
	SuccessCount    int             `json:"success_count" bson:"success_count"`
	ErrorCount      int             `json:"error_count" bson:"error_count"`
	SkippedCount    int             `json:"skipped_count" bson:"skipped_count"`
	Error           string          `json:"error,omitempty" bson:"error,omitempty"`
	Result          json.RawMessage `json:"result,omitempty" bson:"result,omitempty"`
	CreatedAt       time.Time       `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" bson:"updated_at"`
	// HeartbeatAt 工作进程最近一次心跳时间，超时看门狗据此判定僵死任务
	HeartbeatAt time.Time `json:"heartbeat_at,omitempty" bson:"heartbeat_at,omitempty"`
}

// JobPatch 任务状态更新补丁
//
// nil 字段表示不更新。Apply 前会做状态机与单调性校验。
type JobPatch struct {
	Status          *JobStatus      `json:"status,omitempty" bson:"status,omitempty"`
	Progress        *int            `json:"progress,omitempty" bson:"progress,omitempty"`
	ChunksProcessed *int            `json:"chunks_processed,omitempty" bson:"chunks_processed,omitempty"`
	TotalChunks     *int            `json:"total_chunks,omitempty" bson:"total_chunks,omitempty"`
	SuccessCount    *int            `json:"success_count,omitempty" bson:"success_count,omitempty"`
	ErrorCount      *int            `json:"error_count,omitempty" bson:"error_count,omitempty"`
	SkippedCount    *int            `json:"skipped_count,omitempty" bson:"skipped_count,omitempty"`
	Error           *string         `json:"error,omitempty" bson:"error,omitempty"`
	Result          json.RawMessage `json:"result,omitempty" bson:"result,omitempty"`
	Heartbeat       bool            `json:"-" bson:"-"`
}

// Apply 将补丁应用到 Job，校验状态机与单调性
//
// 返回错误时 Job 保持不变。规则：
//   - 终态不可再迁移
//   - Progress 及各计数器不允许回退
func (j *Job) Apply(p *JobPatch, now time.Time) error {
	if p.Status != nil && *p.Status != j.Status {
		if j.Status.Terminal() {
			return fmt.Errorf("job %s: illegal transition %s -> %s: terminal state is final", j.ID, j.Status, *p.Status)
		}
		if !j.Status.canTransition(*p.Status) {
			return fmt.Errorf("job %s: illegal transition %s -> %s", j.ID, j.Status, *p.Status)
		}
	}
	if p.Progress != nil && *p.Progress < j.Progress {
		return fmt.Errorf("job %s: progress must be non-decreasing (%d -> %d)", j.ID, j.Progress, *p.Progress)
	}
	if p.ChunksProcessed != nil && *p.ChunksProcessed < j.ChunksProcessed {
		return fmt.Errorf("job %s: chunks_processed must be non-decreasing", j.ID)
	}
	if p.SuccessCount != nil && *p.SuccessCount < j.SuccessCount {
		return fmt.Errorf("job %s: success_count must be non-decreasing", j.ID)
	}
	if p.ErrorCount != nil && *p.ErrorCount < j.ErrorCount {
		return fmt.Errorf("job %s: error_count must be non-decreasing", j.ID)
	}
	if p.SkippedCount != nil && *p.SkippedCount < j.SkippedCount {
		return fmt.Errorf("job %s: skipped_count must be non-decreasing", j.ID)
	}

	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.Progress != nil {
		j.Progress = *p.Progress
	}
	if p.ChunksProcessed != nil {
		j.ChunksProcessed = *p.ChunksProcessed
	}
	if p.TotalChunks != nil {
		j.TotalChunks = *p.TotalChunks
	}
	if p.SuccessCount != nil {
		j.SuccessCount = *p.SuccessCount
	}
	if p.ErrorCount != nil {
		j.ErrorCount = *p.ErrorCount
	}
	if p.SkippedCount != nil {
		j.SkippedCount = *p.SkippedCount
	}
	if p.Error != nil {
		j.Error = *p.Error
	}
	if p.Result != nil {
		j.Result = p.Result
	}
	if p.Heartbeat {
		j.HeartbeatAt = now
	}
	j.UpdatedAt = now
	return nil
}

// Stale 判断 processing 任务心跳是否超时
func (j *Job) Stale(now time.Time, staleAfter time.Duration) bool {
	if j.Status != JobProcessing {
		return false
	}
	last := j.HeartbeatAt
	if last.IsZero() {
		last = j.UpdatedAt
	}
	return now.Sub(last) > staleAfter
}
