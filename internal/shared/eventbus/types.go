// Package eventbus 事件类型定义
package eventbus

import (
	"fmt"
	"time"

	"knowledge-engine/internal/shared/model"
)

// JobEvent 任务进度事件
type JobEvent struct {
	JobID         string          `json:"job_id"`
	AgentID       string          `json:"agent_id"`
	Status        model.JobStatus `json:"status"`
	Progress      int             `json:"progress"`
	ChunksCreated int             `json:"chunks_created"`
	ChunksSkipped int             `json:"chunks_skipped"`
	Error         string          `json:"error,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// ChannelForJob 返回任务事件的发布通道名
func ChannelForJob(jobID string) string {
	return fmt.Sprintf("jobs:events:%s", jobID)
}
