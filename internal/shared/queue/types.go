// Package queue 队列类型定义
package queue

import "time"

// IngestMessage 摄取队列消息
type IngestMessage struct {
	ID        string    `json:"id"` // Stream 消息 ID
	JobID     string    `json:"job_id"`
	AgentID   string    `json:"agent_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Key 与消费者组常量
const (
	KeyIngestJobs         = "ingest:jobs"
	IngestConsumerGroup   = "ingest-workers"
	MaxIngestStreamLength = 10000
)
