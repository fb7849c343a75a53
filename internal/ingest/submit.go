package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"knowledge-engine/internal/shared/model"
	"knowledge-engine/internal/shared/queue"
	"knowledge-engine/internal/shared/storage"
)

// ErrNoSources 摄取请求不含任何来源
var ErrNoSources = errors.New("ingestion request has no sources")

// Submitter 摄取任务受理器：落库 + 入队，立即返回 jobID
type Submitter struct {
	store storage.JobStore
	queue queue.IngestQueue
}

// NewSubmitter 创建受理器
func NewSubmitter(store storage.JobStore, q queue.IngestQueue) *Submitter {
	return &Submitter{store: store, queue: q}
}

// Submit 受理一次摄取请求。
// 任务先落库（queued）再入队；入队失败时把任务标记失败，
// 保证不存在"已入队但无任务记录"的消息。
func (s *Submitter) Submit(ctx context.Context, agentID string, sources []model.IngestSource) (*model.Job, error) {
	if len(sources) == 0 {
		return nil, ErrNoSources
	}
	var fileNames []string
	for i, src := range sources {
		if !src.Source.Valid() {
			return nil, fmt.Errorf("source %d: unknown source type %q", i, src.Source)
		}
		if src.Text == "" && src.ObjectKey == "" {
			return nil, fmt.Errorf("source %d: neither inline text nor object key provided", i)
		}
		if src.FileName != "" {
			fileNames = append(fileNames, src.FileName)
		}
	}

	now := time.Now()
	job := &model.Job{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Sources:   sources,
		Status:    model.JobQueued,
		FileNames: fileNames,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if _, err := s.queue.EnqueueIngest(ctx, job.ID, agentID); err != nil {
		msg := fmt.Sprintf("failed to enqueue: %v", err)
		status := model.JobFailed
		if _, patchErr := s.store.UpdateJob(ctx, job.ID, &model.JobPatch{
			Status: &status,
			Error:  &msg,
		}); patchErr != nil {
			return nil, fmt.Errorf("failed to enqueue job %s (and failed to mark it failed: %v): %w", job.ID, patchErr, err)
		}
		return nil, fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	return job, nil
}
