// Package ingest 摄取流水线
//
// 流水线阶段：取文 → 切分 → 指纹去重/版本解析 → 嵌入 → 写入，
// 全程向任务存储写进度、向事件总线发进度事件。
// 任意阶段失败把任务标记 failed 并保留已提交的部分写入。
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"knowledge-engine/internal/config"
	"knowledge-engine/internal/engine/chunker"
	"knowledge-engine/internal/engine/dedup"
	"knowledge-engine/internal/provider"
	"knowledge-engine/internal/shared/cache"
	"knowledge-engine/internal/shared/eventbus"
	"knowledge-engine/internal/shared/model"
	"knowledge-engine/internal/shared/storage"
	"knowledge-engine/pkg/logging"
)

// maxSourceBytes 单个对象来源的读取上限
const maxSourceBytes = 16 << 20

// ObjectFetcher 对象存储取文接口（object 来源使用）
type ObjectFetcher interface {
	FetchSource(ctx context.Context, key string) (io.ReadCloser, error)
}

// Pipeline 摄取流水线
type Pipeline struct {
	store     storage.Store
	cache     cache.Cache
	bus       eventbus.Publisher
	versioner *dedup.Versioner
	provider  provider.Provider
	fetcher   ObjectFetcher // 可为 nil，此时 object 来源报错
	chunking  config.ChunkingConfig
	logger    *logging.Logger
}

// NewPipeline 创建摄取流水线
func NewPipeline(store storage.Store, c cache.Cache, bus eventbus.Publisher, p provider.Provider, fetcher ObjectFetcher, chunking config.ChunkingConfig) *Pipeline {
	return &Pipeline{
		store:     store,
		cache:     c,
		bus:       bus,
		versioner: dedup.NewVersioner(store),
		provider:  p,
		fetcher:   fetcher,
		chunking:  chunking,
		logger:    logging.Default("ingest"),
	}
}

// Run 处理一个已入队的任务。
// 返回错误仅表示任务无法被认领（例如已被看门狗标记失败）；
// 处理中的业务失败会落到任务状态上，不向上冒泡。
func (p *Pipeline) Run(ctx context.Context, jobID string) error {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job == nil {
		return fmt.Errorf("job %s not found", jobID)
	}

	log := p.logger.WithJobID(jobID).WithAgentID(job.AgentID)

	// 认领：queued → processing。认领失败说明任务已被处理或已终结。
	claimed, err := p.patch(ctx, job, &model.JobPatch{Status: statusPtr(model.JobProcessing), Heartbeat: true})
	if err != nil {
		log.WithError(err).Warn("failed to claim job, skipping")
		return err
	}
	job = claimed
	log.IngestLog("claimed", job.ID, job.AgentID)

	if err := p.process(ctx, job, log); err != nil {
		p.fail(ctx, job, err, log)
		return nil
	}
	return nil
}

// process 执行全部流水线阶段，返回错误表示任务失败
func (p *Pipeline) process(ctx context.Context, job *model.Job, log *logging.Logger) error {
	// 阶段 1：取文 + 切分
	type sourcePieces struct {
		src    model.IngestSource
		pieces []chunker.Piece
	}
	var all []sourcePieces
	total := 0
	for _, src := range job.Sources {
		text, err := p.extract(ctx, src)
		if err != nil {
			return fmt.Errorf("extraction failed for %s: %w", src.FileName, err)
		}
		pieces := chunker.Split(text, chunker.Options{
			MaxLength: p.chunking.MaxLength,
			Overlap:   p.chunking.Overlap,
		})
		total += len(pieces)
		all = append(all, sourcePieces{src: src, pieces: pieces})
	}

	job, err := p.patch(ctx, job, &model.JobPatch{TotalChunks: &total, Heartbeat: true})
	if err != nil {
		return err
	}

	// 阶段 2：逐块嵌入 + 去重写入
	processed, success, skipped, failed := 0, 0, 0, 0
	for _, sp := range all {
		for _, piece := range sp.pieces {
			processed++

			res, chunkErr := p.ingestPiece(ctx, job.AgentID, sp.src, piece)
			switch {
			case chunkErr == nil && res.Duplicate:
				skipped++
			case chunkErr == nil:
				success++
			case errors.Is(chunkErr, provider.ErrProviderExhausted):
				// 终态错误：继续处理也只会失败
				return chunkErr
			case errors.Is(chunkErr, storage.ErrVersionCorruption):
				return chunkErr
			default:
				failed++
				log.WithError(chunkErr).Warn("chunk ingestion failed", "chunk_index", piece.Index)
			}

			progress := 0
			if total > 0 {
				progress = processed * 100 / total
			}
			job, err = p.patch(ctx, job, &model.JobPatch{
				Progress:        &progress,
				ChunksProcessed: &processed,
				SuccessCount:    &success,
				ErrorCount:      &failed,
				SkippedCount:    &skipped,
				Heartbeat:       true,
			})
			if err != nil {
				return err
			}
		}
	}

	// 阶段 3：完结 + 缓存失效
	result, _ := json.Marshal(map[string]int{
		"chunks_created": success,
		"chunks_skipped": skipped,
		"chunks_failed":  failed,
	})
	hundred := 100
	job, err = p.patch(ctx, job, &model.JobPatch{
		Status:   statusPtr(model.JobCompleted),
		Progress: &hundred,
		Result:   result,
	})
	if err != nil {
		return err
	}

	if success > 0 {
		if err := p.cache.InvalidateAgent(ctx, job.AgentID); err != nil {
			log.WithError(err).Warn("cache invalidation failed after ingestion")
		}
	}

	log.IngestLog("completed", job.ID, job.AgentID,
		"chunks_created", success, "chunks_skipped", skipped, "chunks_failed", failed)
	return nil
}

// ingestPiece 嵌入并写入单个片段
func (p *Pipeline) ingestPiece(ctx context.Context, agentID string, src model.IngestSource, piece chunker.Piece) (dedup.Resolution, error) {
	vec, err := p.provider.Embed(ctx, piece.Text)
	if err != nil {
		return dedup.Resolution{}, err
	}

	now := time.Now()
	chunk := &model.Chunk{
		AgentID:     agentID,
		Text:        piece.Text,
		Embedding:   vec,
		Source:      src.Source,
		SourceURL:   src.SourceURL,
		ChunkIndex:  piece.Index,
		ContentHash: dedup.Fingerprint(piece.Text),
		Metadata: model.ChunkMetadata{
			TotalChunks:   piece.Total,
			ChunkSize:     piece.Size(),
			StartPosition: &piece.Start,
			EndPosition:   &piece.End,
			FileName:      src.FileName,
		},
		CreatedAt: now,
	}
	return p.versioner.ResolveAndInsert(ctx, chunk)
}

// extract 取回来源正文
func (p *Pipeline) extract(ctx context.Context, src model.IngestSource) (string, error) {
	if src.Text != "" {
		return src.Text, nil
	}
	if src.ObjectKey == "" {
		return "", errors.New("source has neither inline text nor object key")
	}
	if p.fetcher == nil {
		return "", errors.New("object storage is not configured")
	}
	rc, err := p.fetcher.FetchSource(ctx, src.ObjectKey)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxSourceBytes))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// fail 把任务标记为失败并广播终态事件
func (p *Pipeline) fail(ctx context.Context, job *model.Job, cause error, log *logging.Logger) {
	msg := cause.Error()
	if _, err := p.patch(ctx, job, &model.JobPatch{
		Status: statusPtr(model.JobFailed),
		Error:  &msg,
	}); err != nil {
		log.WithError(err).Error("failed to mark job as failed")
		return
	}
	log.WithError(cause).IngestLog("failed", job.ID, job.AgentID)
}

// patch 更新任务并发布进度事件
func (p *Pipeline) patch(ctx context.Context, job *model.Job, patch *model.JobPatch) (*model.Job, error) {
	updated, err := p.store.UpdateJob(ctx, job.ID, patch)
	if err != nil {
		return nil, err
	}
	p.publish(ctx, updated)
	return updated, nil
}

func (p *Pipeline) publish(ctx context.Context, job *model.Job) {
	event := &eventbus.JobEvent{
		JobID:         job.ID,
		AgentID:       job.AgentID,
		Status:        job.Status,
		Progress:      job.Progress,
		ChunksCreated: job.SuccessCount,
		ChunksSkipped: job.SkippedCount,
		Error:         job.Error,
		Timestamp:     time.Now(),
	}
	if err := p.bus.PublishJobEvent(ctx, event); err != nil {
		p.logger.WithJobID(job.ID).WithError(err).Warn("failed to publish job event")
	}
}

func statusPtr(s model.JobStatus) *model.JobStatus {
	return &s
}
