package ingest

import (
	"context"
	"fmt"
	"sync"

	"knowledge-engine/internal/config"
	"knowledge-engine/internal/shared/queue"
	"knowledge-engine/pkg/logging"
)

// WorkerPool 摄取工作进程池
//
// 每个工作进程独立消费摄取队列：认领消息 → 跑流水线 → Ack。
// 消息在流水线结束后才 Ack，进程崩溃时消息留在 pending 集合，
// 由僵死任务看门狗兜底标记失败。
type WorkerPool struct {
	queue    queue.IngestQueue
	pipeline *Pipeline
	cfg      config.IngestConfig
	logger   *logging.Logger
	wg       sync.WaitGroup
}

// NewWorkerPool 创建工作进程池
func NewWorkerPool(q queue.IngestQueue, pipeline *Pipeline, cfg config.IngestConfig) *WorkerPool {
	return &WorkerPool{
		queue:    q,
		pipeline: pipeline,
		cfg:      cfg,
		logger:   logging.Default("ingest-worker"),
	}
}

// Start 启动工作进程，ctx 取消后停止消费
func (w *WorkerPool) Start(ctx context.Context) error {
	if err := w.queue.CreateIngestConsumerGroup(ctx); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	for i := 0; i < w.cfg.Workers; i++ {
		consumerID := fmt.Sprintf("worker-%d", i)
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.consume(ctx, consumerID)
		}()
	}
	w.logger.Info("ingest workers started", "workers", w.cfg.Workers)
	return nil
}

// Wait 阻塞直到全部工作进程退出
func (w *WorkerPool) Wait() {
	w.wg.Wait()
}

// consume 单个工作进程的消费循环
func (w *WorkerPool) consume(ctx context.Context, consumerID string) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("ingest worker stopped", "consumer_id", consumerID)
			return
		default:
		}

		msgs, err := w.queue.ConsumeIngest(ctx, consumerID, int64(w.cfg.ReadCount), w.cfg.ReadTimeout)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("ingest worker stopped", "consumer_id", consumerID)
				return
			}
			w.logger.WithError(err).Warn("queue consume failed, retrying", "consumer_id", consumerID)
			continue
		}

		for _, msg := range msgs {
			if err := w.pipeline.Run(ctx, msg.JobID); err != nil {
				// 认领失败的任务不重跑：看门狗或其他进程已接管
				w.logger.WithJobID(msg.JobID).WithError(err).Warn("job skipped")
			}
			if err := w.queue.AckIngest(ctx, msg.ID); err != nil {
				w.logger.WithJobID(msg.JobID).WithError(err).Warn("failed to ack message")
			}
		}
	}
}
