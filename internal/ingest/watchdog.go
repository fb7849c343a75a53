package ingest

import (
	"context"
	"time"

	"knowledge-engine/internal/config"
	"knowledge-engine/internal/shared/eventbus"
	"knowledge-engine/internal/shared/model"
	"knowledge-engine/internal/shared/storage"
	"knowledge-engine/pkg/logging"
)

// staleJobError 看门狗标记失败时写入任务的错误描述
const staleJobError = "worker heartbeat timeout"

// Watchdog 僵死任务看门狗
//
// 周期性扫描 processing 状态且心跳超时的任务并标记失败，
// 处理工作进程崩溃后留下的孤儿任务。
type Watchdog struct {
	store  storage.JobStore
	bus    eventbus.Publisher
	cfg    config.IngestConfig
	logger *logging.Logger
	now    func() time.Time
}

// NewWatchdog 创建看门狗
func NewWatchdog(store storage.JobStore, bus eventbus.Publisher, cfg config.IngestConfig) *Watchdog {
	return &Watchdog{
		store:  store,
		bus:    bus,
		cfg:    cfg,
		logger: logging.Default("ingest-watchdog"),
		now:    time.Now,
	}
}

// Run 启动扫描循环，ctx 取消后退出
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watchdog stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep 执行一轮扫描，返回标记失败的任务数
func (w *Watchdog) Sweep(ctx context.Context) int {
	cutoff := w.now().Add(-w.cfg.StaleAfter)
	stale, err := w.store.ListStaleJobs(ctx, cutoff)
	if err != nil {
		w.logger.WithError(err).Warn("stale job scan failed")
		return 0
	}

	failed := 0
	for _, job := range stale {
		msg := staleJobError
		status := model.JobFailed
		updated, err := w.store.UpdateJob(ctx, job.ID, &model.JobPatch{
			Status: &status,
			Error:  &msg,
		})
		if err != nil {
			// 工作进程可能恰好在扫描间隙完结了任务
			w.logger.WithJobID(job.ID).WithError(err).Warn("failed to mark stale job")
			continue
		}
		failed++
		w.logger.IngestLog("stale", job.ID, job.AgentID, "error", staleJobError)

		event := &eventbus.JobEvent{
			JobID:         updated.ID,
			AgentID:       updated.AgentID,
			Status:        updated.Status,
			Progress:      updated.Progress,
			ChunksCreated: updated.SuccessCount,
			ChunksSkipped: updated.SkippedCount,
			Error:         updated.Error,
			Timestamp:     w.now(),
		}
		if err := w.bus.PublishJobEvent(ctx, event); err != nil {
			w.logger.WithJobID(job.ID).WithError(err).Warn("failed to publish stale job event")
		}
	}
	return failed
}
