package ingest

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledge-engine/internal/config"
	"knowledge-engine/internal/provider"
	"knowledge-engine/internal/shared/cache"
	"knowledge-engine/internal/shared/eventbus"
	"knowledge-engine/internal/shared/model"
	"knowledge-engine/internal/shared/queue"
	"knowledge-engine/internal/shared/storage"
)

func testChunking() config.ChunkingConfig {
	return config.ChunkingConfig{MaxLength: 1000, Overlap: 200}
}

type testEnv struct {
	store    *storage.MemStore
	cache    *cache.MemCache
	bus      *eventbus.MemBus
	queue    *queue.MemQueue
	provider *provider.MockProvider
	pipeline *Pipeline
	submit   *Submitter
}

func newEnv(t *testing.T, fetcher ObjectFetcher) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    storage.NewMemStore(),
		cache:    cache.NewMemCache(),
		bus:      eventbus.NewMemBus(),
		queue:    queue.NewMemQueue(),
		provider: provider.NewMockProvider(),
	}
	env.pipeline = NewPipeline(env.store, env.cache, env.bus, env.provider, fetcher, testChunking())
	env.submit = NewSubmitter(env.store, env.queue)
	return env
}

func inlineSource(text string) model.IngestSource {
	return model.IngestSource{
		Source:   model.SourceDocument,
		FileName: "doc.txt",
		Text:     text,
	}
}

// TestSubmit_CreatesQueuedJob 受理后任务落库并入队
func TestSubmit_CreatesQueuedJob(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()

	job, err := env.submit.Submit(ctx, "agent-a", []model.IngestSource{inlineSource("Some knowledge.")})
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobQueued, job.Status)
	assert.Equal(t, []string{"doc.txt"}, job.FileNames)

	stored, err := env.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, model.JobQueued, stored.Status)

	length, err := env.queue.GetIngestQueueLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)
}

// TestSubmit_RejectsInvalidSources 无来源或来源非法时拒绝
func TestSubmit_RejectsInvalidSources(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()

	_, err := env.submit.Submit(ctx, "agent-a", nil)
	assert.ErrorIs(t, err, ErrNoSources)

	_, err = env.submit.Submit(ctx, "agent-a", []model.IngestSource{
		{Source: "carrier-pigeon", Text: "hello"},
	})
	assert.Error(t, err)

	_, err = env.submit.Submit(ctx, "agent-a", []model.IngestSource{
		{Source: model.SourceDocument},
	})
	assert.Error(t, err)
}

// TestPipeline_InlineTextCompletes 内联文本摄取完整走到 completed
func TestPipeline_InlineTextCompletes(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()

	job, err := env.submit.Submit(ctx, "agent-a", []model.IngestSource{
		inlineSource("Refunds are available within 30 days.\n\nShipping takes 5 business days."),
	})
	require.NoError(t, err)
	require.NoError(t, env.pipeline.Run(ctx, job.ID))

	done, err := env.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	assert.Equal(t, 2, done.TotalChunks)
	assert.Equal(t, 2, done.SuccessCount)
	assert.Zero(t, done.ErrorCount)
	assert.NotEmpty(t, done.Result)

	count, err := env.store.CountChunks(ctx, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

// TestPipeline_ChunksCarryVersionAndMetadata 写入的块带版本、指纹和位置元数据
func TestPipeline_ChunksCarryVersionAndMetadata(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()

	job, err := env.submit.Submit(ctx, "agent-a", []model.IngestSource{
		inlineSource("Refunds are available within 30 days."),
	})
	require.NoError(t, err)
	require.NoError(t, env.pipeline.Run(ctx, job.ID))

	highest, err := env.store.HighestVersion(ctx, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, 1, highest)

	results, err := env.store.VectorQuery(ctx, "agent-a", provider.DeterministicEmbedding("Refunds are available within 30 days."), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	chunk := results[0].Chunk
	assert.Equal(t, 1, chunk.ContentVersion)
	assert.NotEmpty(t, chunk.ContentHash)
	assert.Equal(t, "doc.txt", chunk.Metadata.FileName)
	assert.Equal(t, 1, chunk.Metadata.TotalChunks)
	assert.Len(t, chunk.Embedding, model.EmbeddingDim)
}

// TestPipeline_DuplicateContentSkipped 重复摄取相同内容只计 skipped
func TestPipeline_DuplicateContentSkipped(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()
	sources := []model.IngestSource{inlineSource("Refunds are available within 30 days.")}

	first, err := env.submit.Submit(ctx, "agent-a", sources)
	require.NoError(t, err)
	require.NoError(t, env.pipeline.Run(ctx, first.ID))

	second, err := env.submit.Submit(ctx, "agent-a", sources)
	require.NoError(t, err)
	require.NoError(t, env.pipeline.Run(ctx, second.ID))

	done, err := env.store.GetJob(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, done.Status)
	assert.Zero(t, done.SuccessCount)
	assert.Equal(t, 1, done.SkippedCount)

	count, err := env.store.CountChunks(ctx, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

// TestPipeline_ProviderExhaustedFailsJob 全部凭证失效时任务失败
func TestPipeline_ProviderExhaustedFailsJob(t *testing.T) {
	env := newEnv(t, nil)
	env.provider.EmbedFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, provider.ErrProviderExhausted
	}
	ctx := context.Background()

	job, err := env.submit.Submit(ctx, "agent-a", []model.IngestSource{inlineSource("Some knowledge.")})
	require.NoError(t, err)
	require.NoError(t, env.pipeline.Run(ctx, job.ID))

	done, err := env.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, done.Status)
	assert.Contains(t, done.Error, "provider")
}

// TestPipeline_TransientEmbedErrorCountsChunk 单块嵌入失败只计 error，不失败任务
func TestPipeline_TransientEmbedErrorCountsChunk(t *testing.T) {
	env := newEnv(t, nil)
	calls := 0
	env.provider.EmbedFunc = func(ctx context.Context, text string) ([]float32, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("transient upstream error")
		}
		return provider.DeterministicEmbedding(text), nil
	}
	ctx := context.Background()

	job, err := env.submit.Submit(ctx, "agent-a", []model.IngestSource{
		inlineSource("First paragraph of knowledge.\n\nSecond paragraph of knowledge."),
	})
	require.NoError(t, err)
	require.NoError(t, env.pipeline.Run(ctx, job.ID))

	done, err := env.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, done.Status)
	assert.Equal(t, 1, done.SuccessCount)
	assert.Equal(t, 1, done.ErrorCount)
}

// TestPipeline_ObjectSourceWithoutFetcher 未配置对象存储时 object 来源失败
func TestPipeline_ObjectSourceWithoutFetcher(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()

	job, err := env.submit.Submit(ctx, "agent-a", []model.IngestSource{
		{Source: model.SourceDocument, ObjectKey: "uploads/doc.txt"},
	})
	require.NoError(t, err)
	require.NoError(t, env.pipeline.Run(ctx, job.ID))

	done, err := env.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, done.Status)
	assert.Contains(t, done.Error, "object storage")
}

type mapFetcher map[string]string

func (m mapFetcher) FetchSource(ctx context.Context, key string) (io.ReadCloser, error) {
	text, ok := m[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(strings.NewReader(text)), nil
}

// TestPipeline_ObjectSourceFetched 对象存储来源正常取文摄取
func TestPipeline_ObjectSourceFetched(t *testing.T) {
	fetcher := mapFetcher{"uploads/doc.txt": "Knowledge fetched from object storage."}
	env := newEnv(t, fetcher)
	ctx := context.Background()

	job, err := env.submit.Submit(ctx, "agent-a", []model.IngestSource{
		{Source: model.SourceDocument, FileName: "doc.txt", ObjectKey: "uploads/doc.txt"},
	})
	require.NoError(t, err)
	require.NoError(t, env.pipeline.Run(ctx, job.ID))

	done, err := env.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, done.Status)
	assert.Equal(t, 1, done.SuccessCount)
}

// TestPipeline_PublishesProgressEvents 事件总线收到从认领到完结的事件流
func TestPipeline_PublishesProgressEvents(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()

	job, err := env.submit.Submit(ctx, "agent-a", []model.IngestSource{inlineSource("Some knowledge.")})
	require.NoError(t, err)

	events, cancel, err := env.bus.SubscribeJobEvents(ctx, job.ID)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, env.pipeline.Run(ctx, job.ID))

	var received []*eventbus.JobEvent
	for {
		select {
		case ev := <-events:
			received = append(received, ev)
			if ev.Status.Terminal() {
				goto done
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for terminal event")
		}
	}
done:
	require.NotEmpty(t, received)
	assert.Equal(t, model.JobProcessing, received[0].Status)
	last := received[len(received)-1]
	assert.Equal(t, model.JobCompleted, last.Status)
	assert.Equal(t, 100, last.Progress)
	assert.Equal(t, 1, last.ChunksCreated)
}

// TestPipeline_InvalidatesAgentCache 摄取成功后该 Agent 缓存全部失效
func TestPipeline_InvalidatesAgentCache(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()
	vec := provider.DeterministicEmbedding("stale question")
	require.NoError(t, env.cache.AppendAnswer(ctx, "agent-a", &cache.CachedAnswer{
		ID:                "old",
		Question:          "stale question",
		QuestionEmbedding: vec,
		Answer:            "stale answer",
	}))

	job, err := env.submit.Submit(ctx, "agent-a", []model.IngestSource{inlineSource("Fresh knowledge.")})
	require.NoError(t, err)
	require.NoError(t, env.pipeline.Run(ctx, job.ID))

	hit, err := env.cache.FindSimilarAnswer(ctx, "agent-a", vec, 0.99)
	require.NoError(t, err)
	assert.Nil(t, hit)
}

// TestPipeline_TerminalJobNotReclaimed 终态任务不可被再次认领
func TestPipeline_TerminalJobNotReclaimed(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()

	job, err := env.submit.Submit(ctx, "agent-a", []model.IngestSource{inlineSource("Some knowledge.")})
	require.NoError(t, err)
	require.NoError(t, env.pipeline.Run(ctx, job.ID))

	// 模拟消息重投：任务已 completed，再跑必须认领失败
	err = env.pipeline.Run(ctx, job.ID)
	assert.Error(t, err)

	done, err := env.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, done.Status)
}

// TestWatchdog_SweepMarksStaleJobs 心跳超时的 processing 任务被标记失败
func TestWatchdog_SweepMarksStaleJobs(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()
	cfg := config.IngestConfig{StaleAfter: 10 * time.Minute, WatchdogInterval: time.Minute}

	job, err := env.submit.Submit(ctx, "agent-a", []model.IngestSource{inlineSource("Some knowledge.")})
	require.NoError(t, err)
	status := model.JobProcessing
	_, err = env.store.UpdateJob(ctx, job.ID, &model.JobPatch{Status: &status, Heartbeat: true})
	require.NoError(t, err)

	events, cancel, err := env.bus.SubscribeJobEvents(ctx, job.ID)
	require.NoError(t, err)
	defer cancel()

	w := NewWatchdog(env.store, env.bus, cfg)
	w.now = func() time.Time { return time.Now().Add(20 * time.Minute) }

	assert.Equal(t, 1, w.Sweep(ctx))

	failed, err := env.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, failed.Status)
	assert.Equal(t, staleJobError, failed.Error)

	select {
	case ev := <-events:
		assert.Equal(t, model.JobFailed, ev.Status)
	case <-time.After(time.Second):
		t.Fatal("expected a stale job event")
	}
}

// TestWatchdog_IgnoresHealthyJobs 心跳正常或已终结的任务不受影响
func TestWatchdog_IgnoresHealthyJobs(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()
	cfg := config.IngestConfig{StaleAfter: 10 * time.Minute, WatchdogInterval: time.Minute}

	healthy, err := env.submit.Submit(ctx, "agent-a", []model.IngestSource{inlineSource("Some knowledge.")})
	require.NoError(t, err)
	status := model.JobProcessing
	_, err = env.store.UpdateJob(ctx, healthy.ID, &model.JobPatch{Status: &status, Heartbeat: true})
	require.NoError(t, err)

	completed, err := env.submit.Submit(ctx, "agent-b", []model.IngestSource{inlineSource("Other knowledge.")})
	require.NoError(t, err)
	require.NoError(t, env.pipeline.Run(ctx, completed.ID))

	w := NewWatchdog(env.store, env.bus, cfg)
	assert.Zero(t, w.Sweep(ctx))
}

// TestWorkerPool_EndToEnd 工作进程从队列消费并完成任务
func TestWorkerPool_EndToEnd(t *testing.T) {
	env := newEnv(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.IngestConfig{Workers: 2, ReadTimeout: 50 * time.Millisecond, ReadCount: 10}
	pool := NewWorkerPool(env.queue, env.pipeline, cfg)
	require.NoError(t, pool.Start(ctx))

	job, err := env.submit.Submit(ctx, "agent-a", []model.IngestSource{inlineSource("Some knowledge.")})
	require.NoError(t, err)

	deadline := time.Now().Add(3 * time.Second)
	for {
		got, err := env.store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		if got.Status.Terminal() {
			assert.Equal(t, model.JobCompleted, got.Status)
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never reached terminal state, status=%s", got.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	pool.Wait()

	pending, err := env.queue.GetIngestPendingCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pending)
}
