package ask

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledge-engine/internal/config"
	"knowledge-engine/internal/engine/retriever"
	"knowledge-engine/internal/provider"
	"knowledge-engine/internal/shared/cache"
	"knowledge-engine/internal/shared/model"
	"knowledge-engine/internal/shared/storage"
)

func testConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		VectorK:             8,
		KeywordK:            3,
		MinSimilarity:       0.3,
		ConfidenceThreshold: 0.4,
		MaxChunks:           5,
		MaxContextLength:    4000,
		CacheSimilarity:     0.85,
	}
}

type testHarness struct {
	engine   *Engine
	store    *storage.MemStore
	cache    *cache.MemCache
	provider *provider.MockProvider
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	store := storage.NewMemStore()
	memCache := cache.NewMemCache()
	mock := provider.NewMockProvider()
	cfg := testConfig()
	r := retriever.New(store, cfg)
	return &testHarness{
		engine:   NewEngine(store, memCache, r, mock, cfg),
		store:    store,
		cache:    memCache,
		provider: mock,
	}
}

// seedDocument 以问题文本的确定性向量作为块向量，保证检索必中
func (h *testHarness) seedDocument(t *testing.T, agentID, text, matchQuestion string) {
	t.Helper()
	_, err := h.store.InsertChunk(context.Background(), &model.Chunk{
		AgentID:        agentID,
		Text:           text,
		Embedding:      provider.DeterministicEmbedding(matchQuestion),
		Source:         model.SourceDocument,
		ChunkIndex:     0,
		ContentHash:    fmt.Sprintf("hash-%s", agentID),
		ContentVersion: 1,
	})
	require.NoError(t, err)
}

// TestAsk_GroundedAnswer 知识命中时返回生成回答与完整元数据
func TestAsk_GroundedAnswer(t *testing.T) {
	h := newHarness(t)
	question := "what is the refund policy"
	h.seedDocument(t, "agent-a", "The refund policy allows returns within 30 days.", question)
	h.provider.FixedAnswer = "You can return items within 30 days."

	ans, err := h.engine.Ask(context.Background(), "agent-a", question)
	require.NoError(t, err)

	assert.Equal(t, "You can return items within 30 days.", ans.Answer)
	assert.False(t, ans.FallbackUsed)
	assert.False(t, ans.CacheHit)
	assert.Greater(t, ans.Confidence, 0.4)
	require.Len(t, ans.Sources, 1)
	assert.Equal(t, model.SourceDocument, ans.Sources[0].Source)

	assert.Equal(t, RetrievalStrategy, ans.Metadata.RetrievalStrategy)
	assert.Equal(t, 1, ans.Metadata.ChunksUsed)
	assert.Equal(t, 1, ans.Metadata.SourcesCount)
	assert.Greater(t, ans.Metadata.ContextLength, 0)
	require.NotNil(t, ans.Audit)
}

// TestAsk_CacheReuse 相同问题第二次直接命中答案缓存
func TestAsk_CacheReuse(t *testing.T) {
	h := newHarness(t)
	question := "what is the refund policy"
	h.seedDocument(t, "agent-a", "The refund policy allows returns within 30 days.", question)
	h.provider.FixedAnswer = "You can return items within 30 days."

	first, err := h.engine.Ask(context.Background(), "agent-a", question)
	require.NoError(t, err)
	require.False(t, first.CacheHit)
	generateCalls := h.provider.GenerateCalls

	second, err := h.engine.Ask(context.Background(), "agent-a", question)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Answer, second.Answer)
	// 缓存命中不触发新的生成
	assert.Equal(t, generateCalls, h.provider.GenerateCalls)
}

// TestAsk_CacheIsolation B Agent 不会命中 A 的缓存
func TestAsk_CacheIsolation(t *testing.T) {
	h := newHarness(t)
	question := "what is the refund policy"
	h.seedDocument(t, "agent-a", "The refund policy allows returns within 30 days.", question)
	h.provider.FixedAnswer = "Answer for A."

	_, err := h.engine.Ask(context.Background(), "agent-a", question)
	require.NoError(t, err)

	// agent-b 没有知识，也不应看到 A 的缓存
	ans, err := h.engine.Ask(context.Background(), "agent-b", question)
	require.NoError(t, err)
	assert.False(t, ans.CacheHit)
	assert.True(t, ans.FallbackUsed)
}

// TestAsk_FallbackOnNoContent 无相关内容且禁用通识回答时返回回退
func TestAsk_FallbackOnNoContent(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.UpsertAgentMetadata(context.Background(), &model.AgentMetadata{
		AgentID:                         "agent-a",
		Name:                            "support-bot",
		DoNotAnswerFromGeneralKnowledge: true,
	}))

	ans, err := h.engine.Ask(context.Background(), "agent-a", "completely unrelated question")
	require.NoError(t, err)

	assert.True(t, ans.FallbackUsed)
	assert.Equal(t, FallbackAnswer, ans.Answer)
	assert.Zero(t, ans.Confidence)
	assert.Empty(t, ans.Sources)
}

// TestAsk_GeneralKnowledgeWhenAllowed 未禁用通识时无内容仍可生成，但标记回退
func TestAsk_GeneralKnowledgeWhenAllowed(t *testing.T) {
	h := newHarness(t)
	h.provider.FixedAnswer = "A general knowledge answer."

	ans, err := h.engine.Ask(context.Background(), "agent-a", "some question")
	require.NoError(t, err)

	assert.True(t, ans.FallbackUsed)
	assert.Equal(t, "A general knowledge answer.", ans.Answer)
	assert.Zero(t, ans.Confidence)
}

// TestAsk_FallbackReportsRetrievalStats 回退响应的元数据如实反映
// 检索确实跑过：搜到的块数与被过滤的块数不归零
func TestAsk_FallbackReportsRetrievalStats(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.UpsertAgentMetadata(context.Background(), &model.AgentMetadata{
		AgentID:                         "agent-a",
		Name:                            "support-bot",
		DoNotAnswerFromGeneralKnowledge: true,
	}))

	// 块向量与问题向量正交，检索跑过但全部低于阈值
	chunkVec := make([]float32, model.EmbeddingDim)
	chunkVec[5] = 1
	_, err := h.store.InsertChunk(context.Background(), &model.Chunk{
		AgentID:        "agent-a",
		Text:           "Unrelated maintenance manual content.",
		Embedding:      chunkVec,
		Source:         model.SourceDocument,
		ContentHash:    "hash-agent-a",
		ContentVersion: 1,
	})
	require.NoError(t, err)

	questionVec := make([]float32, model.EmbeddingDim)
	questionVec[0] = 1
	h.provider.EmbedFunc = func(ctx context.Context, text string) ([]float32, error) {
		return questionVec, nil
	}

	ans, err := h.engine.Ask(context.Background(), "agent-a", "refund policy")
	require.NoError(t, err)

	assert.True(t, ans.FallbackUsed)
	assert.Equal(t, 1, ans.Metadata.ChunksSearched)
	assert.Equal(t, 1, ans.Metadata.ChunksFiltered)
	assert.Zero(t, ans.Metadata.ChunksUsed)
}

// TestAsk_EmbeddingCached 第二次提问不再调用嵌入接口
func TestAsk_EmbeddingCached(t *testing.T) {
	h := newHarness(t)
	question := "what is the refund policy"
	h.seedDocument(t, "agent-a", "The refund policy allows returns.", question)

	_, err := h.engine.Ask(context.Background(), "agent-a", question)
	require.NoError(t, err)
	embedCalls := h.provider.EmbedCalls

	_, err = h.engine.Ask(context.Background(), "agent-a", question)
	require.NoError(t, err)
	assert.Equal(t, embedCalls, h.provider.EmbedCalls)
}

// TestAsk_EmptyQuestion 空问题返回哨兵错误
func TestAsk_EmptyQuestion(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Ask(context.Background(), "agent-a", "   ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

// TestAsk_PromptUsesAgentMetadata 提示词包含角色与语气
func TestAsk_PromptUsesAgentMetadata(t *testing.T) {
	h := newHarness(t)
	question := "what is the refund policy"
	h.seedDocument(t, "agent-a", "The refund policy allows returns.", question)
	require.NoError(t, h.store.UpsertAgentMetadata(context.Background(), &model.AgentMetadata{
		AgentID: "agent-a",
		Name:    "Billing Helper",
		Role:    "a billing support assistant",
		Tone:    "friendly",
	}))

	var gotPrompt string
	h.provider.GenerateFunc = func(ctx context.Context, prompt, contextText string) (string, error) {
		gotPrompt = prompt
		return "ok", nil
	}

	_, err := h.engine.Ask(context.Background(), "agent-a", question)
	require.NoError(t, err)

	assert.Contains(t, gotPrompt, "Billing Helper")
	assert.Contains(t, gotPrompt, "billing support assistant")
	assert.Contains(t, gotPrompt, "friendly")
	assert.Contains(t, gotPrompt, question)
}
