package retriever

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledge-engine/internal/config"
	"knowledge-engine/internal/shared/model"
	"knowledge-engine/internal/shared/storage"
)

func testConfig() config.RetrievalConfig {
	cfg := config.RetrievalConfig{}
	// 默认值由配置层填充，这里直接写死保证测试独立
	cfg.VectorK = 8
	cfg.KeywordK = 3
	cfg.MinSimilarity = 0.3
	cfg.ConfidenceThreshold = 0.4
	cfg.MaxChunks = 5
	cfg.MaxContextLength = 4000
	return cfg
}

// unitVec 构造一个只有第 i 维为 1 的嵌入向量
func unitVec(i int) []float32 {
	v := make([]float32, model.EmbeddingDim)
	v[i] = 1
	return v
}

// blend 构造与 unitVec(i) 余弦相似度约为 w 的向量
func blend(i int, w float32) []float32 {
	v := make([]float32, model.EmbeddingDim)
	v[i] = w
	v[(i+1)%model.EmbeddingDim] = sqrtApprox(1 - w*w)
	return v
}

func sqrtApprox(x float32) float32 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 16; i++ {
		z = (z + x/z) / 2
	}
	return z
}

func seedChunk(t *testing.T, store storage.Store, agentID, text string, index int, vec []float32) {
	t.Helper()
	_, err := store.InsertChunk(context.Background(), &model.Chunk{
		AgentID:        agentID,
		Text:           text,
		Embedding:      vec,
		Source:         model.SourceDocument,
		ChunkIndex:     index,
		ContentHash:    fmt.Sprintf("hash-%s-%d", agentID, index),
		ContentVersion: index + 1,
	})
	require.NoError(t, err)
}

// TestFuse_Monotonic 融合函数对相似度单调，双信号严格高于单信号
func TestFuse_Monotonic(t *testing.T) {
	for _, s := range []float64{0, 0.2, 0.5, 0.8, 1.0} {
		both := Fuse(s, model.MatchBoth)
		vec := Fuse(s, model.MatchVector)
		kw := Fuse(s, model.MatchKeyword)

		assert.GreaterOrEqual(t, both, vec, "similarity %v", s)
		assert.Greater(t, both, kw, "similarity %v", s)
		assert.LessOrEqual(t, both, 1.0)
		assert.GreaterOrEqual(t, kw, 0.0)
	}

	// 单调性
	assert.Less(t, Fuse(0.4, model.MatchBoth), Fuse(0.6, model.MatchBoth))
}

// TestRetrieve_BothSignals 向量与关键词同时命中标记为 both
func TestRetrieve_BothSignals(t *testing.T) {
	store := storage.NewMemStore()
	seedChunk(t, store, "agent-a", "The return policy allows refunds within thirty days.", 0, unitVec(0))

	r := New(store, testConfig())
	res, err := r.Retrieve(context.Background(), "agent-a", "what is the return policy refunds", unitVec(0))
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)

	got := res.Chunks[0]
	assert.Equal(t, model.MatchBoth, got.MatchType)
	assert.InDelta(t, 1.0, got.Similarity, 1e-6)
	assert.InDelta(t, 1.0, got.Confidence, 1e-9)
	assert.Equal(t, 1, res.Stats.ChunksSearched)
	assert.Equal(t, 0, res.Stats.ChunksFiltered)
}

// TestRetrieve_ThresholdFiltering 相似度低于下限的块被过滤，
// 空结果仍回传检索统计
func TestRetrieve_ThresholdFiltering(t *testing.T) {
	store := storage.NewMemStore()
	// 与问题向量近乎正交，相似度 ≈ 0
	seedChunk(t, store, "agent-a", "Unrelated maintenance manual content.", 0, unitVec(5))

	r := New(store, testConfig())
	res, err := r.Retrieve(context.Background(), "agent-a", "return policy", unitVec(0))
	assert.ErrorIs(t, err, ErrNoRelevantContent)
	require.NotNil(t, res)
	assert.Empty(t, res.Chunks)
	assert.Equal(t, 1, res.Stats.ChunksSearched)
	assert.Equal(t, 1, res.Stats.ChunksFiltered)
}

// TestRetrieve_AgentIsolation 不同 Agent 的块不可见
func TestRetrieve_AgentIsolation(t *testing.T) {
	store := storage.NewMemStore()
	seedChunk(t, store, "agent-b", "The return policy allows refunds.", 0, unitVec(0))

	r := New(store, testConfig())
	_, err := r.Retrieve(context.Background(), "agent-a", "return policy", unitVec(0))
	assert.ErrorIs(t, err, ErrNoRelevantContent)
}

// TestRetrieve_RankingAndTruncation 按置信度排序并截断到 maxChunks
func TestRetrieve_RankingAndTruncation(t *testing.T) {
	store := storage.NewMemStore()
	sims := []float32{0.95, 0.9, 0.85, 0.8, 0.75, 0.7, 0.65, 0.6}
	for i, w := range sims {
		seedChunk(t, store, "agent-a",
			fmt.Sprintf("Policy clause %d about refunds.", i), i, blend(0, w))
	}

	cfg := testConfig()
	cfg.MaxChunks = 3
	r := New(store, cfg)

	res, err := r.Retrieve(context.Background(), "agent-a", "refunds policy clause", unitVec(0))
	require.NoError(t, err)
	require.Len(t, res.Chunks, 3)

	for i := 1; i < len(res.Chunks); i++ {
		assert.GreaterOrEqual(t, res.Chunks[i-1].Confidence, res.Chunks[i].Confidence)
	}
	// 最高相似度的块排第一
	assert.Equal(t, 0, res.Chunks[0].Chunk.ChunkIndex)
}

// TestRetrieve_ContextBudget 超预算的块整块丢弃
func TestRetrieve_ContextBudget(t *testing.T) {
	store := storage.NewMemStore()
	big := strings.Repeat("refund policy filler text ", 40) // ~1000 chars
	seedChunk(t, store, "agent-a", big, 0, blend(0, 0.99))
	seedChunk(t, store, "agent-a", "Short refund clause.", 1, blend(0, 0.9))

	cfg := testConfig()
	cfg.MaxContextLength = 600
	r := New(store, cfg)

	res, err := r.Retrieve(context.Background(), "agent-a", "refund policy", unitVec(0))
	require.NoError(t, err)

	assert.LessOrEqual(t, len(res.Context), cfg.MaxContextLength)
	// 大块放不下被丢弃，小块保留
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, 1, res.Chunks[0].Chunk.ChunkIndex)
}

// TestRetrieve_DegradeOnBranchFailure 单路失败降级为单信号
func TestRetrieve_DegradeOnBranchFailure(t *testing.T) {
	store := &failingKeywordStore{MemStore: storage.NewMemStore()}
	seedChunk(t, store.MemStore, "agent-a", "The refund policy.", 0, unitVec(0))

	r := New(store, testConfig())
	res, err := r.Retrieve(context.Background(), "agent-a", "refund policy", unitVec(0))
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, model.MatchVector, res.Chunks[0].MatchType)
}

type failingKeywordStore struct {
	*storage.MemStore
}

func (s *failingKeywordStore) KeywordQuery(ctx context.Context, agentID string, terms []string, k int) ([]*model.RetrievalResult, error) {
	return nil, errors.New("keyword index offline")
}

func TestExtractTerms(t *testing.T) {
	terms := ExtractTerms("What is the Return POLICY for damaged items?")
	assert.Equal(t, []string{"return", "policy", "damaged", "items"}, terms)

	assert.Empty(t, ExtractTerms("is the a of"))
	assert.Empty(t, ExtractTerms(""))

	// 去重且保持顺序
	assert.Equal(t, []string{"refund", "policy"}, ExtractTerms("refund refund policy refund"))
}
