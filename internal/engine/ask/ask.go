// Package ask 问答编排
//
// 单次问答的完整链路：
//
//	嵌入（缓存优先）→ 答案缓存相似复用 → 混合检索 →
//	按 Agent 元数据构建提示词 → 生成 → 审计 → 缓存写回
//
// 缓存后端不可用一律降级为绕过缓存；审计失败开放放行，
// 只把 requires_human_review 置为 true。
package ask

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"knowledge-engine/internal/config"
	"knowledge-engine/internal/engine/audit"
	"knowledge-engine/internal/engine/dedup"
	"knowledge-engine/internal/engine/retriever"
	"knowledge-engine/internal/provider"
	"knowledge-engine/internal/shared/cache"
	"knowledge-engine/internal/shared/model"
	"knowledge-engine/internal/shared/storage"
	"knowledge-engine/pkg/logging"
)

// FallbackAnswer 知识库无相关内容时的回退回答
const FallbackAnswer = "I don't have enough information in my knowledge base to answer that question."

// RetrievalStrategy 响应元数据中的检索策略标识
const RetrievalStrategy = "hybrid"

// ErrEmptyQuestion 问题为空（调用方输入错误，非服务故障）
var ErrEmptyQuestion = errors.New("question is empty")

// Answer 问答结果
type Answer struct {
	Answer       string             `json:"answer"`
	Confidence   float64            `json:"confidence"`
	FallbackUsed bool               `json:"fallback_used"`
	CacheHit     bool               `json:"cache_hit"`
	Sources      []model.SourceRef  `json:"sources"`
	Audit        *model.AuditResult `json:"audit,omitempty"`
	Metadata     Metadata           `json:"metadata"`
}

// Metadata 响应元数据
type Metadata struct {
	RetrievalStrategy string  `json:"retrieval_strategy"`
	ChunksUsed        int     `json:"chunks_used"`
	ChunksSearched    int     `json:"chunks_searched"`
	ChunksFiltered    int     `json:"chunks_filtered"`
	ContextLength     int     `json:"context_length"`
	SourcesCount      int     `json:"sources_count"`
	AverageSimilarity float64 `json:"average_similarity"`
	RetrievalTimeMs   int64   `json:"retrieval_time_ms"`
}

// Engine 问答编排引擎
type Engine struct {
	store     storage.Store
	cache     cache.Cache
	retriever *retriever.Retriever
	provider  provider.Provider
	scorer    *audit.Scorer
	cfg       config.RetrievalConfig
	logger    *logging.Logger
}

// NewEngine 创建问答引擎
func NewEngine(store storage.Store, c cache.Cache, r *retriever.Retriever, p provider.Provider, cfg config.RetrievalConfig) *Engine {
	return &Engine{
		store:     store,
		cache:     c,
		retriever: r,
		provider:  p,
		scorer:    audit.NewScorer(),
		cfg:       cfg,
		logger:    logging.Default("ask"),
	}
}

// Ask 回答一个问题
func (e *Engine) Ask(ctx context.Context, agentID, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	log := e.logger.WithContext(ctx).WithAgentID(agentID)

	questionVec, err := e.embedQuestion(ctx, agentID, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}

	// 答案缓存相似复用
	if cached, err := e.cache.FindSimilarAnswer(ctx, agentID, questionVec, e.cfg.CacheSimilarity); err != nil {
		log.WithError(err).Warn("answer cache lookup failed, bypassing")
	} else if cached != nil {
		log.Debug("answer cache hit", "cached_question", cached.Question)
		return &Answer{
			Answer:     cached.Answer,
			Confidence: cached.Confidence,
			CacheHit:   true,
			Sources:    cached.Sources,
			Metadata: Metadata{
				RetrievalStrategy: RetrievalStrategy,
				SourcesCount:      len(cached.Sources),
			},
		}, nil
	}

	meta, err := e.store.GetAgentMetadata(ctx, agentID)
	if err != nil {
		log.WithError(err).Warn("agent metadata unavailable, using defaults")
	}
	if meta == nil {
		meta = &model.AgentMetadata{AgentID: agentID}
		meta.ApplyDefaults()
	}

	retrieval, err := e.retriever.Retrieve(ctx, agentID, question, questionVec)
	if err != nil {
		if errors.Is(err, retriever.ErrNoRelevantContent) {
			return e.answerWithoutContent(ctx, agentID, question, meta, retrieval)
		}
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	prompt := buildPrompt(meta, question)
	text, err := e.provider.Generate(ctx, prompt, retrieval.Context)
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	answer := &Answer{
		Answer:     text,
		Confidence: topConfidence(retrieval.Chunks),
		Sources:    sourceRefs(retrieval.Chunks),
		Audit:      e.auditSafe(question, text, retrieval.Chunks),
		Metadata: Metadata{
			RetrievalStrategy: RetrievalStrategy,
			ChunksUsed:        len(retrieval.Chunks),
			ChunksSearched:    retrieval.Stats.ChunksSearched,
			ChunksFiltered:    retrieval.Stats.ChunksFiltered,
			ContextLength:     len(retrieval.Context),
			SourcesCount:      len(retrieval.Chunks),
			AverageSimilarity: retrieval.Stats.AverageSimilarity,
			RetrievalTimeMs:   retrieval.Stats.RetrievalTimeMs,
		},
	}

	e.writeCache(ctx, agentID, question, questionVec, answer, retrieval)
	return answer, nil
}

// InvalidateCache 使该 Agent 的缓存命名空间整体失效（知识变更后调用）
func (e *Engine) InvalidateCache(ctx context.Context, agentID string) error {
	return e.cache.InvalidateAgent(ctx, agentID)
}

// embedQuestion 嵌入问题文本，嵌入缓存优先
func (e *Engine) embedQuestion(ctx context.Context, agentID, question string) ([]float32, error) {
	hash := dedup.Fingerprint(question)

	if vec, err := e.cache.GetEmbedding(ctx, agentID, hash); err != nil {
		e.logger.WithAgentID(agentID).WithError(err).Warn("embedding cache lookup failed, bypassing")
	} else if vec != nil {
		return vec, nil
	}

	vec, err := e.provider.Embed(ctx, question)
	if err != nil {
		return nil, err
	}
	if err := e.cache.SetEmbedding(ctx, agentID, hash, vec); err != nil {
		e.logger.WithAgentID(agentID).WithError(err).Warn("embedding cache write failed")
	}
	return vec, nil
}

// answerWithoutContent 知识库无相关内容时的处理。
// do_not_answer_from_general_knowledge 强制回退；
// 否则允许模型在无上下文下作答，但同样标记 fallback_used 并置零置信度。
// 检索确实跑过，统计照常回传，不伪装成没搜过。
func (e *Engine) answerWithoutContent(ctx context.Context, agentID, question string, meta *model.AgentMetadata, retrieval *retriever.Result) (*Answer, error) {
	answer := &Answer{
		Answer:       FallbackAnswer,
		FallbackUsed: true,
		Metadata:     Metadata{RetrievalStrategy: RetrievalStrategy},
	}
	if retrieval != nil {
		answer.Metadata.ChunksSearched = retrieval.Stats.ChunksSearched
		answer.Metadata.ChunksFiltered = retrieval.Stats.ChunksFiltered
		answer.Metadata.AverageSimilarity = retrieval.Stats.AverageSimilarity
		answer.Metadata.RetrievalTimeMs = retrieval.Stats.RetrievalTimeMs
	}

	if !meta.DoNotAnswerFromGeneralKnowledge {
		text, err := e.provider.Generate(ctx, buildPrompt(meta, question), "")
		if err != nil {
			e.logger.WithAgentID(agentID).WithError(err).Warn("general-knowledge generation failed, using canned fallback")
		} else if strings.TrimSpace(text) != "" {
			answer.Answer = text
			answer.Audit = e.auditSafe(question, text, nil)
		}
	}
	return answer, nil
}

// auditSafe 审计失败开放放行：panic 或异常只降级为人工复核标记
func (e *Engine) auditSafe(question, answer string, sources []*model.RetrievalResult) (result *model.AuditResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("audit scorer panicked, failing open", "panic", r)
			result = &model.AuditResult{
				AuditID:             uuid.NewString(),
				RiskLevel:           model.RiskHigh,
				RequiresHumanReview: true,
				Reasoning:           "audit scorer failed; flagged for human review",
				CreatedAt:           time.Now(),
			}
		}
	}()
	return e.scorer.Score(question, answer, sources)
}

// writeCache 把新答案与检索上下文写回缓存，失败只记日志
func (e *Engine) writeCache(ctx context.Context, agentID, question string, questionVec []float32, answer *Answer, retrieval *retriever.Result) {
	entry := &cache.CachedAnswer{
		ID:                uuid.NewString(),
		Question:          question,
		QuestionEmbedding: questionVec,
		Answer:            answer.Answer,
		Sources:           answer.Sources,
		Confidence:        answer.Confidence,
		CreatedAt:         time.Now(),
	}
	if err := e.cache.AppendAnswer(ctx, agentID, entry); err != nil {
		e.logger.WithAgentID(agentID).WithError(err).Warn("answer cache write failed")
	}

	chunkIDs := make([]string, 0, len(retrieval.Chunks))
	for _, c := range retrieval.Chunks {
		chunkIDs = append(chunkIDs, c.Chunk.ID)
	}
	cc := &cache.CachedContext{
		QuestionHash: dedup.Fingerprint(question),
		ChunkIDs:     chunkIDs,
		Context:      retrieval.Context,
		CreatedAt:    time.Now(),
	}
	if err := e.cache.AppendContext(ctx, agentID, cc); err != nil {
		e.logger.WithAgentID(agentID).WithError(err).Warn("context cache write failed")
	}
}

// buildPrompt 按 Agent 元数据构建提示词
func buildPrompt(meta *model.AgentMetadata, question string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s", meta.Name)
	if meta.Role != "" {
		fmt.Fprintf(&b, ", %s", meta.Role)
	}
	fmt.Fprintf(&b, ". Answer in a %s tone.", meta.Tone)
	if meta.DoNotAnswerFromGeneralKnowledge {
		b.WriteString(" Only answer using the provided context. If the context does not contain the answer, say you don't know.")
	}
	fmt.Fprintf(&b, "\n\nQuestion: %s", question)
	return b.String()
}

// topConfidence 取排名最高块的置信度作为响应置信度
func topConfidence(chunks []*model.RetrievalResult) float64 {
	if len(chunks) == 0 {
		return 0
	}
	return chunks[0].Confidence
}

func sourceRefs(chunks []*model.RetrievalResult) []model.SourceRef {
	refs := make([]model.SourceRef, 0, len(chunks))
	for _, c := range chunks {
		refs = append(refs, model.SourceRef{
			Source:     c.Chunk.Source,
			SourceURL:  c.Chunk.SourceURL,
			ChunkIndex: c.Chunk.ChunkIndex,
			Confidence: c.Confidence,
			Similarity: c.Similarity,
		})
	}
	return refs
}
