// Package retriever 混合检索器
//
// 对同一个问题并发发起向量检索与关键词检索，按块身份合并，
// 融合出置信度后过滤、排序、截断，并按上下文预算打包。
// 单路失败降级为单信号检索，双路全失败才向上报错。
package retriever

import (
	"context"
	"errors"
	"sort"
	"time"

	"knowledge-engine/internal/config"
	"knowledge-engine/internal/shared/model"
	"knowledge-engine/internal/shared/storage"
	"knowledge-engine/pkg/logging"
)

// ErrNoRelevantContent 过滤后无任何可用块（显式信号，触发调用方回退回答）
var ErrNoRelevantContent = errors.New("retriever: no relevant content")

// 融合加成：双信号 > 仅向量 > 仅关键词
const (
	fusionWeight     = 0.85
	bonusBoth        = 0.15
	bonusVectorOnly  = 0.05
	bonusKeywordOnly = 0.0
	contextSeparator = "\n\n"
)

// Result 检索结果
type Result struct {
	Chunks  []*model.RetrievalResult
	Context string // 预算内打包好的上下文文本
	Stats   model.RetrievalStats
}

// Retriever 混合检索器
type Retriever struct {
	store  storage.MemoryStore
	cfg    config.RetrievalConfig
	logger *logging.Logger
}

// New 创建混合检索器
func New(store storage.MemoryStore, cfg config.RetrievalConfig) *Retriever {
	return &Retriever{
		store:  store,
		cfg:    cfg,
		logger: logging.Default("retriever"),
	}
}

type branchResult struct {
	results []*model.RetrievalResult
	err     error
}

// Retrieve 执行混合检索。questionVec 为问题的嵌入向量。
// 过滤后无任何可用块时返回 ErrNoRelevantContent，此时结果仍携带
// 检索统计（搜到多少、滤掉多少），供调用方写进回退响应的元数据。
func (r *Retriever) Retrieve(ctx context.Context, agentID, question string, questionVec []float32) (*Result, error) {
	start := time.Now()

	vectorCh := make(chan branchResult, 1)
	keywordCh := make(chan branchResult, 1)

	go func() {
		res, err := r.store.VectorQuery(ctx, agentID, questionVec, r.cfg.VectorK)
		vectorCh <- branchResult{results: res, err: err}
	}()
	go func() {
		terms := ExtractTerms(question)
		if len(terms) == 0 {
			keywordCh <- branchResult{}
			return
		}
		res, err := r.store.KeywordQuery(ctx, agentID, terms, r.cfg.KeywordK)
		keywordCh <- branchResult{results: res, err: err}
	}()

	vector := <-vectorCh
	keyword := <-keywordCh

	if vector.err != nil && keyword.err != nil {
		return nil, vector.err
	}
	if vector.err != nil {
		r.logger.WithAgentID(agentID).WithError(vector.err).Warn("vector branch failed, degrading to keyword-only")
	}
	if keyword.err != nil {
		r.logger.WithAgentID(agentID).WithError(keyword.err).Warn("keyword branch failed, degrading to vector-only")
	}

	merged := merge(vector.results, keyword.results)
	selected, stats := r.rankAndPack(merged)
	stats.RetrievalTimeMs = time.Since(start).Milliseconds()

	if len(selected) == 0 {
		return &Result{Stats: stats}, ErrNoRelevantContent
	}

	r.logger.RetrievalLog(agentID, stats.ChunksSearched, len(selected), time.Since(start))

	return &Result{
		Chunks:  selected,
		Context: packContext(selected),
		Stats:   stats,
	}, nil
}

// merge 按块身份合并双路结果。
// 双路命中时相似度取向量值（语义分数优先），matchType=both。
func merge(vector, keyword []*model.RetrievalResult) []*model.RetrievalResult {
	byID := make(map[string]*model.RetrievalResult, len(vector)+len(keyword))
	var order []string

	for _, res := range vector {
		res.MatchType = model.MatchVector
		byID[res.Chunk.ID] = res
		order = append(order, res.Chunk.ID)
	}
	for _, res := range keyword {
		if existing, ok := byID[res.Chunk.ID]; ok {
			existing.MatchType = model.MatchBoth
			continue
		}
		res.MatchType = model.MatchKeyword
		byID[res.Chunk.ID] = res
		order = append(order, res.Chunk.ID)
	}

	merged := make([]*model.RetrievalResult, 0, len(order))
	for _, id := range order {
		merged = append(merged, byID[id])
	}
	return merged
}

// Fuse 由相似度和命中方式融合出置信度。
// 对相似度单调；双信号命中在同等相似度下严格高于单信号。
func Fuse(similarity float64, matchType model.MatchType) float64 {
	bonus := bonusKeywordOnly
	switch matchType {
	case model.MatchBoth:
		bonus = bonusBoth
	case model.MatchVector:
		bonus = bonusVectorOnly
	}
	c := similarity*fusionWeight + bonus
	if c > 1 {
		return 1
	}
	if c < 0 {
		return 0
	}
	return c
}

// rankAndPack 融合、过滤、排序、截断并按上下文预算选块
func (r *Retriever) rankAndPack(merged []*model.RetrievalResult) ([]*model.RetrievalResult, model.RetrievalStats) {
	stats := model.RetrievalStats{ChunksSearched: len(merged)}

	var passed []*model.RetrievalResult
	for _, res := range merged {
		res.Confidence = Fuse(res.Similarity, res.MatchType)
		if res.Similarity < r.cfg.MinSimilarity || res.Confidence < r.cfg.ConfidenceThreshold {
			continue
		}
		passed = append(passed, res)
	}
	stats.ChunksFiltered = len(merged) - len(passed)

	sort.SliceStable(passed, func(i, j int) bool {
		if passed[i].Confidence != passed[j].Confidence {
			return passed[i].Confidence > passed[j].Confidence
		}
		if passed[i].Similarity != passed[j].Similarity {
			return passed[i].Similarity > passed[j].Similarity
		}
		return passed[i].Chunk.ChunkIndex < passed[j].Chunk.ChunkIndex
	})

	if len(passed) > r.cfg.MaxChunks {
		passed = passed[:r.cfg.MaxChunks]
	}

	// 贪心打包：放不下的块整块丢弃，不做截断
	var selected []*model.RetrievalResult
	budget := 0
	for _, res := range passed {
		cost := len(res.Chunk.Text)
		if len(selected) > 0 {
			cost += len(contextSeparator)
		}
		if budget+cost > r.cfg.MaxContextLength {
			continue
		}
		budget += cost
		selected = append(selected, res)
	}

	var simSum float64
	for _, res := range selected {
		simSum += res.Similarity
	}
	if len(selected) > 0 {
		stats.AverageSimilarity = simSum / float64(len(selected))
	}
	return selected, stats
}

// packContext 以空行连接选中块文本
func packContext(selected []*model.RetrievalResult) string {
	var b []byte
	for i, res := range selected {
		if i > 0 {
			b = append(b, contextSeparator...)
		}
		b = append(b, res.Chunk.Text...)
	}
	return string(b)
}
