// Package storage 提供存储层抽象
//
// mock.go 提供用于测试的内存实现
//
// MemStore 实现完整的 Store 接口，检索语义与真实驱动保持一致
// （余弦相似度 + 词项覆盖率），供引擎层单元测试使用。
package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"knowledge-engine/internal/shared/model"
	"knowledge-engine/internal/shared/vectors"
)

// MemStore 内存存储（用于测试）
type MemStore struct {
	mu     sync.RWMutex
	idSeq  int
	chunks map[string]*model.Chunk         // chunkID -> chunk
	jobs   map[string]*model.Job           // jobID -> job
	agents map[string]*model.AgentMetadata // agentID -> metadata
}

// NewMemStore 创建内存存储实例
func NewMemStore() *MemStore {
	return &MemStore{
		chunks: make(map[string]*model.Chunk),
		jobs:   make(map[string]*model.Job),
		agents: make(map[string]*model.AgentMetadata),
	}
}

// Close 关闭存储
func (s *MemStore) Close() error { return nil }

// ============================================================================
// MemoryStore 实现
// ============================================================================

func (s *MemStore) InsertChunk(ctx context.Context, chunk *model.Chunk) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if chunk.ID == "" {
		s.idSeq++
		chunk.ID = fmt.Sprintf("chunk-%d", s.idSeq)
	}
	if _, ok := s.chunks[chunk.ID]; ok {
		return "", ErrDuplicate
	}
	// 版本计数器损坏检测：同一 agent+version 不同指纹必须拒绝
	for _, c := range s.chunks {
		if c.AgentID == chunk.AgentID && c.ContentVersion == chunk.ContentVersion && c.ContentHash != chunk.ContentHash {
			return "", ErrVersionCorruption
		}
	}
	cp := *chunk
	s.chunks[chunk.ID] = &cp
	return chunk.ID, nil
}

func (s *MemStore) VectorQuery(ctx context.Context, agentID string, queryVec []float32, k int) ([]*model.RetrievalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*model.RetrievalResult
	for _, c := range s.chunks {
		if c.AgentID != agentID || !c.HasEmbedding() {
			continue
		}
		results = append(results, &model.RetrievalResult{
			Chunk:      c,
			Similarity: vectors.Cosine(queryVec, c.Embedding),
			MatchType:  model.MatchVector,
		})
	}
	sortAndTrim(&results, k)
	return results, nil
}

func (s *MemStore) KeywordQuery(ctx context.Context, agentID string, terms []string, k int) ([]*model.RetrievalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(terms) == 0 {
		return nil, nil
	}

	var results []*model.RetrievalResult
	for _, c := range s.chunks {
		if c.AgentID != agentID {
			continue
		}
		score := termCoverage(c.Text, terms)
		if score == 0 {
			continue
		}
		results = append(results, &model.RetrievalResult{
			Chunk:      c,
			Similarity: score,
			MatchType:  model.MatchKeyword,
		})
	}
	sortAndTrim(&results, k)
	return results, nil
}

func (s *MemStore) HighestVersion(ctx context.Context, agentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	highest := 0
	for _, c := range s.chunks {
		if c.AgentID == agentID && c.ContentVersion > highest {
			highest = c.ContentVersion
		}
	}
	return highest, nil
}

func (s *MemStore) FindByHash(ctx context.Context, agentID, hash string) (*model.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.chunks {
		if c.AgentID == agentID && c.ContentHash == hash {
			return c, nil
		}
	}
	return nil, nil
}

func (s *MemStore) DeleteAgentChunks(ctx context.Context, agentID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, c := range s.chunks {
		if c.AgentID == agentID {
			delete(s.chunks, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemStore) CountChunks(ctx context.Context, agentID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, c := range s.chunks {
		if c.AgentID == agentID {
			n++
		}
	}
	return n, nil
}

// ============================================================================
// JobStore 实现
// ============================================================================

func (s *MemStore) CreateJob(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return ErrDuplicate
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (s *MemStore) UpdateJob(ctx context.Context, id string, patch *model.JobPatch) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := j.Apply(patch, time.Now()); err != nil {
		return nil, err
	}
	cp := *j
	return &cp, nil
}

func (s *MemStore) ListStaleJobs(ctx context.Context, cutoff time.Time) ([]*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stale []*model.Job
	for _, j := range s.jobs {
		if j.Status != model.JobProcessing {
			continue
		}
		last := j.HeartbeatAt
		if last.IsZero() {
			last = j.UpdatedAt
		}
		if last.Before(cutoff) {
			cp := *j
			stale = append(stale, &cp)
		}
	}
	return stale, nil
}

// ============================================================================
// AgentStore 实现
// ============================================================================

func (s *MemStore) GetAgentMetadata(ctx context.Context, agentID string) (*model.AgentMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.agents[agentID]
	if !ok {
		return nil, nil
	}
	cp := *m
	cp.ApplyDefaults()
	return &cp, nil
}

func (s *MemStore) UpsertAgentMetadata(ctx context.Context, meta *model.AgentMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *meta
	s.agents[meta.AgentID] = &cp
	return nil
}

// ============================================================================
// 内部工具
// ============================================================================

// termCoverage 词项覆盖率得分：命中词项数 / 总词项数
func termCoverage(text string, terms []string) float64 {
	lower := strings.ToLower(text)
	hit := 0
	for _, term := range terms {
		if strings.Contains(lower, strings.ToLower(term)) {
			hit++
		}
	}
	return float64(hit) / float64(len(terms))
}

// sortAndTrim 按相似度降序、chunk_index 升序排序并截断到 k
func sortAndTrim(results *[]*model.RetrievalResult, k int) {
	rs := *results
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Similarity != rs[j].Similarity {
			return rs[i].Similarity > rs[j].Similarity
		}
		return rs[i].Chunk.ChunkIndex < rs[j].Chunk.ChunkIndex
	})
	if k > 0 && len(rs) > k {
		rs = rs[:k]
	}
	*results = rs
}

// 确保 MemStore 实现了 Store 接口
var _ Store = (*MemStore)(nil)
