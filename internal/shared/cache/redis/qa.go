// Package redis 问答缓存操作
package redis

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"knowledge-engine/internal/shared/cache"
	"knowledge-engine/internal/shared/vectors"
)

// ============================================================================
// EmbeddingCache
// ============================================================================

// GetEmbedding 按文本指纹读取缓存向量，未命中返回 (nil, nil)
func (s *Store) GetEmbedding(ctx context.Context, agentID, textHash string) ([]float32, error) {
	key := cache.KeyEmbedding + agentID + ":" + textHash
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// SetEmbedding 写入缓存向量（TTL 24h）
func (s *Store) SetEmbedding(ctx context.Context, agentID, textHash string, vec []float32) error {
	key := cache.KeyEmbedding + agentID + ":" + textHash
	data, err := json.Marshal(vec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, cache.TTLEmbedding).Err()
}

// ============================================================================
// AnswerCache
// ============================================================================

// FindSimilarAnswer 在缓存中查找相似问题的答案
//
// 遍历该 Agent 的缓存条目，余弦相似度达到阈值的条目中取最高者。
func (s *Store) FindSimilarAnswer(ctx context.Context, agentID string, questionVec []float32, threshold float64) (*cache.CachedAnswer, error) {
	key := cache.KeyAnswers + agentID
	items, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var best *cache.CachedAnswer
	bestSim := threshold
	for _, item := range items {
		var entry cache.CachedAnswer
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue // 坏条目跳过，不影响其余缓存
		}
		sim := vectors.CosineRaw(questionVec, entry.QuestionEmbedding)
		if sim >= bestSim {
			e := entry
			best = &e
			bestSim = sim
		}
	}
	return best, nil
}

// AppendAnswer 追加答案条目并裁剪到上界（原子管道：LPUSH + LTRIM + EXPIRE）
func (s *Store) AppendAnswer(ctx context.Context, agentID string, entry *cache.CachedAnswer) error {
	key := cache.KeyAnswers + agentID
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, cache.MaxCacheSize-1)
	pipe.Expire(ctx, key, cache.TTLAnswers)
	_, err = pipe.Exec(ctx)
	return err
}

// ============================================================================
// ContextCache
// ============================================================================

// AppendContext 追加检索上下文条目并裁剪到上界
func (s *Store) AppendContext(ctx context.Context, agentID string, entry *cache.CachedContext) error {
	key := cache.KeyContexts + agentID
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, cache.MaxCacheSize-1)
	pipe.Expire(ctx, key, cache.TTLContexts)
	_, err = pipe.Exec(ctx)
	return err
}

// ListContexts 列出该 Agent 的缓存上下文（新→旧）
func (s *Store) ListContexts(ctx context.Context, agentID string) ([]*cache.CachedContext, error) {
	key := cache.KeyContexts + agentID
	items, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var entries []*cache.CachedContext
	for _, item := range items {
		var entry cache.CachedContext
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// ============================================================================
// Invalidator
// ============================================================================

// InvalidateAgent 删除该 Agent 命名空间下的全部缓存条目
//
// 嵌入缓存按前缀 SCAN 删除，答案/上下文为固定 key 直接删除。
func (s *Store) InvalidateAgent(ctx context.Context, agentID string) error {
	pattern := cache.KeyEmbedding + agentID + ":*"
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	keys = append(keys, cache.KeyAnswers+agentID, cache.KeyContexts+agentID)
	return s.client.Del(ctx, keys...).Err()
}

// 确保 Store 实现了 cache.Cache 接口
var _ cache.Cache = (*Store)(nil)
