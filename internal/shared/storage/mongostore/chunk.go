package mongostore

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"knowledge-engine/internal/shared/model"
	"knowledge-engine/internal/shared/storage"
	"knowledge-engine/internal/shared/vectors"
)

// ============================================================================
// MemoryStore
// ============================================================================

// InsertChunk 写入单个知识块，ID 为空时由驱动分配。
//
// (agent_id, content_version) 唯一索引兜底版本计数器完整性：
// 唯一键冲突时回查既有文档，指纹不同说明版本计数器损坏，拒绝写入。
func (s *Store) InsertChunk(ctx context.Context, chunk *model.Chunk) (string, error) {
	if chunk.ID == "" {
		chunk.ID = uuid.NewString()
	}
	err := insertOne(ctx, s.col(ColChunks), chunk)
	if err == nil {
		return chunk.ID, nil
	}
	if !errors.Is(err, storage.ErrDuplicate) {
		return "", err
	}

	existing, ferr := findOne[model.Chunk](ctx, s.col(ColChunks), bson.D{
		{Key: "agent_id", Value: chunk.AgentID},
		{Key: "content_version", Value: chunk.ContentVersion},
	})
	if ferr == nil && existing != nil && existing.ContentHash != chunk.ContentHash {
		return "", storage.ErrVersionCorruption
	}
	return "", storage.ErrDuplicate
}

// VectorQuery 向量相似度 top-k 查询
//
// 拉取该 Agent 的带向量块做进程内余弦计算。块数量按 Agent 维度有界
// （单 Agent 语料），不引入额外向量引擎，与 sqlitestore 语义一致。
func (s *Store) VectorQuery(ctx context.Context, agentID string, queryVec []float32, k int) ([]*model.RetrievalResult, error) {
	filter := bson.D{
		{Key: "agent_id", Value: agentID},
		{Key: "embedding", Value: bson.D{{Key: "$exists", Value: true}, {Key: "$ne", Value: nil}}},
	}
	chunks, err := findMany[model.Chunk](ctx, s.col(ColChunks), filter)
	if err != nil {
		return nil, err
	}

	results := make([]*model.RetrievalResult, 0, len(chunks))
	for _, c := range chunks {
		results = append(results, &model.RetrievalResult{
			Chunk:      c,
			Similarity: vectors.Cosine(queryVec, c.Embedding),
			MatchType:  model.MatchVector,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Chunk.ChunkIndex < results[j].Chunk.ChunkIndex
	})
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// KeywordQuery 关键词 top-k 查询（$text 索引）
//
// textScore 无上界，通过 score/(score+1) 归一化到 [0,1)。
func (s *Store) KeywordQuery(ctx context.Context, agentID string, terms []string, k int) ([]*model.RetrievalResult, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	query := ""
	for i, t := range terms {
		if i > 0 {
			query += " "
		}
		query += t
	}

	filter := bson.D{
		{Key: "agent_id", Value: agentID},
		{Key: "$text", Value: bson.D{{Key: "$search", Value: query}}},
	}
	opts := options.Find().
		SetProjection(bson.D{
			{Key: "score", Value: bson.D{{Key: "$meta", Value: "textScore"}}},
		}).
		SetSort(bson.D{{Key: "score", Value: bson.D{{Key: "$meta", Value: "textScore"}}}})
	if k > 0 {
		opts.SetLimit(int64(k))
	}

	cursor, err := s.col(ColChunks).Find(ctx, filter, opts)
	if err != nil {
		return nil, wrapError(err)
	}
	defer cursor.Close(ctx)

	var results []*model.RetrievalResult
	for cursor.Next(ctx) {
		var doc struct {
			model.Chunk `bson:",inline"`
			Score       float64 `bson:"score"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		chunk := doc.Chunk
		results = append(results, &model.RetrievalResult{
			Chunk:      &chunk,
			Similarity: doc.Score / (doc.Score + 1),
			MatchType:  model.MatchKeyword,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// HighestVersion 返回该 Agent 已分配的最高内容版本
func (s *Store) HighestVersion(ctx context.Context, agentID string) (int, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "content_version", Value: -1}})
	var doc struct {
		ContentVersion int `bson:"content_version"`
	}
	err := s.col(ColChunks).FindOne(ctx, bson.D{{Key: "agent_id", Value: agentID}}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, wrapError(err)
	}
	return doc.ContentVersion, nil
}

// FindByHash 按内容指纹查找既有块
func (s *Store) FindByHash(ctx context.Context, agentID, hash string) (*model.Chunk, error) {
	return findOne[model.Chunk](ctx, s.col(ColChunks), bson.D{
		{Key: "agent_id", Value: agentID},
		{Key: "content_hash", Value: hash},
	})
}

// DeleteAgentChunks 删除该 Agent 的全部知识块
func (s *Store) DeleteAgentChunks(ctx context.Context, agentID string) (int64, error) {
	res, err := s.col(ColChunks).DeleteMany(ctx, bson.D{{Key: "agent_id", Value: agentID}})
	if err != nil {
		return 0, wrapError(err)
	}
	return res.DeletedCount, nil
}

// CountChunks 统计该 Agent 的知识块数量
func (s *Store) CountChunks(ctx context.Context, agentID string) (int64, error) {
	n, err := s.col(ColChunks).CountDocuments(ctx, bson.D{{Key: "agent_id", Value: agentID}})
	if err != nil {
		return 0, wrapError(err)
	}
	return n, nil
}
