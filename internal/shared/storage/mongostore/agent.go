package mongostore

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"knowledge-engine/internal/shared/model"
)

// ============================================================================
// AgentStore
// ============================================================================

// GetAgentMetadata 读取 Agent 元数据并填充缺省值
func (s *Store) GetAgentMetadata(ctx context.Context, agentID string) (*model.AgentMetadata, error) {
	meta, err := findOne[model.AgentMetadata](ctx, s.col(ColAgents), bson.D{{Key: "_id", Value: agentID}})
	if err != nil || meta == nil {
		return meta, err
	}
	meta.ApplyDefaults()
	return meta, nil
}

// UpsertAgentMetadata 写入 Agent 元数据（部署初始化/测试用）
func (s *Store) UpsertAgentMetadata(ctx context.Context, meta *model.AgentMetadata) error {
	opts := options.UpdateOne().SetUpsert(true)
	_, err := s.col(ColAgents).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: meta.AgentID}},
		bson.D{{Key: "$set", Value: meta}},
		opts,
	)
	return wrapError(err)
}
