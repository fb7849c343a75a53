// Package mongostore 实现基于 MongoDB 的 storage.Store
//
// 使用 mongo-go-driver v2，通过 bson tag 实现 model 结构体的序列化/反序列化。
// 所有 Collection 名称和索引在 ensureIndexes 中统一管理。
//
// 检索原语：
//   - KeywordQuery 走 $text 索引（textScore 归一化到 [0,1]）
//   - VectorQuery 拉取该 Agent 的带向量块做进程内余弦计算，
//     与 sqlitestore 驱动保持一致的查询语义
package mongostore

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"knowledge-engine/internal/shared/storage"
)

// Collection 名称常量
const (
	ColChunks = "chunks"
	ColJobs   = "ingest_jobs"
	ColAgents = "agents"
	ColAudits = "audits"
)

// Store 实现 storage.Store 接口的 MongoDB 驱动
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewStore 创建 MongoDB 存储实例
//
// uri: MongoDB 连接 URI，如 "mongodb://localhost:27017"
// dbName: 数据库名称，如 "knowledge_engine"
func NewStore(uri, dbName string) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect failed: %w", err)
	}

	// 验证连接
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongostore: ping failed: %w", err)
	}

	db := client.Database(dbName)
	s := &Store{client: client, db: db}

	// 创建索引
	if err := s.ensureIndexes(ctx); err != nil {
		log.Printf("WARNING: mongostore: ensure indexes failed: %v", err)
	}

	log.Printf("[Mongo/Store] Connected to %s (db=%s)", uri, dbName)
	return s, nil
}

// Close 关闭 MongoDB 连接
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// col 获取指定 Collection
func (s *Store) col(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// ensureIndexes 创建所有必要的索引
func (s *Store) ensureIndexes(ctx context.Context) error {
	type idx struct {
		col    string
		keys   bson.D
		unique bool
	}

	indexes := []idx{
		// chunks：去重查询、版本查询、Agent 隔离扫描
		{ColChunks, bson.D{{Key: "agent_id", Value: 1}, {Key: "content_hash", Value: 1}}, false},
		{ColChunks, bson.D{{Key: "agent_id", Value: 1}, {Key: "content_version", Value: -1}}, true},
		{ColChunks, bson.D{{Key: "agent_id", Value: 1}, {Key: "chunk_index", Value: 1}}, false},

		// ingest_jobs：看门狗按状态+心跳扫描
		{ColJobs, bson.D{{Key: "agent_id", Value: 1}, {Key: "created_at", Value: -1}}, false},
		{ColJobs, bson.D{{Key: "status", Value: 1}, {Key: "heartbeat_at", Value: 1}}, false},

		// audits
		{ColAudits, bson.D{{Key: "created_at", Value: -1}}, false},
	}

	for _, i := range indexes {
		im := mongo.IndexModel{Keys: i.keys}
		if i.unique {
			im.Options = options.Index().SetUnique(true)
		}
		if _, err := s.col(i.col).Indexes().CreateOne(ctx, im); err != nil {
			return fmt.Errorf("create index on %s: %w", i.col, err)
		}
	}

	// 关键词检索用全文索引
	textIdx := mongo.IndexModel{
		Keys: bson.D{{Key: "text", Value: "text"}},
	}
	if _, err := s.col(ColChunks).Indexes().CreateOne(ctx, textIdx); err != nil {
		return fmt.Errorf("create text index on %s: %w", ColChunks, err)
	}

	return nil
}

// 确保 Store 实现了 storage.Store 接口
var _ storage.Store = (*Store)(nil)
