// Package sqlitestore 实现基于 SQLite 的 storage.Store
//
// 适用于开发、测试和单机嵌入式部署场景，生产环境使用 mongostore。
// 向量以 JSON 文本存储，检索时做进程内余弦计算；
// 关键词检索按词项覆盖率打分，与 MemStore 语义一致。
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"knowledge-engine/internal/shared/model"
	"knowledge-engine/internal/shared/storage"
	"knowledge-engine/internal/shared/vectors"
)

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	id              TEXT PRIMARY KEY,
	agent_id        TEXT NOT NULL,
	text            TEXT NOT NULL,
	embedding       TEXT,
	source          TEXT NOT NULL,
	source_url      TEXT,
	chunk_index     INTEGER NOT NULL,
	content_hash    TEXT NOT NULL,
	content_version INTEGER NOT NULL,
	metadata        TEXT,
	source_metadata TEXT,
	created_at      TIMESTAMP NOT NULL,
	UNIQUE (agent_id, content_version)
);
CREATE INDEX IF NOT EXISTS idx_chunks_agent_hash ON chunks (agent_id, content_hash);

CREATE TABLE IF NOT EXISTS ingest_jobs (
	id           TEXT PRIMARY KEY,
	agent_id     TEXT NOT NULL,
	payload      TEXT NOT NULL,
	status       TEXT NOT NULL,
	updated_at   TIMESTAMP NOT NULL,
	heartbeat_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON ingest_jobs (status, heartbeat_at);

CREATE TABLE IF NOT EXISTS agents (
	id      TEXT PRIMARY KEY,
	payload TEXT NOT NULL
);
`

// Store 实现 storage.Store 接口的 SQLite 驱动
type Store struct {
	db *sql.DB
}

// NewStore 创建 SQLite 存储实例
// dsn 示例: "file:knowledge.db?cache=shared&mode=rwc" 或 ":memory:"
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open failed: %w", err)
	}

	// SQLite 优化设置
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("sqlitestore: %s failed: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("sqlitestore: migrate failed: %w", err)
	}

	log.Printf("[SQLite/Store] Opened %s", dsn)
	return &Store{db: db}, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	return s.db.Close()
}

// ============================================================================
// MemoryStore
// ============================================================================

// InsertChunk 写入单个知识块，ID 为空时由驱动分配
func (s *Store) InsertChunk(ctx context.Context, chunk *model.Chunk) (string, error) {
	if chunk.ID == "" {
		chunk.ID = uuid.NewString()
	}
	emb, err := json.Marshal(chunk.Embedding)
	if err != nil {
		return "", err
	}
	meta, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chunks (id, agent_id, text, embedding, source, source_url,
			chunk_index, content_hash, content_version, metadata, source_metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chunk.ID, chunk.AgentID, chunk.Text, string(emb), string(chunk.Source), chunk.SourceURL,
		chunk.ChunkIndex, chunk.ContentHash, chunk.ContentVersion, string(meta),
		nullableJSON(chunk.SourceMetadata), chunk.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			// 唯一键冲突：回查既有版本判断是否版本计数器损坏
			existing, ferr := s.findByVersion(ctx, chunk.AgentID, chunk.ContentVersion)
			if ferr == nil && existing != nil && existing.ContentHash != chunk.ContentHash {
				return "", storage.ErrVersionCorruption
			}
			return "", storage.ErrDuplicate
		}
		return "", err
	}
	return chunk.ID, nil
}

func (s *Store) VectorQuery(ctx context.Context, agentID string, queryVec []float32, k int) ([]*model.RetrievalResult, error) {
	chunks, err := s.queryChunks(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE agent_id = ? AND embedding IS NOT NULL AND embedding != 'null'`, agentID)
	if err != nil {
		return nil, err
	}

	results := make([]*model.RetrievalResult, 0, len(chunks))
	for _, c := range chunks {
		if !c.HasEmbedding() {
			continue
		}
		results = append(results, &model.RetrievalResult{
			Chunk:      c,
			Similarity: vectors.Cosine(queryVec, c.Embedding),
			MatchType:  model.MatchVector,
		})
	}
	sortResults(results)
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *Store) KeywordQuery(ctx context.Context, agentID string, terms []string, k int) ([]*model.RetrievalResult, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	chunks, err := s.queryChunks(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE agent_id = ?`, agentID)
	if err != nil {
		return nil, err
	}

	var results []*model.RetrievalResult
	for _, c := range chunks {
		lower := strings.ToLower(c.Text)
		hit := 0
		for _, t := range terms {
			if strings.Contains(lower, strings.ToLower(t)) {
				hit++
			}
		}
		if hit == 0 {
			continue
		}
		results = append(results, &model.RetrievalResult{
			Chunk:      c,
			Similarity: float64(hit) / float64(len(terms)),
			MatchType:  model.MatchKeyword,
		})
	}
	sortResults(results)
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *Store) HighestVersion(ctx context.Context, agentID string) (int, error) {
	var v sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(content_version) FROM chunks WHERE agent_id = ?`, agentID).Scan(&v)
	if err != nil {
		return 0, err
	}
	return int(v.Int64), nil
}

func (s *Store) FindByHash(ctx context.Context, agentID, hash string) (*model.Chunk, error) {
	chunks, err := s.queryChunks(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE agent_id = ? AND content_hash = ? LIMIT 1`,
		agentID, hash)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}
	return chunks[0], nil
}

func (s *Store) DeleteAgentChunks(ctx context.Context, agentID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE agent_id = ?`, agentID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) CountChunks(ctx context.Context, agentID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE agent_id = ?`, agentID).Scan(&n)
	return n, err
}

// ============================================================================
// JobStore
// ============================================================================

// Job 整体以 JSON 存储在 payload 列；status/updated_at/heartbeat_at
// 冗余为独立列用于查询与乐观锁。
func (s *Store) CreateJob(ctx context.Context, job *model.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ingest_jobs (id, agent_id, payload, status, updated_at, heartbeat_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.AgentID, string(payload), string(job.Status), job.UpdatedAt, job.HeartbeatAt,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return storage.ErrDuplicate
	}
	return err
}

func (s *Store) GetJob(ctx context.Context, id string) (*model.Job, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM ingest_jobs WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	var job model.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *Store) UpdateJob(ctx context.Context, id string, patch *model.JobPatch) (*model.Job, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, storage.ErrNotFound
	}

	prevStatus := job.Status
	prevUpdated := job.UpdatedAt

	if err := job.Apply(patch, time.Now()); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE ingest_jobs SET payload = ?, status = ?, updated_at = ?, heartbeat_at = ?
		WHERE id = ? AND status = ? AND updated_at = ?`,
		string(payload), string(job.Status), job.UpdatedAt, job.HeartbeatAt,
		id, string(prevStatus), prevUpdated,
	)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, storage.ErrConflict
	}
	return job, nil
}

func (s *Store) ListStaleJobs(ctx context.Context, cutoff time.Time) ([]*model.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM ingest_jobs
		WHERE status = ? AND COALESCE(heartbeat_at, updated_at) < ?`,
		string(model.JobProcessing), cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var job model.Job
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			return nil, err
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

// ============================================================================
// AgentStore
// ============================================================================

func (s *Store) GetAgentMetadata(ctx context.Context, agentID string) (*model.AgentMetadata, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM agents WHERE id = ?`, agentID).Scan(&payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	var meta model.AgentMetadata
	if err := json.Unmarshal([]byte(payload), &meta); err != nil {
		return nil, err
	}
	meta.ApplyDefaults()
	return &meta, nil
}

func (s *Store) UpsertAgentMetadata(ctx context.Context, meta *model.AgentMetadata) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (id, payload) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET payload = excluded.payload`,
		meta.AgentID, string(payload),
	)
	return err
}

// ============================================================================
// 内部工具
// ============================================================================

const chunkColumns = `id, agent_id, text, embedding, source, source_url,
	chunk_index, content_hash, content_version, metadata, source_metadata, created_at`

func (s *Store) queryChunks(ctx context.Context, query string, args ...interface{}) ([]*model.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*model.Chunk
	for rows.Next() {
		var c model.Chunk
		var emb, meta string
		var srcMeta, srcURL sql.NullString
		var source string
		if err := rows.Scan(&c.ID, &c.AgentID, &c.Text, &emb, &source, &srcURL,
			&c.ChunkIndex, &c.ContentHash, &c.ContentVersion, &meta, &srcMeta, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Source = model.ChunkSource(source)
		c.SourceURL = srcURL.String
		if emb != "" && emb != "null" {
			if err := json.Unmarshal([]byte(emb), &c.Embedding); err != nil {
				return nil, err
			}
		}
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
				return nil, err
			}
		}
		if srcMeta.Valid && srcMeta.String != "" {
			c.SourceMetadata = json.RawMessage(srcMeta.String)
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

func (s *Store) findByVersion(ctx context.Context, agentID string, version int) (*model.Chunk, error) {
	chunks, err := s.queryChunks(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE agent_id = ? AND content_version = ? LIMIT 1`,
		agentID, version)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}
	return chunks[0], nil
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func sortResults(results []*model.RetrievalResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Chunk.ChunkIndex < results[j].Chunk.ChunkIndex
	})
}

// 确保 Store 实现了 storage.Store 接口
var _ storage.Store = (*Store)(nil)
