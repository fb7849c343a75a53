// Package dedup 内容指纹与版本解析
//
// 对切分后的文本计算 SHA-256 指纹，并为每个 Agent 维护单调递增的
// 内容版本号。相同 (agentID, hash) 幂等返回既有版本；新内容取
// 最高版本 +1（从 1 起）。
//
// 版本解析必须按 agentID 串行化：两个并发摄取不得算出同一个
// "下一版本"。这里用分片互斥锁在进程内串行，存储层的唯一索引
// (agent_id, content_version) 兜底跨进程竞争。
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"strings"
	"sync"

	"knowledge-engine/internal/shared/model"
	"knowledge-engine/internal/shared/storage"
)

// stripeCount Agent 锁分片数，必须是 2 的幂
const stripeCount = 64

// Fingerprint 计算归一化文本的十六进制 SHA-256 指纹
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:])
}

// Versioner 按 Agent 解析内容版本
type Versioner struct {
	store   storage.MemoryStore
	stripes [stripeCount]sync.Mutex
}

// NewVersioner 创建版本解析器
func NewVersioner(store storage.MemoryStore) *Versioner {
	return &Versioner{store: store}
}

// ResolveVersion 解析内容指纹对应的版本号。
//
// 既有指纹返回其已分配版本（幂等，不产生写入）；
// 新指纹返回该 Agent 最高版本 +1。
func (v *Versioner) ResolveVersion(ctx context.Context, agentID, hash string) (int, error) {
	mu := &v.stripes[stripeFor(agentID)]
	mu.Lock()
	defer mu.Unlock()

	existing, err := v.store.FindByHash(ctx, agentID, hash)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return existing.ContentVersion, nil
	}

	highest, err := v.store.HighestVersion(ctx, agentID)
	if err != nil {
		return 0, err
	}
	return highest + 1, nil
}

// Resolution 版本解析结果
type Resolution struct {
	Version   int
	Duplicate bool // 内容已存在，摄取应跳过写入
}

// ResolveAndInsert 在 Agent 串行区内解析版本并写入新块。
//
// 重复内容不产生写入，返回既有版本与 Duplicate=true；
// 新内容以最高版本 +1 写入。存储层唯一索引兜底跨进程竞争：
// 写入撞上 ErrDuplicate 时同样按重复处理。
func (v *Versioner) ResolveAndInsert(ctx context.Context, chunk *model.Chunk) (Resolution, error) {
	mu := &v.stripes[stripeFor(chunk.AgentID)]
	mu.Lock()
	defer mu.Unlock()

	existing, err := v.store.FindByHash(ctx, chunk.AgentID, chunk.ContentHash)
	if err != nil {
		return Resolution{}, err
	}
	if existing != nil {
		return Resolution{Version: existing.ContentVersion, Duplicate: true}, nil
	}

	highest, err := v.store.HighestVersion(ctx, chunk.AgentID)
	if err != nil {
		return Resolution{}, err
	}
	chunk.ContentVersion = highest + 1

	if _, err := v.store.InsertChunk(ctx, chunk); err != nil {
		if err == storage.ErrDuplicate {
			return Resolution{Version: chunk.ContentVersion, Duplicate: true}, nil
		}
		return Resolution{}, err
	}
	return Resolution{Version: chunk.ContentVersion}, nil
}

func stripeFor(agentID string) int {
	h := fnv.New32a()
	h.Write([]byte(agentID))
	return int(h.Sum32() & (stripeCount - 1))
}
