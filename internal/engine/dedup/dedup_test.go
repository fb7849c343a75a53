package dedup

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledge-engine/internal/shared/model"
	"knowledge-engine/internal/shared/storage"
)

func TestFingerprint_Normalized(t *testing.T) {
	// 首尾空白不影响指纹
	assert.Equal(t, Fingerprint("hello world"), Fingerprint("  hello world\n"))
	assert.NotEqual(t, Fingerprint("hello world"), Fingerprint("hello  world"))
	assert.Len(t, Fingerprint("x"), 64)
}

func newChunk(agentID, text string) *model.Chunk {
	return &model.Chunk{
		AgentID:     agentID,
		Text:        text,
		Source:      model.SourceDocument,
		ContentHash: Fingerprint(text),
	}
}

// TestResolveVersion_FirstContent 无数据时版本从 1 起
func TestResolveVersion_FirstContent(t *testing.T) {
	v := NewVersioner(storage.NewMemStore())

	got, err := v.ResolveVersion(context.Background(), "agent-a", Fingerprint("doc one"))
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

// TestResolveAndInsert_Idempotent 相同内容重复摄取返回既有版本且不重复写入
func TestResolveAndInsert_Idempotent(t *testing.T) {
	store := storage.NewMemStore()
	v := NewVersioner(store)
	ctx := context.Background()

	first, err := v.ResolveAndInsert(ctx, newChunk("agent-a", "doc one"))
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)
	assert.False(t, first.Duplicate)

	for i := 0; i < 3; i++ {
		again, err := v.ResolveAndInsert(ctx, newChunk("agent-a", "doc one"))
		require.NoError(t, err)
		assert.Equal(t, 1, again.Version)
		assert.True(t, again.Duplicate)
	}

	count, err := store.CountChunks(ctx, "agent-a")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

// TestResolveAndInsert_MonotonicIncrement 新内容每次恰好 +1
func TestResolveAndInsert_MonotonicIncrement(t *testing.T) {
	v := NewVersioner(storage.NewMemStore())
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		res, err := v.ResolveAndInsert(ctx, newChunk("agent-a", fmt.Sprintf("distinct content %d", i)))
		require.NoError(t, err)
		assert.Equal(t, i, res.Version)
		assert.False(t, res.Duplicate)
	}
}

// TestResolveAndInsert_PerAgentCounters 版本计数按 Agent 独立
func TestResolveAndInsert_PerAgentCounters(t *testing.T) {
	v := NewVersioner(storage.NewMemStore())
	ctx := context.Background()

	_, err := v.ResolveAndInsert(ctx, newChunk("agent-a", "content one"))
	require.NoError(t, err)
	_, err = v.ResolveAndInsert(ctx, newChunk("agent-a", "content two"))
	require.NoError(t, err)

	res, err := v.ResolveAndInsert(ctx, newChunk("agent-b", "content one"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Version)
}

// TestResolveAndInsert_ConcurrentSameAgent 并发摄取不产生重复版本
func TestResolveAndInsert_ConcurrentSameAgent(t *testing.T) {
	v := NewVersioner(storage.NewMemStore())
	ctx := context.Background()

	const writers = 16
	versions := make([]int, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := v.ResolveAndInsert(ctx, newChunk("agent-a", fmt.Sprintf("concurrent doc %d", i)))
			if err != nil {
				t.Errorf("writer %d: %v", i, err)
				return
			}
			versions[i] = res.Version
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for _, ver := range versions {
		if seen[ver] {
			t.Fatalf("duplicate version assigned: %d", ver)
		}
		seen[ver] = true
	}
}
