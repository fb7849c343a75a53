package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledge-engine/internal/config"
	"knowledge-engine/internal/shared/model"
)

// TestCredentialPool_Rotation 验证凭据轮转顺序
func TestCredentialPool_Rotation(t *testing.T) {
	p := NewCredentialPool([]string{"k1", "k2", "k3"})

	var got []string
	for i := 0; i < 6; i++ {
		c, err := p.Acquire()
		require.NoError(t, err)
		got = append(got, c.Key)
	}
	assert.Equal(t, []string{"k1", "k2", "k3", "k1", "k2", "k3"}, got)
}

// TestCredentialPool_FailureCooldown 验证失败后凭据进入冷却期
func TestCredentialPool_FailureCooldown(t *testing.T) {
	p := NewCredentialPool([]string{"k1", "k2"})

	c1, err := p.Acquire()
	require.NoError(t, err)
	p.ReportFailure(c1)

	// k1 冷却中，连续获取只会命中 k2
	for i := 0; i < 3; i++ {
		c, err := p.Acquire()
		require.NoError(t, err)
		assert.Equal(t, "k2", c.Key)
	}
}

// TestCredentialPool_Exhausted 验证全部冷却后返回终态错误
func TestCredentialPool_Exhausted(t *testing.T) {
	p := NewCredentialPool([]string{"k1", "k2"})

	for i := 0; i < 2; i++ {
		c, err := p.Acquire()
		require.NoError(t, err)
		p.ReportFailure(c)
	}

	_, err := p.Acquire()
	assert.ErrorIs(t, err, ErrProviderExhausted)
}

// TestCredentialPool_ReleaseResets 验证成功请求清零退避状态
func TestCredentialPool_ReleaseResets(t *testing.T) {
	p := NewCredentialPool([]string{"k1"})

	c, err := p.Acquire()
	require.NoError(t, err)
	p.ReportFailure(c)

	_, err = p.Acquire()
	require.ErrorIs(t, err, ErrProviderExhausted)

	p.Release(c)
	got, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, "k1", got.Key)
}

// TestCredentialPool_EmptyKeys 空密钥列表退化为匿名凭据
func TestCredentialPool_EmptyKeys(t *testing.T) {
	p := NewCredentialPool(nil)
	assert.Equal(t, 1, p.Size())

	c, err := p.Acquire()
	require.NoError(t, err)
	assert.Empty(t, c.Key)
}

// TestClient_RotatesOnRateLimit 验证 429 触发换凭据重试
func TestClient_RotatesOnRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		// 第二个凭据成功
		w.Write([]byte(`{"response":"hello","done":true}`))
	}))
	defer srv.Close()

	c := NewClient(config.ProviderConfig{
		BaseURL:        srv.URL,
		GenerateModel:  "test-model",
		RequestTimeout: 5 * time.Second,
		APIKeys:        []string{"k1", "k2"},
	})
	defer c.Close()

	answer, err := c.Generate(context.Background(), "question", "")
	require.NoError(t, err)
	assert.Equal(t, "hello", answer)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

// TestClient_ExhaustedPool 验证全部凭据限流后返回 ErrProviderExhausted
func TestClient_ExhaustedPool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(config.ProviderConfig{
		BaseURL:        srv.URL,
		GenerateModel:  "test-model",
		RequestTimeout: 5 * time.Second,
		APIKeys:        []string{"k1", "k2"},
	})
	defer c.Close()

	_, err := c.Generate(context.Background(), "question", "")
	assert.ErrorIs(t, err, ErrProviderExhausted)
}

// TestClient_EmbedDimension 验证维度校验
func TestClient_EmbedDimension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"embedding":[0.1,0.2,0.3]}`))
	}))
	defer srv.Close()

	c := NewClient(config.ProviderConfig{
		BaseURL:        srv.URL,
		EmbedModel:     "test-embed",
		RequestTimeout: 5 * time.Second,
	})
	defer c.Close()

	_, err := c.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, ErrEmbeddingDimension)
}

// TestClient_GenerateStream 验证流式响应逐行拼接
func TestClient_GenerateStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"part one ","done":false}` + "\n"))
		w.Write([]byte(`{"response":"part two","done":true}` + "\n"))
	}))
	defer srv.Close()

	c := NewClient(config.ProviderConfig{
		BaseURL:        srv.URL,
		GenerateModel:  "test-model",
		RequestTimeout: 5 * time.Second,
	})
	defer c.Close()

	answer, err := c.Generate(context.Background(), "question", "some context")
	require.NoError(t, err)
	assert.Equal(t, "part one part two", answer)
}

// TestMockProvider_DeterministicEmbedding 相同文本产出相同向量
func TestMockProvider_DeterministicEmbedding(t *testing.T) {
	m := NewMockProvider()

	v1, err := m.Embed(context.Background(), "same text")
	require.NoError(t, err)
	v2, err := m.Embed(context.Background(), "same text")
	require.NoError(t, err)
	v3, err := m.Embed(context.Background(), "different text")
	require.NoError(t, err)

	assert.Len(t, v1, model.EmbeddingDim)
	assert.Equal(t, v1, v2)
	assert.NotEqual(t, v1, v3)
}

// TestMockProvider_GenerateOverride 验证注入行为
func TestMockProvider_GenerateOverride(t *testing.T) {
	m := NewMockProvider()
	m.GenerateFunc = func(ctx context.Context, prompt, contextText string) (string, error) {
		return "", errors.New("provider down")
	}

	_, err := m.Generate(context.Background(), "q", "ctx")
	assert.Error(t, err)
}
