package provider

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"
	"strings"
	"sync"

	"knowledge-engine/internal/shared/model"
)

// MockProvider 确定性内存提供方（用于测试与单机模式）
//
// Embed 从文本指纹派生固定 768 维向量，相同文本产出相同向量；
// Generate 返回可注入的固定回答或基于上下文的回显。
type MockProvider struct {
	mu sync.Mutex

	// GenerateFunc 非空时接管 Generate
	GenerateFunc func(ctx context.Context, prompt, contextText string) (string, error)

	// EmbedFunc 非空时接管 Embed
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)

	// FixedAnswer 非空时 Generate 直接返回该值
	FixedAnswer string

	EmbedCalls    int
	GenerateCalls int
}

// NewMockProvider 创建内存提供方
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Embed 从文本指纹派生确定性向量
func (m *MockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.EmbedCalls++
	fn := m.EmbedFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	return DeterministicEmbedding(text), nil
}

// Generate 返回固定回答或基于上下文的回显
func (m *MockProvider) Generate(ctx context.Context, prompt, contextText string) (string, error) {
	m.mu.Lock()
	m.GenerateCalls++
	fn := m.GenerateFunc
	fixed := m.FixedAnswer
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt, contextText)
	}
	if fixed != "" {
		return fixed, nil
	}
	if contextText == "" {
		return "I don't have enough information to answer that.", nil
	}
	return fmt.Sprintf("Based on the provided sources: %s", firstLine(contextText)), nil
}

// Close 释放资源
func (m *MockProvider) Close() error {
	return nil
}

// DeterministicEmbedding 从文本指纹派生固定 768 维单位向量
func DeterministicEmbedding(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, model.EmbeddingDim)
	var norm float64
	for i := range vec {
		b := sum[i%len(sum)]
		v := float64(int(b)+i%7) / 255.0
		vec[i] = float32(v)
		norm += v * v
	}
	if norm > 0 {
		inv := float32(1.0 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// 确保 MockProvider 实现了 Provider 接口
var _ Provider = (*MockProvider)(nil)
