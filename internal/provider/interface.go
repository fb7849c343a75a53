// Package provider LLM 提供方客户端
//
// 封装嵌入与生成两类模型调用，背后是 Ollama 风格的 HTTP API。
// 多个 API 凭据组成轮换池：单个凭据被限流（429）或超时后进入
// 退避冷却，请求自动切换到下一个凭据；全部冷却即视为提供方耗尽。
package provider

import (
	"context"
	"errors"
)

// ============================================================================
// 错误定义
// ============================================================================

var (
	// ErrProviderExhausted 凭据池全部冷却，无可用凭据（终态错误，不再重试）
	ErrProviderExhausted = errors.New("provider: all credentials exhausted")

	// ErrEmbeddingDimension 提供方返回的向量维度与预期不符
	ErrEmbeddingDimension = errors.New("provider: unexpected embedding dimension")
)

// ============================================================================
// 接口定义
// ============================================================================

// Provider 模型提供方接口
type Provider interface {
	// Embed 生成文本的嵌入向量（固定 768 维）
	Embed(ctx context.Context, text string) ([]float32, error)

	// Generate 基于检索上下文生成回答
	Generate(ctx context.Context, prompt, contextText string) (string, error)

	Close() error
}
