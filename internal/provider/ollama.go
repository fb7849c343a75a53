package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"knowledge-engine/internal/config"
	"knowledge-engine/internal/shared/model"
	"knowledge-engine/pkg/logging"
)

// ============================================================================
// 请求 / 响应类型（Ollama 风格 API）
// ============================================================================

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// ============================================================================
// HTTP 客户端
// ============================================================================

// Client Ollama 风格 HTTP 提供方客户端
type Client struct {
	baseURL       string
	embedModel    string
	generateModel string
	httpClient    *http.Client
	pool          *CredentialPool
	logger        *logging.Logger
}

// NewClient 创建提供方客户端
func NewClient(cfg config.ProviderConfig) *Client {
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		embedModel:    cfg.EmbedModel,
		generateModel: cfg.GenerateModel,
		httpClient:    &http.Client{Timeout: cfg.RequestTimeout},
		pool:          NewCredentialPool(cfg.APIKeys),
		logger:        logging.Default("provider"),
	}
}

// Embed 生成文本的嵌入向量（固定 768 维）
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := c.post(ctx, "/api/embeddings", embedRequest{
		Model:  c.embedModel,
		Prompt: text,
	})
	if err != nil {
		return nil, err
	}

	var resp embedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse embeddings response: %w", err)
	}
	if len(resp.Embedding) != model.EmbeddingDim {
		return nil, fmt.Errorf("%w: got %d, want %d",
			ErrEmbeddingDimension, len(resp.Embedding), model.EmbeddingDim)
	}
	return resp.Embedding, nil
}

// Generate 基于检索上下文生成回答。
// 流式响应逐行拼接为完整文本后返回。
func (c *Client) Generate(ctx context.Context, prompt, contextText string) (string, error) {
	full := prompt
	if contextText != "" {
		full = fmt.Sprintf("Context:\n%s\n\n%s", contextText, prompt)
	}

	body, err := c.postStream(ctx, "/api/generate", generateRequest{
		Model:  c.generateModel,
		Prompt: full,
		Stream: true,
	})
	if err != nil {
		return "", err
	}
	return body, nil
}

// Close 释放客户端资源
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// ============================================================================
// 凭据轮换 + 传输
// ============================================================================

// doWithRotation 在凭据池上执行请求：429/超时触发凭据冷却并换下一个重试，
// 其余错误直接返回；池耗尽返回 ErrProviderExhausted。
func (c *Client) doWithRotation(ctx context.Context, build func(cred *Credential) (*http.Response, error)) (*http.Response, error) {
	for {
		cred, err := c.pool.Acquire()
		if err != nil {
			return nil, err
		}

		resp, err := build(cred)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// 传输层超时视为凭据故障，换下一个
			c.pool.ReportFailure(cred)
			c.logger.Warn("provider request failed, rotating credential",
				"error", err, "pool_size", c.pool.Size())
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			c.pool.ReportFailure(cred)
			c.logger.Warn("provider rate limited, rotating credential",
				"pool_size", c.pool.Size())
			continue
		}

		c.pool.Release(cred)
		return resp, nil
	}
}

func (c *Client) newRequest(ctx context.Context, path string, payload any, cred *Credential) (*http.Request, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cred.Key != "" {
		req.Header.Set("Authorization", "Bearer "+cred.Key)
	}
	return req, nil
}

// post 非流式端点，返回完整响应体
func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	resp, err := c.doWithRotation(ctx, func(cred *Credential) (*http.Response, error) {
		req, err := c.newRequest(ctx, path, payload, cred)
		if err != nil {
			return nil, err
		}
		return c.httpClient.Do(req)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("provider API error (status %d): %s", resp.StatusCode, body)
	}
	return io.ReadAll(resp.Body)
}

// postStream 流式端点，逐行解析 JSON 块并拼接 response 字段
func (c *Client) postStream(ctx context.Context, path string, payload any) (string, error) {
	resp, err := c.doWithRotation(ctx, func(cred *Credential) (*http.Response, error) {
		req, err := c.newRequest(ctx, path, payload, cred)
		if err != nil {
			return nil, err
		}
		return c.httpClient.Do(req)
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("provider API error (status %d): %s", resp.StatusCode, body)
	}

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var chunk generateResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return "", fmt.Errorf("failed to parse response chunk: %w", err)
		}
		full.WriteString(chunk.Response)
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("error reading response stream: %w", err)
	}
	return full.String(), nil
}

// 确保 Client 实现了 Provider 接口
var _ Provider = (*Client)(nil)
