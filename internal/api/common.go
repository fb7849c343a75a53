// Package api 提供 HTTP API 处理器
//
// 本包实现检索与质量引擎的 RESTful API，包括：
//   - 问答接口（Ask）
//   - 知识摄取接口（Ingest，异步任务）
//   - 任务查询接口（Job）
//   - Agent 知识管理接口（块统计、重训练清空）
//   - WebSocket 任务进度推送
//
// 文件组织：
//   - common.go: 通用工具函数和 Handler 定义
//   - handler.go: 路由配置
//   - ask.go: 问答接口
//   - ingest.go: 摄取与任务接口
//   - agents.go: Agent 知识管理接口
//   - auth.go: JWT 认证中间件
//   - metrics.go: Prometheus 指标
//   - websocket.go: WebSocket 任务进度网关
package api

import (
	"encoding/json"
	"net/http"

	"knowledge-engine/internal/config"
	"knowledge-engine/internal/engine/ask"
	"knowledge-engine/internal/ingest"
	"knowledge-engine/internal/shared/eventbus"
	"knowledge-engine/internal/shared/queue"
	"knowledge-engine/internal/shared/storage"
	"knowledge-engine/pkg/logging"
)

// Handler API 处理器
//
// Handler 是所有 HTTP API 的入口，负责：
//   - 路由请求到对应的处理函数
//   - 协调问答引擎、摄取受理器和事件网关
type Handler struct {
	store     storage.Store
	queue     queue.IngestQueue
	askEngine *ask.Engine
	submitter *ingest.Submitter
	gateway   *EventGateway
	metrics   *Metrics
	authCfg   config.AuthConfig
	logger    *logging.Logger
}

// NewHandler 创建 Handler 实例
func NewHandler(store storage.Store, q queue.IngestQueue, bus eventbus.Subscriber, askEngine *ask.Engine, submitter *ingest.Submitter, authCfg config.AuthConfig) *Handler {
	h := &Handler{
		store:     store,
		queue:     q,
		askEngine: askEngine,
		submitter: submitter,
		authCfg:   authCfg,
		logger:    logging.Default("api"),
	}
	h.metrics = NewMetrics("knowledge_engine")
	h.gateway = NewEventGateway(store, bus, h.metrics)
	return h
}

// GetMetrics 返回指标实例
func (h *Handler) GetMetrics() *Metrics {
	return h.metrics
}

// writeJSON 将数据以 JSON 格式写入 HTTP 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError 将错误信息以 JSON 格式写入 HTTP 响应
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Health 健康检查接口
//
// 路由: GET /health
//
// 用于负载均衡器和监控系统检查服务状态。
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
