// Package api 路由配置
//
// 本文件定义 HTTP API 路由，将请求分发到对应的处理函数。
package api

import (
	"net/http"
)

// Router 返回配置好的 HTTP 路由
//
// 路由规则：
//
// 健康检查:
//   - GET /health - 服务健康检查
//   - GET /metrics - Prometheus 指标
//
// 问答 (Ask):
//   - POST /api/v1/agents/{id}/ask - 单次问答
//
// 摄取 (Ingest):
//   - POST /api/v1/agents/{id}/ingest - 提交摄取任务（202 + job_id）
//   - GET  /api/v1/jobs/{id}          - 查询任务状态
//   - GET  /api/v1/queue/stats        - 摄取队列统计
//
// 知识管理 (Agent):
//   - GET    /api/v1/agents/{id}        - Agent 元数据
//   - GET    /api/v1/agents/{id}/chunks - 知识块统计
//   - DELETE /api/v1/agents/{id}/chunks - 清空知识（重训练前置）
//
// WebSocket:
//   - GET /ws/jobs/{id}/events - 任务进度实时推送
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("GET /health", h.Health)

	// Prometheus 指标端点
	mux.Handle("GET /metrics", MetricsHandler())

	// Ask 接口
	mux.HandleFunc("POST /api/v1/agents/{id}/ask", h.Ask)

	// Ingest 接口
	mux.HandleFunc("POST /api/v1/agents/{id}/ingest", h.Ingest)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.GetJob)
	mux.HandleFunc("GET /api/v1/queue/stats", h.QueueStats)

	// Agent 知识管理接口
	mux.HandleFunc("GET /api/v1/agents/{id}", h.GetAgent)
	mux.HandleFunc("GET /api/v1/agents/{id}/chunks", h.GetAgentChunks)
	mux.HandleFunc("DELETE /api/v1/agents/{id}/chunks", h.DeleteAgentChunks)

	// WebSocket
	mux.HandleFunc("GET /ws/jobs/{id}/events", h.gateway.HandleWebSocket)

	var handler http.Handler = mux
	handler = h.AuthMiddleware(handler)
	handler = h.metrics.MetricsMiddleware(handler)
	return handler
}
