package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"knowledge-engine/internal/engine/ask"
	"knowledge-engine/internal/provider"
)

// askRequest 问答请求体
type askRequest struct {
	Question string `json:"question"`
}

// Ask 单次问答接口
//
// 路由: POST /api/v1/agents/{id}/ask
//
// 请求体：
//
//	{"question": "..."}
//
// 响应包含回答、置信度、来源引用、审计结果与检索元数据。
// 知识库无相关内容时返回 200 + fallback_used=true，不是错误。
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if agentID == "" {
		writeError(w, http.StatusBadRequest, "agent id required")
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	start := time.Now()
	answer, err := h.askEngine.Ask(r.Context(), agentID, req.Question)
	if err != nil {
		// 只有调用方输入错误返回 4xx，链路故障一律 5xx
		if errors.Is(err, ask.ErrEmptyQuestion) {
			writeError(w, http.StatusBadRequest, "question is required")
			return
		}
		if errors.Is(err, provider.ErrProviderExhausted) {
			writeError(w, http.StatusServiceUnavailable, "model provider unavailable")
			return
		}
		if r.Context().Err() != nil {
			writeError(w, http.StatusRequestTimeout, "request cancelled")
			return
		}
		h.logger.WithAgentID(agentID).WithError(err).Error("ask failed")
		writeError(w, http.StatusInternalServerError, "failed to answer question")
		return
	}

	h.metrics.RecordAsk(answer.CacheHit, answer.FallbackUsed, time.Since(start))
	if answer.Audit != nil {
		h.metrics.RecordAuditRisk(string(answer.Audit.RiskLevel))
	}
	writeJSON(w, http.StatusOK, answer)
}
