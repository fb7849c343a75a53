package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"knowledge-engine/internal/ingest"
	"knowledge-engine/internal/shared/model"
)

// ingestRequest 摄取请求体
type ingestRequest struct {
	Sources []model.IngestSource `json:"sources"`
}

// ingestResponse 摄取受理响应
type ingestResponse struct {
	JobID  string          `json:"job_id"`
	Status model.JobStatus `json:"status"`
}

// Ingest 提交摄取任务
//
// 路由: POST /api/v1/agents/{id}/ingest
//
// 请求体：
//
//	{"sources": [{"source": "document", "file_name": "a.txt", "text": "..."},
//	             {"source": "document", "object_key": "uploads/b.pdf"}]}
//
// 受理即返回 202 与 job_id，绝不等待处理完成。
// 进度通过 GET /api/v1/jobs/{id} 或 WebSocket 订阅获取。
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if agentID == "" {
		writeError(w, http.StatusBadRequest, "agent id required")
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.submitter.Submit(r.Context(), agentID, req.Sources)
	if err != nil {
		if errors.Is(err, ingest.ErrNoSources) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.WithAgentID(agentID).WithError(err).Error("ingest submission failed")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.metrics.RecordIngestSubmitted()
	writeJSON(w, http.StatusAccepted, ingestResponse{JobID: job.ID, Status: job.Status})
}

// GetJob 查询摄取任务状态
//
// 路由: GET /api/v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		h.logger.WithJobID(jobID).WithError(err).Error("failed to load job")
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	// Sources 可能携带完整原文，查询接口不回传
	job.Sources = nil
	writeJSON(w, http.StatusOK, job)
}

// QueueStats 摄取队列统计
//
// 路由: GET /api/v1/queue/stats
func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	length, err := h.queue.GetIngestQueueLength(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read queue length")
		return
	}
	pending, err := h.queue.GetIngestPendingCount(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read pending count")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"queue_length":  length,
		"pending_count": pending,
	})
}
