package api

import (
	"net/http"
)

// GetAgent 读取 Agent 元数据
//
// 路由: GET /api/v1/agents/{id}
//
// 元数据由外部系统维护，本引擎只读。未登记的 Agent 返回 404。
func (h *Handler) GetAgent(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	meta, err := h.store.GetAgentMetadata(r.Context(), agentID)
	if err != nil {
		h.logger.WithAgentID(agentID).WithError(err).Error("failed to load agent metadata")
		writeError(w, http.StatusInternalServerError, "failed to load agent metadata")
		return
	}
	if meta == nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// GetAgentChunks 知识块统计
//
// 路由: GET /api/v1/agents/{id}/chunks
func (h *Handler) GetAgentChunks(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	count, err := h.store.CountChunks(r.Context(), agentID)
	if err != nil {
		h.logger.WithAgentID(agentID).WithError(err).Error("failed to count chunks")
		writeError(w, http.StatusInternalServerError, "failed to count chunks")
		return
	}
	highest, err := h.store.HighestVersion(r.Context(), agentID)
	if err != nil {
		h.logger.WithAgentID(agentID).WithError(err).Error("failed to read highest version")
		writeError(w, http.StatusInternalServerError, "failed to read highest version")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id":        agentID,
		"chunk_count":     count,
		"highest_version": highest,
	})
}

// DeleteAgentChunks 清空 Agent 知识（重训练前置操作）
//
// 路由: DELETE /api/v1/agents/{id}/chunks
//
// 删除该 Agent 的全部知识块并使其缓存命名空间整体失效。
// 版本计数器随数据一起归零：清空后首个新块重新从版本 1 开始。
func (h *Handler) DeleteAgentChunks(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	deleted, err := h.store.DeleteAgentChunks(r.Context(), agentID)
	if err != nil {
		h.logger.WithAgentID(agentID).WithError(err).Error("failed to delete agent chunks")
		writeError(w, http.StatusInternalServerError, "failed to delete agent chunks")
		return
	}
	if err := h.askEngine.InvalidateCache(r.Context(), agentID); err != nil {
		h.logger.WithAgentID(agentID).WithError(err).Warn("cache invalidation failed after retrain")
	}

	h.logger.WithAgentID(agentID).Info("agent knowledge cleared", "chunks_deleted", deleted)
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id":       agentID,
		"chunks_deleted": deleted,
	})
}
