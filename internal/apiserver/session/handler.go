// Package session 考试会话领域 - HTTP 处理
package session

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"exam-monitor/internal/apiserver/auth"
	"exam-monitor/internal/coordinator"
	"exam-monitor/internal/shared/model"
	"exam-monitor/internal/shared/storage"
)

// Handler 会话领域 HTTP 处理器
type Handler struct {
	coord *coordinator.Coordinator
}

// NewHandler 创建会话处理器
func NewHandler(coord *coordinator.Coordinator) *Handler {
	return &Handler{coord: coord}
}

// RegisterRoutes 注册会话相关路由
//
// /api/session/* 为学生端路由，/api/admin/* 为管理端路由。
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/session/create", h.Create)
	mux.HandleFunc("POST /api/session/end", h.EndByStudent)
	mux.HandleFunc("GET /api/admin/sessions/active", h.ListActive)
	mux.HandleFunc("GET /api/admin/sessions", h.List)
	mux.HandleFunc("GET /api/admin/sessions/{id}", h.Get)
	mux.HandleFunc("POST /api/admin/sessions/{id}/end", auth.RequireControl(h.EndByAdmin))
	mux.HandleFunc("GET /api/admin/statistics", h.Statistics)
}

// ============================================================================
// 学生端接口
// ============================================================================

type endRequest struct {
	SessionID string `json:"session_id"`
}

// Create 创建会话（或重连）
// POST /api/session/create
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req coordinator.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.IPAddress == "" {
		req.IPAddress = clientIP(r)
	}

	session, created, err := h.coord.CreateSession(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, coordinator.ErrStudentRequired):
			writeError(w, http.StatusBadRequest, "student_id is required")
		case errors.Is(err, coordinator.ErrSessionEnded):
			writeError(w, http.StatusConflict, "session already ended")
		default:
			log.Printf("[session.create] error: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to create session")
		}
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]interface{}{
		"success": true,
		"session": session,
	})
}

// EndByStudent 学生端主动结束会话
// POST /api/session/end
func (h *Handler) EndByStudent(w http.ResponseWriter, r *http.Request) {
	var req endRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	h.endSession(w, r, req.SessionID, model.ActorStudent)
}

// ============================================================================
// 管理端接口
// ============================================================================

// ListActive 列出活跃会话（active + disconnected）
// GET /api/admin/sessions/active
func (h *Handler) ListActive(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.coord.ListActiveSessions(r.Context())
	if err != nil {
		log.Printf("[session.active] error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"sessions": summaries,
		"total":    len(summaries),
	})
}

// List 按条件列出历史会话
// GET /api/admin/sessions?status=ended&limit=50&offset=0
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	status := model.SessionStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status filter")
		return
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	sessions, err := h.coord.ListSessions(r.Context(), status, limit, offset)
	if err != nil {
		log.Printf("[session.list] error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// Get 获取会话详情
// GET /api/admin/sessions/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	detail, err := h.coord.GetSessionDetail(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		log.Printf("[session.get] error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"session": detail,
	})
}

// EndByAdmin 管理员强制结束会话
// POST /api/admin/sessions/{id}/end
func (h *Handler) EndByAdmin(w http.ResponseWriter, r *http.Request) {
	h.endSession(w, r, r.PathValue("id"), auth.ActorID(r.Context()))
}

// Statistics 按日统计
// GET /api/admin/statistics?days=7
func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	if days < 1 || days > 365 {
		writeError(w, http.StatusBadRequest, "days must be between 1 and 365")
		return
	}

	stats, err := h.coord.Statistics(r.Context(), days)
	if err != nil {
		log.Printf("[session.stats] error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to compute statistics")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"statistics": stats,
	})
}

// ============================================================================
// 内部辅助
// ============================================================================

// endSession 学生端与管理端共用的结束路径，幂等
func (h *Handler) endSession(w http.ResponseWriter, r *http.Request, sessionID, actor string) {
	session, changed, err := h.coord.EndSession(r.Context(), sessionID, actor)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		log.Printf("[session.end] error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to end session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"session":       session,
		"already_ended": !changed,
	})
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
