// Package activity 活动日志与截图领域 - HTTP 处理
//
// 学生端经 /api/activity 与 /api/screenshot 上报；管理端查询
// 会话的活动流、可疑告警与截图，并可对截图做人工标记。
package activity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"exam-monitor/internal/coordinator"
	"exam-monitor/internal/shared/model"
	"exam-monitor/internal/shared/storage"
)

// 截图上限，base64 解码后的字节数
const maxScreenshotBytes = 8 << 20

// Downloader 截图字节的读取接口（对象存储模式）
type Downloader interface {
	DownloadBytes(ctx context.Context, key string) ([]byte, error)
}

// Handler 活动日志 HTTP 处理器
type Handler struct {
	coord      *coordinator.Coordinator
	store      storage.PersistentStore
	downloader Downloader // 为 nil 时截图只有内联字节可读
}

// NewHandler 创建活动日志处理器
func NewHandler(coord *coordinator.Coordinator, store storage.PersistentStore, downloader Downloader) *Handler {
	return &Handler{coord: coord, store: store, downloader: downloader}
}

// RegisterRoutes 注册活动日志相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/activity", h.Report)
	mux.HandleFunc("POST /api/screenshot", h.UploadScreenshot)
	mux.HandleFunc("GET /api/admin/sessions/{id}/activities", h.ListBySession)
	mux.HandleFunc("GET /api/admin/suspicious", h.ListSuspicious)
	mux.HandleFunc("GET /api/admin/sessions/{id}/screenshots", h.ListScreenshots)
	mux.HandleFunc("GET /api/admin/screenshots/{id}", h.GetScreenshot)
	mux.HandleFunc("GET /api/admin/screenshots/{id}/image", h.GetScreenshotImage)
	mux.HandleFunc("POST /api/admin/screenshots/{id}/flag", h.FlagScreenshot)
}

// ============================================================================
// 请求类型
// ============================================================================

type reportRequest struct {
	SessionID   string          `json:"session_id"`
	Type        string          `json:"type"`
	Description string          `json:"description,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

type screenshotRequest struct {
	SessionID  string     `json:"session_id"`
	Data       string     `json:"data"` // base64 编码的 PNG
	CapturedAt *time.Time `json:"captured_at,omitempty"`
}

type flagRequest struct {
	Reason string `json:"reason"`
}

// ============================================================================
// 学生端接口
// ============================================================================

// Report 上报一条活动
// POST /api/activity
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	typ := model.ActivityType(req.Type)
	if !typ.Reportable() {
		writeError(w, http.StatusBadRequest, "invalid activity type")
		return
	}

	entry := &model.ActivityLogEntry{
		SessionID:   req.SessionID,
		Type:        typ,
		Description: req.Description,
		Metadata:    req.Metadata,
	}
	if err := h.coord.RecordActivity(r.Context(), entry); err != nil {
		switch {
		case errors.Is(err, coordinator.ErrSessionEnded):
			writeError(w, http.StatusConflict, "session already ended")
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "session not found")
		default:
			log.Printf("[activity.report] error: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to record activity")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":  true,
		"activity": entry,
	})
}

// UploadScreenshot 上报截图
// POST /api/screenshot
func (h *Handler) UploadScreenshot(w http.ResponseWriter, r *http.Request) {
	var req screenshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil || len(data) == 0 {
		writeError(w, http.StatusBadRequest, "data must be non-empty base64")
		return
	}
	if len(data) > maxScreenshotBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "screenshot too large")
		return
	}

	capturedAt := time.Now()
	if req.CapturedAt != nil {
		capturedAt = *req.CapturedAt
	}

	shot, err := h.coord.SaveScreenshot(r.Context(), req.SessionID, data, capturedAt)
	if err != nil {
		switch {
		case errors.Is(err, coordinator.ErrSessionEnded):
			writeError(w, http.StatusConflict, "session already ended")
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "session not found")
		default:
			log.Printf("[activity.screenshot] error: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to save screenshot")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":    true,
		"screenshot": shot,
	})
}

// ============================================================================
// 管理端接口
// ============================================================================

// ListBySession 会话的活动流（按发生顺序）
// GET /api/admin/sessions/{id}/activities?type=suspicious&limit=100&offset=0
func (h *Handler) ListBySession(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)
	typ := r.URL.Query().Get("type")

	activities, err := h.store.ListActivitiesBySession(r.Context(), r.PathValue("id"), typ, limit, offset)
	if err != nil {
		log.Printf("[activity.list] error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list activities")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"activities": activities,
		"total":      len(activities),
	})
}

// ListSuspicious 全部会话的最近可疑活动
// GET /api/admin/suspicious?limit=50
func (h *Handler) ListSuspicious(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)

	activities, err := h.store.ListRecentSuspicious(r.Context(), limit)
	if err != nil {
		log.Printf("[activity.suspicious] error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list suspicious activities")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"activities": activities,
		"total":      len(activities),
	})
}

// ListScreenshots 会话的截图元数据列表（不含字节）
// GET /api/admin/sessions/{id}/screenshots
func (h *Handler) ListScreenshots(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	shots, err := h.store.ListScreenshotsBySession(r.Context(), r.PathValue("id"), limit, offset)
	if err != nil {
		log.Printf("[activity.screenshots] error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list screenshots")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"screenshots": shots,
		"total":       len(shots),
	})
}

// GetScreenshot 截图元数据
// GET /api/admin/screenshots/{id}
func (h *Handler) GetScreenshot(w http.ResponseWriter, r *http.Request) {
	shot, ok := h.loadScreenshot(w, r)
	if !ok {
		return
	}
	shot.Data = nil
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"screenshot": shot,
	})
}

// GetScreenshotImage 截图图像字节
// GET /api/admin/screenshots/{id}/image
func (h *Handler) GetScreenshotImage(w http.ResponseWriter, r *http.Request) {
	shot, ok := h.loadScreenshot(w, r)
	if !ok {
		return
	}

	data := shot.Data
	if len(data) == 0 && shot.ObjectKey != "" {
		if h.downloader == nil {
			writeError(w, http.StatusServiceUnavailable, "object storage not configured")
			return
		}
		var err error
		data, err = h.downloader.DownloadBytes(r.Context(), shot.ObjectKey)
		if err != nil {
			log.Printf("[activity.image] download error: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to fetch screenshot")
			return
		}
	}
	if len(data) == 0 {
		writeError(w, http.StatusNotFound, "screenshot data not available")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// FlagScreenshot 人工标记可疑截图
// POST /api/admin/screenshots/{id}/flag
func (h *Handler) FlagScreenshot(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid screenshot id")
		return
	}
	var req flagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}

	if err := h.store.FlagScreenshot(r.Context(), id, req.Reason); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "screenshot not found")
			return
		}
		log.Printf("[activity.flag] error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to flag screenshot")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *Handler) loadScreenshot(w http.ResponseWriter, r *http.Request) (*model.Screenshot, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid screenshot id")
		return nil, false
	}
	shot, err := h.store.GetScreenshot(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "screenshot not found")
			return nil, false
		}
		log.Printf("[activity.get] error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get screenshot")
		return nil, false
	}
	return shot, true
}
