// Package student 考生档案领域 - HTTP 处理
//
// 学生客户端启动时经 verify 上报身份，经 consent 记录监考
// 知情同意；管理端查询考生名册。
package student

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"exam-monitor/internal/shared/model"
	"exam-monitor/internal/shared/storage"
)

// Handler 考生档案 HTTP 处理器
type Handler struct {
	store storage.StudentStore
}

// NewHandler 创建考生档案处理器
func NewHandler(store storage.StudentStore) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes 注册考生相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/student/verify", h.Verify)
	mux.HandleFunc("POST /api/student/consent", h.Consent)
	mux.HandleFunc("GET /api/admin/students", h.List)
}

// ============================================================================
// 请求类型
// ============================================================================

type verifyRequest struct {
	ITSID    string `json:"its_id"`
	FullName string `json:"full_name,omitempty"`
	Email    string `json:"email,omitempty"`
}

type consentRequest struct {
	ITSID string `json:"its_id"`
}

// ============================================================================
// Handlers
// ============================================================================

// Verify 考生身份登记（幂等 upsert）
// POST /api/student/verify
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ITSID == "" {
		writeError(w, http.StatusBadRequest, "its_id is required")
		return
	}

	now := time.Now()
	student := &model.Student{
		ITSID:     req.ITSID,
		FullName:  req.FullName,
		Email:     req.Email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.UpsertStudent(r.Context(), student); err != nil {
		log.Printf("[student.verify] UpsertStudent error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to register student")
		return
	}

	// upsert 不回读，重新查一次拿到 consent 状态
	stored, err := h.store.GetStudentByITSID(r.Context(), req.ITSID)
	if err != nil {
		log.Printf("[student.verify] GetStudentByITSID error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to register student")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"student": stored,
	})
}

// Consent 记录监考知情同意
// POST /api/student/consent
func (h *Handler) Consent(w http.ResponseWriter, r *http.Request) {
	var req consentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ITSID == "" {
		writeError(w, http.StatusBadRequest, "its_id is required")
		return
	}

	if err := h.store.RecordStudentConsent(r.Context(), req.ITSID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "student not found")
			return
		}
		log.Printf("[student.consent] error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to record consent")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// List 考生名册
// GET /api/admin/students
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	students, err := h.store.ListStudents(r.Context())
	if err != nil {
		log.Printf("[student.list] error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list students")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"students": students,
		"total":    len(students),
	})
}

// ============================================================================
// 工具函数
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
