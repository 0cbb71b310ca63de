// Package remote 远程控制领域 - HTTP 处理
//
// 管理端经 POST /api/remote-control/command 下发指令，学生端经
// poll/result 领取与回报。poll 与 result 对学生端开放，不走 JWT。
package remote

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"exam-monitor/internal/apiserver/auth"
	"exam-monitor/internal/relay"
	"exam-monitor/internal/shared/model"
	"exam-monitor/internal/shared/storage"
)

// Handler 远程控制 HTTP 处理器
type Handler struct {
	relay *relay.Relay
}

// NewHandler 创建远程控制处理器
func NewHandler(r *relay.Relay) *Handler {
	return &Handler{relay: r}
}

// RegisterRoutes 注册远程控制相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/remote-control/command", auth.RequireControl(h.IssueCommand))
	mux.HandleFunc("POST /api/remote-control/poll", h.Poll)
	mux.HandleFunc("POST /api/remote-control/result", h.ReportResult)
	mux.HandleFunc("GET /api/admin/sessions/{id}/commands", h.ListCommands)
}

// ============================================================================
// 请求类型
// ============================================================================

type issueRequest struct {
	SessionID string          `json:"session_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type pollRequest struct {
	SessionID string `json:"session_id"`
	Limit     int    `json:"limit,omitempty"`
}

type resultRequest struct {
	CommandID string          `json:"command_id"`
	Status    string          `json:"status"` // completed | failed
	Result    json.RawMessage `json:"result,omitempty"`
}

// ============================================================================
// 管理端接口
// ============================================================================

// IssueCommand 下发远程指令
// POST /api/remote-control/command
func (h *Handler) IssueCommand(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	cmd, err := h.relay.Enqueue(r.Context(), &relay.EnqueueRequest{
		SessionID: req.SessionID,
		Type:      model.CommandType(req.Type),
		Payload:   req.Payload,
		IssuedBy:  auth.ActorID(r.Context()),
	})
	if err != nil {
		switch {
		case errors.Is(err, relay.ErrUnknownCommandType), errors.Is(err, relay.ErrInvalidPayload):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, relay.ErrSessionEnded):
			writeError(w, http.StatusConflict, "session already ended")
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "session not found")
		default:
			log.Printf("[remote.command] error: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to issue command")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"command": cmd,
	})
}

// ListCommands 会话的指令历史
// GET /api/admin/sessions/{id}/commands
func (h *Handler) ListCommands(w http.ResponseWriter, r *http.Request) {
	commands, err := h.relay.ListBySession(r.Context(), r.PathValue("id"), 50)
	if err != nil {
		log.Printf("[remote.list] error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list commands")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"commands": commands,
		"total":    len(commands),
	})
}

// ============================================================================
// 学生端接口
// ============================================================================

// Poll 学生端领取排队中的指令
// POST /api/remote-control/poll
func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	var req pollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	commands, err := h.relay.PollPending(r.Context(), req.SessionID, req.Limit)
	if err != nil {
		switch {
		case errors.Is(err, relay.ErrSessionEnded):
			writeError(w, http.StatusConflict, "session already ended")
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "session not found")
		default:
			log.Printf("[remote.poll] error: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to poll commands")
		}
		return
	}

	// 没有指令时返回空数组而不是 null，客户端少一个判空
	if commands == nil {
		commands = []*model.Command{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"commands": commands,
	})
}

// ReportResult 学生端上报指令执行结果
// POST /api/remote-control/result
func (h *Handler) ReportResult(w http.ResponseWriter, r *http.Request) {
	var req resultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CommandID == "" {
		writeError(w, http.StatusBadRequest, "command_id is required")
		return
	}

	cmd, err := h.relay.ReportResult(r.Context(), req.CommandID, model.CommandStatus(req.Status), req.Result)
	if err != nil {
		switch {
		case errors.Is(err, relay.ErrInvalidTransition):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "command not found")
		default:
			log.Printf("[remote.result] error: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to record result")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"command": cmd,
	})
}
