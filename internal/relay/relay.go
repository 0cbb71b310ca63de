// Package relay 远程指令中继
//
// 管理端下发的指令经本包入队、投递、回收结果。投递保证至多一次：
// 指令被某次 poll 领取后不会再被后续 poll 看到。推送通道只做
// "有新指令"的提示，实际取指令仍走 PollPending，推送丢失不影响
// 正确性，只影响延迟。
package relay

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"exam-monitor/internal/shared/model"
	"exam-monitor/internal/shared/storage"
	"exam-monitor/pkg/logging"
)

// DefaultStaleTimeout executing 指令多久没有结果上报视为超时
const DefaultStaleTimeout = 5 * time.Minute

// DefaultPollLimit 单次 poll 最多领取的指令数
const DefaultPollLimit = 10

// Notifier 推送通道的提示接口（WebSocket 网关实现）
//
// 提示是尽力而为的，实现不得阻塞调用方。
type Notifier interface {
	CommandQueued(sessionID string, cmd *model.Command)
}

// NopNotifier 无推送通道时的空实现
type NopNotifier struct{}

func (NopNotifier) CommandQueued(string, *model.Command) {}

var _ Notifier = NopNotifier{}

// Relay 指令中继器
type Relay struct {
	store    storage.PersistentStore
	notifier Notifier
	logger   *logging.Logger

	staleTimeout time.Duration
}

// New 创建中继器，notifier 为 nil 时不推送
func New(store storage.PersistentStore, notifier Notifier) *Relay {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Relay{
		store:        store,
		notifier:     notifier,
		logger:       logging.Default("relay"),
		staleTimeout: DefaultStaleTimeout,
	}
}

// SetNotifier 接入推送网关（启动时网关晚于中继器创建）
func (r *Relay) SetNotifier(n Notifier) {
	if n != nil {
		r.notifier = n
	}
}

// SetStaleTimeout 调整 executing 指令的超时阈值，0 表示关闭看门狗
func (r *Relay) SetStaleTimeout(d time.Duration) {
	r.staleTimeout = d
}

// ============================================================================
// 入队
// ============================================================================

// EnqueueRequest 管理端下发指令的入参
type EnqueueRequest struct {
	SessionID string            `json:"session_id"`
	Type      model.CommandType `json:"type"`
	Payload   []byte            `json:"payload,omitempty"`
	IssuedBy  string            `json:"-"` // 认证中间件注入的管理员 ID
}

// Enqueue 校验并入队一条远程指令
//
// 目标会话必须存在且非终态；类型与载荷在入队时即校验，
// 不合法的指令不会进入队列。入队成功后追加 command_issued
// 活动并提示推送通道。
func (r *Relay) Enqueue(ctx context.Context, req *EnqueueRequest) (*model.Command, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommandType, req.Type)
	}
	if err := model.ValidateCommandPayload(req.Type, req.Payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	session, err := r.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return nil, ErrSessionEnded
	}

	cmd := &model.Command{
		ID:        newCommandID(),
		SessionID: req.SessionID,
		Type:      req.Type,
		Payload:   req.Payload,
		Status:    model.CommandStatusPending,
		IssuedBy:  req.IssuedBy,
		CreatedAt: time.Now(),
	}
	if err := r.store.CreateCommand(ctx, cmd); err != nil {
		return nil, fmt.Errorf("create command: %w", err)
	}

	r.appendActivity(ctx, session, cmd)
	r.notifier.CommandQueued(req.SessionID, cmd)
	r.logger.WithCommandID(cmd.ID).Info("command queued",
		"session_id", req.SessionID, "type", string(cmd.Type), "issued_by", cmd.IssuedBy)
	return cmd, nil
}

// ============================================================================
// 投递与结果回收
// ============================================================================

// PollPending 学生端领取排队中的指令
//
// 返回的指令按下发顺序排列，且每条只会被某一次调用领走
// （并发 poll 下由存储层的条件更新裁决）。终态会话返回
// ErrSessionEnded，客户端据此停止轮询。
func (r *Relay) PollPending(ctx context.Context, sessionID string, limit int) ([]*model.Command, error) {
	session, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return nil, ErrSessionEnded
	}
	if limit <= 0 {
		limit = DefaultPollLimit
	}

	claimed, err := r.store.ClaimPendingCommands(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim commands: %w", err)
	}
	if len(claimed) > 0 {
		r.logger.Debug("commands delivered",
			"session_id", sessionID, "count", len(claimed))
	}
	return claimed, nil
}

// ReportResult 学生端上报指令执行结果
//
// 只接受 executing → completed/failed 的转换。重复上报同一终态
// 视为幂等成功；上报不同终态或对 pending 指令上报返回
// ErrInvalidTransition。
func (r *Relay) ReportResult(ctx context.Context, commandID string, status model.CommandStatus, result []byte) (*model.Command, error) {
	if !status.IsTerminal() {
		return nil, fmt.Errorf("%w: result status must be completed or failed, got %q",
			ErrInvalidTransition, status)
	}

	changed, err := r.store.FinishCommand(ctx, commandID, status, result)
	if err != nil {
		return nil, err
	}
	cmd, err := r.store.GetCommand(ctx, commandID)
	if err != nil {
		return nil, err
	}
	if !changed {
		// 重复上报同一终态是网络重试的正常路径
		if cmd.Status != status {
			return nil, fmt.Errorf("%w: command %s is %s", ErrInvalidTransition, commandID, cmd.Status)
		}
		return cmd, nil
	}

	r.logger.WithCommandID(commandID).Info("command finished",
		"session_id", cmd.SessionID, "status", string(status))
	return cmd, nil
}

// ListBySession 查询会话的指令历史（新的在前）
func (r *Relay) ListBySession(ctx context.Context, sessionID string, limit int) ([]*model.Command, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.store.ListCommandsBySession(ctx, sessionID, limit)
}

// ============================================================================
// 超时看门狗
// ============================================================================

// RunWatchdog 周期扫描超时的 executing 指令并标记为 failed
//
// 阻塞直到 ctx 取消，通常作为独立 goroutine 运行。
// staleTimeout 为 0 时直接返回。
func (r *Relay) RunWatchdog(ctx context.Context, interval time.Duration) {
	if r.staleTimeout <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.store.FailStaleExecuting(ctx, time.Now().Add(-r.staleTimeout))
			if err != nil {
				r.logger.WithError(err).Warn("stale command sweep failed")
				continue
			}
			if n > 0 {
				r.logger.Warn("stale commands failed", "count", n)
			}
		}
	}
}

// ============================================================================
// 内部辅助
// ============================================================================

func (r *Relay) appendActivity(ctx context.Context, session *model.Session, cmd *model.Command) {
	entry := &model.ActivityLogEntry{
		SessionID:   session.ID,
		StudentID:   session.StudentID,
		Type:        model.ActivityTypeCommandIssued,
		Description: fmt.Sprintf("remote command %s (%s)", cmd.ID, cmd.Type),
		Actor:       cmd.IssuedBy,
		CreatedAt:   time.Now(),
	}
	if err := r.store.AppendActivity(ctx, entry); err != nil {
		r.logger.WithError(err).Warn("append activity failed",
			"session_id", session.ID, "command_id", cmd.ID)
	}
}

// newCommandID 生成指令 ID：cmd-{12 个十六进制字符}
func newCommandID() string {
	b := make([]byte, 6)
	rand.Read(b)
	return "cmd-" + hex.EncodeToString(b)
}
