// Package coordinator 考试会话生命周期协调器
//
// 会话状态的唯一修改入口：创建、断开、重连、结束都经由本包，
// 底层用存储层的条件更新保证并发安全。活动日志与事件广播
// 作为状态转换的副作用在这里统一触发。
package coordinator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"exam-monitor/internal/shared/cache"
	"exam-monitor/internal/shared/model"
	"exam-monitor/internal/shared/storage"
	"exam-monitor/pkg/logging"
)

// ScreenshotStorage 截图字节的外部存储（MinIO）
//
// 未配置时为 nil，截图字节内联落库。
type ScreenshotStorage interface {
	UploadScreenshot(ctx context.Context, sessionID string, capturedAt time.Time, data []byte) (string, error)
}

// Coordinator 会话生命周期协调器
type Coordinator struct {
	store    storage.PersistentStore
	presence cache.PresenceCache
	shots    ScreenshotStorage
	events   Events
	logger   *logging.Logger
}

// New 创建协调器
//
// presence 与 shots 可为 nil（分别退化为"永远离线"与内联存储），
// events 为 nil 时使用空实现。
func New(store storage.PersistentStore, presence cache.PresenceCache, shots ScreenshotStorage, events Events) *Coordinator {
	if events == nil {
		events = NopEvents{}
	}
	return &Coordinator{
		store:    store,
		presence: presence,
		shots:    shots,
		events:   events,
		logger:   logging.Default("coordinator"),
	}
}

// SetEvents 接入事件网关（启动时网关晚于协调器创建）
func (c *Coordinator) SetEvents(events Events) {
	if events != nil {
		c.events = events
	}
}

// ============================================================================
// 会话创建与重连
// ============================================================================

// CreateSessionRequest 学生端创建会话的入参
type CreateSessionRequest struct {
	SessionID        string `json:"session_id,omitempty"` // 客户端自带 ID 时走重连路径
	StudentID        string `json:"student_id"`
	StudentName      string `json:"student_name,omitempty"`
	IPAddress        string `json:"ip_address,omitempty"`
	MachineInfo      string `json:"machine_info,omitempty"`
	ScreenResolution string `json:"screen_resolution,omitempty"`
	OSInfo           string `json:"os_info,omitempty"`
	BrowserVersion   string `json:"browser_version,omitempty"`
}

// CreateSession 创建新会话，或对已有非终态会话执行重连
//
// 返回的 bool 表示是否新建。携带 ended 会话的 ID 返回 ErrSessionEnded，
// 客户端必须开新会话而不是复活旧的。
func (c *Coordinator) CreateSession(ctx context.Context, req *CreateSessionRequest) (*model.Session, bool, error) {
	if req.StudentID == "" {
		return nil, false, ErrStudentRequired
	}

	if req.SessionID != "" {
		existing, err := c.store.GetSession(ctx, req.SessionID)
		switch {
		case err == nil:
			if existing.Status.IsTerminal() {
				return nil, false, ErrSessionEnded
			}
			if existing.Status == model.SessionStatusDisconnected {
				if _, err := c.Reconnect(ctx, existing.ID); err != nil {
					return nil, false, err
				}
				existing, err = c.store.GetSession(ctx, existing.ID)
				if err != nil {
					return nil, false, err
				}
			}
			return existing, false, nil
		case errors.Is(err, storage.ErrNotFound):
			// 未知 ID：按客户端指定的 ID 新建
		default:
			return nil, false, err
		}
	}

	now := time.Now()
	session := &model.Session{
		ID:               req.SessionID,
		StudentID:        req.StudentID,
		StudentName:      req.StudentName,
		Status:           model.SessionStatusActive,
		StartTime:        now,
		IPAddress:        req.IPAddress,
		MachineInfo:      req.MachineInfo,
		ScreenResolution: req.ScreenResolution,
		OSInfo:           req.OSInfo,
		BrowserVersion:   req.BrowserVersion,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if session.ID == "" {
		session.ID = newSessionID()
	}
	if err := c.store.CreateSession(ctx, session); err != nil {
		return nil, false, fmt.Errorf("create session: %w", err)
	}

	c.appendActivity(ctx, session.ID, session.StudentID, model.ActivityTypeLogin,
		"student connected", model.ActorStudent)
	c.events.SessionStarted(session)
	c.logger.Info("session created",
		"session_id", session.ID, "student_id", session.StudentID)
	return session, true, nil
}

// ============================================================================
// 状态转换
// ============================================================================

// EndSession 结束会话（幂等）
//
// 返回的 bool 表示本次调用是否真正发生了转换；对已结束会话
// 返回 false 且不产生任何副作用（不追加日志、不广播）。
// actor 为发起者：model.ActorStudent 或管理员 ID。
func (c *Coordinator) EndSession(ctx context.Context, sessionID, actor string) (*model.Session, bool, error) {
	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}

	changed, err := c.store.EndSession(ctx, sessionID, time.Now())
	if err != nil {
		return nil, false, err
	}
	if changed {
		c.appendActivity(ctx, sessionID, session.StudentID, model.ActivityTypeSessionEnded,
			"session ended", actor)
		c.setOffline(ctx, sessionID)
		c.events.SessionEnded(sessionID)
		c.logger.Info("session ended", "session_id", sessionID, "actor", actor)
	}

	session, err = c.store.GetSession(ctx, sessionID)
	return session, changed, err
}

// MarkDisconnected 推送通道断开时将 active 会话置为 disconnected
func (c *Coordinator) MarkDisconnected(ctx context.Context, sessionID string) (bool, error) {
	changed, err := c.store.MarkSessionDisconnected(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if changed {
		session, gerr := c.store.GetSession(ctx, sessionID)
		studentID := ""
		if gerr == nil {
			studentID = session.StudentID
		}
		c.appendActivity(ctx, sessionID, studentID, model.ActivityTypeLogout,
			"push channel lost", model.ActorStudent)
		c.setOffline(ctx, sessionID)
		c.events.SessionDisconnected(sessionID)
		c.logger.Info("session disconnected", "session_id", sessionID)
	}
	return changed, nil
}

// Reconnect disconnected 会话重新回到 active，排队中的指令原样保留
func (c *Coordinator) Reconnect(ctx context.Context, sessionID string) (bool, error) {
	changed, err := c.store.ReconnectSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if changed {
		session, gerr := c.store.GetSession(ctx, sessionID)
		studentID := ""
		if gerr == nil {
			studentID = session.StudentID
		}
		c.appendActivity(ctx, sessionID, studentID, model.ActivityTypeLogin,
			"student reconnected", model.ActorStudent)
		if gerr == nil {
			c.events.SessionStarted(session)
		}
		c.logger.Info("session reconnected", "session_id", sessionID)
	}
	return changed, nil
}

// ============================================================================
// 活动与截图上报
// ============================================================================

// RecordActivity 记录一条学生端活动
//
// 会话必须存在且非终态；suspicious 类型额外触发告警广播。
func (c *Coordinator) RecordActivity(ctx context.Context, entry *model.ActivityLogEntry) error {
	session, err := c.store.GetSession(ctx, entry.SessionID)
	if err != nil {
		return err
	}
	if session.Status.IsTerminal() {
		return ErrSessionEnded
	}

	if entry.StudentID == "" {
		entry.StudentID = session.StudentID
	}
	if entry.Actor == "" {
		entry.Actor = model.ActorStudent
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if err := c.store.AppendActivity(ctx, entry); err != nil {
		return fmt.Errorf("append activity: %w", err)
	}

	if entry.Type == model.ActivityTypeSuspicious {
		c.events.SuspiciousActivity(entry)
		c.logger.Warn("suspicious activity",
			"session_id", entry.SessionID, "description", entry.Description)
	}
	return nil
}

// SaveScreenshot 保存学生端上报的截图
//
// 配置了对象存储时字节上传 MinIO，数据库只存对象键；
// 否则内联落库。两种模式都追加 screenshot 活动并广播。
func (c *Coordinator) SaveScreenshot(ctx context.Context, sessionID string, data []byte, capturedAt time.Time) (*model.Screenshot, error) {
	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return nil, ErrSessionEnded
	}
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}

	shot := &model.Screenshot{
		SessionID:  sessionID,
		StudentID:  session.StudentID,
		FileSize:   int64(len(data)),
		CapturedAt: capturedAt,
	}
	if c.shots != nil {
		key, err := c.shots.UploadScreenshot(ctx, sessionID, capturedAt, data)
		if err != nil {
			return nil, fmt.Errorf("upload screenshot: %w", err)
		}
		shot.ObjectKey = key
	} else {
		shot.Data = data
	}

	if err := c.store.CreateScreenshot(ctx, shot); err != nil {
		return nil, fmt.Errorf("save screenshot: %w", err)
	}
	c.appendActivity(ctx, sessionID, session.StudentID, model.ActivityTypeScreenshot,
		"screenshot captured", model.ActorStudent)
	c.events.NewScreenshot(shot)
	return shot, nil
}

// ============================================================================
// 查询
// ============================================================================

// ListActiveSessions 活跃会话列表，Connected 来自 presence 缓存
func (c *Coordinator) ListActiveSessions(ctx context.Context) ([]*model.SessionSummary, error) {
	summaries, err := c.store.ListActiveSummaries(ctx)
	if err != nil {
		return nil, err
	}
	c.annotatePresence(ctx, summaries)
	return summaries, nil
}

// GetSession 按 ID 查询会话
func (c *Coordinator) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	return c.store.GetSession(ctx, sessionID)
}

// ListSessions 按状态过滤的历史会话列表，status 为空时不过滤
func (c *Coordinator) ListSessions(ctx context.Context, status model.SessionStatus, limit, offset int) ([]*model.Session, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return c.store.ListSessions(ctx, string(status), limit, offset)
}

// SessionDetail 单会话详情（列表项 + 最近的活动/截图/指令）
type SessionDetail struct {
	*model.SessionSummary
	Activities  []*model.ActivityLogEntry `json:"activities"`
	Screenshots []*model.Screenshot       `json:"screenshots"`
	Commands    []*model.Command          `json:"commands"`
}

// GetSessionDetail 获取单会话详情
func (c *Coordinator) GetSessionDetail(ctx context.Context, sessionID string) (*SessionDetail, error) {
	summary, err := c.store.GetSessionSummary(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	c.annotatePresence(ctx, []*model.SessionSummary{summary})

	activities, err := c.store.ListActivitiesBySession(ctx, sessionID, "", 100, 0)
	if err != nil {
		return nil, err
	}
	screenshots, err := c.store.ListScreenshotsBySession(ctx, sessionID, 50, 0)
	if err != nil {
		return nil, err
	}
	commands, err := c.store.ListCommandsBySession(ctx, sessionID, 50)
	if err != nil {
		return nil, err
	}
	return &SessionDetail{
		SessionSummary: summary,
		Activities:     activities,
		Screenshots:    screenshots,
		Commands:       commands,
	}, nil
}

// Statistics 最近 days 天的按日统计
func (c *Coordinator) Statistics(ctx context.Context, days int) ([]*model.SessionStatistics, error) {
	return c.store.SessionStatistics(ctx, days)
}

// ============================================================================
// 内部辅助
// ============================================================================

// appendActivity 状态转换的伴生日志，失败只告警不回滚
func (c *Coordinator) appendActivity(ctx context.Context, sessionID, studentID string, typ model.ActivityType, description, actor string) {
	entry := &model.ActivityLogEntry{
		SessionID:   sessionID,
		StudentID:   studentID,
		Type:        typ,
		Description: description,
		Actor:       actor,
		CreatedAt:   time.Now(),
	}
	if err := c.store.AppendActivity(ctx, entry); err != nil {
		c.logger.WithError(err).Warn("append activity failed",
			"session_id", sessionID, "type", string(typ))
	}
}

func (c *Coordinator) setOffline(ctx context.Context, sessionID string) {
	if c.presence == nil {
		return
	}
	if err := c.presence.SetStudentOffline(ctx, sessionID); err != nil {
		c.logger.WithError(err).Warn("presence cleanup failed", "session_id", sessionID)
	}
}

func (c *Coordinator) annotatePresence(ctx context.Context, summaries []*model.SessionSummary) {
	if c.presence == nil {
		return
	}
	online, err := c.presence.ListOnlineSessions(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("presence lookup failed")
		return
	}
	set := make(map[string]struct{}, len(online))
	for _, id := range online {
		set[id] = struct{}{}
	}
	for _, summary := range summaries {
		_, summary.Connected = set[summary.ID]
	}
}

// newSessionID 生成会话 ID：sess-{毫秒时间戳}-{8 个十六进制字符}
func newSessionID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("sess-%d-%s", time.Now().UnixMilli(), hex.EncodeToString(b))
}
