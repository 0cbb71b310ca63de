// Package storage 定义持久化存储层抽象接口
//
// 设计原则：依赖倒置 (DIP)
//   - 调用方只依赖接口，不知道具体实现
//   - 具体实现在子包中：repository/（SQL）、mongostore/（MongoDB）
//   - 初始化时通过依赖注入传入实现
//
// 注意：在线状态缓存与屏幕截图对象存储在独立包：
//   - cache/：presence 缓存接口
//   - objstore/：截图对象存储
package storage

import (
	"context"
	"encoding/json"
	"time"

	"exam-monitor/internal/shared/model"
)

// ============================================================================
// 会话存储
// ============================================================================

// SessionStore 考试会话存储接口
//
// 状态转换方法（EndSession 等）返回的 bool 表示本次调用是否
// 真正发生了转换：实现必须用条件更新保证并发下恰好一个调用者
// 拿到 true，其余拿到 false 且不产生副作用。
type SessionStore interface {
	CreateSession(ctx context.Context, session *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	ListSessions(ctx context.Context, status string, limit, offset int) ([]*model.Session, error)

	// ListActiveSummaries 返回 active 与 disconnected 会话及其聚合计数
	ListActiveSummaries(ctx context.Context) ([]*model.SessionSummary, error)
	GetSessionSummary(ctx context.Context, id string) (*model.SessionSummary, error)

	// EndSession 将会话置为 ended（终态），仅当当前状态非 ended 时生效
	EndSession(ctx context.Context, id string, endTime time.Time) (bool, error)
	// MarkSessionDisconnected active → disconnected
	MarkSessionDisconnected(ctx context.Context, id string) (bool, error)
	// ReconnectSession disconnected → active
	ReconnectSession(ctx context.Context, id string) (bool, error)

	// SessionStatistics 返回最近 days 天的按日统计
	SessionStatistics(ctx context.Context, days int) ([]*model.SessionStatistics, error)
}

// ============================================================================
// 远程指令存储
// ============================================================================

// CommandStore 远程指令存储接口
type CommandStore interface {
	CreateCommand(ctx context.Context, cmd *model.Command) error
	GetCommand(ctx context.Context, id string) (*model.Command, error)
	ListCommandsBySession(ctx context.Context, sessionID string, limit int) ([]*model.Command, error)

	// ClaimPendingCommands 原子认领最多 limit 条 pending 指令
	// （pending → executing，按创建顺序），并发调用时每条指令
	// 恰好被一个调用者认领。
	ClaimPendingCommands(ctx context.Context, sessionID string, limit int) ([]*model.Command, error)

	// FinishCommand executing → completed/failed 的条件更新，
	// 当前状态非 executing 时返回 false 且不修改任何字段。
	FinishCommand(ctx context.Context, id string, status model.CommandStatus, result json.RawMessage) (bool, error)

	// FailStaleExecuting 将 executed_at 早于 olderThan 的 executing
	// 指令批量置为 failed，返回受影响条数。看门狗专用。
	FailStaleExecuting(ctx context.Context, olderThan time.Time) (int64, error)
}

// ============================================================================
// 活动日志存储
// ============================================================================

// ActivityStore 活动日志存储接口（仅追加，无更新/删除方法）
type ActivityStore interface {
	AppendActivity(ctx context.Context, entry *model.ActivityLogEntry) error
	// ListActivitiesBySession 按插入顺序返回，activityType 为空表示不过滤
	ListActivitiesBySession(ctx context.Context, sessionID string, activityType string, limit, offset int) ([]*model.ActivityLogEntry, error)
	ListRecentSuspicious(ctx context.Context, limit int) ([]*model.ActivityLogEntry, error)
}

// ============================================================================
// 截图存储
// ============================================================================

// ScreenshotStore 截图元数据存储接口
//
// 图像字节本体走 objstore（或内联 Data 降级），列表接口只返回元数据。
type ScreenshotStore interface {
	CreateScreenshot(ctx context.Context, shot *model.Screenshot) error
	GetScreenshot(ctx context.Context, id int64) (*model.Screenshot, error)
	ListScreenshotsBySession(ctx context.Context, sessionID string, limit, offset int) ([]*model.Screenshot, error)
	FlagScreenshot(ctx context.Context, id int64, reason string) error
}

// ============================================================================
// 考生与管理员
// ============================================================================

// StudentStore 考生档案存储接口
type StudentStore interface {
	UpsertStudent(ctx context.Context, student *model.Student) error
	GetStudentByITSID(ctx context.Context, itsID string) (*model.Student, error)
	ListStudents(ctx context.Context) ([]*model.Student, error)
	RecordStudentConsent(ctx context.Context, itsID string) error
}

// AdminStore 管理员账号存储接口
type AdminStore interface {
	CreateAdminUser(ctx context.Context, admin *model.AdminUser) error
	GetAdminByUsername(ctx context.Context, username string) (*model.AdminUser, error)
	GetAdminByID(ctx context.Context, id string) (*model.AdminUser, error)
	UpdateAdminLastLogin(ctx context.Context, id string, at time.Time) error
	ListAdmins(ctx context.Context) ([]*model.AdminUser, error)
}

// ============================================================================
// 组合接口
// ============================================================================

// PersistentStore 持久化存储组合接口
type PersistentStore interface {
	SessionStore
	CommandStore
	ActivityStore
	ScreenshotStore
	StudentStore
	AdminStore
	Close() error
}
