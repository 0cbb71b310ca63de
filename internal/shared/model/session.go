// Package model 定义核心数据模型
//
// session.go 包含考试会话相关的数据模型定义：
//   - Session：一次考试会话（学生端从连接到结束的完整生命周期）
//   - SessionStatus：会话状态枚举
package model

import (
	"time"
)

// ============================================================================
// SessionStatus - 会话状态
// ============================================================================

// SessionStatus 表示考试会话的生命周期状态
//
// 状态机：
//
//	active ⇄ disconnected
//	   ↘        ↙
//	     ended（终态，不可逆）
//
// disconnected 仅在推送通道意外断开时进入，客户端携带同一
// session_id 重连后回到 active；ended 一经写入永不回退。
type SessionStatus string

const (
	SessionStatusActive       SessionStatus = "active"       // 考试进行中
	SessionStatusDisconnected SessionStatus = "disconnected" // 推送通道断开，等待重连
	SessionStatusEnded        SessionStatus = "ended"        // 已结束（终态）
)

// IsTerminal 判断状态是否为终态
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusEnded
}

// Valid 判断是否为已知状态值
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusActive, SessionStatusDisconnected, SessionStatusEnded:
		return true
	default:
		return false
	}
}

// ============================================================================
// Session - 考试会话
// ============================================================================

// Session 表示一名学生的一次考试会话
//
// 会话在客户端首次联系服务器时创建，状态只由 Coordinator 修改，
// 记录永不物理删除（通过 status 实现软生命周期）。
//
// 数据库表：exam_sessions
type Session struct {
	ID          string        `json:"session_id" bson:"_id"`            // 唯一标识，格式：sess-{ts}-{random}（也接受客户端生成的 ID）
	StudentID   string        `json:"student_id" bson:"student_id"`     // 学生 ITS 编号（同一学生可有多个历史会话）
	StudentName string        `json:"student_name,omitempty" bson:"student_name,omitempty"`
	Status      SessionStatus `json:"status" bson:"status"`

	// 时间字段
	StartTime time.Time  `json:"start_time" bson:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty" bson:"end_time,omitempty"` // 仅在结束时写入一次

	// 连接元数据（仅供展示，无不变量约束）
	IPAddress        string `json:"ip_address,omitempty" bson:"ip_address,omitempty"`
	MachineInfo      string `json:"machine_info,omitempty" bson:"machine_info,omitempty"`
	ScreenResolution string `json:"screen_resolution,omitempty" bson:"screen_resolution,omitempty"`
	OSInfo           string `json:"os_info,omitempty" bson:"os_info,omitempty"`
	BrowserVersion   string `json:"browser_version,omitempty" bson:"browser_version,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// SessionSummary 活跃会话列表项
//
// 在 Session 基础上补充聚合计数与实时连接标记，
// 供管理端 listActiveSessions 展示。
type SessionSummary struct {
	Session
	ActivityCount   int  `json:"activity_count"`
	ScreenshotCount int  `json:"screenshot_count"`
	SuspiciousCount int  `json:"suspicious_count"`
	Connected       bool `json:"is_connected"` // 推送通道是否在线（来自 presence 缓存，尽力而为）
}

// SessionStatistics 按日聚合的会话统计
type SessionStatistics struct {
	Date                 string  `json:"exam_date"`
	TotalSessions        int     `json:"total_sessions"`
	ActiveSessions       int     `json:"active_sessions"`
	EndedSessions        int     `json:"ended_sessions"`
	DisconnectedSessions int     `json:"disconnected_sessions"`
	AvgDurationMinutes   float64 `json:"avg_duration_minutes"`
}
