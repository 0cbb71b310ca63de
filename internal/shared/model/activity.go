// Package model 定义核心数据模型
//
// activity.go 包含活动日志相关的数据模型定义：
//   - ActivityLogEntry：会话活动日志（仅追加，写入后不可变）
//   - ActivityType：活动类型枚举
package model

import (
	"encoding/json"
	"time"
)

// ============================================================================
// ActivityType - 活动类型
// ============================================================================

// ActivityType 定义活动日志的类型
//
// 事件分类：
//  1. 生命周期：login, logout, session_ended
//  2. 监控采集：screenshot, keypress, mouse_click, window_switch
//  3. 告警：suspicious
//  4. 管理操作：admin_access, command_issued
type ActivityType string

const (
	ActivityTypeLogin         ActivityType = "login"          // 学生连入
	ActivityTypeLogout        ActivityType = "logout"         // 学生断开
	ActivityTypeSessionEnded  ActivityType = "session_ended"  // 会话结束
	ActivityTypeScreenshot    ActivityType = "screenshot"     // 截图上报
	ActivityTypeKeypress      ActivityType = "keypress"       // 键盘事件
	ActivityTypeMouseClick    ActivityType = "mouse_click"    // 鼠标事件
	ActivityTypeWindowSwitch  ActivityType = "window_switch"  // 窗口切换
	ActivityTypeSuspicious    ActivityType = "suspicious"     // 可疑行为
	ActivityTypeAdminAccess   ActivityType = "admin_access"   // 管理员访问/干预
	ActivityTypeCommandIssued ActivityType = "command_issued" // 管理员下发远程指令
)

// Valid 判断活动类型是否合法
func (t ActivityType) Valid() bool {
	switch t {
	case ActivityTypeLogin, ActivityTypeLogout, ActivityTypeSessionEnded,
		ActivityTypeScreenshot, ActivityTypeKeypress, ActivityTypeMouseClick,
		ActivityTypeWindowSwitch, ActivityTypeSuspicious,
		ActivityTypeAdminAccess, ActivityTypeCommandIssued:
		return true
	}
	return false
}

// Reportable 判断该类型是否允许学生端直接上报
// 生命周期与管理操作类型由服务端自己写入
func (t ActivityType) Reportable() bool {
	switch t {
	case ActivityTypeKeypress, ActivityTypeMouseClick,
		ActivityTypeWindowSwitch, ActivityTypeSuspicious:
		return true
	}
	return false
}

// ============================================================================
// ActivityLogEntry - 活动日志
// ============================================================================

// ActorStudent 表示活动由会话所属的学生端自身触发
//
// 其他取值为触发操作的管理员 ID，用于审计管理员发起的
// 终止/指令操作与学生自行触发的区分。
const ActorStudent = "student"

// ActivityLogEntry 表示一条会话活动记录
//
// 仅追加：写入后永不更新或删除。student_id 为冗余字段，
// 方便按学生维度查询。同一会话内按插入顺序排序，跨会话无全局序。
//
// 数据库表：exam_activity_logs
type ActivityLogEntry struct {
	ID          int64           `json:"id" bson:"id"`
	SessionID   string          `json:"session_id" bson:"session_id"`
	StudentID   string          `json:"student_id" bson:"student_id"`
	Type        ActivityType    `json:"type" bson:"type"`
	Description string          `json:"description,omitempty" bson:"description,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty" bson:"metadata,omitempty"`
	Actor       string          `json:"actor,omitempty" bson:"actor,omitempty"` // ActorStudent 或管理员 ID
	CreatedAt   time.Time       `json:"created_at" bson:"created_at"`
}
