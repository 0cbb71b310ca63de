package coordinator

import (
	"exam-monitor/internal/shared/model"
)

// Events 会话事件通知接口
//
// 由推送网关实现，向在线的管理端连接广播实时事件。
// 所有通知都是尽力而为：没有管理端在线时调用是空操作，
// 通知失败不影响已落库的状态。
type Events interface {
	SessionStarted(session *model.Session)
	SessionDisconnected(sessionID string)
	SessionEnded(sessionID string)
	SuspiciousActivity(entry *model.ActivityLogEntry)
	NewScreenshot(shot *model.Screenshot)
}

// NopEvents 空实现，未接网关时使用
type NopEvents struct{}

var _ Events = NopEvents{}

func (NopEvents) SessionStarted(*model.Session)               {}
func (NopEvents) SessionDisconnected(string)                  {}
func (NopEvents) SessionEnded(string)                         {}
func (NopEvents) SuspiciousActivity(*model.ActivityLogEntry)  {}
func (NopEvents) NewScreenshot(*model.Screenshot)             {}
