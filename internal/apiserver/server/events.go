// Package server 事件分流
package server

import (
	"exam-monitor/internal/coordinator"
	"exam-monitor/internal/relay"
	"exam-monitor/internal/shared/model"
)

// pushSink 推送网关需要实现的两个事件出口
type pushSink interface {
	coordinator.Events
	relay.Notifier
}

// EventsTee 指标 + 推送的事件分流器
//
// 挂在协调器与中继器的事件出口上，一路记 Prometheus 指标，
// 一路转发给 WebSocket 网关。网关可为 nil（无推送模式）。
type EventsTee struct {
	sink    pushSink
	metrics *Metrics
}

// NewEventsTee 创建事件分流器
func (h *Handler) NewEventsTee() *EventsTee {
	t := &EventsTee{metrics: h.metrics}
	if h.gateway != nil {
		t.sink = h.gateway
	}
	return t
}

var (
	_ coordinator.Events = (*EventsTee)(nil)
	_ relay.Notifier     = (*EventsTee)(nil)
)

// SessionStarted 转发会话上线
func (t *EventsTee) SessionStarted(session *model.Session) {
	if t.sink != nil {
		t.sink.SessionStarted(session)
	}
}

// SessionDisconnected 转发会话断开
func (t *EventsTee) SessionDisconnected(sessionID string) {
	if t.sink != nil {
		t.sink.SessionDisconnected(sessionID)
	}
}

// SessionEnded 转发会话结束
func (t *EventsTee) SessionEnded(sessionID string) {
	if t.sink != nil {
		t.sink.SessionEnded(sessionID)
	}
}

// SuspiciousActivity 记录告警指标并转发
func (t *EventsTee) SuspiciousActivity(entry *model.ActivityLogEntry) {
	t.metrics.RecordActivity(string(entry.Type))
	if t.sink != nil {
		t.sink.SuspiciousActivity(entry)
	}
}

// NewScreenshot 记录截图指标并转发
func (t *EventsTee) NewScreenshot(shot *model.Screenshot) {
	t.metrics.RecordScreenshot()
	if t.sink != nil {
		t.sink.NewScreenshot(shot)
	}
}

// CommandQueued 记录指令指标并转发
func (t *EventsTee) CommandQueued(sessionID string, cmd *model.Command) {
	t.metrics.RecordCommandIssued(string(cmd.Type))
	if t.sink != nil {
		t.sink.CommandQueued(sessionID, cmd)
	}
}
