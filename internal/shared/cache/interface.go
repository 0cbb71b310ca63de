// Package cache 缓存层抽象接口
//
// 提供学生端推送通道在线状态（presence）的存取能力，当前由 Redis 实现。
// presence 只是尽力而为的展示信号，会话状态的权威来源始终是持久化存储。
package cache

import (
	"context"
)

// PresenceCache 学生端在线状态缓存接口
type PresenceCache interface {
	// SetStudentOnline 标记会话的推送通道在线，带 TTL 自动过期
	SetStudentOnline(ctx context.Context, sessionID string, presence *ClientPresence) error
	// GetStudentPresence 获取在线状态，不在线返回 (nil, nil)
	GetStudentPresence(ctx context.Context, sessionID string) (*ClientPresence, error)
	// SetStudentOffline 删除在线标记
	SetStudentOffline(ctx context.Context, sessionID string) error
	// ListOnlineSessions 列出当前在线的会话 ID
	ListOnlineSessions(ctx context.Context) ([]string, error)
	Close() error
}
