package cache

import "time"

// Key 前缀
const (
	// KeyStudentPresence + sessionID → ClientPresence JSON
	KeyStudentPresence = "exam:presence:"
)

// TTL 常量
var (
	// TTLStudentPresence 在线标记的存活时间，推送网关按 ping 周期续期
	TTLStudentPresence = 90 * time.Second
)

// ClientPresence 学生端推送通道的在线信息
type ClientPresence struct {
	SessionID   string    `json:"session_id"`
	StudentID   string    `json:"student_id,omitempty"`
	RemoteAddr  string    `json:"remote_addr,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
