// Package coordinator 会话生命周期协调器的领域错误
package coordinator

import "errors"

var (
	// ErrSessionEnded 目标会话已结束（终态），操作被拒绝
	ErrSessionEnded = errors.New("session already ended")

	// ErrStudentRequired 创建会话缺少考生编号
	ErrStudentRequired = errors.New("student_id is required")
)
