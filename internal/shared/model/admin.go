// Package model 定义核心数据模型
//
// admin.go 包含监考管理员账号模型。
package model

import (
	"time"
)

// AdminRole 管理员角色
type AdminRole string

const (
	RoleSuperAdmin AdminRole = "super_admin" // 超级管理员：账号管理 + 全部权限
	RoleAdmin      AdminRole = "admin"       // 管理员：会话管理 + 远程控制
	RoleMonitor    AdminRole = "monitor"     // 监考员：只读监控
)

// Valid 判断角色是否合法
func (r AdminRole) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleMonitor:
		return true
	}
	return false
}

// CanControl 判断该角色是否允许下发远程命令与结束会话
func (r AdminRole) CanControl() bool {
	return r == RoleSuperAdmin || r == RoleAdmin
}

// AdminUser 表示一名监考后台账号
//
// PasswordHash 为 bcrypt 哈希，任何接口均不得返回明文或哈希。
//
// 数据库表：exam_admins
type AdminUser struct {
	ID           string     `json:"id" bson:"id"`
	Username     string     `json:"username" bson:"username"` // 登录名（唯一）
	PasswordHash string     `json:"-" bson:"password_hash"`
	FullName     string     `json:"full_name" bson:"full_name"`
	Email        string     `json:"email,omitempty" bson:"email,omitempty"`
	Role         AdminRole  `json:"role" bson:"role"`
	Active       bool       `json:"is_active" bson:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty" bson:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" bson:"updated_at"`
}
