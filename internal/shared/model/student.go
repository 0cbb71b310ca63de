// Package model 定义核心数据模型
//
// student.go 包含考生档案模型。
package model

import (
	"time"
)

// Student 表示一名注册考生
//
// ITSID 为学校下发的考生编号，全局唯一；
// 创建会话前必须通过 /api/student/verify 验证该编号。
//
// 数据库表：exam_students
type Student struct {
	ID           int64      `json:"id" bson:"id"`
	ITSID        string     `json:"its_id" bson:"its_id"` // 考生编号（唯一）
	FullName     string     `json:"full_name" bson:"full_name"`
	Email        string     `json:"email,omitempty" bson:"email,omitempty"`
	ConsentGiven bool       `json:"consent_given" bson:"consent_given"` // 监考知情同意
	ConsentAt    *time.Time `json:"consent_at,omitempty" bson:"consent_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" bson:"updated_at"`
}
