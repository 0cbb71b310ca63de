// Package model 定义核心数据模型
//
// screenshot.go 包含屏幕截图元数据模型。
package model

import (
	"time"
)

// Screenshot 表示一张学生端上报的屏幕截图
//
// 图像字节优先存入对象存储（ObjectKey 指向 MinIO 对象）；
// 未配置对象存储时退化为内联存储（Data 字段，base64 原样入库，
// 与旧部署保持兼容）。两者互斥。
//
// 数据库表：exam_screenshots
type Screenshot struct {
	ID         int64      `json:"id" bson:"id"`
	SessionID  string     `json:"session_id" bson:"session_id"`
	StudentID  string     `json:"student_id" bson:"student_id"`
	ObjectKey  string     `json:"object_key,omitempty" bson:"object_key,omitempty"` // MinIO 对象键
	Data       []byte     `json:"-" bson:"data,omitempty"`                          // 内联字节（降级模式）
	FileSize   int64      `json:"file_size" bson:"file_size"`
	CapturedAt time.Time  `json:"captured_at" bson:"captured_at"`
	Flagged    bool       `json:"is_flagged" bson:"is_flagged"`
	FlagReason string     `json:"flag_reason,omitempty" bson:"flag_reason,omitempty"`
	FlaggedAt  *time.Time `json:"flagged_at,omitempty" bson:"flagged_at,omitempty"`
}
