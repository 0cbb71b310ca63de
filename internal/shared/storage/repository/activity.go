// Package repository 活动日志相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"exam-monitor/internal/shared/model"
)

const activityColumns = `id, session_id, student_id, type, description, metadata, actor, created_at`

// AppendActivity 追加一条活动记录
//
// 仅追加表：不提供更新和删除。自增 ID 不回读，
// 排序依赖同一会话内的插入顺序。
func (s *Store) AppendActivity(ctx context.Context, entry *model.ActivityLogEntry) error {
	query := s.rebind(`
		INSERT INTO exam_activity_logs (session_id, student_id, type, description, metadata, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	_, err := s.db.ExecContext(ctx, query,
		entry.SessionID, entry.StudentID, entry.Type, entry.Description,
		nullableBytes(entry.Metadata), entry.Actor, entry.CreatedAt)
	return err
}

// scanActivity 辅助函数
func scanActivity(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.ActivityLogEntry, error) {
	entry := &model.ActivityLogEntry{}
	var studentID, description, actor sql.NullString
	var metadata *[]byte
	err := scanner.Scan(
		&entry.ID, &entry.SessionID, &studentID, &entry.Type,
		&description, &metadata, &actor, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	entry.StudentID = studentID.String
	entry.Description = description.String
	entry.Actor = actor.String
	if metadata != nil {
		entry.Metadata = json.RawMessage(*metadata)
	}
	return entry, nil
}

func scanActivities(rows *sql.Rows) ([]*model.ActivityLogEntry, error) {
	var entries []*model.ActivityLogEntry
	for rows.Next() {
		entry, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ListActivitiesBySession 按插入顺序列出会话活动，activityType 为空表示不过滤
func (s *Store) ListActivitiesBySession(ctx context.Context, sessionID string, activityType string, limit, offset int) ([]*model.ActivityLogEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	var (
		query string
		args  []interface{}
	)
	if activityType != "" {
		query = s.rebind(`SELECT ` + activityColumns + ` FROM exam_activity_logs
			WHERE session_id = $1 AND type = $2 ORDER BY id ASC LIMIT $3 OFFSET $4`)
		args = []interface{}{sessionID, activityType, limit, offset}
	} else {
		query = s.rebind(`SELECT ` + activityColumns + ` FROM exam_activity_logs
			WHERE session_id = $1 ORDER BY id ASC LIMIT $2 OFFSET $3`)
		args = []interface{}{sessionID, limit, offset}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActivities(rows)
}

// ListRecentSuspicious 全局最近的可疑活动（告警面板用）
func (s *Store) ListRecentSuspicious(ctx context.Context, limit int) ([]*model.ActivityLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := s.rebind(`SELECT ` + activityColumns + ` FROM exam_activity_logs
		WHERE type = 'suspicious' ORDER BY id DESC LIMIT $1`)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActivities(rows)
}
