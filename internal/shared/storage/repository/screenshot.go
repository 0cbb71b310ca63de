// Package repository 截图元数据相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"exam-monitor/internal/shared/model"
	"exam-monitor/internal/shared/storage"
)

// CreateScreenshot 保存截图元数据（对象存储模式下 Data 为空）
func (s *Store) CreateScreenshot(ctx context.Context, shot *model.Screenshot) error {
	query := s.rebind(`
		INSERT INTO exam_screenshots (session_id, student_id, object_key, data, file_size, captured_at, is_flagged, flag_reason, flagged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
	var data interface{}
	if len(shot.Data) > 0 {
		data = shot.Data
	}
	_, err := s.db.ExecContext(ctx, query,
		shot.SessionID, shot.StudentID, shot.ObjectKey, data, shot.FileSize,
		shot.CapturedAt, shot.Flagged, shot.FlagReason, shot.FlaggedAt)
	return err
}

// GetScreenshot 获取单张截图（含内联字节）
func (s *Store) GetScreenshot(ctx context.Context, id int64) (*model.Screenshot, error) {
	query := s.rebind(`SELECT id, session_id, student_id, object_key, data, file_size, captured_at, is_flagged, flag_reason, flagged_at
		FROM exam_screenshots WHERE id = $1`)
	shot := &model.Screenshot{}
	var objectKey, studentID, flagReason sql.NullString
	var data *[]byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&shot.ID, &shot.SessionID, &studentID, &objectKey, &data,
		&shot.FileSize, &shot.CapturedAt, &shot.Flagged, &flagReason, &shot.FlaggedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	shot.StudentID = studentID.String
	shot.ObjectKey = objectKey.String
	shot.FlagReason = flagReason.String
	if data != nil {
		shot.Data = *data
	}
	return shot, nil
}

// ListScreenshotsBySession 列出会话截图元数据（不含字节本体）
func (s *Store) ListScreenshotsBySession(ctx context.Context, sessionID string, limit, offset int) ([]*model.Screenshot, error) {
	if limit <= 0 {
		limit = 100
	}
	query := s.rebind(`SELECT id, session_id, student_id, object_key, file_size, captured_at, is_flagged, flag_reason, flagged_at
		FROM exam_screenshots WHERE session_id = $1 ORDER BY captured_at DESC, id DESC LIMIT $2 OFFSET $3`)
	rows, err := s.db.QueryContext(ctx, query, sessionID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shots []*model.Screenshot
	for rows.Next() {
		shot := &model.Screenshot{}
		var objectKey, studentID, flagReason sql.NullString
		if err := rows.Scan(&shot.ID, &shot.SessionID, &studentID, &objectKey,
			&shot.FileSize, &shot.CapturedAt, &shot.Flagged, &flagReason, &shot.FlaggedAt); err != nil {
			return nil, err
		}
		shot.StudentID = studentID.String
		shot.ObjectKey = objectKey.String
		shot.FlagReason = flagReason.String
		shots = append(shots, shot)
	}
	return shots, rows.Err()
}

// FlagScreenshot 标记可疑截图
func (s *Store) FlagScreenshot(ctx context.Context, id int64, reason string) error {
	query := s.rebind(`UPDATE exam_screenshots
		SET is_flagged = ` + s.dialect.BooleanLiteral(true) + `, flag_reason = $1, flagged_at = $2
		WHERE id = $3`)
	res, err := s.db.ExecContext(ctx, query, reason, time.Now(), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
