// Package repository 考试会话相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"exam-monitor/internal/shared/model"
	"exam-monitor/internal/shared/storage"
)

const sessionColumns = `id, student_id, student_name, status, start_time, end_time,
	ip_address, machine_info, screen_resolution, os_info, browser_version, created_at, updated_at`

// CreateSession 创建会话
func (s *Store) CreateSession(ctx context.Context, session *model.Session) error {
	query := s.rebind(`
		INSERT INTO exam_sessions (id, student_id, student_name, status, start_time, end_time,
			ip_address, machine_info, screen_resolution, os_info, browser_version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`)
	_, err := s.db.ExecContext(ctx, query,
		session.ID, session.StudentID, session.StudentName, session.Status,
		session.StartTime, session.EndTime, session.IPAddress, session.MachineInfo,
		session.ScreenResolution, session.OSInfo, session.BrowserVersion,
		session.CreatedAt, session.UpdatedAt)
	return err
}

// GetSession 获取会话
func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	query := s.rebind(`SELECT ` + sessionColumns + ` FROM exam_sessions WHERE id = $1`)
	row := s.db.QueryRowContext(ctx, query, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return session, err
}

// scanSession 辅助函数
func scanSession(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.Session, error) {
	session := &model.Session{}
	var studentName, ipAddress, machineInfo, screenRes, osInfo, browserVer sql.NullString
	err := scanner.Scan(
		&session.ID, &session.StudentID, &studentName, &session.Status,
		&session.StartTime, &session.EndTime, &ipAddress, &machineInfo,
		&screenRes, &osInfo, &browserVer, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, err
	}
	session.StudentName = studentName.String
	session.IPAddress = ipAddress.String
	session.MachineInfo = machineInfo.String
	session.ScreenResolution = screenRes.String
	session.OSInfo = osInfo.String
	session.BrowserVersion = browserVer.String
	return session, nil
}

// scanSessions 批量扫描
func scanSessions(rows *sql.Rows) ([]*model.Session, error) {
	var sessions []*model.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// ListSessions 列出会话，status 为空表示不过滤
func (s *Store) ListSessions(ctx context.Context, status string, limit, offset int) ([]*model.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		query string
		args  []interface{}
	)
	if status != "" {
		query = s.rebind(`SELECT ` + sessionColumns + ` FROM exam_sessions
			WHERE status = $1 ORDER BY start_time DESC LIMIT $2 OFFSET $3`)
		args = []interface{}{status, limit, offset}
	} else {
		query = s.rebind(`SELECT ` + sessionColumns + ` FROM exam_sessions
			ORDER BY start_time DESC LIMIT $1 OFFSET $2`)
		args = []interface{}{limit, offset}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

const summaryCountColumns = `
	(SELECT COUNT(*) FROM exam_activity_logs a WHERE a.session_id = s.id) AS activity_count,
	(SELECT COUNT(*) FROM exam_screenshots sc WHERE sc.session_id = s.id) AS screenshot_count,
	(SELECT COUNT(*) FROM exam_activity_logs a2 WHERE a2.session_id = s.id AND a2.type = 'suspicious') AS suspicious_count`

// ListActiveSummaries 返回 active/disconnected 会话及聚合计数
//
// Connected 字段由调用方根据 presence 缓存补充，这里不填。
func (s *Store) ListActiveSummaries(ctx context.Context) ([]*model.SessionSummary, error) {
	query := s.rebind(`SELECT s.id, s.student_id, s.student_name, s.status, s.start_time, s.end_time,
			s.ip_address, s.machine_info, s.screen_resolution, s.os_info, s.browser_version,
			s.created_at, s.updated_at,` + summaryCountColumns + `
		FROM exam_sessions s
		WHERE s.status IN ('active', 'disconnected')
		ORDER BY s.start_time DESC`)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []*model.SessionSummary
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// GetSessionSummary 获取单个会话及聚合计数
func (s *Store) GetSessionSummary(ctx context.Context, id string) (*model.SessionSummary, error) {
	query := s.rebind(`SELECT s.id, s.student_id, s.student_name, s.status, s.start_time, s.end_time,
			s.ip_address, s.machine_info, s.screen_resolution, s.os_info, s.browser_version,
			s.created_at, s.updated_at,` + summaryCountColumns + `
		FROM exam_sessions s WHERE s.id = $1`)
	summary, err := scanSummary(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return summary, err
}

func scanSummary(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.SessionSummary, error) {
	summary := &model.SessionSummary{}
	var studentName, ipAddress, machineInfo, screenRes, osInfo, browserVer sql.NullString
	err := scanner.Scan(
		&summary.ID, &summary.StudentID, &studentName, &summary.Status,
		&summary.StartTime, &summary.EndTime, &ipAddress, &machineInfo,
		&screenRes, &osInfo, &browserVer, &summary.CreatedAt, &summary.UpdatedAt,
		&summary.ActivityCount, &summary.ScreenshotCount, &summary.SuspiciousCount)
	if err != nil {
		return nil, err
	}
	summary.StudentName = studentName.String
	summary.IPAddress = ipAddress.String
	summary.MachineInfo = machineInfo.String
	summary.ScreenResolution = screenRes.String
	summary.OSInfo = osInfo.String
	summary.BrowserVersion = browserVer.String
	return summary, nil
}

// EndSession active/disconnected → ended 的条件更新
//
// 并发结束同一会话时恰好一个调用者拿到 true，end_time 只写一次。
func (s *Store) EndSession(ctx context.Context, id string, endTime time.Time) (bool, error) {
	query := s.rebind(`UPDATE exam_sessions
		SET status = 'ended', end_time = $1, updated_at = $2
		WHERE id = $3 AND status != 'ended'`)
	return s.transitionSession(ctx, id, query, endTime, time.Now(), id)
}

// MarkSessionDisconnected active → disconnected
func (s *Store) MarkSessionDisconnected(ctx context.Context, id string) (bool, error) {
	query := s.rebind(`UPDATE exam_sessions
		SET status = 'disconnected', updated_at = $1
		WHERE id = $2 AND status = 'active'`)
	return s.transitionSession(ctx, id, query, time.Now(), id)
}

// ReconnectSession disconnected → active
func (s *Store) ReconnectSession(ctx context.Context, id string) (bool, error) {
	query := s.rebind(`UPDATE exam_sessions
		SET status = 'active', updated_at = $1
		WHERE id = $2 AND status = 'disconnected'`)
	return s.transitionSession(ctx, id, query, time.Now(), id)
}

// transitionSession 执行条件更新并区分"未命中"与"不存在"
func (s *Store) transitionSession(ctx context.Context, id, query string, args ...interface{}) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		return true, nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx,
		s.rebind(`SELECT 1 FROM exam_sessions WHERE id = $1`), id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, storage.ErrNotFound
	}
	return false, err
}

// SessionStatistics 最近 days 天的按日统计
//
// 日期截断与分组计数在 SQL 侧完成（方言 DateExpr），
// 时长差在 Go 侧计算，避免各方言时间差函数不一致。
func (s *Store) SessionStatistics(ctx context.Context, days int) ([]*model.SessionStatistics, error) {
	if days <= 0 {
		days = 7
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	dateExpr := s.dialect.DateExpr("start_time")

	query := s.rebind(fmt.Sprintf(`SELECT %s AS stat_date, status, COUNT(*) FROM exam_sessions
		WHERE start_time >= $1 GROUP BY stat_date, status ORDER BY stat_date ASC`, dateExpr))
	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byDate := map[string]*model.SessionStatistics{}
	var order []string
	for rows.Next() {
		var (
			date   string
			status model.SessionStatus
			count  int
		)
		if err := rows.Scan(&date, &status, &count); err != nil {
			return nil, err
		}
		stat, ok := byDate[date]
		if !ok {
			stat = &model.SessionStatistics{Date: date}
			byDate[date] = stat
			order = append(order, date)
		}
		stat.TotalSessions += count
		switch status {
		case model.SessionStatusActive:
			stat.ActiveSessions += count
		case model.SessionStatusDisconnected:
			stat.DisconnectedSessions += count
		case model.SessionStatusEnded:
			stat.EndedSessions += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	durQuery := s.rebind(fmt.Sprintf(`SELECT %s AS stat_date, start_time, end_time FROM exam_sessions
		WHERE start_time >= $1 AND end_time IS NOT NULL`, dateExpr))
	durRows, err := s.db.QueryContext(ctx, durQuery, cutoff)
	if err != nil {
		return nil, err
	}
	defer durRows.Close()

	durations := map[string][]float64{}
	for durRows.Next() {
		var (
			date      string
			startTime time.Time
			endTime   time.Time
		)
		if err := durRows.Scan(&date, &startTime, &endTime); err != nil {
			return nil, err
		}
		durations[date] = append(durations[date], endTime.Sub(startTime).Minutes())
	}
	if err := durRows.Err(); err != nil {
		return nil, err
	}

	stats := make([]*model.SessionStatistics, 0, len(order))
	for _, date := range order {
		stat := byDate[date]
		if ds := durations[date]; len(ds) > 0 {
			var sum float64
			for _, d := range ds {
				sum += d
			}
			stat.AvgDurationMinutes = sum / float64(len(ds))
		}
		stats = append(stats, stat)
	}
	return stats, nil
}
