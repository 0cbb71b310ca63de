// Package repository 远程指令相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"exam-monitor/internal/shared/model"
	"exam-monitor/internal/shared/storage"
)

const commandColumns = `id, session_id, type, payload, status, result, issued_by, created_at, executed_at`

// CreateCommand 创建指令（初始状态由调用方设置，通常为 pending）
func (s *Store) CreateCommand(ctx context.Context, cmd *model.Command) error {
	query := s.rebind(`
		INSERT INTO exam_remote_commands (id, session_id, type, payload, status, result, issued_by, created_at, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
	_, err := s.db.ExecContext(ctx, query,
		cmd.ID, cmd.SessionID, cmd.Type, nullableBytes(cmd.Payload), cmd.Status,
		nullableBytes(cmd.Result), cmd.IssuedBy, cmd.CreatedAt, cmd.ExecutedAt)
	return err
}

// GetCommand 获取指令
func (s *Store) GetCommand(ctx context.Context, id string) (*model.Command, error) {
	query := s.rebind(`SELECT ` + commandColumns + ` FROM exam_remote_commands WHERE id = $1`)
	cmd, err := scanCommand(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return cmd, err
}

// scanCommand 辅助函数
func scanCommand(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.Command, error) {
	cmd := &model.Command{}
	var payload, result *[]byte
	var issuedBy sql.NullString
	err := scanner.Scan(
		&cmd.ID, &cmd.SessionID, &cmd.Type, &payload, &cmd.Status,
		&result, &issuedBy, &cmd.CreatedAt, &cmd.ExecutedAt)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		cmd.Payload = json.RawMessage(*payload)
	}
	if result != nil {
		cmd.Result = json.RawMessage(*result)
	}
	cmd.IssuedBy = issuedBy.String
	return cmd, nil
}

// ListCommandsBySession 列出会话的指令（新的在前）
func (s *Store) ListCommandsBySession(ctx context.Context, sessionID string, limit int) ([]*model.Command, error) {
	if limit <= 0 {
		limit = 100
	}
	query := s.rebind(`SELECT ` + commandColumns + ` FROM exam_remote_commands
		WHERE session_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`)
	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []*model.Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

// ClaimPendingCommands 原子认领会话的 pending 指令（FIFO）
//
// 先在事务内选出候选，再对每条做 pending → executing 的条件更新；
// 未命中的行说明已被并发调用者抢走，直接跳过。两个并发轮询请求
// 各自拿到的集合不相交。
func (s *Store) ClaimPendingCommands(ctx context.Context, sessionID string, limit int) ([]*model.Command, error) {
	if limit <= 0 {
		limit = 10
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := s.rebind(`SELECT ` + commandColumns + ` FROM exam_remote_commands
		WHERE session_id = $1 AND status = 'pending'
		ORDER BY created_at ASC, id ASC LIMIT $2`)
	rows, err := tx.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	var candidates []*model.Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, cmd)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	now := time.Now()
	claim := s.rebind(`UPDATE exam_remote_commands
		SET status = 'executing', executed_at = $1
		WHERE id = $2 AND status = 'pending'`)
	var claimed []*model.Command
	for _, cmd := range candidates {
		res, err := tx.ExecContext(ctx, claim, now, cmd.ID)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			continue
		}
		cmd.Status = model.CommandStatusExecuting
		t := now
		cmd.ExecutedAt = &t
		claimed = append(claimed, cmd)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return claimed, nil
}

// FinishCommand executing → completed/failed 的条件更新
func (s *Store) FinishCommand(ctx context.Context, id string, status model.CommandStatus, result json.RawMessage) (bool, error) {
	query := s.rebind(`UPDATE exam_remote_commands
		SET status = $1, result = $2
		WHERE id = $3 AND status = 'executing'`)
	res, err := s.db.ExecContext(ctx, query, status, nullableBytes(result), id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// FailStaleExecuting 批量失败超时未上报结果的 executing 指令
func (s *Store) FailStaleExecuting(ctx context.Context, olderThan time.Time) (int64, error) {
	result := json.RawMessage(`{"error":"execution timed out, no result reported"}`)
	query := s.rebind(`UPDATE exam_remote_commands
		SET status = 'failed', result = $1
		WHERE status = 'executing' AND executed_at < $2`)
	res, err := s.db.ExecContext(ctx, query, []byte(result), olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// nullableBytes 空 JSON 写 NULL 而不是空串
func nullableBytes(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
