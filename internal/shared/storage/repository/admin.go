// Package repository 管理员账号相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"exam-monitor/internal/shared/model"
	"exam-monitor/internal/shared/storage"
)

const adminColumns = `id, username, password_hash, full_name, email, role, is_active, last_login_at, created_at, updated_at`

// CreateAdminUser 创建管理员账号
func (s *Store) CreateAdminUser(ctx context.Context, admin *model.AdminUser) error {
	query := s.rebind(`
		INSERT INTO exam_admins (id, username, password_hash, full_name, email, role, is_active, last_login_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`)
	_, err := s.db.ExecContext(ctx, query,
		admin.ID, admin.Username, admin.PasswordHash, admin.FullName, admin.Email,
		admin.Role, admin.Active, admin.LastLoginAt, admin.CreatedAt, admin.UpdatedAt)
	return err
}

// scanAdmin 辅助函数
func scanAdmin(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.AdminUser, error) {
	admin := &model.AdminUser{}
	var fullName, email sql.NullString
	err := scanner.Scan(
		&admin.ID, &admin.Username, &admin.PasswordHash, &fullName, &email,
		&admin.Role, &admin.Active, &admin.LastLoginAt, &admin.CreatedAt, &admin.UpdatedAt)
	if err != nil {
		return nil, err
	}
	admin.FullName = fullName.String
	admin.Email = email.String
	return admin, nil
}

// GetAdminByUsername 按登录名查找
func (s *Store) GetAdminByUsername(ctx context.Context, username string) (*model.AdminUser, error) {
	query := s.rebind(`SELECT ` + adminColumns + ` FROM exam_admins WHERE username = $1`)
	admin, err := scanAdmin(s.db.QueryRowContext(ctx, query, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return admin, err
}

// GetAdminByID 按 ID 查找
func (s *Store) GetAdminByID(ctx context.Context, id string) (*model.AdminUser, error) {
	query := s.rebind(`SELECT ` + adminColumns + ` FROM exam_admins WHERE id = $1`)
	admin, err := scanAdmin(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return admin, err
}

// UpdateAdminLastLogin 记录最近登录时间
func (s *Store) UpdateAdminLastLogin(ctx context.Context, id string, at time.Time) error {
	query := s.rebind(`UPDATE exam_admins SET last_login_at = $1, updated_at = $2 WHERE id = $3`)
	_, err := s.db.ExecContext(ctx, query, at, at, id)
	return err
}

// ListAdmins 列出全部管理员
func (s *Store) ListAdmins(ctx context.Context) ([]*model.AdminUser, error) {
	query := s.rebind(`SELECT ` + adminColumns + ` FROM exam_admins ORDER BY created_at ASC`)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var admins []*model.AdminUser
	for rows.Next() {
		admin, err := scanAdmin(rows)
		if err != nil {
			return nil, err
		}
		admins = append(admins, admin)
	}
	return admins, rows.Err()
}
