// Package repository 考生档案相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"exam-monitor/internal/shared/model"
	"exam-monitor/internal/shared/storage"
)

// UpsertStudent 插入或按 its_id 更新考生档案
func (s *Store) UpsertStudent(ctx context.Context, student *model.Student) error {
	query := s.rebind(`
		INSERT INTO exam_students (its_id, full_name, email, consent_given, consent_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		` + s.dialect.UpsertConflict("its_id", []string{
		"full_name = EXCLUDED.full_name",
		"email = EXCLUDED.email",
		"updated_at = EXCLUDED.updated_at",
	}))
	_, err := s.db.ExecContext(ctx, query,
		student.ITSID, student.FullName, student.Email, student.ConsentGiven,
		student.ConsentAt, student.CreatedAt, student.UpdatedAt)
	return err
}

// GetStudentByITSID 按考生编号查找
func (s *Store) GetStudentByITSID(ctx context.Context, itsID string) (*model.Student, error) {
	query := s.rebind(`SELECT id, its_id, full_name, email, consent_given, consent_at, created_at, updated_at
		FROM exam_students WHERE its_id = $1`)
	student := &model.Student{}
	var email sql.NullString
	err := s.db.QueryRowContext(ctx, query, itsID).Scan(
		&student.ID, &student.ITSID, &student.FullName, &email,
		&student.ConsentGiven, &student.ConsentAt, &student.CreatedAt, &student.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	student.Email = email.String
	return student, nil
}

// ListStudents 列出全部考生
func (s *Store) ListStudents(ctx context.Context) ([]*model.Student, error) {
	query := s.rebind(`SELECT id, its_id, full_name, email, consent_given, consent_at, created_at, updated_at
		FROM exam_students ORDER BY its_id ASC`)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []*model.Student
	for rows.Next() {
		student := &model.Student{}
		var email sql.NullString
		if err := rows.Scan(&student.ID, &student.ITSID, &student.FullName, &email,
			&student.ConsentGiven, &student.ConsentAt, &student.CreatedAt, &student.UpdatedAt); err != nil {
			return nil, err
		}
		student.Email = email.String
		students = append(students, student)
	}
	return students, rows.Err()
}

// RecordStudentConsent 记录监考知情同意
func (s *Store) RecordStudentConsent(ctx context.Context, itsID string) error {
	now := time.Now()
	query := s.rebind(`UPDATE exam_students
		SET consent_given = ` + s.dialect.BooleanLiteral(true) + `, consent_at = $1, updated_at = $2
		WHERE its_id = $3`)
	res, err := s.db.ExecContext(ctx, query, now, now, itsID)
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
