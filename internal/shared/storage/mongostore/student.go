package mongostore

import (
	"context"
	"time"

	"exam-monitor/internal/shared/model"
	"exam-monitor/internal/shared/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// UpsertStudent 插入或按 its_id 更新考生档案
func (s *Store) UpsertStudent(ctx context.Context, student *model.Student) error {
	if student.ID == 0 {
		seq, err := s.nextSeq(ctx, ColStudents)
		if err != nil {
			return err
		}
		student.ID = seq
	}
	_, err := s.col(ColStudents).UpdateOne(ctx,
		bson.D{{Key: "its_id", Value: student.ITSID}},
		bson.D{
			{Key: "$set", Value: bson.D{
				{Key: "full_name", Value: student.FullName},
				{Key: "email", Value: student.Email},
				{Key: "updated_at", Value: student.UpdatedAt},
			}},
			{Key: "$setOnInsert", Value: bson.D{
				{Key: "id", Value: student.ID},
				{Key: "its_id", Value: student.ITSID},
				{Key: "consent_given", Value: student.ConsentGiven},
				{Key: "consent_at", Value: student.ConsentAt},
				{Key: "created_at", Value: student.CreatedAt},
			}},
		},
		options.UpdateOne().SetUpsert(true))
	return wrapError(err)
}

// GetStudentByITSID 按考生编号查找
func (s *Store) GetStudentByITSID(ctx context.Context, itsID string) (*model.Student, error) {
	return findOne[model.Student](ctx, s.col(ColStudents), bson.D{{Key: "its_id", Value: itsID}})
}

// ListStudents 列出全部考生
func (s *Store) ListStudents(ctx context.Context) ([]*model.Student, error) {
	opts := options.Find().SetSort(bson.D{{Key: "its_id", Value: 1}})
	return findMany[model.Student](ctx, s.col(ColStudents), bson.D{}, opts)
}

// RecordStudentConsent 记录监考知情同意
func (s *Store) RecordStudentConsent(ctx context.Context, itsID string) error {
	now := time.Now()
	res, err := s.col(ColStudents).UpdateOne(ctx,
		bson.D{{Key: "its_id", Value: itsID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "consent_given", Value: true},
			{Key: "consent_at", Value: now},
			{Key: "updated_at", Value: now},
		}}})
	if err != nil {
		return wrapError(err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}
