package mongostore

import (
	"context"
	"time"

	"exam-monitor/internal/shared/model"
	"exam-monitor/internal/shared/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CreateScreenshot 保存截图元数据
func (s *Store) CreateScreenshot(ctx context.Context, shot *model.Screenshot) error {
	seq, err := s.nextSeq(ctx, ColScreenshots)
	if err != nil {
		return err
	}
	shot.ID = seq
	return insertOne(ctx, s.col(ColScreenshots), shot)
}

// GetScreenshot 获取单张截图（含内联字节）
func (s *Store) GetScreenshot(ctx context.Context, id int64) (*model.Screenshot, error) {
	return findOne[model.Screenshot](ctx, s.col(ColScreenshots), bson.D{{Key: "id", Value: id}})
}

// ListScreenshotsBySession 列出会话截图元数据（不含字节本体）
func (s *Store) ListScreenshotsBySession(ctx context.Context, sessionID string, limit, offset int) ([]*model.Screenshot, error) {
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "captured_at", Value: -1}, {Key: "id", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset)).
		SetProjection(bson.D{{Key: "data", Value: 0}})
	return findMany[model.Screenshot](ctx, s.col(ColScreenshots),
		bson.D{{Key: "session_id", Value: sessionID}}, opts)
}

// FlagScreenshot 标记可疑截图
func (s *Store) FlagScreenshot(ctx context.Context, id int64, reason string) error {
	res, err := s.col(ColScreenshots).UpdateOne(ctx,
		bson.D{{Key: "id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "is_flagged", Value: true},
			{Key: "flag_reason", Value: reason},
			{Key: "flagged_at", Value: time.Now()},
		}}})
	if err != nil {
		return wrapError(err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}
