package mongostore

import (
	"context"

	"exam-monitor/internal/shared/model"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// AppendActivity 追加一条活动记录（id 来自 counters 集合的自增序号）
func (s *Store) AppendActivity(ctx context.Context, entry *model.ActivityLogEntry) error {
	seq, err := s.nextSeq(ctx, ColActivities)
	if err != nil {
		return err
	}
	entry.ID = seq
	return insertOne(ctx, s.col(ColActivities), entry)
}

// ListActivitiesBySession 按插入顺序列出会话活动，activityType 为空表示不过滤
func (s *Store) ListActivitiesBySession(ctx context.Context, sessionID string, activityType string, limit, offset int) ([]*model.ActivityLogEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	filter := bson.D{{Key: "session_id", Value: sessionID}}
	if activityType != "" {
		filter = append(filter, bson.E{Key: "type", Value: activityType})
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "id", Value: 1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))
	return findMany[model.ActivityLogEntry](ctx, s.col(ColActivities), filter, opts)
}

// ListRecentSuspicious 全局最近的可疑活动
func (s *Store) ListRecentSuspicious(ctx context.Context, limit int) ([]*model.ActivityLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "id", Value: -1}}).
		SetLimit(int64(limit))
	return findMany[model.ActivityLogEntry](ctx, s.col(ColActivities),
		bson.D{{Key: "type", Value: "suspicious"}}, opts)
}
