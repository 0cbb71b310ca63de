package mongostore

import (
	"context"
	"time"

	"exam-monitor/internal/shared/model"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CreateSession 创建会话
func (s *Store) CreateSession(ctx context.Context, session *model.Session) error {
	return insertOne(ctx, s.col(ColSessions), session)
}

// GetSession 获取会话
func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	return findOne[model.Session](ctx, s.col(ColSessions), bson.D{{Key: "_id", Value: id}})
}

// ListSessions 列出会话，status 为空表示不过滤
func (s *Store) ListSessions(ctx context.Context, status string, limit, offset int) ([]*model.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	filter := bson.D{}
	if status != "" {
		filter = bson.D{{Key: "status", Value: status}}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "start_time", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))
	return findMany[model.Session](ctx, s.col(ColSessions), filter, opts)
}

// ListActiveSummaries 返回 active/disconnected 会话及聚合计数
func (s *Store) ListActiveSummaries(ctx context.Context) ([]*model.SessionSummary, error) {
	filter := bson.D{{Key: "status", Value: bson.D{{Key: "$in", Value: bson.A{"active", "disconnected"}}}}}
	opts := options.Find().SetSort(bson.D{{Key: "start_time", Value: -1}})
	sessions, err := findMany[model.Session](ctx, s.col(ColSessions), filter, opts)
	if err != nil {
		return nil, err
	}

	summaries := make([]*model.SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		summary, err := s.buildSummary(ctx, session)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// GetSessionSummary 获取单个会话及聚合计数
func (s *Store) GetSessionSummary(ctx context.Context, id string) (*model.SessionSummary, error) {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.buildSummary(ctx, session)
}

// buildSummary 用计数查询补齐聚合字段
func (s *Store) buildSummary(ctx context.Context, session *model.Session) (*model.SessionSummary, error) {
	activityCount, err := s.col(ColActivities).CountDocuments(ctx,
		bson.D{{Key: "session_id", Value: session.ID}})
	if err != nil {
		return nil, wrapError(err)
	}
	suspiciousCount, err := s.col(ColActivities).CountDocuments(ctx,
		bson.D{{Key: "session_id", Value: session.ID}, {Key: "type", Value: "suspicious"}})
	if err != nil {
		return nil, wrapError(err)
	}
	screenshotCount, err := s.col(ColScreenshots).CountDocuments(ctx,
		bson.D{{Key: "session_id", Value: session.ID}})
	if err != nil {
		return nil, wrapError(err)
	}
	return &model.SessionSummary{
		Session:         *session,
		ActivityCount:   int(activityCount),
		ScreenshotCount: int(screenshotCount),
		SuspiciousCount: int(suspiciousCount),
	}, nil
}

// EndSession active/disconnected → ended 的条件更新
func (s *Store) EndSession(ctx context.Context, id string, endTime time.Time) (bool, error) {
	return s.transitionSession(ctx, id,
		bson.D{{Key: "_id", Value: id}, {Key: "status", Value: bson.D{{Key: "$ne", Value: "ended"}}}},
		bson.D{
			{Key: "status", Value: model.SessionStatusEnded},
			{Key: "end_time", Value: endTime},
			{Key: "updated_at", Value: time.Now()},
		})
}

// MarkSessionDisconnected active → disconnected
func (s *Store) MarkSessionDisconnected(ctx context.Context, id string) (bool, error) {
	return s.transitionSession(ctx, id,
		bson.D{{Key: "_id", Value: id}, {Key: "status", Value: "active"}},
		bson.D{
			{Key: "status", Value: model.SessionStatusDisconnected},
			{Key: "updated_at", Value: time.Now()},
		})
}

// ReconnectSession disconnected → active
func (s *Store) ReconnectSession(ctx context.Context, id string) (bool, error) {
	return s.transitionSession(ctx, id,
		bson.D{{Key: "_id", Value: id}, {Key: "status", Value: "disconnected"}},
		bson.D{
			{Key: "status", Value: model.SessionStatusActive},
			{Key: "updated_at", Value: time.Now()},
		})
}

// transitionSession 条件更新，区分"未命中"与"不存在"
func (s *Store) transitionSession(ctx context.Context, id string, filter, set bson.D) (bool, error) {
	res, err := s.col(ColSessions).UpdateOne(ctx, filter,
		bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return false, wrapError(err)
	}
	if res.MatchedCount > 0 {
		return true, nil
	}
	if _, err := s.GetSession(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// statusCond 按状态的条件计数表达式
func statusCond(status model.SessionStatus) bson.D {
	return bson.D{{Key: "$sum", Value: bson.D{{Key: "$cond", Value: bson.A{
		bson.D{{Key: "$eq", Value: bson.A{"$status", string(status)}}}, 1, 0,
	}}}}}
}

// SessionStatistics 最近 days 天的按日统计
//
// 分组与计数走聚合管道；$subtract 对 end_time 为空的文档得 null，
// $avg 自动忽略。
func (s *Store) SessionStatistics(ctx context.Context, days int) ([]*model.SessionStatistics, error) {
	if days <= 0 {
		days = 7
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "start_time", Value: bson.D{{Key: "$gte", Value: cutoff}}},
		}}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{{Key: "$dateToString", Value: bson.D{
				{Key: "format", Value: "%Y-%m-%d"},
				{Key: "date", Value: "$start_time"},
			}}}},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "active", Value: statusCond(model.SessionStatusActive)},
			{Key: "disconnected", Value: statusCond(model.SessionStatusDisconnected)},
			{Key: "ended", Value: statusCond(model.SessionStatusEnded)},
			{Key: "avg_duration_ms", Value: bson.D{{Key: "$avg", Value: bson.D{
				{Key: "$subtract", Value: bson.A{"$end_time", "$start_time"}},
			}}}},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}

	cur, err := s.col(ColSessions).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, wrapError(err)
	}
	var rows []struct {
		Date          string   `bson:"_id"`
		Total         int      `bson:"total"`
		Active        int      `bson:"active"`
		Disconnected  int      `bson:"disconnected"`
		Ended         int      `bson:"ended"`
		AvgDurationMS *float64 `bson:"avg_duration_ms"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, wrapError(err)
	}

	stats := make([]*model.SessionStatistics, 0, len(rows))
	for _, row := range rows {
		stat := &model.SessionStatistics{
			Date:                 row.Date,
			TotalSessions:        row.Total,
			ActiveSessions:       row.Active,
			DisconnectedSessions: row.Disconnected,
			EndedSessions:        row.Ended,
		}
		if row.AvgDurationMS != nil {
			stat.AvgDurationMinutes = *row.AvgDurationMS / 60000.0
		}
		stats = append(stats, stat)
	}
	return stats, nil
}
