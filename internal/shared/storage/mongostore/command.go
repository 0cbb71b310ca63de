package mongostore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"exam-monitor/internal/shared/model"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CreateCommand 创建指令
func (s *Store) CreateCommand(ctx context.Context, cmd *model.Command) error {
	return insertOne(ctx, s.col(ColCommands), cmd)
}

// GetCommand 获取指令
func (s *Store) GetCommand(ctx context.Context, id string) (*model.Command, error) {
	return findOne[model.Command](ctx, s.col(ColCommands), bson.D{{Key: "_id", Value: id}})
}

// ListCommandsBySession 列出会话的指令（新的在前）
func (s *Store) ListCommandsBySession(ctx context.Context, sessionID string, limit int) ([]*model.Command, error) {
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	return findMany[model.Command](ctx, s.col(ColCommands),
		bson.D{{Key: "session_id", Value: sessionID}}, opts)
}

// ClaimPendingCommands 原子认领会话的 pending 指令（FIFO）
//
// FindOneAndUpdate 带 status=pending 过滤条件逐条认领，
// 单条操作在 MongoDB 中原子，并发轮询各自拿到不相交的集合。
func (s *Store) ClaimPendingCommands(ctx context.Context, sessionID string, limit int) ([]*model.Command, error) {
	if limit <= 0 {
		limit = 10
	}
	now := time.Now()
	filter := bson.D{
		{Key: "session_id", Value: sessionID},
		{Key: "status", Value: "pending"},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "status", Value: model.CommandStatusExecuting},
		{Key: "executed_at", Value: now},
	}}}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetReturnDocument(options.After)

	var claimed []*model.Command
	for len(claimed) < limit {
		var cmd model.Command
		err := s.col(ColCommands).FindOneAndUpdate(ctx, filter, update, opts).Decode(&cmd)
		if errors.Is(err, mongo.ErrNoDocuments) {
			break
		}
		if err != nil {
			return nil, wrapError(err)
		}
		claimed = append(claimed, &cmd)
	}
	return claimed, nil
}

// FinishCommand executing → completed/failed 的条件更新
func (s *Store) FinishCommand(ctx context.Context, id string, status model.CommandStatus, result json.RawMessage) (bool, error) {
	res, err := s.col(ColCommands).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "status", Value: "executing"}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "status", Value: status},
			{Key: "result", Value: []byte(result)},
		}}})
	if err != nil {
		return false, wrapError(err)
	}
	return res.MatchedCount > 0, nil
}

// FailStaleExecuting 批量失败超时未上报结果的 executing 指令
func (s *Store) FailStaleExecuting(ctx context.Context, olderThan time.Time) (int64, error) {
	result := []byte(`{"error":"execution timed out, no result reported"}`)
	res, err := s.col(ColCommands).UpdateMany(ctx,
		bson.D{
			{Key: "status", Value: "executing"},
			{Key: "executed_at", Value: bson.D{{Key: "$lt", Value: olderThan}}},
		},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "status", Value: model.CommandStatusFailed},
			{Key: "result", Value: result},
		}}})
	if err != nil {
		return 0, wrapError(err)
	}
	return res.ModifiedCount, nil
}
