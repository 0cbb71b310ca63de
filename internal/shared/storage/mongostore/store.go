// Package mongostore 实现基于 MongoDB 的 PersistentStore
//
// 使用 mongo-go-driver v2，通过 bson tag 实现 model 结构体的序列化/反序列化。
// 状态机的并发约束用带状态过滤条件的 UpdateOne/FindOneAndUpdate 实现，
// 与 SQL 后端的条件 UPDATE 语义一致。
package mongostore

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"exam-monitor/internal/shared/storage"
)

// Collection 名称常量
const (
	ColSessions    = "exam_sessions"
	ColCommands    = "exam_remote_commands"
	ColActivities  = "exam_activity_logs"
	ColScreenshots = "exam_screenshots"
	ColStudents    = "exam_students"
	ColAdmins      = "exam_admins"
	ColCounters    = "counters"
)

// Store 实现 storage.PersistentStore 接口的 MongoDB 驱动
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ storage.PersistentStore = (*Store)(nil)

// NewStore 创建 MongoDB 存储实例
//
// uri: MongoDB 连接 URI，如 "mongodb://localhost:27017"
// dbName: 数据库名称，如 "exam_monitor"
func NewStore(uri, dbName string) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect failed: %w", err)
	}

	// 验证连接
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongostore: ping failed: %w", err)
	}

	db := client.Database(dbName)
	s := &Store{client: client, db: db}

	// 创建索引
	if err := s.ensureIndexes(ctx); err != nil {
		log.Printf("WARNING: mongostore: ensure indexes failed: %v", err)
	}

	return s, nil
}

// Close 关闭 MongoDB 连接
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// col 获取指定 Collection
func (s *Store) col(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// ensureIndexes 创建所有必要的索引
func (s *Store) ensureIndexes(ctx context.Context) error {
	type idx struct {
		col    string
		keys   bson.D
		unique bool
	}

	indexes := []idx{
		// exam_sessions
		{ColSessions, bson.D{{Key: "status", Value: 1}}, false},
		{ColSessions, bson.D{{Key: "student_id", Value: 1}}, false},
		{ColSessions, bson.D{{Key: "start_time", Value: -1}}, false},

		// exam_remote_commands（认领路径的核心索引）
		{ColCommands, bson.D{{Key: "session_id", Value: 1}, {Key: "status", Value: 1}, {Key: "created_at", Value: 1}}, false},

		// exam_activity_logs
		{ColActivities, bson.D{{Key: "session_id", Value: 1}, {Key: "id", Value: 1}}, false},
		{ColActivities, bson.D{{Key: "type", Value: 1}, {Key: "id", Value: -1}}, false},

		// exam_screenshots
		{ColScreenshots, bson.D{{Key: "session_id", Value: 1}, {Key: "captured_at", Value: -1}}, false},

		// exam_students
		{ColStudents, bson.D{{Key: "its_id", Value: 1}}, true},

		// exam_admins
		{ColAdmins, bson.D{{Key: "username", Value: 1}}, true},
	}

	for _, i := range indexes {
		model := mongo.IndexModel{Keys: i.keys}
		if i.unique {
			model.Options = options.Index().SetUnique(true)
		}
		if _, err := s.col(i.col).Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("create index on %s: %w", i.col, err)
		}
	}

	return nil
}
