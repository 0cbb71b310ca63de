package mongostore

import (
	"context"
	"time"

	"exam-monitor/internal/shared/model"
	"exam-monitor/internal/shared/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// adminDoc AdminUser 的存储形态（PasswordHash 的 json:"-" 不影响 bson 序列化，
// 但 _id 需要映射到 model.AdminUser.ID）
type adminDoc struct {
	ID           string           `bson:"_id"`
	Username     string           `bson:"username"`
	PasswordHash string           `bson:"password_hash"`
	FullName     string           `bson:"full_name"`
	Email        string           `bson:"email,omitempty"`
	Role         model.AdminRole  `bson:"role"`
	Active       bool             `bson:"is_active"`
	LastLoginAt  *time.Time       `bson:"last_login_at,omitempty"`
	CreatedAt    time.Time        `bson:"created_at"`
	UpdatedAt    time.Time        `bson:"updated_at"`
}

func (d *adminDoc) toModel() *model.AdminUser {
	return &model.AdminUser{
		ID: d.ID, Username: d.Username, PasswordHash: d.PasswordHash,
		FullName: d.FullName, Email: d.Email, Role: d.Role, Active: d.Active,
		LastLoginAt: d.LastLoginAt, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

func fromAdmin(admin *model.AdminUser) *adminDoc {
	return &adminDoc{
		ID: admin.ID, Username: admin.Username, PasswordHash: admin.PasswordHash,
		FullName: admin.FullName, Email: admin.Email, Role: admin.Role, Active: admin.Active,
		LastLoginAt: admin.LastLoginAt, CreatedAt: admin.CreatedAt, UpdatedAt: admin.UpdatedAt,
	}
}

// CreateAdminUser 创建管理员账号
func (s *Store) CreateAdminUser(ctx context.Context, admin *model.AdminUser) error {
	return insertOne(ctx, s.col(ColAdmins), fromAdmin(admin))
}

// GetAdminByUsername 按登录名查找
func (s *Store) GetAdminByUsername(ctx context.Context, username string) (*model.AdminUser, error) {
	doc, err := findOne[adminDoc](ctx, s.col(ColAdmins), bson.D{{Key: "username", Value: username}})
	if err != nil {
		return nil, err
	}
	return doc.toModel(), nil
}

// GetAdminByID 按 ID 查找
func (s *Store) GetAdminByID(ctx context.Context, id string) (*model.AdminUser, error) {
	doc, err := findOne[adminDoc](ctx, s.col(ColAdmins), bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return nil, err
	}
	return doc.toModel(), nil
}

// UpdateAdminLastLogin 记录最近登录时间
func (s *Store) UpdateAdminLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.col(ColAdmins).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "last_login_at", Value: at},
			{Key: "updated_at", Value: at},
		}}})
	if err != nil {
		return wrapError(err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListAdmins 列出全部管理员
func (s *Store) ListAdmins(ctx context.Context) ([]*model.AdminUser, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	docs, err := findMany[adminDoc](ctx, s.col(ColAdmins), bson.D{}, opts)
	if err != nil {
		return nil, err
	}
	admins := make([]*model.AdminUser, 0, len(docs))
	for _, doc := range docs {
		admins = append(admins, doc.toModel())
	}
	return admins, nil
}
