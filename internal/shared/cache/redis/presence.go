// Package redis 学生端在线状态缓存操作
package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"exam-monitor/internal/shared/cache"
)

var _ cache.PresenceCache = (*Store)(nil)

// SetStudentOnline 标记会话在线，TTL 内未续期自动过期
func (s *Store) SetStudentOnline(ctx context.Context, sessionID string, presence *cache.ClientPresence) error {
	key := cache.KeyStudentPresence + sessionID

	presence.UpdatedAt = time.Now()
	data, err := json.Marshal(presence)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, key, data, cache.TTLStudentPresence).Err()
}

// GetStudentPresence 获取在线状态
func (s *Store) GetStudentPresence(ctx context.Context, sessionID string) (*cache.ClientPresence, error) {
	key := cache.KeyStudentPresence + sessionID

	data, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var presence cache.ClientPresence
	if err := json.Unmarshal([]byte(data), &presence); err != nil {
		return nil, err
	}

	return &presence, nil
}

// SetStudentOffline 删除在线标记
func (s *Store) SetStudentOffline(ctx context.Context, sessionID string) error {
	key := cache.KeyStudentPresence + sessionID
	return s.client.Del(ctx, key).Err()
}

// ListOnlineSessions 列出在线会话
//
// 使用 SCAN 替代 KEYS，避免在会话数量大时阻塞 Redis
func (s *Store) ListOnlineSessions(ctx context.Context) ([]string, error) {
	pattern := cache.KeyStudentPresence + "*"
	var sessionIDs []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		sessionIDs = append(sessionIDs, key[len(cache.KeyStudentPresence):])
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return sessionIDs, nil
}
