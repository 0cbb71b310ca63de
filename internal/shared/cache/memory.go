package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryPresence 进程内 presence 实现
//
// 未配置 Redis 时的降级方案，也用于测试。单实例部署时行为
// 与 Redis 实现等价；多实例部署必须用 Redis。
type MemoryPresence struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	presence  ClientPresence
	expiresAt time.Time
}

var _ PresenceCache = (*MemoryPresence)(nil)

// NewMemoryPresence 创建进程内 presence 缓存
func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{entries: make(map[string]memoryEntry)}
}

func (m *MemoryPresence) SetStudentOnline(_ context.Context, sessionID string, presence *ClientPresence) error {
	presence.UpdatedAt = time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[sessionID] = memoryEntry{
		presence:  *presence,
		expiresAt: time.Now().Add(TTLStudentPresence),
	}
	return nil
}

func (m *MemoryPresence) GetStudentPresence(_ context.Context, sessionID string) (*ClientPresence, error) {
	m.mu.RLock()
	entry, ok := m.entries[sessionID]
	m.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, nil
	}
	p := entry.presence
	return &p, nil
}

func (m *MemoryPresence) SetStudentOffline(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, sessionID)
	return nil
}

func (m *MemoryPresence) ListOnlineSessions(_ context.Context) ([]string, error) {
	now := time.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, entry := range m.entries {
		if now.Before(entry.expiresAt) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *MemoryPresence) Close() error {
	return nil
}
