package ingestserver

import (
	"context"
	"sort"
	"sync"
	"time"

	"ScrollsReplayRecorder/internal/database"
)

// MemStore 内存版回放存储，测试和单机演示用
type MemStore struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]*database.Replay
	byGame map[gameKey]int64
}

type gameKey struct {
	gameID      int64
	perspective string
}

// NewMemStore 创建内存存储
func NewMemStore() *MemStore {
	return &MemStore{
		nextID: 1,
		byID:   make(map[int64]*database.Replay),
		byGame: make(map[gameKey]int64),
	}
}

// Insert 写入回放，同对局同视角覆盖
func (m *MemStore) Insert(ctx context.Context, r *database.Replay) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := gameKey{gameID: r.GameID, perspective: r.Perspective}
	id, exists := m.byGame[key]
	if !exists {
		id = m.nextID
		m.nextID++
		m.byGame[key] = id
	}

	stored := *r
	stored.ID = id
	stored.UploadedAt = time.Now()
	m.byID[id] = &stored
	return id, nil
}

// Get 按ID读取
func (m *MemStore) Get(ctx context.Context, id int64) (*database.Replay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.byID[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *r
	return &copied, nil
}

// List 按上传时间倒序分页
func (m *MemStore) List(ctx context.Context, limit, offset int) ([]*database.Replay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*database.Replay, 0, len(m.byID))
	for _, r := range m.byID {
		copied := *r
		all = append(all, &copied)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].UploadedAt.After(all[j].UploadedAt)
	})

	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// Count 回放总数
func (m *MemStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID), nil
}
