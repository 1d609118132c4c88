package user

import (
	"context"
	"sync"

	"github.com/maivankien/caro-online-server/pkg/apperrors"
)

// MemoryRepository Repository 的記憶體實作（測試用）
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewMemoryRepository 創建記憶體使用者存取
func NewMemoryRepository(users ...*User) *MemoryRepository {
	r := &MemoryRepository{users: make(map[string]*User)}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

// Add 加入使用者
func (r *MemoryRepository) Add(u *User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
}

// FindByID 依 id 查詢使用者
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, apperrors.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

// BatchGetElo 批次查詢多位使用者的 ELO
func (r *MemoryRepository) BatchGetElo(_ context.Context, ids []string) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]int, len(ids))
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			result[id] = u.Elo
		}
	}
	return result, nil
}

// UpdateElo 寫回使用者的新 ELO
func (r *MemoryRepository) UpdateElo(_ context.Context, id string, elo int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return apperrors.ErrUserNotFound
	}
	u.Elo = elo
	return nil
}
