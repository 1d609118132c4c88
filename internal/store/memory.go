package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore Store 的記憶體實作
//
// 供測試替換 Redis 使用。所有操作共用一把互斥鎖，因此每個
// 方法天然是原子的，與 Redis 實作的原子批次語義一致；
// ClaimPair 在鎖內完成檢查與移除，對應 Lua 腳本的不可分割性。
//
// 帶 TTL 的值以過期時間戳記錄，讀取時惰性判定是否已過期。
type MemoryStore struct {
	mu      sync.Mutex
	rooms   map[string]map[string]string   // roomID -> field -> value
	players map[string]map[string]struct{} // roomID -> userID set
	ready   map[string]map[string]bool     // roomID -> userID -> ready
	waiting map[string]int64               // roomID -> createdAt（毫秒）
	queues  map[string]map[string]float64  // queueKey -> userID -> score
	values  map[string]expiringValue       // key -> value（SetValue / SetNX 共用）

	// now 可於測試中替換以控制時間
	now func() time.Time
}

type expiringValue struct {
	value    string
	expireAt time.Time // 零值表示永不過期
}

// NewMemoryStore 創建記憶體儲存
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:   make(map[string]map[string]string),
		players: make(map[string]map[string]struct{}),
		ready:   make(map[string]map[string]bool),
		waiting: make(map[string]int64),
		queues:  make(map[string]map[string]float64),
		values:  make(map[string]expiringValue),
		now:     time.Now,
	}
}

// SetClock 替換時間來源（測試鎖過期用）
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// CreateRoom 原子地寫入房間記錄、成員集合與等待索引
func (s *MemoryStore) CreateRoom(_ context.Context, roomID string, fields map[string]string, hostID string, createdAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setRoomFieldsLocked(roomID, fields)
	s.addPlayerLocked(roomID, hostID)
	s.waiting[roomID] = createdAt
	return nil
}

// JoinRoom 原子地更新房間欄位、加入成員並移出等待索引
func (s *MemoryStore) JoinRoom(_ context.Context, roomID string, fields map[string]string, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setRoomFieldsLocked(roomID, fields)
	s.addPlayerLocked(roomID, userID)
	delete(s.waiting, roomID)
	return nil
}

// GetRoomFields 讀取房間指定欄位
func (s *MemoryStore) GetRoomFields(_ context.Context, roomID string, fields ...string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.rooms[roomID]
	result := make([]string, len(fields))
	for i, field := range fields {
		result[i] = room[field]
	}
	return result, nil
}

// SetRoomFields 原子地更新房間多個欄位
func (s *MemoryStore) SetRoomFields(_ context.Context, roomID string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setRoomFieldsLocked(roomID, fields)
	return nil
}

// DeleteRoom 原子地刪除房間的所有資料與索引項
func (s *MemoryStore) DeleteRoom(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.rooms, roomID)
	delete(s.players, roomID)
	delete(s.ready, roomID)
	delete(s.waiting, roomID)
	return nil
}

// IsRoomPlayer 檢查使用者是否為房間成員
func (s *MemoryStore) IsRoomPlayer(_ context.Context, roomID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.players[roomID][userID]
	return ok, nil
}

// SetPlayerReady 記錄使用者的就緒狀態
func (s *MemoryStore) SetPlayerReady(_ context.Context, roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready[roomID] == nil {
		s.ready[roomID] = make(map[string]bool)
	}
	s.ready[roomID][userID] = true
	return nil
}

// GetPlayersReady 讀取多位使用者的就緒狀態
func (s *MemoryStore) GetPlayersReady(_ context.Context, roomID string, userIDs ...string) ([]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]bool, len(userIDs))
	for i, id := range userIDs {
		result[i] = s.ready[roomID][id]
	}
	return result, nil
}

// ClearReady 清除房間的就緒狀態
func (s *MemoryStore) ClearReady(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.ready, roomID)
	return nil
}

// WaitingRooms 依建立時間由新到舊分頁回傳等待中房間與總數
func (s *MemoryStore) WaitingRooms(_ context.Context, start, stop int64) ([]string, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.waitingSortedLocked()
	// 由新到舊
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}

	total := int64(len(ids))
	if start >= total {
		return nil, total, nil
	}
	if stop >= total {
		stop = total - 1
	}
	return ids[start : stop+1], total, nil
}

// ExpiredWaitingRooms 回傳建立時間早於 before 的等待中房間
func (s *MemoryStore) ExpiredWaitingRooms(_ context.Context, before int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for _, id := range s.waitingSortedLocked() {
		if s.waiting[id] <= before {
			expired = append(expired, id)
		}
	}
	return expired, nil
}

// RemoveWaitingRoom 將房間移出等待索引
func (s *MemoryStore) RemoveWaitingRoom(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.waiting, roomID)
	return nil
}

// QueueAdd 將使用者加入配對佇列
func (s *MemoryStore) QueueAdd(_ context.Context, queueKey, userID string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queues[queueKey] == nil {
		s.queues[queueKey] = make(map[string]float64)
	}
	s.queues[queueKey][userID] = score
	return nil
}

// QueueRemove 將使用者移出配對佇列
func (s *MemoryStore) QueueRemove(_ context.Context, queueKey string, userIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range userIDs {
		delete(s.queues[queueKey], id)
	}
	return nil
}

// QueueRangeByScore 查詢佇列中分數落在 [min, max] 的成員
func (s *MemoryStore) QueueRangeByScore(_ context.Context, queueKey string, min, max float64, limit int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type entry struct {
		id    string
		score float64
	}
	var matched []entry
	for id, score := range s.queues[queueKey] {
		if score >= min && score <= max {
			matched = append(matched, entry{id, score})
		}
	}

	// 與 sorted set 一致：分數由小到大，同分依成員字典序
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].score != matched[j].score {
			return matched[i].score < matched[j].score
		}
		return matched[i].id < matched[j].id
	})

	if limit > 0 && int64(len(matched)) > limit {
		matched = matched[:limit]
	}

	ids := make([]string, len(matched))
	for i, e := range matched {
		ids[i] = e.id
	}
	return ids, nil
}

// ClaimPair 在鎖內原子地確認並移除一對佇列成員
func (s *MemoryStore) ClaimPair(_ context.Context, queueKey, a, b string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.queues[queueKey]
	if queue == nil {
		return false, nil
	}

	_, hasA := queue[a]
	_, hasB := queue[b]
	if !hasA || !hasB {
		return false, nil
	}

	delete(queue, a)
	delete(queue, b)
	return true, nil
}

// SetValue 寫入帶過期的字串值
func (s *MemoryStore) SetValue(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = expiringValue{value: value, expireAt: s.expireAtLocked(ttl)}
	return nil
}

// GetValue 讀取字串值，不存在或已過期時回傳空字串
func (s *MemoryStore) GetValue(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.liveValueLocked(key)
	if !ok {
		return "", nil
	}
	return v.value, nil
}

// DeleteValue 刪除字串值
func (s *MemoryStore) DeleteValue(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

// SetNX 僅在 key 不存在（或已過期）時寫入
func (s *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.liveValueLocked(key); ok {
		return false, nil
	}

	s.values[key] = expiringValue{value: value, expireAt: s.expireAtLocked(ttl)}
	return true, nil
}

// CompareAndDelete 僅在值相符時刪除 key
func (s *MemoryStore) CompareAndDelete(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.liveValueLocked(key); ok && v.value == value {
		delete(s.values, key)
	}
	return nil
}

func (s *MemoryStore) setRoomFieldsLocked(roomID string, fields map[string]string) {
	if s.rooms[roomID] == nil {
		s.rooms[roomID] = make(map[string]string)
	}
	for k, v := range fields {
		s.rooms[roomID][k] = v
	}
}

func (s *MemoryStore) addPlayerLocked(roomID, userID string) {
	if s.players[roomID] == nil {
		s.players[roomID] = make(map[string]struct{})
	}
	s.players[roomID][userID] = struct{}{}
}

// waitingSortedLocked 依建立時間由舊到新回傳等待中房間
func (s *MemoryStore) waitingSortedLocked() []string {
	ids := make([]string, 0, len(s.waiting))
	for id := range s.waiting {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if s.waiting[ids[i]] != s.waiting[ids[j]] {
			return s.waiting[ids[i]] < s.waiting[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}

func (s *MemoryStore) liveValueLocked(key string) (expiringValue, bool) {
	v, ok := s.values[key]
	if !ok {
		return expiringValue{}, false
	}
	if !v.expireAt.IsZero() && !s.now().Before(v.expireAt) {
		delete(s.values, key)
		return expiringValue{}, false
	}
	return v, true
}

func (s *MemoryStore) expireAtLocked(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}
