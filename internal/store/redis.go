package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lua 腳本：配對的原子「檢查後移除」
//
// KEYS[1]: 佇列 key
// ARGV[1]: 搜尋者 userId
// ARGV[2]: 候選者 userId
//
// 必須先確認兩者都還在佇列中才移除：第三個並發搜尋者可能已經
// 取走其中一人。只有贏得這一步的搜尋者可以繼續建房。
var claimPairScript = redis.NewScript(`
local exists1 = redis.call("ZSCORE", KEYS[1], ARGV[1])
local exists2 = redis.call("ZSCORE", KEYS[1], ARGV[2])

if (exists1 and exists2) then
    redis.call("ZREM", KEYS[1], ARGV[1], ARGV[2])
    return 1
else
    return 0
end`)

// Lua 腳本：比對持有者後刪除（鎖釋放）
//
// KEYS[1]: 鎖 key
// ARGV[1]: 持有者令牌
//
// 鎖可能已因 TTL 過期並被他人重新取得，只刪除仍屬於自己的鎖。
var compareAndDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end`)

// RedisStore Store 的 Redis 實作
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore 創建 Redis 儲存
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// CreateRoom 原子地寫入房間記錄、成員集合與等待索引
func (s *RedisStore) CreateRoom(ctx context.Context, roomID string, fields map[string]string, hostID string, createdAt int64) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, RoomKey(roomID), flatten(fields))
		pipe.SAdd(ctx, RoomPlayersKey(roomID), hostID)
		pipe.ZAdd(ctx, WaitingIndexKey, redis.Z{Score: float64(createdAt), Member: roomID})
		return nil
	})
	return err
}

// JoinRoom 原子地更新房間欄位、加入成員並移出等待索引
func (s *RedisStore) JoinRoom(ctx context.Context, roomID string, fields map[string]string, userID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(fields) > 0 {
			pipe.HSet(ctx, RoomKey(roomID), flatten(fields))
		}
		pipe.SAdd(ctx, RoomPlayersKey(roomID), userID)
		pipe.ZRem(ctx, WaitingIndexKey, roomID)
		return nil
	})
	return err
}

// GetRoomFields 讀取房間指定欄位
func (s *RedisStore) GetRoomFields(ctx context.Context, roomID string, fields ...string) ([]string, error) {
	values, err := s.client.HMGet(ctx, RoomKey(roomID), fields...).Result()
	if err != nil {
		return nil, err
	}

	result := make([]string, len(values))
	for i, v := range values {
		if str, ok := v.(string); ok {
			result[i] = str
		}
	}
	return result, nil
}

// SetRoomFields 原子地更新房間多個欄位（單一 HSET 命令）
func (s *RedisStore) SetRoomFields(ctx context.Context, roomID string, fields map[string]string) error {
	return s.client.HSet(ctx, RoomKey(roomID), flatten(fields)).Err()
}

// DeleteRoom 原子地刪除房間的所有 key 與索引項
func (s *RedisStore) DeleteRoom(ctx context.Context, roomID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, RoomKey(roomID))
		pipe.Del(ctx, RoomPlayersKey(roomID))
		pipe.Del(ctx, RoomReadyKey(roomID))
		pipe.ZRem(ctx, WaitingIndexKey, roomID)
		return nil
	})
	return err
}

// IsRoomPlayer 檢查使用者是否為房間成員
func (s *RedisStore) IsRoomPlayer(ctx context.Context, roomID, userID string) (bool, error) {
	return s.client.SIsMember(ctx, RoomPlayersKey(roomID), userID).Result()
}

// SetPlayerReady 記錄使用者的就緒狀態
func (s *RedisStore) SetPlayerReady(ctx context.Context, roomID, userID string) error {
	return s.client.HSet(ctx, RoomReadyKey(roomID), userID, "true").Err()
}

// GetPlayersReady 讀取多位使用者的就緒狀態
func (s *RedisStore) GetPlayersReady(ctx context.Context, roomID string, userIDs ...string) ([]bool, error) {
	values, err := s.client.HMGet(ctx, RoomReadyKey(roomID), userIDs...).Result()
	if err != nil {
		return nil, err
	}

	result := make([]bool, len(values))
	for i, v := range values {
		result[i] = v == "true"
	}
	return result, nil
}

// ClearReady 清除房間的就緒狀態
func (s *RedisStore) ClearReady(ctx context.Context, roomID string) error {
	return s.client.Del(ctx, RoomReadyKey(roomID)).Err()
}

// WaitingRooms 依建立時間由新到舊分頁回傳等待中房間與總數
func (s *RedisStore) WaitingRooms(ctx context.Context, start, stop int64) ([]string, int64, error) {
	pipe := s.client.Pipeline()
	idsCmd := pipe.ZRevRange(ctx, WaitingIndexKey, start, stop)
	totalCmd := pipe.ZCard(ctx, WaitingIndexKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, 0, err
	}

	return idsCmd.Val(), totalCmd.Val(), nil
}

// ExpiredWaitingRooms 回傳建立時間早於 before 的等待中房間
func (s *RedisStore) ExpiredWaitingRooms(ctx context.Context, before int64) ([]string, error) {
	return s.client.ZRangeByScore(ctx, WaitingIndexKey, &redis.ZRangeBy{
		Min: "0",
		Max: formatScore(float64(before)),
	}).Result()
}

// RemoveWaitingRoom 將房間移出等待索引
func (s *RedisStore) RemoveWaitingRoom(ctx context.Context, roomID string) error {
	return s.client.ZRem(ctx, WaitingIndexKey, roomID).Err()
}

// QueueAdd 將使用者加入配對佇列
func (s *RedisStore) QueueAdd(ctx context.Context, queueKey, userID string, score float64) error {
	return s.client.ZAdd(ctx, queueKey, redis.Z{Score: score, Member: userID}).Err()
}

// QueueRemove 將使用者移出配對佇列
func (s *RedisStore) QueueRemove(ctx context.Context, queueKey string, userIDs ...string) error {
	members := make([]any, len(userIDs))
	for i, id := range userIDs {
		members[i] = id
	}
	return s.client.ZRem(ctx, queueKey, members...).Err()
}

// QueueRangeByScore 查詢佇列中 ELO 落在 [min, max] 的成員
func (s *RedisStore) QueueRangeByScore(ctx context.Context, queueKey string, min, max float64, limit int64) ([]string, error) {
	return s.client.ZRangeByScore(ctx, queueKey, &redis.ZRangeBy{
		Min:   formatScore(min),
		Max:   formatScore(max),
		Count: limit,
	}).Result()
}

// ClaimPair 伺服器端原子地確認並移除一對佇列成員
func (s *RedisStore) ClaimPair(ctx context.Context, queueKey, a, b string) (bool, error) {
	result, err := claimPairScript.Run(ctx, s.client, []string{queueKey}, a, b).Int()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}

// SetValue 寫入帶過期的字串值
func (s *RedisStore) SetValue(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// GetValue 讀取字串值，不存在時回傳空字串
func (s *RedisStore) GetValue(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return value, err
}

// DeleteValue 刪除字串值
func (s *RedisStore) DeleteValue(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// SetNX 僅在 key 不存在時寫入
func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

// CompareAndDelete 僅在值相符時刪除 key
func (s *RedisStore) CompareAndDelete(ctx context.Context, key, value string) error {
	return compareAndDeleteScript.Run(ctx, s.client, []string{key}, value).Err()
}

// flatten 將 map 展開為 HSet 的 field/value 參數
func flatten(fields map[string]string) []string {
	pairs := make([]string, 0, len(fields)*2)
	for k, v := range fields {
		pairs = append(pairs, k, v)
	}
	return pairs
}

// formatScore 將分數格式化為 Redis range 參數
func formatScore(score float64) string {
	// ELO 與時間戳記都是整數值
	return strconv.FormatInt(int64(score), 10)
}
