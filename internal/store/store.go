// Package store 封裝共享狀態儲存的存取
//
// 系統設計問題：
//
//	房間、對局、排隊狀態由多個並發連線同時讀寫，
//	如何保證跨欄位更新的原子性？
//
// 核心挑戰：
//  1. 多欄位更新必須被原子地觀察到（座位分配、狀態加棋盤）
//  2. 配對的「檢查後移除」無法以單次往返表達
//  3. 測試需要能以記憶體實作替換 Redis
//
// 設計方案：
//
//	✅ 單一 HSET / TxPipeline - 批次更新一次落地，不會半套用
//	✅ Lua 腳本 - 檢查與移除在伺服器端不可分割地執行
//	✅ Store 介面 + 建構子注入 - RedisStore 與 MemoryStore 可互換
//
// 介面是領域形狀的（房間、就緒、佇列、鎖），而非通用 KV：
// 這讓每個方法對應一次原子往返，呼叫端不可能組出非原子的批次。
package store

import (
	"context"
	"fmt"
	"time"
)

// WaitingIndexKey 等待中房間的索引（sorted set，score 為建立時間毫秒）
const WaitingIndexKey = "rooms:status:waiting"

// RoomKey 房間主記錄的 hash key
func RoomKey(roomID string) string {
	return fmt.Sprintf("room:%s", roomID)
}

// RoomPlayersKey 房間成員集合的 key
func RoomPlayersKey(roomID string) string {
	return fmt.Sprintf("room:%s:players", roomID)
}

// RoomReadyKey 房間就緒狀態 hash 的 key
func RoomReadyKey(roomID string) string {
	return fmt.Sprintf("room:%s:ready", roomID)
}

// QueueKey 配對佇列的 key，依棋盤配置分桶
func QueueKey(boardSize, winCondition int) string {
	return fmt.Sprintf("matchmaking:queue:%d:%d", boardSize, winCondition)
}

// SessionKey 配對會話令牌的 key
func SessionKey(userID string) string {
	return fmt.Sprintf("matchmaking:session:%s", userID)
}

// LockKey 諮詢鎖的 key
func LockKey(key string) string {
	return fmt.Sprintf("lock:%s", key)
}

// Store 共享狀態儲存的存取介面
//
// 每個方法對儲存而言都是一次原子操作；跨多次往返仍需保持的
// 不變式由 lock.Manager 在其上另行序列化。
type Store interface {
	// CreateRoom 原子地寫入房間記錄、成員集合與等待索引
	CreateRoom(ctx context.Context, roomID string, fields map[string]string, hostID string, createdAt int64) error

	// JoinRoom 原子地更新房間欄位、加入成員並移出等待索引
	JoinRoom(ctx context.Context, roomID string, fields map[string]string, userID string) error

	// GetRoomFields 讀取房間指定欄位，缺少的欄位為空字串
	GetRoomFields(ctx context.Context, roomID string, fields ...string) ([]string, error)

	// SetRoomFields 原子地更新房間多個欄位
	SetRoomFields(ctx context.Context, roomID string, fields map[string]string) error

	// DeleteRoom 原子地刪除房間記錄、成員集合、就緒狀態與索引項
	DeleteRoom(ctx context.Context, roomID string) error

	// IsRoomPlayer 檢查使用者是否為房間成員
	IsRoomPlayer(ctx context.Context, roomID, userID string) (bool, error)

	// SetPlayerReady 記錄使用者的就緒狀態
	SetPlayerReady(ctx context.Context, roomID, userID string) error

	// GetPlayersReady 讀取多位使用者的就緒狀態
	GetPlayersReady(ctx context.Context, roomID string, userIDs ...string) ([]bool, error)

	// ClearReady 清除房間的就緒狀態（再戰開局前重置）
	ClearReady(ctx context.Context, roomID string) error

	// WaitingRooms 依建立時間由新到舊分頁回傳等待中房間與總數
	WaitingRooms(ctx context.Context, start, stop int64) ([]string, int64, error)

	// ExpiredWaitingRooms 回傳建立時間早於 before（毫秒）的等待中房間
	ExpiredWaitingRooms(ctx context.Context, before int64) ([]string, error)

	// RemoveWaitingRoom 將房間移出等待索引
	RemoveWaitingRoom(ctx context.Context, roomID string) error

	// QueueAdd 將使用者加入配對佇列（score 為 ELO）
	QueueAdd(ctx context.Context, queueKey, userID string, score float64) error

	// QueueRemove 將使用者移出配對佇列
	QueueRemove(ctx context.Context, queueKey string, userIDs ...string) error

	// QueueRangeByScore 查詢佇列中 ELO 落在 [min, max] 的成員
	QueueRangeByScore(ctx context.Context, queueKey string, min, max float64, limit int64) ([]string, error)

	// ClaimPair 原子地確認 a 與 b 仍在佇列中並同時移除兩者；
	// 任一已被其他搜尋者取走則不移除任何成員並回傳 false
	ClaimPair(ctx context.Context, queueKey, a, b string) (bool, error)

	// SetValue 寫入帶過期的字串值（配對會話令牌）
	SetValue(ctx context.Context, key, value string, ttl time.Duration) error

	// GetValue 讀取字串值，不存在時回傳空字串
	GetValue(ctx context.Context, key string) (string, error)

	// DeleteValue 刪除字串值
	DeleteValue(ctx context.Context, key string) error

	// SetNX 僅在 key 不存在時寫入（含 TTL），成功回傳 true
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// CompareAndDelete 僅在值等於 value 時刪除 key（鎖的持有者釋放）
	CompareAndDelete(ctx context.Context, key, value string) error
}
