// Package room 實現遊戲房間的生命週期管理
//
// 系統設計問題：
//
//	如何管理雙人對弈房間的生命週期，避免同一房間被重複預訂，
//	並確保任何並發加入請求下成員數不變式恆成立？
//
// 核心挑戰：
//  1. 狀態機：waiting → waiting_ready → countdown → playing →
//     finished → waiting_rematch →（循環回 playing 或終結清理）
//  2. 並發加入：兩個玩家同時加入只能有一人成功佔到第二席
//  3. 資源回收：閒置的等待中房間需定期清理
//
// 設計方案：
//
//	✅ 共享儲存為唯一事實來源 - 房間記錄存於 hash，任何實例可讀寫
//	✅ 原子批次 - 加入時狀態、成員、索引一次落地
//	✅ 等待索引 sorted set - 以建立時間排序，同時服務大廳分頁與過期掃描
package room

import (
	"encoding/json"
	"strconv"
	"time"
)

// Status 房間狀態
type Status string

const (
	StatusWaiting        Status = "waiting"         // 等待第二位玩家加入
	StatusWaitingReady   Status = "waiting_ready"   // 兩位玩家已到齊，等待就緒
	StatusCountdown      Status = "countdown"       // 開局倒數中
	StatusPlaying        Status = "playing"         // 對局進行中
	StatusFinished       Status = "finished"        // 對局結束
	StatusWaitingRematch Status = "waiting_rematch" // 等待另一位玩家回應再戰
)

// Type 房間類型
type Type string

const (
	TypeStandard Type = "standard" // 兩位真人玩家
	TypeAI       Type = "ai"       // 真人對電腦
)

// AISentinelID 電腦座位的保留玩家識別
const AISentinelID = "AI"

// 預設棋盤配置
const (
	DefaultBoardSize    = 15
	DefaultWinCondition = 5
)

// 棋盤配置的允許範圍
const (
	MinBoardSize    = 5
	MaxBoardSize    = 20
	MinWinCondition = 3
	MaxWinCondition = 7
)

// 房間 hash 的欄位名稱
const (
	FieldID               = "id"
	FieldName             = "name"
	FieldHost             = "host"
	FieldType             = "type"
	FieldStatus           = "status"
	FieldPlayerIDs        = "playerIds"
	FieldPlayerXID        = "playerXId"
	FieldPlayerOID        = "playerOId"
	FieldPassword         = "password"
	FieldBoardSize        = "boardSize"
	FieldWinCondition     = "winCondition"
	FieldCreatedAt        = "createdAt"
	FieldRematchRequester = "rematchRequester"
	FieldGameState        = "gameState"
)

// Host 房主摘要（序列化存於房間記錄中，大廳列表直接顯示）
type Host struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Room 房間視圖（回傳給客戶端）
type Room struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Host         Host      `json:"host"`
	Type         Type      `json:"type"`
	Status       Status    `json:"status"`
	PlayerIDs    []string  `json:"playerIds"`
	HasPassword  bool      `json:"hasPassword"`
	BoardSize    int       `json:"boardSize"`
	WinCondition int       `json:"winCondition"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ListResult 大廳分頁結果
type ListResult struct {
	Rooms []*Room `json:"rooms"`
	Total int64   `json:"total"`
	Page  int     `json:"page"`
	Limit int     `json:"limit"`
}

// listFields GetRoomFields 讀取房間視圖所需的欄位（順序固定）
var listFields = []string{
	FieldID,
	FieldName,
	FieldHost,
	FieldType,
	FieldStatus,
	FieldPlayerIDs,
	FieldPassword,
	FieldBoardSize,
	FieldWinCondition,
	FieldCreatedAt,
}

// fromFields 由 hash 欄位值解析成房間視圖，順序與 listFields 對應
func fromFields(values []string) *Room {
	if len(values) < len(listFields) || values[0] == "" {
		return nil
	}

	var host Host
	_ = json.Unmarshal([]byte(values[2]), &host)

	boardSize, _ := strconv.Atoi(values[7])
	winCondition, _ := strconv.Atoi(values[8])
	createdAt, _ := strconv.ParseInt(values[9], 10, 64)

	return &Room{
		ID:           values[0],
		Name:         values[1],
		Host:         host,
		Type:         Type(values[3]),
		Status:       Status(values[4]),
		PlayerIDs:    ParsePlayerIDs(values[5]),
		HasPassword:  values[6] != "",
		BoardSize:    boardSize,
		WinCondition: winCondition,
		CreatedAt:    time.UnixMilli(createdAt),
	}
}

// ParsePlayerIDs 解析儲存中的成員列表欄位
func ParsePlayerIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	var ids []string
	_ = json.Unmarshal([]byte(raw), &ids)
	return ids
}

// EncodePlayerIDs 序列化成員列表欄位
func EncodePlayerIDs(ids []string) string {
	data, _ := json.Marshal(ids)
	return string(data)
}
