// Package game 實作權威回合引擎
//
// 系統設計問題：
//
//	客戶端不可信，所有落子與勝負判定必須在伺服器端進行，
//	且同一房間的並發操作不能讓棋局進入不一致狀態。
//
// 核心挑戰:
//  1. 「雙方就緒 → 倒數 → 開局」的多步流程會被斷線、取消就緒打斷
//  2. 落子驗證鏈必須完整（房間、狀態、成員、回合、座標、佔用）
//  3. 勝負判定要從落子點出發而非全盤掃描，否則大棋盤代價過高
//
// 設計方案：
//
//	✅ 諮詢鎖序列化就緒流程 - 讀取、判斷、寫入之間不被穿插
//	✅ 計時器閉包重新驗證前置條件 - 過期的倒數與 AI 排程自然失效
//	✅ 從落子點沿四軸雙向延伸 - 勝負判定 O(winCondition)
package game

import (
	"encoding/json"
	"time"
)

// Player 棋子方
type Player string

const (
	PlayerX Player = "X"
	PlayerO Player = "O"
)

// Opponent 回傳對手方
func (p Player) Opponent() Player {
	if p == PlayerX {
		return PlayerO
	}
	return PlayerX
}

// Winner 對局結果
type Winner string

const (
	WinnerX    Winner = "X"
	WinnerO    Winner = "O"
	WinnerDraw Winner = "DRAW"
)

// Position 棋盤座標（零起算，row 為列、col 為行）
type Position struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Move 一手棋
type Move struct {
	Player    Player   `json:"player"`
	Position  Position `json:"position"`
	Timestamp int64    `json:"timestamp"`
}

// State 對局的權威狀態，序列化後存於房間記錄中
type State struct {
	BoardSize    int `json:"boardSize"`
	WinCondition int `json:"winCondition"`

	// Board[row][col] 為空字串、"X" 或 "O"
	Board       [][]Player `json:"board"`
	CurrentTurn Player     `json:"currentTurn"`
	PlayerXID   string     `json:"playerXId"`
	PlayerOID   string     `json:"playerOId"`
	Moves       []Move     `json:"moves"`
	Winner      Winner     `json:"winner,omitempty"`
	WinningLine []Position `json:"winningLine,omitempty"`
	StartedAt   int64      `json:"startedAt"`
	FinishedAt  int64      `json:"finishedAt,omitempty"`
}

// NewState 建立開局狀態，X 先手
func NewState(boardSize, winCondition int, playerXID, playerOID string, startedAt time.Time) *State {
	board := make([][]Player, boardSize)
	for i := range board {
		board[i] = make([]Player, boardSize)
	}

	return &State{
		BoardSize:    boardSize,
		WinCondition: winCondition,
		Board:        board,
		CurrentTurn:  PlayerX,
		PlayerXID:    playerXID,
		PlayerOID:    playerOID,
		Moves:        []Move{},
		StartedAt:    startedAt.UnixMilli(),
	}
}

// Finished 對局是否已分出結果
func (s *State) Finished() bool {
	return s.Winner != ""
}

// PlayerSeat 回傳使用者的棋子方，非對局玩家時第二值為 false
func (s *State) PlayerSeat(userID string) (Player, bool) {
	switch userID {
	case s.PlayerXID:
		return PlayerX, true
	case s.PlayerOID:
		return PlayerO, true
	}
	return "", false
}

// SeatUserID 回傳棋子方對應的使用者
func (s *State) SeatUserID(p Player) string {
	if p == PlayerX {
		return s.PlayerXID
	}
	return s.PlayerOID
}

// InBounds 檢查座標是否落在棋盤內
func (s *State) InBounds(pos Position) bool {
	return pos.Row >= 0 && pos.Row < s.BoardSize && pos.Col >= 0 && pos.Col < s.BoardSize
}

// Encode 序列化為存入房間記錄的字串
func (s *State) Encode() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeState 由房間記錄中的字串還原對局狀態
func DecodeState(raw string) (*State, error) {
	if raw == "" {
		return nil, nil
	}
	var s State
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, err
	}
	return &s, nil
}
