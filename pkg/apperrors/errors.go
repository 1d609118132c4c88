// Package apperrors 提供應用程式錯誤處理
//
// 錯誤分為三類（對應不同的處理策略）：
//   - 業務規則錯誤：只回傳給發起請求的客戶端，不改變任何狀態
//   - 競爭錯誤：鎖取得逾時，提示客戶端稍後重試
//   - 基礎設施錯誤：儲存層不可用，該次操作直接失敗
package apperrors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeNotFound 資源未找到
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeInvalidInput 無效輸入
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeForbidden 無權限操作
	ErrCodeForbidden = "FORBIDDEN"
	// ErrCodeConflict 狀態衝突（房間已滿、位置已被佔用等）
	ErrCodeConflict = "CONFLICT"
	// ErrCodeContention 鎖競爭逾時，可重試
	ErrCodeContention = "CONTENTION"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 實現 errors.Is，以錯誤碼與訊息判定是否為同一錯誤
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// 預定義錯誤（訊息為英文，直接回傳給客戶端）
var (
	// ErrUserNotFound 使用者不存在
	ErrUserNotFound = New(ErrCodeNotFound, "user not found")

	// ErrRoomNotFound 房間不存在
	ErrRoomNotFound = New(ErrCodeNotFound, "room not found")

	// ErrRoomNotWaiting 房間不在等待加入狀態
	ErrRoomNotWaiting = New(ErrCodeConflict, "room is not waiting")

	// ErrRoomNotWaitingReady 房間不在等待準備狀態
	ErrRoomNotWaitingReady = New(ErrCodeConflict, "room is not in waiting ready status")

	// ErrInvalidPassword 房間密碼錯誤
	ErrInvalidPassword = New(ErrCodeForbidden, "invalid password")

	// ErrRoomFull 房間已滿
	ErrRoomFull = New(ErrCodeConflict, "room is full")

	// ErrNotRoomPlayer 使用者不是房間成員
	ErrNotRoomPlayer = New(ErrCodeForbidden, "user is not a player in this room")

	// ErrGameNotFound 遊戲尚未開始或不存在
	ErrGameNotFound = New(ErrCodeNotFound, "game not found")

	// ErrGameNotActive 遊戲已結束
	ErrGameNotActive = New(ErrCodeConflict, "game is not active")

	// ErrNotYourTurn 尚未輪到該玩家
	ErrNotYourTurn = New(ErrCodeConflict, "not your turn")

	// ErrInvalidPosition 落子位置超出棋盤
	ErrInvalidPosition = New(ErrCodeInvalidInput, "invalid move position")

	// ErrPositionOccupied 落子位置已被佔用
	ErrPositionOccupied = New(ErrCodeConflict, "position already occupied")

	// ErrRematchNotAvailable 房間狀態不允許請求再戰
	ErrRematchNotAvailable = New(ErrCodeConflict, "room is not finished yet")

	// ErrRematchSelfAccept 不能接受自己發起的再戰請求
	ErrRematchSelfAccept = New(ErrCodeConflict, "cannot accept your own rematch request")

	// ErrRematchNotRequested 沒有待處理的再戰請求
	ErrRematchNotRequested = New(ErrCodeConflict, "no pending rematch request")

	// ErrLockContention 鎖競爭逾時
	ErrLockContention = New(ErrCodeContention, "another operation is in progress, please try again")

	// ErrInvalidBoardSize 棋盤尺寸超出允許範圍
	ErrInvalidBoardSize = New(ErrCodeInvalidInput, "board size must be between 5 and 20")

	// ErrInvalidWinCondition 連線條件超出允許範圍
	ErrInvalidWinCondition = New(ErrCodeInvalidInput, "win condition must be between 3 and 7")
)

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeNotFound
	}
	return false
}

// IsContention 檢查是否為鎖競爭錯誤（客戶端可重試）
func IsContention(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeContention
	}
	return false
}

// IsBusinessError 檢查是否為業務規則錯誤（非基礎設施錯誤）
func IsBusinessError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code != ErrCodeInternal
	}
	return false
}

// ClientMessage 取得可回傳給客戶端的訊息
//
// 基礎設施錯誤不洩漏內部細節，統一回傳通用訊息。
func ClientMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code != ErrCodeInternal {
		return appErr.Message
	}
	return "an error occurred"
}
