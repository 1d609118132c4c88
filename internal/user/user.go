// Package user 提供使用者資料的查詢與 ELO 更新
//
// 帳號註冊、認證與令牌發放屬於外部協作者，本套件只承載核心
// 邏輯需要的窄介面：存在性檢查、ELO 查詢（單筆與批次）與
// 完局後的 ELO 寫回。
package user

import (
	"context"
)

// DefaultElo 新使用者的初始 ELO
const DefaultElo = 1000

// User 使用者摘要
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Elo  int    `json:"elo"`
}

// Repository 使用者資料存取介面
type Repository interface {
	// FindByID 依 id 查詢使用者，不存在時回傳 apperrors.ErrUserNotFound
	FindByID(ctx context.Context, id string) (*User, error)

	// BatchGetElo 批次查詢多位使用者的 ELO（完局任務處理用）
	BatchGetElo(ctx context.Context, ids []string) (map[string]int, error)

	// UpdateElo 寫回使用者的新 ELO
	UpdateElo(ctx context.Context, id string, elo int) error
}
