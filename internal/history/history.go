// Package history 持久化已完成對局的紀錄
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maivankien/caro-online-server/internal/game"
)

// Record 一筆對局歷史
type Record struct {
	RoomID       string
	PlayerXID    string
	PlayerOID    string
	Winner       game.Winner
	BoardSize    int
	WinCondition int
	Moves        []game.Move
	WinningLine  []game.Position
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Repository 對局歷史的持久化介面
type Repository interface {
	Insert(ctx context.Context, rec Record) error
}

// PostgresRepository PostgreSQL 實作
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository 創建對局歷史儲存庫
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Insert 寫入一筆對局歷史
func (r *PostgresRepository) Insert(ctx context.Context, rec Record) error {
	moves, err := json.Marshal(rec.Moves)
	if err != nil {
		return fmt.Errorf("marshal moves: %w", err)
	}
	line, err := json.Marshal(rec.WinningLine)
	if err != nil {
		return fmt.Errorf("marshal winning line: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO game_history (
			room_id, player_x_id, player_o_id, winner,
			board_size, win_condition, moves, winning_line,
			started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.RoomID, rec.PlayerXID, rec.PlayerOID, string(rec.Winner),
		rec.BoardSize, rec.WinCondition, moves, line,
		rec.StartedAt, rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert game history: %w", err)
	}
	return nil
}

// MemoryRepository 測試替身
type MemoryRepository struct {
	Records []Record
}

// NewMemoryRepository 創建記憶體對局歷史儲存庫
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// Insert 寫入一筆對局歷史
func (r *MemoryRepository) Insert(_ context.Context, rec Record) error {
	r.Records = append(r.Records, rec)
	return nil
}
