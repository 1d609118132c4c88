package gamequeue_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maivankien/caro-online-server/internal/game"
	"github.com/maivankien/caro-online-server/internal/gamequeue"
	"github.com/maivankien/caro-online-server/internal/history"
	"github.com/maivankien/caro-online-server/internal/user"
)

func newWorker(t *testing.T) (*gamequeue.Worker, *user.MemoryRepository, *history.MemoryRepository) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	users := user.NewMemoryRepository(
		&user.User{ID: "alice", Name: "愛麗絲", Elo: 1200},
		&user.User{ID: "bob", Name: "鮑伯", Elo: 1200},
	)
	hist := history.NewMemoryRepository()
	return gamequeue.NewWorker(nil, users, hist, logger), users, hist
}

func sampleJob(winner game.Winner) gamequeue.Job {
	started := time.Now().Add(-time.Minute).UnixMilli()
	return gamequeue.Job{
		RoomID:       "room-1",
		PlayerXID:    "alice",
		PlayerOID:    "bob",
		Winner:       winner,
		BoardSize:    15,
		WinCondition: 5,
		Moves: []game.Move{
			{Player: game.PlayerX, Position: game.Position{Row: 7, Col: 7}, Timestamp: started},
		},
		WinningLine: []game.Position{
			{Row: 7, Col: 7}, {Row: 7, Col: 8}, {Row: 7, Col: 9},
			{Row: 7, Col: 10}, {Row: 7, Col: 11},
		},
		StartedAt:  started,
		FinishedAt: time.Now().UnixMilli(),
	}
}

// TestProcess_WinUpdatesRatings X 勝：雙方評分對稱變動並寫入歷史
func TestProcess_WinUpdatesRatings(t *testing.T) {
	worker, users, hist := newWorker(t)
	ctx := context.Background()

	require.NoError(t, worker.Process(ctx, sampleJob(game.WinnerX)))

	alice, err := users.FindByID(ctx, "alice")
	require.NoError(t, err)
	bob, err := users.FindByID(ctx, "bob")
	require.NoError(t, err)

	assert.Equal(t, 1216, alice.Elo)
	assert.Equal(t, 1184, bob.Elo)

	require.Len(t, hist.Records, 1)
	rec := hist.Records[0]
	assert.Equal(t, "room-1", rec.RoomID)
	assert.Equal(t, game.WinnerX, rec.Winner)
	assert.Len(t, rec.WinningLine, 5)
	assert.True(t, rec.FinishedAt.After(rec.StartedAt))
}

func TestProcess_OWinAndDraw(t *testing.T) {
	t.Run("O 勝", func(t *testing.T) {
		worker, users, _ := newWorker(t)
		require.NoError(t, worker.Process(context.Background(), sampleJob(game.WinnerO)))

		alice, _ := users.FindByID(context.Background(), "alice")
		bob, _ := users.FindByID(context.Background(), "bob")
		assert.Equal(t, 1184, alice.Elo)
		assert.Equal(t, 1216, bob.Elo)
	})

	t.Run("和棋評分不變", func(t *testing.T) {
		worker, users, hist := newWorker(t)
		require.NoError(t, worker.Process(context.Background(), sampleJob(game.WinnerDraw)))

		alice, _ := users.FindByID(context.Background(), "alice")
		bob, _ := users.FindByID(context.Background(), "bob")
		assert.Equal(t, 1200, alice.Elo)
		assert.Equal(t, 1200, bob.Elo)
		assert.Len(t, hist.Records, 1)
	})
}

// TestProcess_MissingPlayerFails 缺評分視為失敗，交由重投機制處理
func TestProcess_MissingPlayerFails(t *testing.T) {
	worker, _, hist := newWorker(t)

	job := sampleJob(game.WinnerX)
	job.PlayerOID = "ghost"

	err := worker.Process(context.Background(), job)
	require.Error(t, err)
	assert.Empty(t, hist.Records, "失敗的任務不應留下半套結果")
}
