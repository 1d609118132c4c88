package gamequeue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/maivankien/caro-online-server/internal/game"
	"github.com/maivankien/caro-online-server/internal/history"
	"github.com/maivankien/caro-online-server/internal/user"
	"github.com/maivankien/caro-online-server/pkg/elo"
)

// processTimeout 單一任務的處理時限
const processTimeout = 10 * time.Second

// Worker 完局結算的消費端：更新雙方評分並寫入歷史
type Worker struct {
	queue   *Queue
	users   user.Repository
	history history.Repository
	logger  *slog.Logger
}

// NewWorker 創建完局結算 worker
func NewWorker(queue *Queue, users user.Repository, hist history.Repository, logger *slog.Logger) *Worker {
	return &Worker{
		queue:   queue,
		users:   users,
		history: hist,
		logger:  logger,
	}
}

// Start 以 Queue Group 模式開始消費，每局只被一個 worker 處理
func (w *Worker) Start(queueGroup string) (*nats.Subscription, error) {
	sub, err := w.queue.js.QueueSubscribe(
		SubjectGameFinished,
		queueGroup,
		w.handleMessage,
		nats.Durable(queueGroup),
		nats.ManualAck(),
		nats.AckWait(30*time.Second),
		nats.MaxDeliver(5),
	)
	if err != nil {
		return nil, fmt.Errorf("訂閱完局任務失敗: %w", err)
	}

	w.logger.Info("完局結算 worker 已啟動", "queue_group", queueGroup)
	return sub, nil
}

// handleMessage 處理成功才 ACK，失敗 NAK 觸發重投
func (w *Worker) handleMessage(msg *nats.Msg) {
	var job Job
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		w.logger.Error("解析完局任務失敗，丟棄", "error", err)
		_ = msg.Ack()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	if err := w.Process(ctx, job); err != nil {
		w.logger.Error("處理完局任務失敗", "room_id", job.RoomID, "error", err)
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

// Process 結算一局：批次讀取雙方評分、計算新評分並寫回、落歷史
func (w *Worker) Process(ctx context.Context, job Job) error {
	ratings, err := w.users.BatchGetElo(ctx, []string{job.PlayerXID, job.PlayerOID})
	if err != nil {
		return fmt.Errorf("batch get elo: %w", err)
	}

	ratingX, okX := ratings[job.PlayerXID]
	ratingO, okO := ratings[job.PlayerOID]
	if !okX || !okO {
		return fmt.Errorf("missing rating for players %s / %s", job.PlayerXID, job.PlayerOID)
	}

	scoreX := scoreForX(job.Winner)
	newX, newO := elo.Apply(ratingX, ratingO, scoreX)

	if err := w.users.UpdateElo(ctx, job.PlayerXID, newX); err != nil {
		return fmt.Errorf("update elo for %s: %w", job.PlayerXID, err)
	}
	if err := w.users.UpdateElo(ctx, job.PlayerOID, newO); err != nil {
		return fmt.Errorf("update elo for %s: %w", job.PlayerOID, err)
	}

	rec := history.Record{
		RoomID:       job.RoomID,
		PlayerXID:    job.PlayerXID,
		PlayerOID:    job.PlayerOID,
		Winner:       job.Winner,
		BoardSize:    job.BoardSize,
		WinCondition: job.WinCondition,
		Moves:        job.Moves,
		WinningLine:  job.WinningLine,
		StartedAt:    time.UnixMilli(job.StartedAt),
		FinishedAt:   time.UnixMilli(job.FinishedAt),
	}
	if err := w.history.Insert(ctx, rec); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}

	w.logger.Info("完局結算完成",
		"room_id", job.RoomID,
		"winner", job.Winner,
		"elo_x", newX,
		"elo_o", newO)
	return nil
}

// scoreForX 將勝者轉為 X 方比分
func scoreForX(winner game.Winner) float64 {
	switch winner {
	case game.WinnerX:
		return elo.ScoreWin
	case game.WinnerO:
		return elo.ScoreLoss
	default:
		return elo.ScoreDraw
	}
}
