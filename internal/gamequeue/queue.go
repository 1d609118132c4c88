// Package gamequeue 以 NATS JetStream 異步記錄完局結果
//
// 系統設計問題：
//
//	完局後的評分結算與歷史寫入是資料庫操作，不能讓對局
//	流程等它，也不能因伺服器重啟而丟失。
//
// 核心挑戰:
//  1. 完局事件必須送達一次以上（At-least-once）
//  2. 結算邏輯要能水平擴展且每局只被一個 worker 處理
//  3. 人機對局不記入排行，要在入隊前過濾
//
// 設計方案：
//
//	✅ JetStream 磁盤持久化 - 完局訊息落盤後才回 ACK
//	✅ Queue Group + 手動 ACK - 負載均衡，失敗自動重投
//	✅ 事件匯流排掛載 - 引擎不感知隊列的存在
package gamequeue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/maivankien/caro-online-server/internal/event"
	"github.com/maivankien/caro-online-server/internal/game"
	"github.com/maivankien/caro-online-server/internal/room"
)

// SubjectGameFinished 完局訊息的主題
const SubjectGameFinished = "game.finished"

// Job 完局結算任務
type Job struct {
	RoomID       string          `json:"roomId"`
	PlayerXID    string          `json:"playerXId"`
	PlayerOID    string          `json:"playerOId"`
	Winner       game.Winner     `json:"winner"`
	BoardSize    int             `json:"boardSize"`
	WinCondition int             `json:"winCondition"`
	Moves        []game.Move     `json:"moves"`
	WinningLine  []game.Position `json:"winningLine,omitempty"`
	StartedAt    int64           `json:"startedAt"`
	FinishedAt   int64           `json:"finishedAt"`
}

// Queue 完局訊息隊列
type Queue struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *slog.Logger
	stream string
}

// New 連線 NATS 並確保 Stream 存在
func New(url, streamName string, logger *slog.Logger) (*Queue, error) {
	conn, err := nats.Connect(
		url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("連接 NATS 失敗: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("創建 JetStream 上下文失敗: %w", err)
	}

	q := &Queue{conn: conn, js: js, logger: logger, stream: streamName}
	if err := q.initStream(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("初始化 Stream 失敗: %w", err)
	}
	return q, nil
}

// initStream 冪等地建立或更新 Stream
func (q *Queue) initStream() error {
	cfg := &nats.StreamConfig{
		Name:     q.stream,
		Subjects: []string{SubjectGameFinished},
		Storage:  nats.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
		Replicas: 1,
	}

	_, err := q.js.StreamInfo(q.stream)
	if err == nats.ErrStreamNotFound {
		_, err = q.js.AddStream(cfg)
		if err != nil {
			return fmt.Errorf("創建 Stream 失敗: %w", err)
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("查詢 Stream 失敗: %w", err)
	}

	_, err = q.js.UpdateStream(cfg)
	if err != nil {
		return fmt.Errorf("更新 Stream 失敗: %w", err)
	}
	return nil
}

// PublishFinished 同步發送完局任務，等待落盤確認
func (q *Queue) PublishFinished(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("序列化完局任務失敗: %w", err)
	}

	_, err = q.js.Publish(SubjectGameFinished, data, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("發送完局任務失敗: %w", err)
	}
	return nil
}

// BindBus 掛上事件匯流排，將完局事件轉為隊列任務
//
// 人機對局在此過濾：AI 沒有評分，結果不需要結算。
func (q *Queue) BindBus(bus *event.Bus) {
	bus.Subscribe(event.TopicGameFinished, func(ctx context.Context, payload any) {
		finished, ok := payload.(game.FinishedPayload)
		if !ok {
			q.logger.Error("完局事件內容型別不符")
			return
		}
		if finished.RoomType == room.TypeAI {
			return
		}

		job := Job{
			RoomID:       finished.RoomID,
			PlayerXID:    finished.State.PlayerXID,
			PlayerOID:    finished.State.PlayerOID,
			Winner:       finished.Winner,
			BoardSize:    finished.State.BoardSize,
			WinCondition: finished.State.WinCondition,
			Moves:        finished.State.Moves,
			WinningLine:  finished.WinningLine,
			StartedAt:    finished.State.StartedAt,
			FinishedAt:   finished.State.FinishedAt,
		}
		if err := q.PublishFinished(ctx, job); err != nil {
			q.logger.Error("完局任務入隊失敗", "room_id", finished.RoomID, "error", err)
		}
	})
}

// Close 關閉 NATS 連線
func (q *Queue) Close() {
	q.conn.Close()
}
