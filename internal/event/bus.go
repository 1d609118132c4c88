// Package event 實現服務內部的事件匯流排
//
// 系統設計問題：
//
//	GameSession 完成一手棋後，需要同時通知 WebSocket 廣播器與
//	非同步任務隊列，如何避免這些消費者與遊戲邏輯的隱性耦合？
//
// 設計方案：
//
//	✅ 具名主題（Topic）- 發布者與訂閱者只依賴主題名稱
//	✅ 同步派送 - 訂閱者依註冊順序依次執行，事件順序可預期
//	✅ panic 隔離 - 單一訂閱者異常不影響其他訂閱者與發布者
//
// 訂閱者若需要耗時處理（如發布到 NATS），應自行轉為非同步，
// 匯流排本身不做緩衝。
package event

import (
	"context"
	"log/slog"
	"sync"
)

// Topic 事件主題
type Topic string

// 內部事件主題，與推播給客戶端的事件名稱一致，便於追蹤
const (
	TopicRoomJoined         Topic = "room.joined"
	TopicGameStartCountdown Topic = "game.start.countdown"
	TopicGameStarted        Topic = "game.started"
	TopicGameMoveMade       Topic = "game.move.made"
	TopicGameFinished       Topic = "game.finished"
	TopicRematchRequested   Topic = "request.rematch"
	TopicRematchAccepted    Topic = "accept.rematch"
	TopicRematchDeclined    Topic = "decline.rematch"
	TopicMatchFound         Topic = "matchmaking.found"
	TopicMatchTimeout       Topic = "matchmaking.timeout"
)

// Handler 事件處理函數
//
// payload 的具體型別由發布該主題的套件定義（如 game.FinishedPayload），
// 訂閱者以型別斷言取回。
type Handler func(ctx context.Context, payload any)

// Bus 事件匯流排
type Bus struct {
	mu       sync.RWMutex
	handlers map[Topic][]Handler
	logger   *slog.Logger
}

// NewBus 創建事件匯流排
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[Topic][]Handler),
		logger:   logger,
	}
}

// Subscribe 註冊主題的處理函數
//
// 註冊順序即派送順序。只應在啟動階段呼叫。
func (b *Bus) Subscribe(topic Topic, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
}

// Publish 同步派送事件給所有訂閱者
func (b *Bus) Publish(ctx context.Context, topic Topic, payload any) {
	b.mu.RLock()
	handlers := b.handlers[topic]
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.dispatch(ctx, topic, handler, payload)
	}
}

// dispatch 執行單一訂閱者，隔離 panic
func (b *Bus) dispatch(ctx context.Context, topic Topic, handler Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("事件處理器發生 panic",
				"topic", string(topic),
				"panic", r)
		}
	}()

	handler(ctx, payload)
}
