package gateway

import (
	"context"

	"github.com/maivankien/caro-online-server/internal/event"
	"github.com/maivankien/caro-online-server/internal/game"
	"github.com/maivankien/caro-online-server/internal/matchmaking"
	"github.com/maivankien/caro-online-server/internal/room"
)

// BindBus 訂閱業務事件並路由到對應連線
//
// 房間事件廣播給房間內所有連線；配對事件點對點送達。
// 事件名稱即客戶端收到的 event 欄位。
func (hub *Hub) BindBus(bus *event.Bus) {
	bus.Subscribe(event.TopicRoomJoined, func(_ context.Context, payload any) {
		if p, ok := payload.(room.JoinedPayload); ok {
			hub.BroadcastToRoom(p.RoomID, string(event.TopicRoomJoined), p)
		}
	})

	bus.Subscribe(event.TopicGameStartCountdown, func(_ context.Context, payload any) {
		if p, ok := payload.(game.CountdownPayload); ok {
			hub.BroadcastToRoom(p.RoomID, string(event.TopicGameStartCountdown), p)
		}
	})

	bus.Subscribe(event.TopicGameStarted, func(_ context.Context, payload any) {
		if p, ok := payload.(game.StartedPayload); ok {
			hub.BroadcastToRoom(p.RoomID, string(event.TopicGameStarted), p)
		}
	})

	bus.Subscribe(event.TopicGameMoveMade, func(_ context.Context, payload any) {
		if p, ok := payload.(game.MovePayload); ok {
			hub.BroadcastToRoom(p.RoomID, string(event.TopicGameMoveMade), p)
		}
	})

	bus.Subscribe(event.TopicGameFinished, func(_ context.Context, payload any) {
		if p, ok := payload.(game.FinishedPayload); ok {
			hub.BroadcastToRoom(p.RoomID, string(event.TopicGameFinished), p)
		}
	})

	bus.Subscribe(event.TopicRematchRequested, func(_ context.Context, payload any) {
		if p, ok := payload.(game.RematchRequestedPayload); ok {
			hub.BroadcastToRoom(p.RoomID, string(event.TopicRematchRequested), p)
		}
	})

	bus.Subscribe(event.TopicRematchAccepted, func(_ context.Context, payload any) {
		if p, ok := payload.(game.RematchDecisionPayload); ok {
			hub.BroadcastToRoom(p.RoomID, string(event.TopicRematchAccepted), p)
		}
	})

	bus.Subscribe(event.TopicRematchDeclined, func(_ context.Context, payload any) {
		if p, ok := payload.(game.RematchDecisionPayload); ok {
			hub.BroadcastToRoom(p.RoomID, string(event.TopicRematchDeclined), p)
		}
	})

	bus.Subscribe(event.TopicMatchFound, func(_ context.Context, payload any) {
		if p, ok := payload.(matchmaking.FoundPayload); ok {
			hub.SendToUser(p.PlayerA, string(event.TopicMatchFound), p)
			hub.SendToUser(p.PlayerB, string(event.TopicMatchFound), p)
		}
	})

	bus.Subscribe(event.TopicMatchTimeout, func(_ context.Context, payload any) {
		if p, ok := payload.(matchmaking.TimeoutPayload); ok {
			hub.SendToUser(p.UserID, string(event.TopicMatchTimeout), p)
		}
	})
}
