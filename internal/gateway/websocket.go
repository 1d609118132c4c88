// Package gateway 提供 HTTP 與 WebSocket 的對外介面
//
// 系統設計問題：
//
//	對局事件要即時推送到房間內的每條連線，配對結果要送達
//	特定玩家，而業務核心不應感知任何連線細節。
//
// 核心挑戰：
//  1. 實時推送：落子、倒數、結束都要立即廣播到房間
//  2. 連接管理：斷線、重連、同帳號重複連線
//  3. 心跳機制：檢測死連接（網絡異常、客戶端崩潰）
//  4. 身分閘道：非房間成員的連線不得收發對局訊息
//
// 設計方案：
//
//	✅ WebSocket Hub 模式 - 集中管理房間與配對兩類連線
//	✅ Ping/Pong 心跳 - 檢測死連接（54s/60s）
//	✅ 緩衝 channel 異步發送 - 慢客戶端不拖累整個房間
//	✅ 事件匯流排掛載 - 核心發事件，閘道負責路由與序列化
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/maivankien/caro-online-server/internal/game"
	"github.com/maivankien/caro-online-server/internal/matchmaking"
	"github.com/maivankien/caro-online-server/internal/room"
	"github.com/maivankien/caro-online-server/pkg/apperrors"
)

// 心跳配置：54 秒 Ping，60 秒讀取超時，留 6 秒余量
const (
	pingInterval = 54 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	sendBuffer   = 256
)

// 客戶端入站事件
const (
	msgPlayerReady    = "player.ready"
	msgMakeMove       = "make.move"
	msgGetGameState   = "get.game.state"
	msgRequestRematch = "request.rematch"
	msgAcceptRematch  = "accept.rematch"
	msgDeclineRematch = "decline.rematch"
)

// Envelope 收發訊息的統一外層
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ErrorPayload error 事件的內容，Event 指出哪個操作被拒
type ErrorPayload struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// movePayload make.move 的入站內容
type movePayload struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Hub WebSocket 連接中心
//
// 兩類連線分開管理：房間連線依 roomID → userID 兩層索引
// 支持房間廣播；配對連線依 userID 索引供點對點送達。
type Hub struct {
	rooms       *room.Service
	games       *game.Service
	matchmaking *matchmaking.Service
	logger      *slog.Logger
	upgrader    websocket.Upgrader

	mu         sync.RWMutex
	roomConns  map[string]map[string]*Connection
	matchConns map[string]*Connection
}

// Connection 一條 WebSocket 連線
type Connection struct {
	UserID string
	// RoomID 房間連線所屬的房間；配對連線為空
	RoomID    string
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
	closeOnce sync.Once
}

// NewHub 創建 WebSocket Hub
func NewHub(rooms *room.Service, games *game.Service, mm *matchmaking.Service, logger *slog.Logger) *Hub {
	return &Hub{
		rooms:       rooms,
		games:       games,
		matchmaking: mm,
		logger:      logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 生產環境應檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		roomConns:  make(map[string]map[string]*Connection),
		matchConns: make(map[string]*Connection),
	}
}

// ServeRoomWS 建立房間頻道連線
//
// 升級前先驗證成員資格：非成員直接以 403 拒絕，
// 不讓未授權連線掛進 Hub。
func (hub *Hub) ServeRoomWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")
	userID := r.URL.Query().Get("user_id")
	if roomID == "" || userID == "" {
		http.Error(w, "missing room_id or user_id", http.StatusBadRequest)
		return
	}

	isPlayer, err := hub.rooms.IsRoomPlayer(r.Context(), roomID, userID)
	if err != nil {
		hub.logger.Error("驗證房間成員失敗", "room_id", roomID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !isPlayer {
		http.Error(w, "not a player in this room", http.StatusForbidden)
		return
	}

	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	c := &Connection{
		UserID: userID,
		RoomID: roomID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		hub:    hub,
	}
	hub.registerRoomConn(c)

	go c.writePump()
	go c.readPump()

	hub.logger.Info("房間連線建立", "room_id", roomID, "user_id", userID)
}

// ServeMatchmakingWS 建立配對頻道連線，連線斷開即隱含取消排隊
func (hub *Hub) ServeMatchmakingWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "missing user_id", http.StatusBadRequest)
		return
	}

	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	c := &Connection{
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		hub:    hub,
	}
	hub.registerMatchConn(c)

	go c.writePump()
	go c.readPump()

	hub.logger.Info("配對連線建立", "user_id", userID)
}

func (hub *Hub) registerRoomConn(c *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if hub.roomConns[c.RoomID] == nil {
		hub.roomConns[c.RoomID] = make(map[string]*Connection)
	}
	// 同帳號重複連線時關閉舊的
	if old, exists := hub.roomConns[c.RoomID][c.UserID]; exists {
		old.close()
	}
	hub.roomConns[c.RoomID][c.UserID] = c
}

func (hub *Hub) registerMatchConn(c *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if old, exists := hub.matchConns[c.UserID]; exists {
		old.close()
	}
	hub.matchConns[c.UserID] = c
}

func (hub *Hub) unregister(c *Connection) {
	hub.mu.Lock()

	if c.RoomID != "" {
		if conns, exists := hub.roomConns[c.RoomID]; exists {
			if cur, exists := conns[c.UserID]; exists && cur == c {
				delete(conns, c.UserID)
				if len(conns) == 0 {
					delete(hub.roomConns, c.RoomID)
				}
			}
		}
		hub.mu.Unlock()
		c.close()
		return
	}

	matched := false
	if cur, exists := hub.matchConns[c.UserID]; exists && cur == c {
		delete(hub.matchConns, c.UserID)
		matched = true
	}
	hub.mu.Unlock()
	c.close()

	// 配對連線中斷視為取消排隊
	if matched {
		if err := hub.matchmaking.OnDisconnect(context.Background(), c.UserID); err != nil {
			hub.logger.Warn("斷線取消配對失敗", "user_id", c.UserID, "error", err)
		}
	}
}

// BroadcastToRoom 廣播訊息到房間的所有連線
func (hub *Hub) BroadcastToRoom(roomID, event string, data any) {
	message, ok := hub.encode(event, data)
	if !ok {
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for _, c := range hub.roomConns[roomID] {
		c.enqueue(message)
	}
}

// SendToUser 送訊息給特定玩家（房間與配對連線都找）
func (hub *Hub) SendToUser(userID, event string, data any) {
	message, ok := hub.encode(event, data)
	if !ok {
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	if c, exists := hub.matchConns[userID]; exists {
		c.enqueue(message)
	}
	for _, conns := range hub.roomConns {
		if c, exists := conns[userID]; exists {
			c.enqueue(message)
		}
	}
}

func (hub *Hub) encode(event string, data any) ([]byte, bool) {
	payload, err := json.Marshal(data)
	if err != nil {
		hub.logger.Error("序列化事件失敗", "event", event, "error", err)
		return nil, false
	}
	message, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		hub.logger.Error("序列化事件失敗", "event", event, "error", err)
		return nil, false
	}
	return message, true
}

// Stop 關閉所有連線
func (hub *Hub) Stop() {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	for _, conns := range hub.roomConns {
		for _, c := range conns {
			c.close()
		}
	}
	for _, c := range hub.matchConns {
		c.close()
	}
	hub.roomConns = make(map[string]map[string]*Connection)
	hub.matchConns = make(map[string]*Connection)

	hub.logger.Info("WebSocket Hub 已停止")
}

func (c *Connection) enqueue(message []byte) {
	select {
	case c.send <- message:
	default:
		// 緩衝區滿表示慢客戶端，跳過這條訊息
		c.hub.logger.Warn("連接緩衝區滿", "user_id", c.UserID, "room_id", c.RoomID)
	}
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
	c.conn.Close()
}

// readPump 讀取客戶端訊息，60 秒未收到任何訊息（含 Pong）即斷線
func (c *Connection) readPump() {
	defer c.hub.unregister(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket 讀取錯誤",
					"error", err,
					"room_id", c.RoomID,
					"user_id", c.UserID)
			}
			return
		}
		if messageType == websocket.TextMessage {
			c.handleMessage(message)
		}
	}
}

// writePump 寫入訊息並定期發送 Ping
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 分派客戶端入站事件到業務核心
//
// 每個操作的錯誤只回給這條連線；成功後的狀態變化
// 由核心發出的事件經匯流排廣播，這裡不直接回應成功。
func (c *Connection) handleMessage(message []byte) {
	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.sendError("", "invalid message format")
		return
	}
	if c.RoomID == "" {
		// 配對連線只收事件，不接受對局操作
		c.sendError(env.Event, "operation not available on this channel")
		return
	}

	ctx := context.Background()

	switch env.Event {
	case msgPlayerReady:
		if err := c.hub.games.SetPlayerReady(ctx, c.RoomID, c.UserID); err != nil {
			c.sendError(env.Event, apperrors.ClientMessage(err))
		}

	case msgMakeMove:
		var mv movePayload
		if err := json.Unmarshal(env.Data, &mv); err != nil {
			c.sendError(env.Event, "invalid move payload")
			return
		}
		pos := game.Position{Row: mv.Row, Col: mv.Col}
		if _, err := c.hub.games.MakeMove(ctx, c.RoomID, c.UserID, pos); err != nil {
			c.sendError(env.Event, apperrors.ClientMessage(err))
		}

	case msgGetGameState:
		state, winner, line, err := c.hub.games.GetGameStateForPlayer(ctx, c.RoomID)
		if err != nil {
			c.sendError(env.Event, apperrors.ClientMessage(err))
			return
		}
		c.sendEvent("game.state.sync", map[string]any{
			"gameState":   state,
			"winner":      winner,
			"winningLine": line,
		})

	case msgRequestRematch:
		if err := c.hub.games.RequestRematch(ctx, c.RoomID, c.UserID); err != nil {
			c.sendError(env.Event, apperrors.ClientMessage(err))
		}

	case msgAcceptRematch:
		if err := c.hub.games.AcceptRematch(ctx, c.RoomID, c.UserID); err != nil {
			c.sendError(env.Event, apperrors.ClientMessage(err))
		}

	case msgDeclineRematch:
		if err := c.hub.games.DeclineRematch(ctx, c.RoomID, c.UserID); err != nil {
			c.sendError(env.Event, apperrors.ClientMessage(err))
		}

	default:
		c.hub.logger.Debug("收到未知事件",
			"event", env.Event,
			"room_id", c.RoomID,
			"user_id", c.UserID)
	}
}

func (c *Connection) sendEvent(event string, data any) {
	if message, ok := c.hub.encode(event, data); ok {
		c.enqueue(message)
	}
}

func (c *Connection) sendError(event, message string) {
	c.sendEvent("error", ErrorPayload{Event: event, Message: message})
}
