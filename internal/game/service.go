package game

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strconv"
	"time"

	"github.com/maivankien/caro-online-server/internal/event"
	"github.com/maivankien/caro-online-server/internal/lock"
	"github.com/maivankien/caro-online-server/internal/room"
	"github.com/maivankien/caro-online-server/internal/store"
	"github.com/maivankien/caro-online-server/pkg/apperrors"
)

// Config 回合引擎的時序參數
type Config struct {
	CountdownFrom     int
	CountdownInterval time.Duration
	StartDebounce     time.Duration
	AIMoveDelay       time.Duration
	ReadyLockTTL      time.Duration
	ReadyLockTimeout  time.Duration
}

// MoveAdvisor 為 AI 席位挑選落子
type MoveAdvisor interface {
	// BestMove 回傳 mover 方的最佳落子；棋盤無處可下時第二值為 false
	BestMove(s *State, mover Player) (Position, bool)
}

// CountdownPayload game.start.countdown 事件的內容
type CountdownPayload struct {
	RoomID    string `json:"roomId"`
	Countdown int    `json:"countdown"`
}

// StartedPayload game.started 事件的內容
type StartedPayload struct {
	RoomID string `json:"roomId"`
	State  *State `json:"gameState"`
}

// MovePayload game.move.made 事件的內容
type MovePayload struct {
	RoomID string `json:"roomId"`
	Move   Move   `json:"move"`
	State  *State `json:"gameState"`
}

// FinishedPayload game.finished 事件的內容
//
// RoomType 供下游排除人機對局（人機結果不記入排行）。
type FinishedPayload struct {
	RoomID      string     `json:"roomId"`
	RoomType    room.Type  `json:"roomType"`
	Winner      Winner     `json:"winner"`
	WinningLine []Position `json:"winningLine,omitempty"`
	State       *State     `json:"gameState"`
}

// RematchRequestedPayload request.rematch 事件的內容
type RematchRequestedPayload struct {
	RoomID      string `json:"roomId"`
	RequesterID string `json:"requesterId"`
}

// RematchDecisionPayload accept.rematch / decline.rematch 事件的內容
type RematchDecisionPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// Service 權威回合引擎
type Service struct {
	store  store.Store
	locks  *lock.Manager
	bus    *event.Bus
	ai     MoveAdvisor
	logger *slog.Logger
	cfg    Config

	// 計時與排程可於測試中替換
	now      func() time.Time
	sleep    func(time.Duration)
	schedule func(time.Duration, func())
	intn     func(int) int
}

// NewService 創建回合引擎
func NewService(st store.Store, locks *lock.Manager, bus *event.Bus, ai MoveAdvisor, logger *slog.Logger, cfg Config) *Service {
	return &Service{
		store:  st,
		locks:  locks,
		bus:    bus,
		ai:     ai,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
		sleep:  time.Sleep,
		schedule: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
		intn: rand.IntN,
	}
}

// SetClock 替換時間來源（測試用）
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SetSleep 替換倒數用的等待函式（測試用）
func (s *Service) SetSleep(sleep func(time.Duration)) { s.sleep = sleep }

// SetScheduler 替換延遲排程器（測試用，通常改為同步執行）
func (s *Service) SetScheduler(schedule func(time.Duration, func())) { s.schedule = schedule }

// SetRand 替換座位分配的亂數來源（測試用）
func (s *Service) SetRand(intn func(int) int) { s.intn = intn }

// readyLockKey 就緒流程的鎖 key，每個房間一把
func readyLockKey(roomID string) string {
	return fmt.Sprintf("room:%s:ready", roomID)
}

// SetPlayerReady 記錄玩家就緒，雙方到齊後排定開局
//
// 整段在就緒鎖下執行：座位分配的「讀取、判斷、寫入」跨多次往返，
// 沒有鎖的話兩個近乎同時的就緒訊號會各自分配出不同的座位。
func (s *Service) SetPlayerReady(ctx context.Context, roomID, userID string) error {
	token, ok, err := s.locks.AcquireWithRetry(ctx, readyLockKey(roomID),
		s.cfg.ReadyLockTTL, s.cfg.ReadyLockTimeout, lock.DefaultRetryInterval)
	if err != nil {
		return fmt.Errorf("acquire ready lock: %w", err)
	}
	if !ok {
		return apperrors.ErrLockContention
	}
	defer s.locks.Release(ctx, readyLockKey(roomID), token)

	values, err := s.store.GetRoomFields(ctx, roomID,
		room.FieldID, room.FieldType, room.FieldStatus, room.FieldPlayerIDs,
		room.FieldPlayerXID, room.FieldGameState)
	if err != nil {
		return fmt.Errorf("load room: %w", err)
	}
	if values[0] == "" {
		return apperrors.ErrRoomNotFound
	}
	if room.Status(values[2]) != room.StatusWaitingReady {
		return apperrors.ErrRoomNotWaitingReady
	}

	playerIDs := room.ParsePlayerIDs(values[3])
	if !slices.Contains(playerIDs, userID) {
		return apperrors.ErrNotRoomPlayer
	}

	// 第一個就緒的人觸發座位分配：隨機決定誰執 X 先手
	if values[4] == "" && len(playerIDs) == 2 {
		if err := s.assignSeats(ctx, roomID, playerIDs); err != nil {
			return err
		}
	}

	if err := s.store.SetPlayerReady(ctx, roomID, userID); err != nil {
		return fmt.Errorf("set ready: %w", err)
	}

	s.logger.Info("玩家已就緒", "room_id", roomID, "user_id", userID)

	allReady, err := s.allPlayersReady(ctx, roomID, playerIDs)
	if err != nil {
		return err
	}
	if !allReady || values[5] != "" {
		return nil
	}

	// 去抖動：近乎同時的兩個就緒訊號會各自走到這裡，
	// 延遲後由倒數入口重新驗證，確保只開一局
	s.schedule(s.cfg.StartDebounce, func() {
		s.beginCountdown(context.WithoutCancel(ctx), roomID)
	})
	return nil
}

// assignSeats 隨機分配 X / O 座位並原子寫入
func (s *Service) assignSeats(ctx context.Context, roomID string, playerIDs []string) error {
	x, o := playerIDs[0], playerIDs[1]
	if s.intn(2) == 1 {
		x, o = o, x
	}

	err := s.store.SetRoomFields(ctx, roomID, map[string]string{
		room.FieldPlayerXID: x,
		room.FieldPlayerOID: o,
	})
	if err != nil {
		return fmt.Errorf("assign seats: %w", err)
	}

	s.logger.Info("座位已分配", "room_id", roomID, "player_x", x, "player_o", o)
	return nil
}

// allPlayersReady 檢查所有席位是否就緒；AI 哨兵視為恆就緒
func (s *Service) allPlayersReady(ctx context.Context, roomID string, playerIDs []string) (bool, error) {
	if len(playerIDs) < 2 {
		return false, nil
	}

	humans := make([]string, 0, len(playerIDs))
	for _, id := range playerIDs {
		if id != room.AISentinelID {
			humans = append(humans, id)
		}
	}

	ready, err := s.store.GetPlayersReady(ctx, roomID, humans...)
	if err != nil {
		return false, fmt.Errorf("get ready status: %w", err)
	}
	for _, r := range ready {
		if !r {
			return false, nil
		}
	}
	return true, nil
}

// beginCountdown 去抖動後的倒數入口
//
// 計時器觸發時狀態可能已變（對手取消、房間被清理、另一個
// 去抖動計時器已搶先開局），先在鎖下重新驗證前置條件。
func (s *Service) beginCountdown(ctx context.Context, roomID string) {
	token, ok, err := s.locks.AcquireWithRetry(ctx, readyLockKey(roomID),
		s.cfg.ReadyLockTTL, s.cfg.ReadyLockTimeout, lock.DefaultRetryInterval)
	if err != nil || !ok {
		s.logger.Warn("倒數入口未取得就緒鎖", "room_id", roomID, "error", err)
		return
	}

	proceed := func() bool {
		defer s.locks.Release(ctx, readyLockKey(roomID), token)

		values, err := s.store.GetRoomFields(ctx, roomID,
			room.FieldID, room.FieldStatus, room.FieldGameState)
		if err != nil || values[0] == "" {
			return false
		}
		// 已有對局或已進入倒數表示另一個計時器搶先了
		if room.Status(values[1]) != room.StatusWaitingReady || values[2] != "" {
			return false
		}

		err = s.store.SetRoomFields(ctx, roomID, map[string]string{
			room.FieldStatus: string(room.StatusCountdown),
		})
		return err == nil
	}()
	if !proceed {
		return
	}

	for count := s.cfg.CountdownFrom; count >= 1; count-- {
		s.bus.Publish(ctx, event.TopicGameStartCountdown, CountdownPayload{
			RoomID:    roomID,
			Countdown: count,
		})
		s.sleep(s.cfg.CountdownInterval)
	}

	if err := s.StartGame(ctx, roomID); err != nil {
		s.logger.Error("開局失敗", "room_id", roomID, "error", err)
	}
}

// StartGame 建立全新對局狀態並進入 PLAYING
func (s *Service) StartGame(ctx context.Context, roomID string) error {
	values, err := s.store.GetRoomFields(ctx, roomID,
		room.FieldID, room.FieldType, room.FieldPlayerXID, room.FieldPlayerOID,
		room.FieldBoardSize, room.FieldWinCondition)
	if err != nil {
		return fmt.Errorf("load room: %w", err)
	}
	if values[0] == "" {
		return apperrors.ErrRoomNotFound
	}

	boardSize := atoiOr(values[4], room.DefaultBoardSize)
	winCondition := atoiOr(values[5], room.DefaultWinCondition)
	state := NewState(boardSize, winCondition, values[2], values[3], s.now())

	encoded, err := state.Encode()
	if err != nil {
		return fmt.Errorf("encode game state: %w", err)
	}

	err = s.store.SetRoomFields(ctx, roomID, map[string]string{
		room.FieldStatus:           string(room.StatusPlaying),
		room.FieldGameState:        encoded,
		room.FieldRematchRequester: "",
	})
	if err != nil {
		return fmt.Errorf("persist game state: %w", err)
	}

	s.logger.Info("對局開始",
		"room_id", roomID,
		"player_x", state.PlayerXID,
		"player_o", state.PlayerOID,
		"board_size", boardSize)

	s.bus.Publish(ctx, event.TopicGameStarted, StartedPayload{RoomID: roomID, State: state})

	if room.Type(values[1]) == room.TypeAI && state.SeatUserID(state.CurrentTurn) == room.AISentinelID {
		s.scheduleAIMove(ctx, roomID)
	}
	return nil
}

// MakeMove 驗證並落下一手棋
//
// 驗證鏈任一環失敗都不落任何寫入；接受後的狀態更新連同
// 房間狀態以單一批次寫入。
func (s *Service) MakeMove(ctx context.Context, roomID, userID string, pos Position) (*State, error) {
	values, err := s.store.GetRoomFields(ctx, roomID,
		room.FieldID, room.FieldType, room.FieldStatus, room.FieldGameState)
	if err != nil {
		return nil, fmt.Errorf("load room: %w", err)
	}
	if values[0] == "" {
		return nil, apperrors.ErrRoomNotFound
	}

	state, err := DecodeState(values[3])
	if err != nil {
		return nil, fmt.Errorf("decode game state: %w", err)
	}
	if state == nil {
		return nil, apperrors.ErrGameNotFound
	}
	if state.Finished() || room.Status(values[2]) != room.StatusPlaying {
		return nil, apperrors.ErrGameNotActive
	}

	seat, isPlayer := state.PlayerSeat(userID)
	if !isPlayer {
		return nil, apperrors.ErrNotRoomPlayer
	}
	if seat != state.CurrentTurn {
		return nil, apperrors.ErrNotYourTurn
	}
	if !state.InBounds(pos) {
		return nil, apperrors.ErrInvalidPosition
	}
	if state.Board[pos.Row][pos.Col] != "" {
		return nil, apperrors.ErrPositionOccupied
	}

	move := Move{Player: seat, Position: pos, Timestamp: s.now().UnixMilli()}
	state.Board[pos.Row][pos.Col] = seat
	state.Moves = append(state.Moves, move)
	state.CurrentTurn = seat.Opponent()

	line, won := CheckWin(state, pos)
	switch {
	case won:
		state.Winner = Winner(seat)
		state.WinningLine = line
		state.FinishedAt = s.now().UnixMilli()
	case IsBoardFull(state):
		state.Winner = WinnerDraw
		state.FinishedAt = s.now().UnixMilli()
	}

	encoded, err := state.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode game state: %w", err)
	}

	fields := map[string]string{room.FieldGameState: encoded}
	if state.Finished() {
		fields[room.FieldStatus] = string(room.StatusFinished)
	}
	if err := s.store.SetRoomFields(ctx, roomID, fields); err != nil {
		return nil, fmt.Errorf("persist game state: %w", err)
	}

	if state.Finished() {
		s.logger.Info("對局結束",
			"room_id", roomID,
			"winner", state.Winner,
			"moves", len(state.Moves))

		s.bus.Publish(ctx, event.TopicGameFinished, FinishedPayload{
			RoomID:      roomID,
			RoomType:    room.Type(values[1]),
			Winner:      state.Winner,
			WinningLine: state.WinningLine,
			State:       state,
		})
		return state, nil
	}

	s.bus.Publish(ctx, event.TopicGameMoveMade, MovePayload{
		RoomID: roomID,
		Move:   move,
		State:  state,
	})

	if room.Type(values[1]) == room.TypeAI && state.SeatUserID(state.CurrentTurn) == room.AISentinelID {
		s.scheduleAIMove(ctx, roomID)
	}
	return state, nil
}

// scheduleAIMove 延遲後觸發 AI 落子
func (s *Service) scheduleAIMove(ctx context.Context, roomID string) {
	ctx = context.WithoutCancel(ctx)
	s.schedule(s.cfg.AIMoveDelay, func() {
		s.playAIMove(ctx, roomID)
	})
}

// playAIMove AI 落子入口，觸發時重新驗證輪到 AI 且對局仍在進行
//
// 前置不成立（對局已結束、玩家重開新局）時靜默放棄，不是錯誤。
func (s *Service) playAIMove(ctx context.Context, roomID string) {
	values, err := s.store.GetRoomFields(ctx, roomID, room.FieldStatus, room.FieldGameState)
	if err != nil {
		s.logger.Error("AI 讀取對局失敗", "room_id", roomID, "error", err)
		return
	}

	state, err := DecodeState(values[1])
	if err != nil || state == nil {
		return
	}
	if state.Finished() || room.Status(values[0]) != room.StatusPlaying {
		return
	}
	if state.SeatUserID(state.CurrentTurn) != room.AISentinelID {
		return
	}

	pos, ok := s.ai.BestMove(state, state.CurrentTurn)
	if !ok {
		return
	}

	if _, err := s.MakeMove(ctx, roomID, room.AISentinelID, pos); err != nil {
		// 與玩家操作競態輸了（例如剛好被重開）屬正常情況
		s.logger.Warn("AI 落子被拒", "room_id", roomID, "error", err)
	}
}

// GetGameStateForPlayer 回傳當前對局狀態供斷線重連同步
//
// 對局已結束時全盤重算勝負：請求同步的連線可能錯過了原始的
// 結束事件，不能依賴它已經拿到 winner。
func (s *Service) GetGameStateForPlayer(ctx context.Context, roomID string) (*State, Winner, []Position, error) {
	values, err := s.store.GetRoomFields(ctx, roomID, room.FieldID, room.FieldGameState)
	if err != nil {
		return nil, "", nil, fmt.Errorf("load room: %w", err)
	}
	if values[0] == "" {
		return nil, "", nil, apperrors.ErrRoomNotFound
	}

	state, err := DecodeState(values[1])
	if err != nil {
		return nil, "", nil, fmt.Errorf("decode game state: %w", err)
	}
	if state == nil {
		return nil, "", nil, apperrors.ErrGameNotFound
	}

	if state.Finished() {
		winner, line := DetermineResult(state)
		if winner == "" {
			winner = state.Winner
			line = state.WinningLine
		}
		return state, winner, line, nil
	}
	return state, "", nil, nil
}

// RequestRematch 發起再戰
//
// 人機房間免協商直接重開；標準房間若對方已先發起則視為接受，
// 否則記錄發起者並等待對方回應。
func (s *Service) RequestRematch(ctx context.Context, roomID, userID string) error {
	token, ok, err := s.locks.AcquireWithRetry(ctx, readyLockKey(roomID),
		s.cfg.ReadyLockTTL, s.cfg.ReadyLockTimeout, lock.DefaultRetryInterval)
	if err != nil {
		return fmt.Errorf("acquire ready lock: %w", err)
	}
	if !ok {
		return apperrors.ErrLockContention
	}
	defer s.locks.Release(ctx, readyLockKey(roomID), token)

	values, err := s.store.GetRoomFields(ctx, roomID,
		room.FieldID, room.FieldType, room.FieldStatus,
		room.FieldPlayerIDs, room.FieldRematchRequester)
	if err != nil {
		return fmt.Errorf("load room: %w", err)
	}
	if values[0] == "" {
		return apperrors.ErrRoomNotFound
	}

	status := room.Status(values[2])
	if status != room.StatusFinished && status != room.StatusWaitingRematch {
		return apperrors.ErrRematchNotAvailable
	}

	playerIDs := room.ParsePlayerIDs(values[3])
	if !slices.Contains(playerIDs, userID) {
		return apperrors.ErrNotRoomPlayer
	}

	if room.Type(values[1]) == room.TypeAI {
		return s.restartGame(ctx, roomID, playerIDs)
	}

	requester := values[4]
	switch {
	case requester == userID:
		// 重複發起視為冪等
		return nil
	case requester != "":
		s.bus.Publish(ctx, event.TopicRematchAccepted, RematchDecisionPayload{
			RoomID: roomID,
			UserID: userID,
		})
		return s.restartGame(ctx, roomID, playerIDs)
	}

	err = s.store.SetRoomFields(ctx, roomID, map[string]string{
		room.FieldStatus:           string(room.StatusWaitingRematch),
		room.FieldRematchRequester: userID,
	})
	if err != nil {
		return fmt.Errorf("record rematch request: %w", err)
	}

	s.bus.Publish(ctx, event.TopicRematchRequested, RematchRequestedPayload{
		RoomID:      roomID,
		RequesterID: userID,
	})
	return nil
}

// AcceptRematch 接受對方的再戰請求並立即重開
func (s *Service) AcceptRematch(ctx context.Context, roomID, userID string) error {
	token, ok, err := s.locks.AcquireWithRetry(ctx, readyLockKey(roomID),
		s.cfg.ReadyLockTTL, s.cfg.ReadyLockTimeout, lock.DefaultRetryInterval)
	if err != nil {
		return fmt.Errorf("acquire ready lock: %w", err)
	}
	if !ok {
		return apperrors.ErrLockContention
	}
	defer s.locks.Release(ctx, readyLockKey(roomID), token)

	values, err := s.store.GetRoomFields(ctx, roomID,
		room.FieldID, room.FieldStatus, room.FieldPlayerIDs, room.FieldRematchRequester)
	if err != nil {
		return fmt.Errorf("load room: %w", err)
	}
	if values[0] == "" {
		return apperrors.ErrRoomNotFound
	}
	if room.Status(values[1]) != room.StatusWaitingRematch {
		return apperrors.ErrRematchNotRequested
	}

	playerIDs := room.ParsePlayerIDs(values[2])
	if !slices.Contains(playerIDs, userID) {
		return apperrors.ErrNotRoomPlayer
	}
	if values[3] == userID {
		return apperrors.ErrRematchSelfAccept
	}

	s.bus.Publish(ctx, event.TopicRematchAccepted, RematchDecisionPayload{
		RoomID: roomID,
		UserID: userID,
	})
	return s.restartGame(ctx, roomID, playerIDs)
}

// DeclineRematch 婉拒再戰，只通知不改變房間狀態
//
// 房間停留在 WAITING_REMATCH，發起者可再行動或等房間過期。
func (s *Service) DeclineRematch(ctx context.Context, roomID, userID string) error {
	isPlayer, err := s.store.IsRoomPlayer(ctx, roomID, userID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !isPlayer {
		return apperrors.ErrNotRoomPlayer
	}

	s.bus.Publish(ctx, event.TopicRematchDeclined, RematchDecisionPayload{
		RoomID: roomID,
		UserID: userID,
	})
	return nil
}

// restartGame 重新分配座位並開新局（再戰用，跳過就緒與倒數）
func (s *Service) restartGame(ctx context.Context, roomID string, playerIDs []string) error {
	if err := s.store.ClearReady(ctx, roomID); err != nil {
		return fmt.Errorf("clear ready status: %w", err)
	}
	if err := s.assignSeats(ctx, roomID, playerIDs); err != nil {
		return err
	}
	return s.StartGame(ctx, roomID)
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
