package room

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/maivankien/caro-online-server/internal/event"
	"github.com/maivankien/caro-online-server/internal/store"
	"github.com/maivankien/caro-online-server/internal/user"
	"github.com/maivankien/caro-online-server/pkg/apperrors"
)

// JoinedPayload room.joined 事件的內容
type JoinedPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// CreateParams 建房參數
type CreateParams struct {
	Name         string `json:"name"`
	Password     string `json:"password"`
	BoardSize    int    `json:"boardSize"`
	WinCondition int    `json:"winCondition"`
}

// Service 房間生命週期服務
type Service struct {
	store  store.Store
	users  user.Repository
	bus    *event.Bus
	logger *slog.Logger

	// now 可於測試中替換以控制建立時間
	now func() time.Time
}

// NewService 創建房間服務
func NewService(st store.Store, users user.Repository, bus *event.Bus, logger *slog.Logger) *Service {
	return &Service{
		store:  st,
		users:  users,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock 替換時間來源（測試用）
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Create 建立標準房間並進入大廳等待索引
func (s *Service) Create(ctx context.Context, hostID string, params CreateParams) (*Room, error) {
	host, err := s.users.FindByID(ctx, hostID)
	if err != nil {
		return nil, err
	}

	if err := normalizeParams(&params); err != nil {
		return nil, err
	}

	roomID := uuid.NewString()
	createdAt := s.now().UnixMilli()
	fields := s.roomFields(roomID, host, TypeStandard, StatusWaiting, []string{hostID}, params, createdAt)

	if err := s.store.CreateRoom(ctx, roomID, fields, hostID, createdAt); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}

	s.logger.Info("房間已建立",
		"room_id", roomID,
		"host_id", hostID,
		"board_size", params.BoardSize,
		"win_condition", params.WinCondition)

	return s.view(fields), nil
}

// CreateAIRoom 建立人機房間
//
// AI 哨兵直接佔下第二席，房間不進入大廳索引（不可加入），
// 狀態直接為 waiting_ready 等待真人玩家就緒。
func (s *Service) CreateAIRoom(ctx context.Context, hostID string, params CreateParams) (*Room, error) {
	host, err := s.users.FindByID(ctx, hostID)
	if err != nil {
		return nil, err
	}

	if err := normalizeParams(&params); err != nil {
		return nil, err
	}

	roomID := uuid.NewString()
	createdAt := s.now().UnixMilli()
	fields := s.roomFields(roomID, host, TypeAI, StatusWaitingReady, []string{hostID, AISentinelID}, params, createdAt)

	if err := s.store.SetRoomFields(ctx, roomID, fields); err != nil {
		return nil, fmt.Errorf("create ai room: %w", err)
	}
	if err := s.store.JoinRoom(ctx, roomID, nil, hostID); err != nil {
		return nil, fmt.Errorf("register ai room host: %w", err)
	}

	s.logger.Info("人機房間已建立", "room_id", roomID, "host_id", hostID)

	return s.view(fields), nil
}

// CreateMatchmakingRoom 由配對結果建立房間
//
// 兩位玩家均已確定，房間直接進入 waiting_ready，不進大廳索引。
func (s *Service) CreateMatchmakingRoom(ctx context.Context, playerA, playerB string, boardSize, winCondition int) (*Room, error) {
	host, err := s.users.FindByID(ctx, playerA)
	if err != nil {
		return nil, err
	}

	params := CreateParams{
		Name:         fmt.Sprintf("Ranked: %s vs %s", playerA, playerB),
		BoardSize:    boardSize,
		WinCondition: winCondition,
	}
	if err := normalizeParams(&params); err != nil {
		return nil, err
	}

	roomID := uuid.NewString()
	createdAt := s.now().UnixMilli()
	fields := s.roomFields(roomID, host, TypeStandard, StatusWaitingReady, []string{playerA, playerB}, params, createdAt)

	if err := s.store.SetRoomFields(ctx, roomID, fields); err != nil {
		return nil, fmt.Errorf("create matchmaking room: %w", err)
	}
	for _, id := range []string{playerA, playerB} {
		if err := s.store.JoinRoom(ctx, roomID, nil, id); err != nil {
			return nil, fmt.Errorf("register matchmaking player: %w", err)
		}
	}

	s.logger.Info("配對房間已建立",
		"room_id", roomID,
		"player_a", playerA,
		"player_b", playerB)

	return s.view(fields), nil
}

// Join 加入等待中的房間
//
// 成功時原子地更新成員、轉入 waiting_ready 並移出等待索引；
// 已是成員時為冪等空操作。
func (s *Service) Join(ctx context.Context, userID, roomID, password string) error {
	values, err := s.store.GetRoomFields(ctx, roomID,
		FieldID, FieldPassword, FieldStatus, FieldPlayerIDs)
	if err != nil {
		return fmt.Errorf("load room: %w", err)
	}

	if values[0] == "" {
		return apperrors.ErrRoomNotFound
	}
	if Status(values[2]) != StatusWaiting {
		return apperrors.ErrRoomNotWaiting
	}
	if values[1] != "" && values[1] != password {
		return apperrors.ErrInvalidPassword
	}

	playerIDs := ParsePlayerIDs(values[3])
	if slices.Contains(playerIDs, userID) {
		return nil
	}
	if len(playerIDs) >= 2 {
		return apperrors.ErrRoomFull
	}

	playerIDs = append(playerIDs, userID)
	err = s.store.JoinRoom(ctx, roomID, map[string]string{
		FieldStatus:    string(StatusWaitingReady),
		FieldPlayerIDs: EncodePlayerIDs(playerIDs),
	}, userID)
	if err != nil {
		return fmt.Errorf("join room: %w", err)
	}

	s.logger.Info("玩家加入房間", "room_id", roomID, "user_id", userID)

	s.bus.Publish(ctx, event.TopicRoomJoined, JoinedPayload{
		RoomID: roomID,
		UserID: userID,
	})
	return nil
}

// List 分頁回傳大廳中等待加入的房間，最新建立的在前
func (s *Service) List(ctx context.Context, page, limit int) (*ListResult, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	start := int64((page - 1) * limit)
	stop := start + int64(limit) - 1

	roomIDs, total, err := s.store.WaitingRooms(ctx, start, stop)
	if err != nil {
		return nil, fmt.Errorf("list waiting rooms: %w", err)
	}

	rooms := make([]*Room, 0, len(roomIDs))
	for _, id := range roomIDs {
		values, err := s.store.GetRoomFields(ctx, id, listFields...)
		if err != nil {
			return nil, fmt.Errorf("load room %s: %w", id, err)
		}
		if r := fromFields(values); r != nil {
			rooms = append(rooms, r)
		}
	}

	return &ListResult{Rooms: rooms, Total: total, Page: page, Limit: limit}, nil
}

// Detail 取得房間詳情，僅限成員
func (s *Service) Detail(ctx context.Context, roomID, userID string) (*Room, error) {
	values, err := s.store.GetRoomFields(ctx, roomID, listFields...)
	if err != nil {
		return nil, fmt.Errorf("load room: %w", err)
	}

	r := fromFields(values)
	if r == nil {
		return nil, apperrors.ErrRoomNotFound
	}
	if !slices.Contains(r.PlayerIDs, userID) {
		return nil, apperrors.ErrNotRoomPlayer
	}
	return r, nil
}

// IsCreatedByUser 檢查房間是否由該使用者建立（連線閘道使用）
func (s *Service) IsCreatedByUser(ctx context.Context, roomID, userID string) (bool, error) {
	values, err := s.store.GetRoomFields(ctx, roomID, FieldHost)
	if err != nil {
		return false, fmt.Errorf("load room host: %w", err)
	}
	if values[0] == "" {
		return false, nil
	}

	var host Host
	if err := json.Unmarshal([]byte(values[0]), &host); err != nil {
		return false, fmt.Errorf("parse room host: %w", err)
	}
	return host.ID == userID, nil
}

// IsRoomPlayer 檢查使用者是否為房間成員（連線閘道使用）
func (s *Service) IsRoomPlayer(ctx context.Context, roomID, userID string) (bool, error) {
	return s.store.IsRoomPlayer(ctx, roomID, userID)
}

// roomFields 組出房間 hash 的完整欄位
func (s *Service) roomFields(roomID string, host *user.User, roomType Type, status Status, playerIDs []string, params CreateParams, createdAt int64) map[string]string {
	hostJSON, _ := json.Marshal(Host{ID: host.ID, Name: host.Name})

	return map[string]string{
		FieldID:           roomID,
		FieldName:         params.Name,
		FieldHost:         string(hostJSON),
		FieldType:         string(roomType),
		FieldStatus:       string(status),
		FieldPlayerIDs:    EncodePlayerIDs(playerIDs),
		FieldPassword:     params.Password,
		FieldBoardSize:    strconv.Itoa(params.BoardSize),
		FieldWinCondition: strconv.Itoa(params.WinCondition),
		FieldCreatedAt:    strconv.FormatInt(createdAt, 10),
	}
}

func (s *Service) view(fields map[string]string) *Room {
	values := make([]string, len(listFields))
	for i, f := range listFields {
		values[i] = fields[f]
	}
	return fromFields(values)
}

// normalizeParams 套用預設值並檢查棋盤配置範圍
func normalizeParams(params *CreateParams) error {
	if params.BoardSize == 0 {
		params.BoardSize = DefaultBoardSize
	}
	if params.WinCondition == 0 {
		params.WinCondition = DefaultWinCondition
	}

	if params.BoardSize < MinBoardSize || params.BoardSize > MaxBoardSize {
		return apperrors.ErrInvalidBoardSize
	}
	if params.WinCondition < MinWinCondition || params.WinCondition > MaxWinCondition {
		return apperrors.ErrInvalidWinCondition
	}
	return nil
}
