// Package matchmaking 實作依棋力分桶的配對佇列
//
// 系統設計問題：
//
//	排隊中的玩家要和棋力相近的對手配對，且任何玩家只能被
//	配走一次——兩個搜尋者同時盯上同一個候選人時只能有一個成功。
//
// 核心挑戰:
//  1. 「檢查雙方都還在佇列、再同時移除」無法拆成兩次往返
//  2. 找不到對手時要逐步放寬棋力範圍，而不是永遠等完美對手
//  3. 逾時計時器可能在玩家重新排隊後才觸發，不能誤傷新的排隊
//
// 設計方案：
//
//	✅ 伺服器端腳本原子認領 - 檢查與移除不可分割，競態只有一個贏家
//	✅ ±50 起步、每輪 +50、上限 500 的擴窗搜尋
//	✅ 會話令牌 - 每次排隊發新令牌，舊計時器觸發時比對即失效
package matchmaking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/maivankien/caro-online-server/internal/event"
	"github.com/maivankien/caro-online-server/internal/room"
	"github.com/maivankien/caro-online-server/internal/store"
	"github.com/maivankien/caro-online-server/internal/user"
)

// candidateLimit 每輪搜尋最多取回的候選人數
const candidateLimit = 10

// Config 配對參數
type Config struct {
	RangeStep  int
	MaxRange   int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// FoundPayload matchmaking.found 事件的內容
type FoundPayload struct {
	PlayerA string `json:"playerA"`
	PlayerB string `json:"playerB"`
	RoomID  string `json:"roomId"`
}

// TimeoutPayload matchmaking.timeout 事件的內容
type TimeoutPayload struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

// RoomCreator 配對成功後建立房間的協作介面
type RoomCreator interface {
	CreateMatchmakingRoom(ctx context.Context, playerA, playerB string, boardSize, winCondition int) (*room.Room, error)
}

// session 排隊會話，序列化存於儲存中
//
// Token 標識「最近一次排隊」，QueueKey 記錄所在分桶
// 供斷線取消時反查。
type session struct {
	Token    string `json:"token"`
	QueueKey string `json:"queueKey"`
}

// Service 配對服務
type Service struct {
	store  store.Store
	users  user.Repository
	rooms  RoomCreator
	bus    *event.Bus
	logger *slog.Logger
	cfg    Config

	// 計時與令牌來源可於測試中替換
	sleep    func(time.Duration)
	schedule func(time.Duration, func())
	newToken func() string
}

// NewService 創建配對服務
func NewService(st store.Store, users user.Repository, rooms RoomCreator, bus *event.Bus, logger *slog.Logger, cfg Config) *Service {
	return &Service{
		store:  st,
		users:  users,
		rooms:  rooms,
		bus:    bus,
		logger: logger,
		cfg:    cfg,
		sleep:  time.Sleep,
		schedule: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
		newToken: uuid.NewString,
	}
}

// SetSleep 替換搜尋輪之間的等待（測試用）
func (s *Service) SetSleep(sleep func(time.Duration)) { s.sleep = sleep }

// SetScheduler 替換逾時排程器（測試用）
func (s *Service) SetScheduler(schedule func(time.Duration, func())) { s.schedule = schedule }

// Enqueue 將玩家加入配對佇列並啟動搜尋
//
// 搜尋在背景進行，結果透過 matchmaking.found / matchmaking.timeout
// 事件送達。重複排隊會換發新令牌，令先前的逾時計時器失效。
func (s *Service) Enqueue(ctx context.Context, userID string, boardSize, winCondition int) error {
	if boardSize == 0 {
		boardSize = room.DefaultBoardSize
	}
	if winCondition == 0 {
		winCondition = room.DefaultWinCondition
	}

	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}

	queueKey := store.QueueKey(boardSize, winCondition)
	token := s.newToken()

	if err := s.saveSession(ctx, userID, session{Token: token, QueueKey: queueKey}); err != nil {
		return fmt.Errorf("save matchmaking session: %w", err)
	}
	if err := s.store.QueueAdd(ctx, queueKey, userID, float64(u.Elo)); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}

	s.logger.Info("玩家進入配對佇列",
		"user_id", userID,
		"elo", u.Elo,
		"board_size", boardSize,
		"win_condition", winCondition)

	s.schedule(s.cfg.Timeout, func() {
		s.fireTimeout(context.WithoutCancel(ctx), queueKey, userID, token)
	})

	go s.searchLoop(context.WithoutCancel(ctx), queueKey, userID, token, u.Elo, boardSize, winCondition)
	return nil
}

// Cancel 明確取消排隊
func (s *Service) Cancel(ctx context.Context, userID string, boardSize, winCondition int) error {
	if boardSize == 0 {
		boardSize = room.DefaultBoardSize
	}
	if winCondition == 0 {
		winCondition = room.DefaultWinCondition
	}

	queueKey := store.QueueKey(boardSize, winCondition)
	if err := s.store.DeleteValue(ctx, store.SessionKey(userID)); err != nil {
		return fmt.Errorf("clear matchmaking session: %w", err)
	}
	if err := s.store.QueueRemove(ctx, queueKey, userID); err != nil {
		return fmt.Errorf("dequeue: %w", err)
	}

	s.logger.Info("玩家取消配對", "user_id", userID)
	return nil
}

// OnDisconnect 連線中斷時隱含取消，由會話反查所在分桶
func (s *Service) OnDisconnect(ctx context.Context, userID string) error {
	sess, err := s.loadSession(ctx, userID)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}

	if err := s.store.DeleteValue(ctx, store.SessionKey(userID)); err != nil {
		return fmt.Errorf("clear matchmaking session: %w", err)
	}
	if err := s.store.QueueRemove(ctx, sess.QueueKey, userID); err != nil {
		return fmt.Errorf("dequeue: %w", err)
	}

	s.logger.Info("玩家斷線，已移出配對佇列", "user_id", userID)
	return nil
}

// searchLoop 擴窗搜尋迴圈
//
// 從 ±RangeStep 開始，每輪找不到候選人就放寬一檔直到 MaxRange；
// 原子認領失敗（被第三者搶先）時下一輪維持同一範圍重試。
// 超過上限後停止主動搜尋，玩家留在佇列中等待他人配到或逾時。
func (s *Service) searchLoop(ctx context.Context, queueKey, userID, token string, elo, boardSize, winCondition int) {
	window := s.cfg.RangeStep

	for window <= s.cfg.MaxRange {
		if ctx.Err() != nil {
			return
		}
		// 會話令牌被換掉或清除表示已取消、已被配走或重新排隊
		if !s.sessionAlive(ctx, userID, token) {
			return
		}

		candidate, err := s.findCandidate(ctx, queueKey, userID, elo, window)
		if err != nil {
			s.logger.Error("配對搜尋失敗", "user_id", userID, "error", err)
			return
		}

		if candidate == "" {
			window += s.cfg.RangeStep
			s.sleep(s.cfg.RetryDelay)
			continue
		}

		claimed, err := s.store.ClaimPair(ctx, queueKey, userID, candidate)
		if err != nil {
			s.logger.Error("配對認領失敗", "user_id", userID, "error", err)
			return
		}
		if !claimed {
			// 候選人被別的搜尋者搶走，同範圍下一輪再找
			s.sleep(s.cfg.RetryDelay)
			continue
		}

		s.completeMatch(ctx, userID, candidate, boardSize, winCondition)
		return
	}

	s.logger.Info("配對搜尋達到範圍上限，停止主動搜尋", "user_id", userID)
}

// findCandidate 在 [elo-window, elo+window] 中找自己以外的候選人
func (s *Service) findCandidate(ctx context.Context, queueKey, userID string, elo, window int) (string, error) {
	members, err := s.store.QueueRangeByScore(ctx, queueKey,
		float64(elo-window), float64(elo+window), candidateLimit)
	if err != nil {
		return "", err
	}

	for _, member := range members {
		if member != userID {
			return member, nil
		}
	}
	return "", nil
}

// completeMatch 認領成功者負責收尾：清會話、建房、發事件
func (s *Service) completeMatch(ctx context.Context, playerA, playerB string, boardSize, winCondition int) {
	for _, id := range []string{playerA, playerB} {
		if err := s.store.DeleteValue(ctx, store.SessionKey(id)); err != nil {
			s.logger.Warn("清除配對會話失敗", "user_id", id, "error", err)
		}
	}

	r, err := s.rooms.CreateMatchmakingRoom(ctx, playerA, playerB, boardSize, winCondition)
	if err != nil {
		s.logger.Error("配對建房失敗",
			"player_a", playerA,
			"player_b", playerB,
			"error", err)
		return
	}

	s.logger.Info("配對成功",
		"player_a", playerA,
		"player_b", playerB,
		"room_id", r.ID)

	s.bus.Publish(ctx, event.TopicMatchFound, FoundPayload{
		PlayerA: playerA,
		PlayerB: playerB,
		RoomID:  r.ID,
	})
}

// fireTimeout 逾時計時器入口，令牌不符時為過期計時器，靜默忽略
func (s *Service) fireTimeout(ctx context.Context, queueKey, userID, token string) {
	if !s.sessionAlive(ctx, userID, token) {
		return
	}

	if err := s.store.DeleteValue(ctx, store.SessionKey(userID)); err != nil {
		s.logger.Warn("清除配對會話失敗", "user_id", userID, "error", err)
	}
	if err := s.store.QueueRemove(ctx, queueKey, userID); err != nil {
		s.logger.Warn("逾時移出佇列失敗", "user_id", userID, "error", err)
	}

	s.logger.Info("配對逾時", "user_id", userID)

	s.bus.Publish(ctx, event.TopicMatchTimeout, TimeoutPayload{
		UserID:  userID,
		Message: "Matchmaking timed out, please try again",
	})
}

func (s *Service) saveSession(ctx context.Context, userID string, sess session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	// TTL 略長於逾時，確保逾時計時器觸發時令牌仍在
	return s.store.SetValue(ctx, store.SessionKey(userID), string(data), s.cfg.Timeout*2)
}

func (s *Service) loadSession(ctx context.Context, userID string) (*session, error) {
	raw, err := s.store.GetValue(ctx, store.SessionKey(userID))
	if err != nil {
		return nil, fmt.Errorf("load matchmaking session: %w", err)
	}
	if raw == "" {
		return nil, nil
	}

	var sess session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("parse matchmaking session: %w", err)
	}
	return &sess, nil
}

// sessionAlive 檢查令牌是否仍是該玩家最近一次排隊
func (s *Service) sessionAlive(ctx context.Context, userID, token string) bool {
	sess, err := s.loadSession(ctx, userID)
	if err != nil || sess == nil {
		return false
	}
	return sess.Token == token
}
