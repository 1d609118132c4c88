package game_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maivankien/caro-online-server/internal/ai"
	"github.com/maivankien/caro-online-server/internal/event"
	"github.com/maivankien/caro-online-server/internal/game"
	"github.com/maivankien/caro-online-server/internal/lock"
	"github.com/maivankien/caro-online-server/internal/room"
	"github.com/maivankien/caro-online-server/internal/store"
	"github.com/maivankien/caro-online-server/internal/user"
	"github.com/maivankien/caro-online-server/pkg/apperrors"
)

// stubScheduler 收集延遲回呼，由測試決定何時觸發
type stubScheduler struct {
	mu  sync.Mutex
	fns []func()
}

func (s *stubScheduler) schedule(_ time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fns = append(s.fns, fn)
}

// runAll 執行目前排定的回呼（執行中新排的留待下一輪）
func (s *stubScheduler) runAll() {
	s.mu.Lock()
	fns := s.fns
	s.fns = nil
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (s *stubScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fns)
}

// eventRecorder 記錄匯流排上的所有事件
type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	topic   event.Topic
	payload any
}

func (r *eventRecorder) bind(bus *event.Bus, topics ...event.Topic) {
	for _, topic := range topics {
		topic := topic
		bus.Subscribe(topic, func(_ context.Context, payload any) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, recordedEvent{topic: topic, payload: payload})
		})
	}
}

func (r *eventRecorder) count(topic event.Topic) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.topic == topic {
			n++
		}
	}
	return n
}

func (r *eventRecorder) last(topic event.Topic) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].topic == topic {
			return r.events[i].payload, true
		}
	}
	return nil, false
}

// harness 回合引擎測試環境
type harness struct {
	store    *store.MemoryStore
	bus      *event.Bus
	users    *user.MemoryRepository
	rooms    *room.Service
	games    *game.Service
	sched    *stubScheduler
	recorder *eventRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	st := store.NewMemoryStore()
	bus := event.NewBus(logger)
	users := user.NewMemoryRepository(
		&user.User{ID: "alice", Name: "愛麗絲", Elo: 1200},
		&user.User{ID: "bob", Name: "鮑伯", Elo: 1180},
		&user.User{ID: "carol", Name: "卡蘿", Elo: 1210},
	)

	locks := lock.NewManager(st, logger)
	locks.SetSleep(func(time.Duration) {})

	rooms := room.NewService(st, users, bus, logger)

	sched := &stubScheduler{}
	games := game.NewService(st, locks, bus, ai.NewEngine(), logger, game.Config{
		CountdownFrom:     3,
		CountdownInterval: time.Second,
		StartDebounce:     300 * time.Millisecond,
		AIMoveDelay:       500 * time.Millisecond,
		ReadyLockTTL:      5 * time.Second,
		ReadyLockTimeout:  3 * time.Second,
	})
	games.SetSleep(func(time.Duration) {})
	games.SetScheduler(sched.schedule)
	games.SetRand(func(int) int { return 0 })

	recorder := &eventRecorder{}
	recorder.bind(bus,
		event.TopicGameStartCountdown, event.TopicGameStarted,
		event.TopicGameMoveMade, event.TopicGameFinished,
		event.TopicRematchRequested, event.TopicRematchAccepted,
		event.TopicRematchDeclined)

	return &harness{
		store:    st,
		bus:      bus,
		users:    users,
		rooms:    rooms,
		games:    games,
		sched:    sched,
		recorder: recorder,
	}
}

// setupRoom 建好雙人標準房間，回傳房間 ID
func (h *harness) setupRoom(t *testing.T, boardSize, winCondition int) string {
	t.Helper()

	created, err := h.rooms.Create(context.Background(), "alice", room.CreateParams{
		Name:         "測試房間",
		BoardSize:    boardSize,
		WinCondition: winCondition,
	})
	require.NoError(t, err)
	require.NoError(t, h.rooms.Join(context.Background(), "bob", created.ID, ""))
	return created.ID
}

// startGame 雙方就緒並開局
func (h *harness) startGame(t *testing.T, roomID string) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, h.games.SetPlayerReady(ctx, roomID, "alice"))
	require.NoError(t, h.games.SetPlayerReady(ctx, roomID, "bob"))
	h.sched.runAll()
}

func (h *harness) roomStatus(t *testing.T, roomID string) room.Status {
	t.Helper()

	values, err := h.store.GetRoomFields(context.Background(), roomID, room.FieldStatus)
	require.NoError(t, err)
	return room.Status(values[0])
}

func TestSetPlayerReady_StartsGame(t *testing.T) {
	h := newHarness(t)
	roomID := h.setupRoom(t, 15, 5)
	ctx := context.Background()

	require.NoError(t, h.games.SetPlayerReady(ctx, roomID, "alice"))
	assert.Equal(t, 0, h.sched.pending(), "單人就緒不應排定開局")

	require.NoError(t, h.games.SetPlayerReady(ctx, roomID, "bob"))
	require.Equal(t, 1, h.sched.pending())
	h.sched.runAll()

	assert.Equal(t, 3, h.recorder.count(event.TopicGameStartCountdown))
	assert.Equal(t, 1, h.recorder.count(event.TopicGameStarted))
	assert.Equal(t, room.StatusPlaying, h.roomStatus(t, roomID))

	// 亂數固定為 0：先手 X 是 playerIds 的第一位
	payload, ok := h.recorder.last(event.TopicGameStarted)
	require.True(t, ok)
	started := payload.(game.StartedPayload)
	assert.Equal(t, "alice", started.State.PlayerXID)
	assert.Equal(t, "bob", started.State.PlayerOID)
	assert.Equal(t, game.PlayerX, started.State.CurrentTurn)
}

func TestSetPlayerReady_Validations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("room not found", func(t *testing.T) {
		err := h.games.SetPlayerReady(ctx, "missing", "alice")
		assert.ErrorIs(t, err, apperrors.ErrRoomNotFound)
	})

	t.Run("room still waiting for second player", func(t *testing.T) {
		created, err := h.rooms.Create(ctx, "alice", room.CreateParams{Name: "等待中"})
		require.NoError(t, err)

		err = h.games.SetPlayerReady(ctx, created.ID, "alice")
		assert.ErrorIs(t, err, apperrors.ErrRoomNotWaitingReady)
	})

	t.Run("not a member", func(t *testing.T) {
		roomID := h.setupRoom(t, 15, 5)

		err := h.games.SetPlayerReady(ctx, roomID, "carol")
		assert.ErrorIs(t, err, apperrors.ErrNotRoomPlayer)
	})
}

// TestSetPlayerReady_DebounceSingleStart 兩個近乎同時的就緒只開一局
func TestSetPlayerReady_DebounceSingleStart(t *testing.T) {
	h := newHarness(t)
	roomID := h.setupRoom(t, 15, 5)
	ctx := context.Background()

	require.NoError(t, h.games.SetPlayerReady(ctx, roomID, "alice"))
	require.NoError(t, h.games.SetPlayerReady(ctx, roomID, "bob"))
	// 手動再排一個去抖動回呼，模擬就緒訊號交錯觸發兩個計時器
	require.NoError(t, h.games.SetPlayerReady(ctx, roomID, "bob"))
	require.GreaterOrEqual(t, h.sched.pending(), 2)

	h.sched.runAll()

	assert.Equal(t, 1, h.recorder.count(event.TopicGameStarted), "重複的去抖動回呼不應開第二局")
	assert.Equal(t, 3, h.recorder.count(event.TopicGameStartCountdown))
}

func TestMakeMove_TurnAlternation(t *testing.T) {
	h := newHarness(t)
	roomID := h.setupRoom(t, 15, 5)
	h.startGame(t, roomID)
	ctx := context.Background()

	state, err := h.games.MakeMove(ctx, roomID, "alice", game.Position{Row: 7, Col: 7})
	require.NoError(t, err)
	assert.Equal(t, game.PlayerO, state.CurrentTurn)

	// 連下兩手被拒且不改變棋盤
	_, err = h.games.MakeMove(ctx, roomID, "alice", game.Position{Row: 7, Col: 8})
	assert.ErrorIs(t, err, apperrors.ErrNotYourTurn)

	reloaded, _, _, err := h.games.GetGameStateForPlayer(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, game.Player(""), reloaded.Board[7][8])
	assert.Len(t, reloaded.Moves, 1)

	_, err = h.games.MakeMove(ctx, roomID, "bob", game.Position{Row: 0, Col: 0})
	require.NoError(t, err)
}

func TestMakeMove_Validations(t *testing.T) {
	h := newHarness(t)
	roomID := h.setupRoom(t, 15, 5)
	h.startGame(t, roomID)
	ctx := context.Background()

	tests := []struct {
		name    string
		userID  string
		pos     game.Position
		wantErr error
	}{
		{"out of bounds row", "alice", game.Position{Row: 15, Col: 0}, apperrors.ErrInvalidPosition},
		{"negative col", "alice", game.Position{Row: 0, Col: -1}, apperrors.ErrInvalidPosition},
		{"not a player", "carol", game.Position{Row: 0, Col: 0}, apperrors.ErrNotRoomPlayer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.games.MakeMove(ctx, roomID, tt.userID, tt.pos)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("occupied cell", func(t *testing.T) {
		_, err := h.games.MakeMove(ctx, roomID, "alice", game.Position{Row: 7, Col: 7})
		require.NoError(t, err)

		_, err = h.games.MakeMove(ctx, roomID, "bob", game.Position{Row: 7, Col: 7})
		assert.ErrorIs(t, err, apperrors.ErrPositionOccupied)
	})

	t.Run("no game yet", func(t *testing.T) {
		fresh := h.setupRoom(t, 15, 5)
		_, err := h.games.MakeMove(ctx, fresh, "alice", game.Position{Row: 0, Col: 0})
		assert.ErrorIs(t, err, apperrors.ErrGameNotFound)
	})
}

// TestMakeMove_WinScenario 15 路五連的完整勝利劇本
func TestMakeMove_WinScenario(t *testing.T) {
	h := newHarness(t)
	roomID := h.setupRoom(t, 15, 5)
	h.startGame(t, roomID)
	ctx := context.Background()

	moves := []struct {
		userID string
		pos    game.Position
	}{
		{"alice", game.Position{Row: 7, Col: 7}},
		{"bob", game.Position{Row: 0, Col: 0}},
		{"alice", game.Position{Row: 7, Col: 8}},
		{"bob", game.Position{Row: 1, Col: 1}},
		{"alice", game.Position{Row: 7, Col: 9}},
		{"bob", game.Position{Row: 2, Col: 2}},
		{"alice", game.Position{Row: 7, Col: 10}},
		{"bob", game.Position{Row: 3, Col: 3}},
	}
	for _, m := range moves {
		state, err := h.games.MakeMove(ctx, roomID, m.userID, m.pos)
		require.NoError(t, err)
		require.False(t, state.Finished())
	}

	state, err := h.games.MakeMove(ctx, roomID, "alice", game.Position{Row: 7, Col: 11})
	require.NoError(t, err)

	assert.Equal(t, game.WinnerX, state.Winner)
	assert.Equal(t, []game.Position{
		{Row: 7, Col: 7}, {Row: 7, Col: 8}, {Row: 7, Col: 9},
		{Row: 7, Col: 10}, {Row: 7, Col: 11},
	}, state.WinningLine)
	assert.Equal(t, room.StatusFinished, h.roomStatus(t, roomID))
	assert.Equal(t, 1, h.recorder.count(event.TopicGameFinished))

	payload, ok := h.recorder.last(event.TopicGameFinished)
	require.True(t, ok)
	finished := payload.(game.FinishedPayload)
	assert.Equal(t, game.WinnerX, finished.Winner)

	// 結束後的落子被拒
	_, err = h.games.MakeMove(ctx, roomID, "bob", game.Position{Row: 4, Col: 4})
	assert.ErrorIs(t, err, apperrors.ErrGameNotActive)
}

// TestMakeMove_Draw 5 路填滿無三連，最後一手判和
func TestMakeMove_Draw(t *testing.T) {
	h := newHarness(t)
	roomID := h.setupRoom(t, 5, 3)
	h.startGame(t, roomID)
	ctx := context.Background()

	// 無三連的滿盤排布（X 13 格、O 12 格，X 先手可達）
	pattern := [5]string{
		"XXOOX",
		"OOXXO",
		"XXOOX",
		"OOXXO",
		"XXOOX",
	}
	var xMoves, oMoves []game.Position
	for row, line := range pattern {
		for col, c := range line {
			pos := game.Position{Row: row, Col: col}
			if c == 'X' {
				xMoves = append(xMoves, pos)
			} else {
				oMoves = append(oMoves, pos)
			}
		}
	}
	require.Len(t, xMoves, 13)
	require.Len(t, oMoves, 12)

	var last *game.State
	for i := 0; i < 25; i++ {
		var err error
		if i%2 == 0 {
			last, err = h.games.MakeMove(ctx, roomID, "alice", xMoves[i/2])
		} else {
			last, err = h.games.MakeMove(ctx, roomID, "bob", oMoves[i/2])
		}
		require.NoError(t, err)

		if i < 24 {
			require.False(t, last.Finished(), "第 %d 手不應結束", i+1)
		}
	}

	assert.Equal(t, game.WinnerDraw, last.Winner)
	assert.Nil(t, last.WinningLine)
	assert.Equal(t, 1, h.recorder.count(event.TopicGameFinished))
	assert.Equal(t, room.StatusFinished, h.roomStatus(t, roomID))
}

func TestGetGameStateForPlayer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("no game", func(t *testing.T) {
		roomID := h.setupRoom(t, 15, 5)
		_, _, _, err := h.games.GetGameStateForPlayer(ctx, roomID)
		assert.ErrorIs(t, err, apperrors.ErrGameNotFound)
	})

	t.Run("finished game recomputes result", func(t *testing.T) {
		roomID := h.setupRoom(t, 15, 5)
		h.startGame(t, roomID)
		playToWin(t, h, roomID)

		_, winner, line, err := h.games.GetGameStateForPlayer(ctx, roomID)
		require.NoError(t, err)
		assert.Equal(t, game.WinnerX, winner)
		assert.Len(t, line, 5)
	})
}

// playToWin 讓 alice 快速連五取勝
func playToWin(t *testing.T, h *harness, roomID string) {
	t.Helper()

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := h.games.MakeMove(ctx, roomID, "alice", game.Position{Row: 7, Col: 7 + i})
		require.NoError(t, err)
		_, err = h.games.MakeMove(ctx, roomID, "bob", game.Position{Row: 0, Col: i})
		require.NoError(t, err)
	}
	state, err := h.games.MakeMove(ctx, roomID, "alice", game.Position{Row: 7, Col: 11})
	require.NoError(t, err)
	require.Equal(t, game.WinnerX, state.Winner)
}

func TestRematch_StandardFlow(t *testing.T) {
	h := newHarness(t)
	roomID := h.setupRoom(t, 15, 5)
	h.startGame(t, roomID)
	playToWin(t, h, roomID)
	ctx := context.Background()

	require.NoError(t, h.games.RequestRematch(ctx, roomID, "alice"))
	assert.Equal(t, room.StatusWaitingRematch, h.roomStatus(t, roomID))
	assert.Equal(t, 1, h.recorder.count(event.TopicRematchRequested))

	t.Run("self accept rejected", func(t *testing.T) {
		err := h.games.AcceptRematch(ctx, roomID, "alice")
		assert.ErrorIs(t, err, apperrors.ErrRematchSelfAccept)
	})

	t.Run("opponent accept restarts", func(t *testing.T) {
		require.NoError(t, h.games.AcceptRematch(ctx, roomID, "bob"))

		assert.Equal(t, 1, h.recorder.count(event.TopicRematchAccepted))
		assert.Equal(t, room.StatusPlaying, h.roomStatus(t, roomID))

		state, _, _, err := h.games.GetGameStateForPlayer(ctx, roomID)
		require.NoError(t, err)
		assert.Empty(t, state.Moves, "再戰應是全新棋盤")
		assert.False(t, state.Finished())
	})
}

func TestRematch_CrossRequestActsAsAccept(t *testing.T) {
	h := newHarness(t)
	roomID := h.setupRoom(t, 15, 5)
	h.startGame(t, roomID)
	playToWin(t, h, roomID)
	ctx := context.Background()

	require.NoError(t, h.games.RequestRematch(ctx, roomID, "alice"))
	require.NoError(t, h.games.RequestRematch(ctx, roomID, "bob"))

	assert.Equal(t, 1, h.recorder.count(event.TopicRematchAccepted))
	assert.Equal(t, room.StatusPlaying, h.roomStatus(t, roomID))
}

func TestRematch_Validations(t *testing.T) {
	h := newHarness(t)
	roomID := h.setupRoom(t, 15, 5)
	h.startGame(t, roomID)
	ctx := context.Background()

	t.Run("request during play rejected", func(t *testing.T) {
		err := h.games.RequestRematch(ctx, roomID, "alice")
		assert.ErrorIs(t, err, apperrors.ErrRematchNotAvailable)
	})

	t.Run("accept without pending request rejected", func(t *testing.T) {
		err := h.games.AcceptRematch(ctx, roomID, "bob")
		assert.ErrorIs(t, err, apperrors.ErrRematchNotRequested)
	})
}

func TestRematch_DeclineKeepsStatus(t *testing.T) {
	h := newHarness(t)
	roomID := h.setupRoom(t, 15, 5)
	h.startGame(t, roomID)
	playToWin(t, h, roomID)
	ctx := context.Background()

	require.NoError(t, h.games.RequestRematch(ctx, roomID, "alice"))
	require.NoError(t, h.games.DeclineRematch(ctx, roomID, "bob"))

	assert.Equal(t, 1, h.recorder.count(event.TopicRematchDeclined))
	assert.Equal(t, room.StatusWaitingRematch, h.roomStatus(t, roomID), "婉拒不改變房間狀態")
}

// TestAIRoom_FullFlow 人機房間：就緒即排定開局，AI 回手
func TestAIRoom_FullFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.rooms.CreateAIRoom(ctx, "alice", room.CreateParams{Name: "人機練習"})
	require.NoError(t, err)

	require.NoError(t, h.games.SetPlayerReady(ctx, created.ID, "alice"))
	require.Equal(t, 1, h.sched.pending(), "AI 哨兵恆就緒，單人就緒即排定開局")
	h.sched.runAll()

	assert.Equal(t, room.StatusPlaying, h.roomStatus(t, created.ID))

	state, _, _, err := h.games.GetGameStateForPlayer(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", state.PlayerXID)
	require.Equal(t, room.AISentinelID, state.PlayerOID)

	// 玩家落子後 AI 排程回手
	_, err = h.games.MakeMove(ctx, created.ID, "alice", game.Position{Row: 7, Col: 7})
	require.NoError(t, err)
	require.Equal(t, 1, h.sched.pending())
	h.sched.runAll()

	state, _, _, err = h.games.GetGameStateForPlayer(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, state.Moves, 2)
	assert.Equal(t, game.PlayerO, state.Moves[1].Player)
	assert.Equal(t, game.PlayerX, state.CurrentTurn)
}

// TestAIMove_StalePreconditionAborts AI 計時器觸發時對局已結束則靜默放棄
func TestAIMove_StalePreconditionAborts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.rooms.CreateAIRoom(ctx, "alice", room.CreateParams{Name: "人機練習"})
	require.NoError(t, err)
	require.NoError(t, h.games.SetPlayerReady(ctx, created.ID, "alice"))
	h.sched.runAll()

	_, err = h.games.MakeMove(ctx, created.ID, "alice", game.Position{Row: 7, Col: 7})
	require.NoError(t, err)
	require.Equal(t, 1, h.sched.pending())

	// AI 回手前房間被標記結束
	require.NoError(t, h.store.SetRoomFields(ctx, created.ID, map[string]string{
		room.FieldStatus: string(room.StatusFinished),
	}))
	h.sched.runAll()

	state, _, _, err := h.games.GetGameStateForPlayer(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, state.Moves, 1, "前置不成立時 AI 不應落子")
}
