package room_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maivankien/caro-online-server/internal/event"
	"github.com/maivankien/caro-online-server/internal/room"
	"github.com/maivankien/caro-online-server/internal/store"
	"github.com/maivankien/caro-online-server/internal/user"
	"github.com/maivankien/caro-online-server/pkg/apperrors"
)

func newService(t *testing.T) (*room.Service, *store.MemoryStore, *event.Bus) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	st := store.NewMemoryStore()
	bus := event.NewBus(logger)
	users := user.NewMemoryRepository(
		&user.User{ID: "alice", Name: "愛麗絲", Elo: 1200},
		&user.User{ID: "bob", Name: "鮑伯", Elo: 1180},
		&user.User{ID: "carol", Name: "卡蘿", Elo: 1210},
	)
	return room.NewService(st, users, bus, logger), st, bus
}

func TestCreate(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	t.Run("套用預設棋盤配置", func(t *testing.T) {
		r, err := svc.Create(ctx, "alice", room.CreateParams{Name: "大廳房"})
		require.NoError(t, err)

		assert.NotEmpty(t, r.ID)
		assert.Equal(t, room.TypeStandard, r.Type)
		assert.Equal(t, room.StatusWaiting, r.Status)
		assert.Equal(t, room.DefaultBoardSize, r.BoardSize)
		assert.Equal(t, room.DefaultWinCondition, r.WinCondition)
		assert.Equal(t, "alice", r.Host.ID)
		assert.Equal(t, []string{"alice"}, r.PlayerIDs)
	})

	t.Run("自訂配置在範圍內", func(t *testing.T) {
		r, err := svc.Create(ctx, "alice", room.CreateParams{
			Name: "小棋盤", BoardSize: 5, WinCondition: 3,
		})
		require.NoError(t, err)
		assert.Equal(t, 5, r.BoardSize)
		assert.Equal(t, 3, r.WinCondition)
	})

	t.Run("配置超界被拒", func(t *testing.T) {
		_, err := svc.Create(ctx, "alice", room.CreateParams{BoardSize: 4})
		assert.ErrorIs(t, err, apperrors.ErrInvalidBoardSize)

		_, err = svc.Create(ctx, "alice", room.CreateParams{WinCondition: 8})
		assert.ErrorIs(t, err, apperrors.ErrInvalidWinCondition)
	})

	t.Run("未知使用者被拒", func(t *testing.T) {
		_, err := svc.Create(ctx, "ghost", room.CreateParams{})
		assert.ErrorIs(t, err, apperrors.ErrUserNotFound)
	})

	t.Run("帶密碼的房間不洩漏密碼", func(t *testing.T) {
		r, err := svc.Create(ctx, "alice", room.CreateParams{Name: "私房", Password: "secret"})
		require.NoError(t, err)
		assert.True(t, r.HasPassword)
	})
}

func TestJoin(t *testing.T) {
	svc, _, bus := newService(t)
	ctx := context.Background()

	var joined []room.JoinedPayload
	bus.Subscribe(event.TopicRoomJoined, func(_ context.Context, payload any) {
		joined = append(joined, payload.(room.JoinedPayload))
	})

	created, err := svc.Create(ctx, "alice", room.CreateParams{Name: "等待房", Password: "pw"})
	require.NoError(t, err)

	t.Run("房間不存在", func(t *testing.T) {
		err := svc.Join(ctx, "bob", "missing", "")
		assert.ErrorIs(t, err, apperrors.ErrRoomNotFound)
	})

	t.Run("密碼錯誤", func(t *testing.T) {
		err := svc.Join(ctx, "bob", created.ID, "wrong")
		assert.ErrorIs(t, err, apperrors.ErrInvalidPassword)
	})

	t.Run("成功加入轉入就緒等待", func(t *testing.T) {
		require.NoError(t, svc.Join(ctx, "bob", created.ID, "pw"))

		r, err := svc.Detail(ctx, created.ID, "bob")
		require.NoError(t, err)
		assert.Equal(t, room.StatusWaitingReady, r.Status)
		assert.Equal(t, []string{"alice", "bob"}, r.PlayerIDs)

		require.Len(t, joined, 1)
		assert.Equal(t, room.JoinedPayload{RoomID: created.ID, UserID: "bob"}, joined[0])
	})

	t.Run("已是成員為冪等空操作", func(t *testing.T) {
		require.NoError(t, svc.Join(ctx, "bob", created.ID, "pw"))
		assert.Len(t, joined, 1, "重複加入不重發事件")
	})

	t.Run("離開等待狀態後不可加入", func(t *testing.T) {
		err := svc.Join(ctx, "carol", created.ID, "pw")
		assert.ErrorIs(t, err, apperrors.ErrRoomNotWaiting)
	})
}

func TestJoin_RoomFull(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "alice", room.CreateParams{Name: "滿員房"})
	require.NoError(t, err)

	// 直接把第二席寫滿但保持等待狀態，模擬競態下的第三人
	require.NoError(t, st.SetRoomFields(ctx, created.ID, map[string]string{
		room.FieldPlayerIDs: room.EncodePlayerIDs([]string{"alice", "bob"}),
	}))

	err = svc.Join(ctx, "carol", created.ID, "")
	assert.ErrorIs(t, err, apperrors.ErrRoomFull)
}

func TestList(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	base := time.Now()

	for i, name := range []string{"第一間", "第二間", "第三間"} {
		i := i
		svc.SetClock(func() time.Time { return base.Add(time.Duration(i) * time.Second) })
		_, err := svc.Create(ctx, "alice", room.CreateParams{Name: name})
		require.NoError(t, err)
	}

	t.Run("最新建立的在前", func(t *testing.T) {
		result, err := svc.List(ctx, 1, 10)
		require.NoError(t, err)
		assert.EqualValues(t, 3, result.Total)
		require.Len(t, result.Rooms, 3)
		assert.Equal(t, "第三間", result.Rooms[0].Name)
		assert.Equal(t, "第一間", result.Rooms[2].Name)
	})

	t.Run("分頁", func(t *testing.T) {
		result, err := svc.List(ctx, 2, 2)
		require.NoError(t, err)
		assert.EqualValues(t, 3, result.Total)
		require.Len(t, result.Rooms, 1)
		assert.Equal(t, "第一間", result.Rooms[0].Name)
	})

	t.Run("非法分頁參數回退預設", func(t *testing.T) {
		result, err := svc.List(ctx, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Page)
		assert.Equal(t, 10, result.Limit)
		assert.Len(t, result.Rooms, 3)
	})

	t.Run("人機房間不進大廳", func(t *testing.T) {
		_, err := svc.CreateAIRoom(ctx, "bob", room.CreateParams{Name: "人機"})
		require.NoError(t, err)

		result, err := svc.List(ctx, 1, 10)
		require.NoError(t, err)
		assert.EqualValues(t, 3, result.Total)
	})
}

func TestDetail(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "alice", room.CreateParams{Name: "房"})
	require.NoError(t, err)

	t.Run("成員可見", func(t *testing.T) {
		r, err := svc.Detail(ctx, created.ID, "alice")
		require.NoError(t, err)
		assert.Equal(t, created.ID, r.ID)
	})

	t.Run("非成員被拒", func(t *testing.T) {
		_, err := svc.Detail(ctx, created.ID, "carol")
		assert.ErrorIs(t, err, apperrors.ErrNotRoomPlayer)
	})

	t.Run("不存在的房間", func(t *testing.T) {
		_, err := svc.Detail(ctx, "missing", "alice")
		assert.ErrorIs(t, err, apperrors.ErrRoomNotFound)
	})
}

func TestCreateAIRoom(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	r, err := svc.CreateAIRoom(ctx, "alice", room.CreateParams{Name: "人機練習"})
	require.NoError(t, err)

	assert.Equal(t, room.TypeAI, r.Type)
	assert.Equal(t, room.StatusWaitingReady, r.Status)
	assert.Equal(t, []string{"alice", room.AISentinelID}, r.PlayerIDs)

	ok, err := svc.IsRoomPlayer(ctx, r.ID, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateMatchmakingRoom(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	r, err := svc.CreateMatchmakingRoom(ctx, "alice", "bob", 15, 5)
	require.NoError(t, err)

	assert.Equal(t, room.StatusWaitingReady, r.Status)
	assert.ElementsMatch(t, []string{"alice", "bob"}, r.PlayerIDs)

	for _, id := range []string{"alice", "bob"} {
		ok, err := svc.IsRoomPlayer(ctx, r.ID, id)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	// 配對房間不出現在大廳
	result, err := svc.List(ctx, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, result.Total)
}

func TestIsCreatedByUser(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "alice", room.CreateParams{Name: "房"})
	require.NoError(t, err)

	ok, err := svc.IsCreatedByUser(ctx, created.ID, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.IsCreatedByUser(ctx, created.ID, "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.IsCreatedByUser(ctx, "missing", "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestSweeper 只清除閒置超過門檻的等待中房間
func TestSweeper(t *testing.T) {
	svc, st, _ := newService(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	ctx := context.Background()
	base := time.Now()

	svc.SetClock(func() time.Time { return base.Add(-15 * time.Minute) })
	stale, err := svc.Create(ctx, "alice", room.CreateParams{Name: "閒置房"})
	require.NoError(t, err)

	svc.SetClock(func() time.Time { return base.Add(-time.Minute) })
	fresh, err := svc.Create(ctx, "bob", room.CreateParams{Name: "新房"})
	require.NoError(t, err)

	// 已開局的房間不在等待索引中，不受清理影響
	svc.SetClock(func() time.Time { return base.Add(-20 * time.Minute) })
	playing, err := svc.Create(ctx, "carol", room.CreateParams{Name: "對局中"})
	require.NoError(t, err)
	require.NoError(t, svc.Join(ctx, "alice", playing.ID, ""))

	sweeper := room.NewSweeper(st, logger, 10*time.Minute, time.Minute)
	sweeper.SetClock(func() time.Time { return base })
	require.NoError(t, sweeper.Sweep(ctx))

	values, err := st.GetRoomFields(ctx, stale.ID, room.FieldID)
	require.NoError(t, err)
	assert.Empty(t, values[0], "閒置房應被刪除")

	for _, id := range []string{fresh.ID, playing.ID} {
		values, err := st.GetRoomFields(ctx, id, room.FieldID)
		require.NoError(t, err)
		assert.NotEmpty(t, values[0])
	}
}
