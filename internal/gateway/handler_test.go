package gateway_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maivankien/caro-online-server/internal/ai"
	"github.com/maivankien/caro-online-server/internal/event"
	"github.com/maivankien/caro-online-server/internal/game"
	"github.com/maivankien/caro-online-server/internal/gateway"
	"github.com/maivankien/caro-online-server/internal/lock"
	"github.com/maivankien/caro-online-server/internal/matchmaking"
	"github.com/maivankien/caro-online-server/internal/room"
	"github.com/maivankien/caro-online-server/internal/store"
	"github.com/maivankien/caro-online-server/internal/user"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	st := store.NewMemoryStore()
	bus := event.NewBus(logger)
	users := user.NewMemoryRepository(
		&user.User{ID: "alice", Name: "愛麗絲", Elo: 1200},
		&user.User{ID: "bob", Name: "鮑伯", Elo: 1180},
	)

	locks := lock.NewManager(st, logger)
	locks.SetSleep(func(time.Duration) {})

	rooms := room.NewService(st, users, bus, logger)
	games := game.NewService(st, locks, bus, ai.NewEngine(), logger, game.Config{
		CountdownFrom:     3,
		CountdownInterval: time.Second,
		StartDebounce:     300 * time.Millisecond,
		AIMoveDelay:       500 * time.Millisecond,
		ReadyLockTTL:      5 * time.Second,
		ReadyLockTimeout:  3 * time.Second,
	})
	games.SetSleep(func(time.Duration) {})
	games.SetScheduler(func(time.Duration, func()) {})

	mm := matchmaking.NewService(st, users, rooms, bus, logger, matchmaking.Config{
		RangeStep:  50,
		MaxRange:   500,
		RetryDelay: time.Second,
		Timeout:    time.Minute,
	})
	mm.SetSleep(func(time.Duration) { time.Sleep(time.Millisecond) })
	mm.SetScheduler(func(time.Duration, func()) {})

	hub := gateway.NewHub(rooms, games, mm, logger)
	handler := gateway.NewHandler(rooms, mm, hub, logger)

	srv := httptest.NewServer(handler.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateRoomEndpoint(t *testing.T) {
	srv := newTestServer(t)

	t.Run("成功建房", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/rooms", map[string]any{
			"userId": "alice",
			"name":   "大廳房",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var created room.Room
		decode(t, resp, &created)
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, room.StatusWaiting, created.Status)
	})

	t.Run("缺少必填欄位", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/rooms", map[string]any{
			"userId": "alice",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("棋盤配置超界映射 400", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/rooms", map[string]any{
			"userId":    "alice",
			"name":      "超界",
			"boardSize": 99,
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("未知使用者映射 404", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/rooms", map[string]any{
			"userId": "ghost",
			"name":   "誰的房",
		})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestJoinRoomEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/rooms", map[string]any{
		"userId":   "alice",
		"name":     "私房",
		"password": "pw",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created room.Room
	decode(t, resp, &created)

	t.Run("密碼錯誤映射 403", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/rooms/"+created.ID+"/join", map[string]any{
			"userId":   "bob",
			"password": "wrong",
		})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("成功加入", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/rooms/"+created.ID+"/join", map[string]any{
			"userId":   "bob",
			"password": "pw",
		})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("離開等待狀態後映射 409", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/rooms/"+created.ID+"/join", map[string]any{
			"userId": "carol",
		})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("不存在的房間映射 404", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/rooms/missing/join", map[string]any{
			"userId": "bob",
		})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestListAndDetailEndpoints(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/rooms", map[string]any{
		"userId": "alice",
		"name":   "大廳房",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created room.Room
	decode(t, resp, &created)

	t.Run("大廳列表", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/rooms?page=1&limit=10", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var result room.ListResult
		decode(t, resp, &result)
		assert.EqualValues(t, 1, result.Total)
	})

	t.Run("成員可見詳情", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet,
			srv.URL+"/api/v1/rooms/"+created.ID+"?user_id=alice", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("非成員映射 403", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet,
			srv.URL+"/api/v1/rooms/"+created.ID+"?user_id=bob", nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestMatchmakingEndpoints(t *testing.T) {
	srv := newTestServer(t)

	t.Run("排隊受理", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/matchmaking", map[string]any{
			"userId": "alice",
		})
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	})

	t.Run("取消排隊", func(t *testing.T) {
		resp := doJSON(t, http.MethodDelete, srv.URL+"/api/v1/matchmaking", map[string]any{
			"userId": "alice",
		})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("未知使用者映射 404", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/matchmaking", map[string]any{
			"userId": "ghost",
		})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
