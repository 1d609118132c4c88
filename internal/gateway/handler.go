package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/maivankien/caro-online-server/internal/matchmaking"
	"github.com/maivankien/caro-online-server/internal/room"
	"github.com/maivankien/caro-online-server/pkg/apperrors"
)

// Handler HTTP 請求處理器
type Handler struct {
	rooms       *room.Service
	matchmaking *matchmaking.Service
	hub         *Hub
	logger      *slog.Logger
}

// NewHandler 創建 HTTP 處理器
func NewHandler(rooms *room.Service, mm *matchmaking.Service, hub *Hub, logger *slog.Logger) *Handler {
	return &Handler{
		rooms:       rooms,
		matchmaking: mm,
		hub:         hub,
		logger:      logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	// 房間 API
	mux.HandleFunc("POST /api/v1/rooms", wrap(h.createRoom))
	mux.HandleFunc("POST /api/v1/rooms/ai", wrap(h.createAIRoom))
	mux.HandleFunc("GET /api/v1/rooms", wrap(h.listRooms))
	mux.HandleFunc("GET /api/v1/rooms/{room_id}", wrap(h.getRoomDetail))
	mux.HandleFunc("POST /api/v1/rooms/{room_id}/join", wrap(h.joinRoom))

	// 配對 API
	mux.HandleFunc("POST /api/v1/matchmaking", wrap(h.enqueue))
	mux.HandleFunc("DELETE /api/v1/matchmaking", wrap(h.cancelMatchmaking))

	// 即時頻道
	mux.HandleFunc("GET /ws/rooms/{room_id}", h.hub.ServeRoomWS)
	mux.HandleFunc("GET /ws/matchmaking", h.hub.ServeMatchmakingWS)

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))

	return mux
}

type createRoomRequest struct {
	UserID       string `json:"userId"`
	Name         string `json:"name"`
	Password     string `json:"password,omitempty"`
	BoardSize    int    `json:"boardSize,omitempty"`
	WinCondition int    `json:"winCondition,omitempty"`
}

type joinRoomRequest struct {
	UserID   string `json:"userId"`
	Password string `json:"password,omitempty"`
}

type matchmakingRequest struct {
	UserID       string `json:"userId"`
	BoardSize    int    `json:"boardSize,omitempty"`
	WinCondition int    `json:"winCondition,omitempty"`
}

// createRoom 創建標準房間
func (h *Handler) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Name == "" {
		h.errorResponse(w, "userId and name are required", http.StatusBadRequest)
		return
	}

	created, err := h.rooms.Create(r.Context(), req.UserID, room.CreateParams{
		Name:         req.Name,
		Password:     req.Password,
		BoardSize:    req.BoardSize,
		WinCondition: req.WinCondition,
	})
	if err != nil {
		h.serviceError(w, err)
		return
	}

	h.jsonResponse(w, created, http.StatusCreated)
}

// createAIRoom 創建人機房間
func (h *Handler) createAIRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		h.errorResponse(w, "userId is required", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		req.Name = "AI Match"
	}

	created, err := h.rooms.CreateAIRoom(r.Context(), req.UserID, room.CreateParams{
		Name:         req.Name,
		BoardSize:    req.BoardSize,
		WinCondition: req.WinCondition,
	})
	if err != nil {
		h.serviceError(w, err)
		return
	}

	h.jsonResponse(w, created, http.StatusCreated)
}

// listRooms 大廳分頁列表
func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	result, err := h.rooms.List(r.Context(), page, limit)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	h.jsonResponse(w, result, http.StatusOK)
}

// getRoomDetail 房間詳情，僅限成員
func (h *Handler) getRoomDetail(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.errorResponse(w, "user_id is required", http.StatusBadRequest)
		return
	}

	detail, err := h.rooms.Detail(r.Context(), roomID, userID)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	h.jsonResponse(w, detail, http.StatusOK)
}

// joinRoom 加入房間
func (h *Handler) joinRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")

	var req joinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		h.errorResponse(w, "userId is required", http.StatusBadRequest)
		return
	}

	if err := h.rooms.Join(r.Context(), req.UserID, roomID, req.Password); err != nil {
		h.serviceError(w, err)
		return
	}

	h.jsonResponse(w, map[string]any{"success": true}, http.StatusOK)
}

// enqueue 進入配對佇列
func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request) {
	var req matchmakingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		h.errorResponse(w, "userId is required", http.StatusBadRequest)
		return
	}

	if err := h.matchmaking.Enqueue(r.Context(), req.UserID, req.BoardSize, req.WinCondition); err != nil {
		h.serviceError(w, err)
		return
	}

	h.jsonResponse(w, map[string]any{"success": true}, http.StatusAccepted)
}

// cancelMatchmaking 取消配對
func (h *Handler) cancelMatchmaking(w http.ResponseWriter, r *http.Request) {
	var req matchmakingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		h.errorResponse(w, "userId is required", http.StatusBadRequest)
		return
	}

	if err := h.matchmaking.Cancel(r.Context(), req.UserID, req.BoardSize, req.WinCondition); err != nil {
		h.serviceError(w, err)
		return
	}

	h.jsonResponse(w, map[string]any{"success": true}, http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	h.jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// serviceError 將業務錯誤映射為 HTTP 狀態碼
func (h *Handler) serviceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case apperrors.ErrCodeNotFound:
			status = http.StatusNotFound
		case apperrors.ErrCodeInvalidInput:
			status = http.StatusBadRequest
		case apperrors.ErrCodeForbidden:
			status = http.StatusForbidden
		case apperrors.ErrCodeConflict:
			status = http.StatusConflict
		case apperrors.ErrCodeContention:
			status = http.StatusTooManyRequests
		}
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("請求處理失敗", "error", err)
	}
	h.errorResponse(w, apperrors.ClientMessage(err), status)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{"error": message}, status)
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(ww, r)

		h.logger.Info("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)
				h.errorResponse(w, "internal server error", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
