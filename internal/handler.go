package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Handler HTTP 查詢處理器
//
// 只讀：列出房間、查詢單一房間、健康檢查與統計，不修改任何狀態。
type Handler struct {
	registry    *Registry
	settings    Settings
	connections connectionCounter
	logger      *slog.Logger
}

// connectionCounter 提供連線數（WebSocketHub）
type connectionCounter interface {
	ConnectionCount() int
}

// NewHandler 創建 HTTP 處理器
//
// connections 可以是 nil（只提供房間查詢時）。
func NewHandler(registry *Registry, settings Settings, connections connectionCounter, logger *slog.Logger) *Handler {
	return &Handler{
		registry:    registry,
		settings:    settings,
		connections: connections,
		logger:      logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	mux.HandleFunc("GET /api/rooms", wrap(h.listRooms))
	mux.HandleFunc("GET /api/room/{room_id}", wrap(h.getRoomDetail))
	mux.HandleFunc("GET /api/settings", wrap(h.getSettings))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	return mux
}

// RoomSummary 房間列表項目
type RoomSummary struct {
	ID          string    `json:"id"`
	Players     int       `json:"players"`
	CreatedAt   time.Time `json:"created_at"`
	GameStarted bool      `json:"game_started"`
}

// RoomDetail 房間詳情
type RoomDetail struct {
	ID          string       `json:"id"`
	Players     []PlayerInfo `json:"players"`
	GameStarted bool         `json:"game_started"`
	AIMode      bool         `json:"ai_mode"`
}

// listRooms 列出房間
func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms := h.registry.Rooms()

	result := make([]RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		snapshot := room.Snapshot(0)
		result = append(result, RoomSummary{
			ID:          snapshot.ID,
			Players:     len(snapshot.Players),
			CreatedAt:   snapshot.CreatedAt,
			GameStarted: snapshot.GameStarted,
		})
	}

	h.jsonResponse(w, result, http.StatusOK)
}

// getRoomDetail 獲取房間詳情
func (h *Handler) getRoomDetail(w http.ResponseWriter, r *http.Request) {
	room, err := h.registry.Get(r.PathValue("room_id"))
	if err != nil {
		h.errorResponse(w, "room not found", http.StatusNotFound)
		return
	}

	snapshot := room.Snapshot(0)
	h.jsonResponse(w, RoomDetail{
		ID:          snapshot.ID,
		Players:     snapshot.Players,
		GameStarted: snapshot.GameStarted,
		AIMode:      snapshot.AIMode,
	}, http.StatusOK)
}

// getSettings 標準畫布設定（前端啟動時取得，確保座標計算一致）
func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, h.settings.Payload(), http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"ok":    true,
		"rooms": h.registry.Len(),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats := h.registry.Stats()

	connections := 0
	if h.connections != nil {
		connections = h.connections.ConnectionCount()
	}

	h.jsonResponse(w, map[string]any{
		"total_rooms":   stats.TotalRooms,
		"total_players": stats.TotalPlayers,
		"started_rooms": stats.StartedRooms,
		"connections":   connections,
	}, http.StatusOK)
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
	h.jsonResponse(w, map[string]any{
		"error": message,
	}, status)
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 包裝 ResponseWriter 以獲取狀態碼
		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

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

				h.errorResponse(w, "內部伺服器錯誤", http.StatusInternalServerError)
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
