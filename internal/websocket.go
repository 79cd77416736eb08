package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   轉發層不做 I/O，誰負責把訊息送到正確的連線？
//
// 核心挑戰：
//   1. Session 身分：每條連線一個唯一 ID，房間成員以此識別
//   2. 斷線偵測：客戶端崩潰時伺服器要能察覺並清理房間
//   3. 慢客戶端：一條卡住的連線不能拖慢同房間的其他人
//
// 設計方案：
//   ✅ Hub 模式 - 集中管理 sessionID → Connection
//   ✅ Ping/Pong 心跳 - 檢測死連接（54s/60s）
//   ✅ 緩衝 channel - 非阻塞投遞，緩衝區滿就丟棄

// WebSocketHub WebSocket 連接中心
//
// 訊息格式（雙向）：
//
//	{"event": "spawn", "data": {...}}
type WebSocketHub struct {
	relay       *Relay
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	connections map[string]*Connection // sessionID -> Connection
	mu          sync.RWMutex

	sendBuffer     int
	pingInterval   time.Duration
	pongWait       time.Duration
	writeWait      time.Duration
	maxMessageSize int64
}

// Connection WebSocket 連接
type Connection struct {
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte
	Hub       *WebSocketHub
	closeOnce sync.Once // 確保 channel 只關閉一次
}

// inboundFrame 客戶端訊息
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewWebSocketHub 創建 WebSocket Hub
func NewWebSocketHub(relay *Relay, cfg *Config, logger *slog.Logger) *WebSocketHub {
	allowed := cfg.WebSocket.AllowedOrigins

	return &WebSocketHub{
		relay:  relay,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || slices.Contains(allowed, origin)
			},
			ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
			WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		},
		connections:    make(map[string]*Connection),
		sendBuffer:     cfg.WebSocket.SendBuffer,
		pingInterval:   cfg.WebSocket.PingInterval,
		pongWait:       cfg.WebSocket.PongWait,
		writeWait:      cfg.WebSocket.WriteWait,
		maxMessageSize: cfg.WebSocket.MaxMessageSize,
	}
}

// ServeWS 處理 WebSocket 連接
//
// 每條連線分配新的 session ID，第一則訊息是 connected{sid}。
func (hub *WebSocketHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	connection := &Connection{
		SessionID: uuid.NewString(),
		Conn:      conn,
		Send:      make(chan []byte, hub.sendBuffer),
		Hub:       hub,
	}

	hub.register(connection)
	hub.Deliver(hub.relay.Connect(context.Background(), connection.SessionID))

	go connection.writePump()
	go connection.readPump()
}

// register 註冊連接
func (hub *WebSocketHub) register(conn *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	// session ID 每條連線重新產生，不會與既有連線衝突
	hub.connections[conn.SessionID] = conn
}

// unregister 取消註冊連接
func (hub *WebSocketHub) unregister(conn *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if actualConn, exists := hub.connections[conn.SessionID]; exists && actualConn == conn {
		delete(hub.connections, conn.SessionID)
		conn.closeSend()
	}
}

// Deliver 投遞轉發層產生的訊息
//
// 每則訊息只序列化一次。非阻塞：收件人的緩衝區滿了就丟棄該則訊息。
func (hub *WebSocketHub) Deliver(envelopes []Envelope) {
	for _, env := range envelopes {
		message, err := json.Marshal(env.Message)
		if err != nil {
			hub.logger.Error("序列化訊息失敗", "event", env.Message.Event, "error", err)
			continue
		}

		hub.mu.RLock()
		for _, sessionID := range env.Recipients {
			conn, exists := hub.connections[sessionID]
			if !exists {
				continue
			}
			select {
			case conn.Send <- message:
			default:
				hub.logger.Warn("連接緩衝區滿，丟棄訊息",
					"session_id", sessionID,
					"event", env.Message.Event)
			}
		}
		hub.mu.RUnlock()
	}
}

// Stop 停止 WebSocket Hub，關閉所有連接
//
// 各連線的 readPump 隨後結束，並透過 Relay.Disconnect 清理房間。
func (hub *WebSocketHub) Stop() {
	hub.mu.Lock()
	for _, conn := range hub.connections {
		conn.closeSend()
		conn.Conn.Close()
	}
	hub.connections = make(map[string]*Connection)
	hub.mu.Unlock()

	hub.logger.Info("WebSocket Hub 已停止")
}

// ConnectionCount 獲取連接數
func (hub *WebSocketHub) ConnectionCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.connections)
}

func (c *Connection) closeSend() {
	c.closeOnce.Do(func() {
		close(c.Send)
	})
}

// readPump 讀取客戶端消息
//
// 超時設置：pongWait（預設 60 秒）內沒有收到任何消息（包括 Pong）就關閉連接。
// 連線結束時呼叫 Relay.Disconnect，把這個 session 從所有房間移除。
func (c *Connection) readPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
		c.Hub.Deliver(c.Hub.relay.Disconnect(context.Background(), c.SessionID))
	}()

	if c.Hub.maxMessageSize > 0 {
		c.Conn.SetReadLimit(c.Hub.maxMessageSize)
	}

	if err := c.Conn.SetReadDeadline(time.Now().Add(c.Hub.pongWait)); err != nil {
		c.Hub.logger.Error("設置讀取期限失敗", "error", err)
	}

	// Pong 處理器（收到 Pong 重置超時）
	c.Conn.SetPongHandler(func(string) error {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.Hub.pongWait)); err != nil {
			c.Hub.logger.Error("設置讀取期限失敗", "error", err)
		}
		return nil
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Error("WebSocket 讀取錯誤",
					"error", err,
					"session_id", c.SessionID)
			}
			break
		}

		if messageType == websocket.TextMessage {
			c.handleMessage(message)
		}
	}
}

// writePump 寫入消息到客戶端
//
// 每 pingInterval（預設 54 秒）發送 Ping；收到訊息後順便把佇列中的訊息一起送出。
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Hub.pingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.writeWait)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// Hub 關閉了通道，嘗試發送關閉消息，忽略錯誤（連接可能已關閉）
				_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量發送隊列中的消息
			n := len(c.Send)
			for i := 0; i < n; i++ {
				next, ok := <-c.Send
				if !ok {
					return
				}
				if err := c.Conn.WriteMessage(websocket.TextMessage, next); err != nil {
					c.Hub.logger.Error("發送消息失敗", "error", err)
					return
				}
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.writeWait)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 處理客戶端消息
func (c *Connection) handleMessage(message []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(message, &frame); err != nil || frame.Event == "" {
		c.Hub.logger.Debug("解析客戶端消息失敗",
			"error", err,
			"session_id", c.SessionID)
		c.Hub.Deliver([]Envelope{toSession(c.SessionID, EventError, ReasonPayload{Reason: "invalid message"})})
		return
	}

	// 應用層心跳（瀏覽器無法主動送出 WebSocket Ping）
	if frame.Event == "ping" {
		c.Hub.Deliver([]Envelope{toSession(c.SessionID, "pong", struct{}{})})
		return
	}

	c.Hub.Deliver(c.Hub.relay.Handle(context.Background(), c.SessionID, frame.Event, frame.Data))
}
