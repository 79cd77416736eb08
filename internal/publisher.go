package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// 房間生命週期事件類型
const (
	LifecycleRoomCreated = "room_created"
	LifecycleGameStarted = "game_started"
	LifecycleRoomDeleted = "room_deleted"
)

// LifecycleEvent 房間生命週期事件
//
// 只供外部觀察（統計、稽核），伺服器本身不訂閱，也不依賴它恢復狀態。
type LifecycleEvent struct {
	Type      string    `json:"type"`
	RoomID    string    `json:"room_id"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher 發布房間生命週期事件
//
// 在釋放所有鎖之後才會呼叫；發布失敗只記錄日誌，不影響轉發結果。
type Publisher interface {
	Publish(ctx context.Context, event LifecycleEvent) error
	Close() error
}

// NopPublisher 不發布任何事件（未設定 NATS 時使用）
type NopPublisher struct{}

// Publish 實現 Publisher
func (NopPublisher) Publish(context.Context, LifecycleEvent) error { return nil }

// Close 實現 Publisher
func (NopPublisher) Close() error { return nil }

// NATSPublisher 透過 NATS core publish 發送事件
//
// 使用 core NATS，不經過 JetStream，不等待 PubAck。
//
// Subject 命名：{prefix}.{room_id}.{type}
// 範例：spawnrelay.rooms.a1b2c3d4.room_created
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSPublisher 連接 NATS
func NewNATSPublisher(url, prefix string, logger *slog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(
		url,
		nats.Name("spawn-relay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS 連線中斷", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS 已重新連線", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("連接 NATS 失敗: %w", err)
	}

	return &NATSPublisher{
		conn:   conn,
		prefix: prefix,
	}, nil
}

// Publish 發送事件
func (p *NATSPublisher) Publish(ctx context.Context, event LifecycleEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失敗: %w", err)
	}

	if err := p.conn.Publish(LifecycleSubject(p.prefix, event), data); err != nil {
		return fmt.Errorf("發布事件失敗: %w", err)
	}

	return nil
}

// Close 送出緩衝中的訊息後關閉連線
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// LifecycleSubject 事件的 NATS subject
func LifecycleSubject(prefix string, event LifecycleEvent) string {
	return fmt.Sprintf("%s.%s.%s", prefix, event.RoomID, event.Type)
}
