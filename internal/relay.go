package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	apperrors "github.com/koopa0/system-design/14-spawn-relay/pkg/errors"
	"github.com/koopa0/system-design/14-spawn-relay/pkg/logger"
)

// Relay 事件轉發層
//
// 把客戶端事件轉換為對 Registry / Room 的操作，並產生要送出的訊息。
// Relay 本身不做任何 I/O：回傳的 Envelope 交給連線層（WebSocketHub）投遞。
//
// 處理流程：
//
//	事件（帶 session ID）→ 驗證內容 → Registry 找房間 → 房間鎖內修改狀態
//	→ 釋放房間鎖 → （必要時）Registry 清理空房間 → 回傳 Envelope
//
// 所有失敗都只回覆給發起的 session，且不修改共享狀態。
type Relay struct {
	registry  *Registry
	settings  Settings
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewRelay 創建事件轉發層
func NewRelay(registry *Registry, settings Settings, publisher Publisher, logger *slog.Logger) *Relay {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Relay{
		registry:  registry,
		settings:  settings,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Handle 處理一個客戶端事件
func (r *Relay) Handle(ctx context.Context, sessionID, event string, data json.RawMessage) []Envelope {
	ctx = logger.WithSessionID(ctx, sessionID)

	switch event {
	case EventCreateRoom:
		var req CreateRoomRequest
		if err := decodePayload(data, &req); err != nil {
			return r.reject(ctx, sessionID, EventError, err)
		}
		return r.CreateRoom(ctx, sessionID, req)

	case EventJoinRoom:
		var req JoinRoomRequest
		if err := decodePayload(data, &req); err != nil {
			return r.reject(ctx, sessionID, EventJoinFailed, err)
		}
		return r.JoinRoom(ctx, sessionID, req)

	case EventLeaveRoom:
		var req LeaveRoomRequest
		if err := decodePayload(data, &req); err != nil {
			return nil
		}
		return r.LeaveRoom(ctx, sessionID, req)

	case EventStartGame:
		var req StartGameRequest
		if err := decodePayload(data, &req); err != nil {
			return r.reject(ctx, sessionID, EventError, err)
		}
		return r.StartGame(ctx, sessionID, req)

	case EventSpawn:
		var req SpawnRequest
		if err := decodePayload(data, &req); err != nil {
			return r.reject(ctx, sessionID, EventSpawnFailed, err)
		}
		return r.Spawn(ctx, sessionID, req)

	case EventGetRoomState:
		var req RoomStateRequest
		if err := decodePayload(data, &req); err != nil {
			return []Envelope{toSession(sessionID, EventRoomState, RoomStateErrorPayload{Error: apperrors.Reason(err)})}
		}
		return r.GetRoomState(ctx, sessionID, req)

	default:
		r.logger.DebugContext(ctx, "收到未知事件", "event", event)
		return []Envelope{toSession(sessionID, EventError, ReasonPayload{Reason: "unknown event"})}
	}
}

// Connect 新連線建立
func (r *Relay) Connect(ctx context.Context, sessionID string) []Envelope {
	r.logger.InfoContext(logger.WithSessionID(ctx, sessionID), "連線建立")
	return []Envelope{toSession(sessionID, EventConnected, ConnectedPayload{SessionID: sessionID})}
}

// Disconnect 連線中斷：從所有包含此 session 的房間移除
func (r *Relay) Disconnect(ctx context.Context, sessionID string) []Envelope {
	ctx = logger.WithSessionID(ctx, sessionID)
	r.logger.InfoContext(ctx, "連線中斷")

	var out []Envelope
	for _, room := range r.registry.RoomsWithSession(sessionID) {
		out = append(out, r.leave(ctx, room, sessionID, "disconnect")...)
	}
	return out
}

// CreateRoom 創建房間
func (r *Relay) CreateRoom(ctx context.Context, sessionID string, req CreateRoomRequest) []Envelope {
	// 一個 session 同時只能在一個房間
	out := r.leaveOtherRooms(ctx, sessionID, "")

	name := nameOrDefault(req.Name)
	room := r.registry.Create(sessionID, name)
	snapshot := room.Snapshot(0)

	r.publish(ctx, LifecycleRoomCreated, room.ID, sessionID)

	return append(out, toSession(sessionID, EventRoomCreated, RoomPayload{
		RoomID:   room.ID,
		Players:  snapshot.Players,
		Settings: r.settings.Payload(),
	}))
}

// JoinRoom 加入房間
//
// 失敗只回覆給呼叫者，且不改變呼叫者目前所在的房間；成功時通知房間所有成員
// （包含加入者），並把完整房間狀態回覆給加入者。
func (r *Relay) JoinRoom(ctx context.Context, sessionID string, req JoinRoomRequest) []Envelope {
	if req.RoomID == "" {
		return r.reject(ctx, sessionID, EventJoinFailed, apperrors.ErrMissingRoomID)
	}
	ctx = logger.WithRoomID(ctx, req.RoomID)

	room, err := r.registry.Get(req.RoomID)
	if err != nil {
		return r.reject(ctx, sessionID, EventJoinFailed, err)
	}

	name := nameOrDefault(req.Name)
	result, err := room.Join(sessionID, name, r.now())
	if err != nil {
		return r.reject(ctx, sessionID, EventJoinFailed, err)
	}

	// 加入成功後才離開原本的房間，失敗時原房間不受影響
	out := r.leaveOtherRooms(ctx, sessionID, room.ID)

	r.logger.InfoContext(ctx, "玩家加入房間",
		"name", name,
		"reconnect", result.Reconnect,
		"players", len(result.Players))

	members := make([]string, len(result.Players))
	for i, p := range result.Players {
		members[i] = p.SessionID
	}

	return append(out,
		toSessions(members, EventPlayerJoined, PlayerInfo{SessionID: sessionID, Name: name}),
		toSession(sessionID, EventJoinedRoom, RoomPayload{
			RoomID:   room.ID,
			Players:  result.Players,
			Settings: r.settings.Payload(),
		}),
	)
}

// LeaveRoom 離開房間
//
// 房間不存在或不是成員時靜默忽略。
func (r *Relay) LeaveRoom(ctx context.Context, sessionID string, req LeaveRoomRequest) []Envelope {
	if req.RoomID == "" {
		return nil
	}

	room, err := r.registry.Get(req.RoomID)
	if err != nil {
		return nil
	}

	return r.leave(logger.WithRoomID(ctx, req.RoomID), room, sessionID, "leave")
}

// StartGame 開始遊戲（只有房主可以）
//
// 多人房間強制 ai_mode=false，並通知所有成員。
func (r *Relay) StartGame(ctx context.Context, sessionID string, req StartGameRequest) []Envelope {
	ctx = logger.WithRoomID(ctx, req.RoomID)

	room, err := r.registry.Get(req.RoomID)
	if err != nil {
		return r.reject(ctx, sessionID, EventError, err)
	}

	result, err := room.Start(sessionID)
	if err != nil {
		return r.reject(ctx, sessionID, EventError, err)
	}

	r.logger.InfoContext(ctx, "遊戲開始",
		"requested_ai_mode", req.requestedAIMode(),
		"ai_mode", result.AIMode)

	r.publish(ctx, LifecycleGameStarted, room.ID, sessionID)

	return []Envelope{toSessions(result.Members, EventGameStarted, GameStartedPayload{
		RoomID: room.ID,
		AIMode: result.AIMode,
	})}
}

// Spawn 出兵
//
// 成功時產生兩則不同的訊息：
//   - spawn_ack：只給發送者，原始座標
//   - spawn_broadcast：給其他成員，鏡像座標（發送者不會收到）
//
// 冷卻中回覆 spawn_rejected（軟性拒絕），其餘失敗回覆 spawn_failed。
func (r *Relay) Spawn(ctx context.Context, sessionID string, req SpawnRequest) []Envelope {
	input, err := req.validate()
	if err != nil {
		return r.reject(ctx, sessionID, EventSpawnFailed, err)
	}
	ctx = logger.WithRoomID(ctx, input.roomID)

	room, err := r.registry.Get(input.roomID)
	if err != nil {
		return r.reject(ctx, sessionID, EventSpawnFailed, err)
	}

	result, err := room.Spawn(sessionID, input.char, input.x, input.y, input.meta, r.now(), r.settings.SpawnCooldown)
	if err != nil {
		if apperrors.IsCooldown(err) {
			return r.reject(ctx, sessionID, EventSpawnRejected, err)
		}
		return r.reject(ctx, sessionID, EventSpawnFailed, err)
	}

	mx, my := r.settings.Mirror(input.x, input.y)

	out := make([]Envelope, 0, 2)
	if len(result.Others) > 0 {
		out = append(out, toSessions(result.Others, EventSpawnBroadcast, SpawnPayload{
			FromSessionID: sessionID,
			Char:          input.char,
			X:             mx,
			Y:             my,
			Meta:          input.meta,
			Mirror:        true,
		}))
	}
	out = append(out, toSession(sessionID, EventSpawnAck, SpawnPayload{
		FromSessionID: sessionID,
		Char:          input.char,
		X:             input.x,
		Y:             input.y,
		Meta:          input.meta,
		Mirror:        false,
	}))

	return out
}

// GetRoomState 查詢房間狀態（唯讀，不需要是成員）
func (r *Relay) GetRoomState(ctx context.Context, sessionID string, req RoomStateRequest) []Envelope {
	room, err := r.registry.Get(req.RoomID)
	if err != nil {
		return []Envelope{toSession(sessionID, EventRoomState, RoomStateErrorPayload{Error: apperrors.Reason(err)})}
	}

	snapshot := room.Snapshot(r.settings.StateHistory)

	return []Envelope{toSession(sessionID, EventRoomState, RoomStatePayload{
		ID:          snapshot.ID,
		Players:     snapshot.Players,
		GameStarted: snapshot.GameStarted,
		AIMode:      snapshot.AIMode,
		LastSpawns:  snapshot.LastSpawns,
	})}
}

// leave 從房間移除並通知剩餘成員，接著清理空房間
//
// 房間鎖在 room.Leave 返回時已釋放，之後才呼叫 Registry。
func (r *Relay) leave(ctx context.Context, room *Room, sessionID, cause string) []Envelope {
	ctx = logger.WithRoomID(ctx, room.ID)

	result, ok := room.Leave(sessionID)

	var out []Envelope
	if ok {
		r.logger.InfoContext(ctx, "玩家離開房間",
			"name", result.Name,
			"cause", cause,
			"remaining", len(result.Remaining))

		if len(result.Remaining) > 0 {
			out = append(out, toSessions(result.Remaining, EventPlayerLeft, PlayerInfo{
				SessionID: sessionID,
				Name:      result.Name,
			}))
		}
	}

	if r.registry.DeleteIfEmpty(room.ID) {
		r.publish(ctx, LifecycleRoomDeleted, room.ID, sessionID)
	}

	return out
}

// leaveOtherRooms 離開 except 以外的所有房間
func (r *Relay) leaveOtherRooms(ctx context.Context, sessionID, except string) []Envelope {
	var out []Envelope
	for _, room := range r.registry.RoomsWithSession(sessionID) {
		if room.ID == except {
			continue
		}
		out = append(out, r.leave(ctx, room, sessionID, "switch_room")...)
	}
	return out
}

// reject 把錯誤轉換為只給呼叫者的回應
func (r *Relay) reject(ctx context.Context, sessionID, event string, err error) []Envelope {
	r.logger.DebugContext(ctx, "請求被拒絕",
		"event", event,
		"code", apperrors.Code(err),
		"error", err)

	return []Envelope{toSession(sessionID, event, ReasonPayload{Reason: apperrors.Reason(err)})}
}

func (r *Relay) publish(ctx context.Context, eventType, roomID, sessionID string) {
	event := LifecycleEvent{
		Type:      eventType,
		RoomID:    roomID,
		SessionID: sessionID,
		Timestamp: r.now(),
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.WarnContext(ctx, "發布生命週期事件失敗",
			"type", eventType,
			"error", err)
	}
}
