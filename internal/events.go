package internal

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	apperrors "github.com/koopa0/system-design/14-spawn-relay/pkg/errors"
)

// 客戶端送出的事件
const (
	EventCreateRoom   = "create_room"
	EventJoinRoom     = "join_room"
	EventLeaveRoom    = "leave_room"
	EventStartGame    = "start_game"
	EventSpawn        = "spawn"
	EventGetRoomState = "get_room_state"
)

// 伺服器送出的事件
const (
	EventConnected      = "connected"
	EventRoomCreated    = "room_created"
	EventJoinedRoom     = "joined_room"
	EventPlayerJoined   = "player_joined"
	EventPlayerLeft     = "player_left"
	EventGameStarted    = "game_started"
	EventSpawnBroadcast = "spawn_broadcast"
	EventSpawnAck       = "spawn_ack"
	EventSpawnFailed    = "spawn_failed"
	EventSpawnRejected  = "spawn_rejected"
	EventJoinFailed     = "join_failed"
	EventRoomState      = "room_state"
	EventError          = "error"
)

// defaultPlayerName 未提供名稱時使用
const defaultPlayerName = "Player"

// Message 送往客戶端的訊息
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Envelope 一則訊息與它的收件 session
//
// 收件人在房間鎖內依成員快照決定，房間的廣播群組即房間成員本身。
type Envelope struct {
	Recipients []string
	Message    Message
}

// 請求結構

// CreateRoomRequest create_room
type CreateRoomRequest struct {
	Name *string `json:"name"`
}

// JoinRoomRequest join_room
type JoinRoomRequest struct {
	RoomID string  `json:"room_id"`
	Name   *string `json:"name"`
}

// LeaveRoomRequest leave_room
type LeaveRoomRequest struct {
	RoomID string `json:"room_id"`
}

// StartGameRequest start_game
//
// ai_mode 只做紀錄，多人房間一律強制關閉。
type StartGameRequest struct {
	RoomID string `json:"room_id"`
	AIMode any    `json:"ai_mode"`
}

// SpawnRequest spawn
//
// char 是客戶端自訂的兵種識別，任何 JSON 值都原樣轉發，只有缺少或 null 時拒絕。
// x、y 接受數字或數字字串；playersize 接受但忽略（以伺服器的標準尺寸為準）。
type SpawnRequest struct {
	RoomID     string          `json:"room_id"`
	Char       json.RawMessage `json:"char"`
	X          json.RawMessage `json:"x"`
	Y          json.RawMessage `json:"y"`
	PlayerSize *float64        `json:"playersize,omitempty"`
	Meta       json.RawMessage `json:"meta,omitempty"`
}

// RoomStateRequest get_room_state
type RoomStateRequest struct {
	RoomID string `json:"room_id"`
}

// 回應結構

// ConnectedPayload connected
type ConnectedPayload struct {
	SessionID string `json:"sid"`
}

// RoomPayload room_created / joined_room
type RoomPayload struct {
	RoomID   string          `json:"room_id"`
	Players  []PlayerInfo    `json:"players"`
	Settings SettingsPayload `json:"settings"`
}

// GameStartedPayload game_started
type GameStartedPayload struct {
	RoomID string `json:"room_id"`
	AIMode bool   `json:"ai_mode"`
}

// SpawnPayload spawn_broadcast / spawn_ack
type SpawnPayload struct {
	FromSessionID string          `json:"from_sid"`
	Char          json.RawMessage `json:"char"`
	X             float64         `json:"x"`
	Y             float64         `json:"y"`
	Meta          json.RawMessage `json:"meta"`
	Mirror        bool            `json:"mirror"`
}

// ReasonPayload 各種失敗回應
type ReasonPayload struct {
	Reason string `json:"reason"`
}

// RoomStatePayload room_state
type RoomStatePayload struct {
	ID          string        `json:"id"`
	Players     []PlayerInfo  `json:"players"`
	GameStarted bool          `json:"game_started"`
	AIMode      bool          `json:"ai_mode"`
	LastSpawns  []SpawnRecord `json:"last_spawns"`
}

// RoomStateErrorPayload room_state（查無房間）
type RoomStateErrorPayload struct {
	Error string `json:"error"`
}

// spawnInput 驗證後的出兵請求
type spawnInput struct {
	roomID string
	char   json.RawMessage
	x, y   float64
	meta   json.RawMessage
}

// decodePayload 解析事件內容
//
// 缺少 data 或 data 為 null 時視為空物件。
func decodePayload(data json.RawMessage, v any) error {
	if isAbsent(data) {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidPayload, apperrors.ErrInvalidPayload.Message)
	}
	return nil
}

// validate 在任何查詢或修改之前完成全部驗證
func (req SpawnRequest) validate() (spawnInput, error) {
	if req.RoomID == "" || isAbsent(req.Char) || isAbsent(req.X) || isAbsent(req.Y) {
		return spawnInput{}, apperrors.ErrInvalidPayload
	}

	x, err := parseCoordinate(req.X)
	if err != nil {
		return spawnInput{}, err
	}
	y, err := parseCoordinate(req.Y)
	if err != nil {
		return spawnInput{}, err
	}

	meta := req.Meta
	if isAbsent(meta) {
		meta = json.RawMessage(`{}`)
	}

	return spawnInput{
		roomID: req.RoomID,
		char:   req.Char,
		x:      x,
		y:      y,
		meta:   meta,
	}, nil
}

// parseCoordinate 座標可以是數字或數字字串，必須是有限值
func parseCoordinate(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, apperrors.ErrInvalidCoordinates.WithDetails(string(raw))
		}
		f, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, apperrors.ErrInvalidCoordinates.WithDetails(s)
		}
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, apperrors.ErrInvalidCoordinates.WithDetails(string(raw))
	}

	return f, nil
}

// requestedAIMode 客戶端要求的 ai_mode（只用於日誌）
func (req StartGameRequest) requestedAIMode() bool {
	switch v := req.AIMode.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != ""
	default:
		return false
	}
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func nameOrDefault(name *string) string {
	if name == nil {
		return defaultPlayerName
	}
	return *name
}

func toSession(sessionID, event string, data any) Envelope {
	return Envelope{
		Recipients: []string{sessionID},
		Message:    Message{Event: event, Data: data},
	}
}

func toSessions(sessionIDs []string, event string, data any) Envelope {
	return Envelope{
		Recipients: sessionIDs,
		Message:    Message{Event: event, Data: data},
	}
}
