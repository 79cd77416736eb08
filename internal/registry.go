package internal

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/koopa0/system-design/14-spawn-relay/pkg/errors"
)

// Registry 房間註冊表
//
// 系統設計考量：
//
//  1. 兩層鎖：
//     - Registry.mu 只保護 roomID → Room 映射（建立、查詢、刪除）
//     - Room.mu 保護房間內部狀態
//     - 任何路徑都不會同時持有兩把鎖；需要兩者時順序固定為「先房間、後 Registry」
//
//  2. 空房間清理（DeleteIfEmpty）分兩階段：
//     - 第一階段（房間鎖）：人數為零 → 標記 closed
//     - 第二階段（Registry 鎖）：映射仍指向同一個 Room → 刪除
//     兩階段之間到達的 Join 會看到 closed 而失敗，房間不會「復活」；
//     比第一階段更早到達的 Join 讓人數大於零，清理直接跳過。
//
//  3. 純記憶體：重啟後所有房間消失，不支援多行程共享。
type Registry struct {
	rooms    map[string]*Room // roomID -> Room
	mu       sync.RWMutex
	settings Settings
	logger   *slog.Logger
	newID    func() string
	now      func() time.Time
}

// Stats 統計資訊
type Stats struct {
	TotalRooms   int `json:"total_rooms"`
	TotalPlayers int `json:"total_players"`
	StartedRooms int `json:"started_rooms"`
}

// NewRegistry 創建房間註冊表（初始為空）
func NewRegistry(settings Settings, logger *slog.Logger) *Registry {
	return &Registry{
		rooms:    make(map[string]*Room),
		settings: settings,
		logger:   logger,
		newID:    generateRoomID,
		now:      time.Now,
	}
}

// Create 創建房間，建立者成為房主與唯一成員
//
// 不會失敗：ID 衝突時重新產生。
func (g *Registry) Create(hostSessionID, hostName string) *Room {
	g.mu.Lock()
	roomID := g.newID()
	for {
		if _, exists := g.rooms[roomID]; !exists {
			break
		}
		roomID = g.newID()
	}
	room := NewRoom(roomID, hostSessionID, hostName, g.settings.HistoryLimit, g.now())
	g.rooms[roomID] = room
	g.mu.Unlock()

	g.logger.Info("房間已創建",
		"room_id", roomID,
		"host", hostName,
		"host_sid", hostSessionID)

	return room
}

// Get 獲取房間
func (g *Registry) Get(roomID string) (*Room, error) {
	g.mu.RLock()
	room, exists := g.rooms[roomID]
	g.mu.RUnlock()

	if !exists {
		return nil, apperrors.ErrRoomNotFound.WithDetails(roomID)
	}

	return room, nil
}

// DeleteIfEmpty 房間人數為零時從註冊表移除
//
// 冪等，可以重複呼叫。回傳本次呼叫是否讓房間消失。
func (g *Registry) DeleteIfEmpty(roomID string) bool {
	room, err := g.Get(roomID)
	if err != nil {
		return false
	}

	// 第一階段：房間鎖
	if !room.closeIfEmpty() {
		return false
	}

	// 第二階段：Registry 鎖（此時已不持有房間鎖）
	g.mu.Lock()
	current, exists := g.rooms[roomID]
	removed := exists && current == room
	if removed {
		delete(g.rooms, roomID)
	}
	g.mu.Unlock()

	if removed {
		g.logger.Info("空房間已清理", "room_id", roomID)
	}

	return removed
}

// Rooms 所有房間的快照（依建立時間排序）
func (g *Registry) Rooms() []*Room {
	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, room := range g.rooms {
		rooms = append(rooms, room)
	}
	g.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})

	return rooms
}

// RoomsWithSession 找出包含指定 session 的所有房間
//
// 正常情況最多一個，但斷線清理必須掃描全部以防重複加入。
// 先取 Registry 快照並釋放鎖，再逐一檢查房間。
func (g *Registry) RoomsWithSession(sessionID string) []*Room {
	var result []*Room
	for _, room := range g.Rooms() {
		if room.HasPlayer(sessionID) {
			result = append(result, room)
		}
	}
	return result
}

// Len 房間數量
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// Stats 獲取統計資訊
func (g *Registry) Stats() Stats {
	rooms := g.Rooms()

	stats := Stats{TotalRooms: len(rooms)}
	for _, room := range rooms {
		stats.TotalPlayers += room.PlayerCount()
		if room.GameStarted() {
			stats.StartedRooms++
		}
	}

	return stats
}

// generateRoomID 生成 8 位十六進位房間 ID
func generateRoomID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
