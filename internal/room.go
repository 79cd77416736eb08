package internal

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	apperrors "github.com/koopa0/system-design/14-spawn-relay/pkg/errors"
)

// 系統設計問題：
//   兩位玩家在同一個房間內互相出兵，伺服器要如何保證房間狀態在併發下一致？
//
// 核心挑戰：
//   1. 併發控制：同一房間的加入、離開、出兵可能同時到達
//   2. 防刷：同一玩家短時間內大量出兵
//   3. 資源回收：最後一位玩家離開後房間必須立即消失
//   4. 記憶體上限：出兵紀錄不能無限增長
//
// 設計方案：
//   ✅ 每個房間一把 RWMutex - 房間之間完全並行
//   ✅ 冷卻檢查與更新在同一把鎖內完成 - 避免兩次出兵同時通過檢查
//   ✅ closed 標記（墓碑）- 清理與加入競爭時不會讓房間「復活」
//   ✅ 固定上限的出兵紀錄 - 超過上限淘汰最舊的

// PlayerMeta 房間內的玩家資訊
//
// 由所屬房間獨佔，只能在持有房間鎖時讀寫。
type PlayerMeta struct {
	SessionID   string    `json:"sid"`
	Name        string    `json:"name"`
	JoinedAt    time.Time `json:"joined_at"`
	LastSpawnAt time.Time `json:"-"` // 冷卻計時，零值代表從未出兵
}

// AllowSpawn 冷卻檢查
//
// 距離上次成功出兵已滿 cooldown 時回傳 true 並把 LastSpawnAt 更新為 now；
// 否則回傳 false 且不改變狀態（被拒絕的出兵不會重置計時）。
// 呼叫端必須持有房間寫鎖。
func (p *PlayerMeta) AllowSpawn(now time.Time, cooldown time.Duration) bool {
	if now.Sub(p.LastSpawnAt) < cooldown {
		return false
	}
	p.LastSpawnAt = now
	return true
}

// PlayerInfo 對外公開的玩家資訊
type PlayerInfo struct {
	SessionID string `json:"sid"`
	Name      string `json:"name"`
}

// SpawnRecord 出兵紀錄（發送方原始座標）
type SpawnRecord struct {
	From      string          `json:"from"`
	Char      json.RawMessage `json:"char"`
	X         float64         `json:"x"`
	Y         float64         `json:"y"`
	Meta      json.RawMessage `json:"meta"`
	Timestamp time.Time       `json:"ts"`
}

// Room 遊戲房間
//
// 狀態機：
//
//	Open（gameStarted=false）→ Started（gameStarted=true）→ Deleted
//
// Started 不阻擋加入與離開，也沒有「遊戲結束」狀態；房間只會因為人數歸零而消失。
//
// ID、HostSessionID、CreatedAt 建立後不再改變，可以不加鎖讀取。
// 其餘欄位全部由 mu 保護。
type Room struct {
	ID            string
	HostSessionID string // 建立者，房主離開後也不會轉移
	CreatedAt     time.Time

	mu           sync.RWMutex
	players      map[string]*PlayerMeta
	gameStarted  bool
	aiMode       bool
	history      []SpawnRecord
	historyLimit int
	closed       bool // 已從 Registry 移除（或即將移除），不再接受任何變更
}

// JoinResult 加入結果
type JoinResult struct {
	Reconnect bool         // 同一 session 重複加入（只更新名稱）
	Players   []PlayerInfo // 加入後的完整成員列表
}

// LeaveResult 離開結果
type LeaveResult struct {
	Name      string   // 離開玩家的名稱（用於通知）
	Remaining []string // 仍在房間內的 session
}

// StartResult 開始遊戲結果
type StartResult struct {
	AIMode  bool
	Members []string
}

// SpawnResult 出兵結果
type SpawnResult struct {
	Record SpawnRecord
	Others []string // 除發送者以外的成員（接收鏡像座標）
}

// RoomSnapshot 房間唯讀快照
type RoomSnapshot struct {
	ID            string
	HostSessionID string
	CreatedAt     time.Time
	Players       []PlayerInfo
	GameStarted   bool
	AIMode        bool
	LastSpawns    []SpawnRecord
}

// NewRoom 創建新房間，房主為唯一成員
func NewRoom(id, hostSessionID, hostName string, historyLimit int, now time.Time) *Room {
	r := &Room{
		ID:            id,
		HostSessionID: hostSessionID,
		CreatedAt:     now,
		players:       make(map[string]*PlayerMeta),
		historyLimit:  historyLimit,
	}
	r.players[hostSessionID] = &PlayerMeta{
		SessionID: hostSessionID,
		Name:      hostName,
		JoinedAt:  now,
	}
	return r
}

// Join 加入房間
//
// 已在房間內的 session 視為重連：原地更新名稱，不會產生重複成員。
// 已關閉的房間回傳 ROOM_NOT_FOUND（與已刪除的房間一致）。
func (r *Room) Join(sessionID, name string, now time.Time) (JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return JoinResult{}, apperrors.ErrRoomNotFound
	}

	reconnect := false
	if p, exists := r.players[sessionID]; exists {
		p.Name = name
		reconnect = true
	} else {
		r.players[sessionID] = &PlayerMeta{
			SessionID: sessionID,
			Name:      name,
			JoinedAt:  now,
		}
	}

	return JoinResult{
		Reconnect: reconnect,
		Players:   r.playerList(),
	}, nil
}

// Leave 離開房間
//
// 不在房間內時回傳 false。呼叫端在釋放房間鎖之後必須再呼叫
// Registry.DeleteIfEmpty（先房間、後 Registry，兩把鎖不會同時持有）。
func (r *Room) Leave(sessionID string) (LeaveResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.players[sessionID]
	if !exists {
		return LeaveResult{}, false
	}
	delete(r.players, sessionID)

	return LeaveResult{
		Name:      p.Name,
		Remaining: r.sessionIDs(""),
	}, true
}

// Start 開始遊戲（只有房主可以）
//
// 多人房間一律強制 aiMode=false，不理會客戶端要求。
// 重複呼叫不會改變狀態，gameStarted 一旦為 true 就不會回到 false。
func (r *Room) Start(sessionID string) (StartResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return StartResult{}, apperrors.ErrRoomNotFound
	}
	if sessionID != r.HostSessionID {
		return StartResult{}, apperrors.ErrNotHost
	}

	r.gameStarted = true
	r.aiMode = false

	return StartResult{
		AIMode:  r.aiMode,
		Members: r.sessionIDs(""),
	}, nil
}

// Spawn 紀錄一次出兵
//
// 成員檢查、冷卻檢查與寫入紀錄在同一把鎖內完成。任何失敗都不會修改房間狀態。
func (r *Room) Spawn(sessionID string, char json.RawMessage, x, y float64, meta json.RawMessage, now time.Time, cooldown time.Duration) (SpawnResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return SpawnResult{}, apperrors.ErrRoomNotFound
	}

	p, exists := r.players[sessionID]
	if !exists {
		return SpawnResult{}, apperrors.ErrNotAMember
	}

	if !p.AllowSpawn(now, cooldown) {
		return SpawnResult{}, apperrors.ErrCooldownActive
	}

	record := SpawnRecord{
		From:      sessionID,
		Char:      char,
		X:         x,
		Y:         y,
		Meta:      meta,
		Timestamp: now,
	}
	r.appendHistory(record)

	return SpawnResult{
		Record: record,
		Others: r.sessionIDs(sessionID),
	}, nil
}

// appendHistory 追加紀錄，超過上限時淘汰最舊的（需要持有寫鎖）
func (r *Room) appendHistory(record SpawnRecord) {
	if len(r.history) < r.historyLimit {
		r.history = append(r.history, record)
		return
	}
	// 原地左移，底層陣列大小固定為上限
	copy(r.history, r.history[1:])
	r.history[len(r.history)-1] = record
}

// Snapshot 取得唯讀快照，最多包含最近 recent 筆出兵紀錄
func (r *Room) Snapshot(recent int) RoomSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start := len(r.history) - recent
	if start < 0 || recent < 0 {
		start = 0
	}
	spawns := make([]SpawnRecord, len(r.history)-start)
	copy(spawns, r.history[start:])

	return RoomSnapshot{
		ID:            r.ID,
		HostSessionID: r.HostSessionID,
		CreatedAt:     r.CreatedAt,
		Players:       r.playerList(),
		GameStarted:   r.gameStarted,
		AIMode:        r.aiMode,
		LastSpawns:    spawns,
	}
}

// HasPlayer 檢查 session 是否在房間內
func (r *Room) HasPlayer(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.players[sessionID]
	return exists
}

// Player 取得玩家資訊副本
func (r *Room) Player(sessionID string) (PlayerMeta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, exists := r.players[sessionID]
	if !exists {
		return PlayerMeta{}, false
	}
	return *p, true
}

// PlayerCount 獲取玩家數量
func (r *Room) PlayerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

// HistoryLen 目前保留的出兵紀錄數
func (r *Room) HistoryLen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.history)
}

// GameStarted 遊戲是否已開始
func (r *Room) GameStarted() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gameStarted
}

// Closed 房間是否已關閉
func (r *Room) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// closeIfEmpty 人數為零時關閉房間（DeleteIfEmpty 的第一階段）
//
// 關閉後 Join 一律失敗，所以第二階段從 Registry 移除時不必再持有房間鎖。
func (r *Room) closeIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.players) > 0 {
		return false
	}
	r.closed = true
	return true
}

// playerList 依加入時間排序的成員列表（需要持有鎖）
func (r *Room) playerList() []PlayerInfo {
	players := make([]*PlayerMeta, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].JoinedAt.Equal(players[j].JoinedAt) {
			return players[i].SessionID < players[j].SessionID
		}
		return players[i].JoinedAt.Before(players[j].JoinedAt)
	})

	result := make([]PlayerInfo, len(players))
	for i, p := range players {
		result[i] = PlayerInfo{SessionID: p.SessionID, Name: p.Name}
	}
	return result
}

// sessionIDs 成員 session 列表，排除 exclude（需要持有鎖）
func (r *Room) sessionIDs(exclude string) []string {
	ids := make([]string, 0, len(r.players))
	for id := range r.players {
		if id != exclude {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
