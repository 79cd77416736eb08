package internal_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-spawn-relay/internal"
	apperrors "github.com/koopa0/system-design/14-spawn-relay/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

var knight = json.RawMessage(`"knight"`)

func newTestRoom(historyLimit int) *internal.Room {
	return internal.NewRoom("room0001", "host", "Alice", historyLimit, baseTime)
}

// TestNewRoom 測試創建新房間
func TestNewRoom(t *testing.T) {
	room := newTestRoom(200)

	require.NotNil(t, room)
	assert.Equal(t, "room0001", room.ID)
	assert.Equal(t, "host", room.HostSessionID)
	assert.Equal(t, baseTime, room.CreatedAt)
	assert.Equal(t, 1, room.PlayerCount())
	assert.True(t, room.HasPlayer("host"))
	assert.False(t, room.GameStarted())
	assert.False(t, room.Closed())

	p, ok := room.Player("host")
	require.True(t, ok)
	assert.Equal(t, "Alice", p.Name)
	assert.True(t, p.LastSpawnAt.IsZero())
}

// TestPlayerMeta_AllowSpawn 測試出兵冷卻
func TestPlayerMeta_AllowSpawn(t *testing.T) {
	cooldown := 500 * time.Millisecond

	tests := []struct {
		name     string
		last     time.Time
		now      time.Time
		cooldown time.Duration
		allowed  bool
		wantLast time.Time
	}{
		{
			name:     "never spawned",
			last:     time.Time{},
			now:      baseTime,
			cooldown: cooldown,
			allowed:  true,
			wantLast: baseTime,
		},
		{
			name:     "within cooldown",
			last:     baseTime,
			now:      baseTime.Add(100 * time.Millisecond),
			cooldown: cooldown,
			allowed:  false,
			wantLast: baseTime,
		},
		{
			name:     "exactly at cooldown",
			last:     baseTime,
			now:      baseTime.Add(cooldown),
			cooldown: cooldown,
			allowed:  true,
			wantLast: baseTime.Add(cooldown),
		},
		{
			name:     "zero cooldown",
			last:     baseTime,
			now:      baseTime,
			cooldown: 0,
			allowed:  true,
			wantLast: baseTime,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &internal.PlayerMeta{SessionID: "s1", LastSpawnAt: tt.last}

			assert.Equal(t, tt.allowed, p.AllowSpawn(tt.now, tt.cooldown))
			assert.Equal(t, tt.wantLast, p.LastSpawnAt)
		})
	}
}

// TestPlayerMeta_RejectedSpawnDoesNotResetTimer 被拒絕的出兵不會延長冷卻
func TestPlayerMeta_RejectedSpawnDoesNotResetTimer(t *testing.T) {
	p := &internal.PlayerMeta{SessionID: "s1"}
	cooldown := 500 * time.Millisecond

	require.True(t, p.AllowSpawn(baseTime, cooldown))
	require.False(t, p.AllowSpawn(baseTime.Add(400*time.Millisecond), cooldown))

	// 以第一次成功的時間計算，而不是被拒絕的那次
	assert.True(t, p.AllowSpawn(baseTime.Add(500*time.Millisecond), cooldown))
}

// TestRoom_Join 測試加入房間
func TestRoom_Join(t *testing.T) {
	t.Run("new player", func(t *testing.T) {
		room := newTestRoom(200)

		result, err := room.Join("guest", "Bob", baseTime.Add(time.Second))
		require.NoError(t, err)

		assert.False(t, result.Reconnect)
		assert.Equal(t, []internal.PlayerInfo{
			{SessionID: "host", Name: "Alice"},
			{SessionID: "guest", Name: "Bob"},
		}, result.Players)
		assert.Equal(t, 2, room.PlayerCount())
	})

	t.Run("reconnect updates name", func(t *testing.T) {
		room := newTestRoom(200)

		_, err := room.Join("guest", "Bob", baseTime.Add(time.Second))
		require.NoError(t, err)

		result, err := room.Join("guest", "Bobby", baseTime.Add(2*time.Second))
		require.NoError(t, err)

		assert.True(t, result.Reconnect)
		assert.Equal(t, 2, room.PlayerCount())

		p, ok := room.Player("guest")
		require.True(t, ok)
		assert.Equal(t, "Bobby", p.Name)
		// 加入時間不變
		assert.Equal(t, baseTime.Add(time.Second), p.JoinedAt)
	})

	t.Run("host rejoins", func(t *testing.T) {
		room := newTestRoom(200)

		result, err := room.Join("host", "Alice2", baseTime.Add(time.Second))
		require.NoError(t, err)

		assert.True(t, result.Reconnect)
		assert.Equal(t, 1, room.PlayerCount())
	})
}

// TestRoom_Leave 測試離開房間
func TestRoom_Leave(t *testing.T) {
	room := newTestRoom(200)
	_, err := room.Join("guest", "Bob", baseTime)
	require.NoError(t, err)

	result, ok := room.Leave("guest")
	require.True(t, ok)
	assert.Equal(t, "Bob", result.Name)
	assert.Equal(t, []string{"host"}, result.Remaining)

	// 重複離開
	_, ok = room.Leave("guest")
	assert.False(t, ok)

	result, ok = room.Leave("host")
	require.True(t, ok)
	assert.Empty(t, result.Remaining)
	assert.Equal(t, 0, room.PlayerCount())

	// 房主離開後不會轉移
	assert.Equal(t, "host", room.HostSessionID)
}

// TestRoom_Start 測試開始遊戲
func TestRoom_Start(t *testing.T) {
	tests := []struct {
		name      string
		sessionID string
		wantErr   error
	}{
		{name: "host starts", sessionID: "host"},
		{name: "guest cannot start", sessionID: "guest", wantErr: apperrors.ErrNotHost},
		{name: "stranger cannot start", sessionID: "stranger", wantErr: apperrors.ErrNotHost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room := newTestRoom(200)
			_, err := room.Join("guest", "Bob", baseTime)
			require.NoError(t, err)

			result, err := room.Start(tt.sessionID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.False(t, room.GameStarted())
				return
			}

			require.NoError(t, err)
			assert.False(t, result.AIMode)
			assert.Equal(t, []string{"guest", "host"}, result.Members)
			assert.True(t, room.GameStarted())
		})
	}

	t.Run("repeat start", func(t *testing.T) {
		room := newTestRoom(200)

		_, err := room.Start("host")
		require.NoError(t, err)
		_, err = room.Start("host")
		require.NoError(t, err)

		assert.True(t, room.GameStarted())
	})
}

// TestRoom_Spawn 測試出兵
func TestRoom_Spawn(t *testing.T) {
	meta := json.RawMessage(`{"lane":1}`)
	cooldown := 500 * time.Millisecond

	t.Run("member spawns", func(t *testing.T) {
		room := newTestRoom(200)
		_, err := room.Join("guest", "Bob", baseTime)
		require.NoError(t, err)

		result, err := room.Spawn("guest", knight, 100, 600, meta, baseTime, cooldown)
		require.NoError(t, err)

		assert.Equal(t, []string{"host"}, result.Others)
		assert.Equal(t, internal.SpawnRecord{
			From:      "guest",
			Char:      knight,
			X:         100,
			Y:         600,
			Meta:      meta,
			Timestamp: baseTime,
		}, result.Record)
		assert.Equal(t, 1, room.HistoryLen())
	})

	t.Run("alone in room", func(t *testing.T) {
		room := newTestRoom(200)

		result, err := room.Spawn("host", knight, 0, 0, meta, baseTime, cooldown)
		require.NoError(t, err)
		assert.Empty(t, result.Others)
	})

	t.Run("not a member", func(t *testing.T) {
		room := newTestRoom(200)

		_, err := room.Spawn("stranger", knight, 0, 0, meta, baseTime, cooldown)
		assert.ErrorIs(t, err, apperrors.ErrNotAMember)
		assert.Equal(t, 0, room.HistoryLen())
	})

	t.Run("cooldown", func(t *testing.T) {
		room := newTestRoom(200)

		_, err := room.Spawn("host", knight, 0, 0, meta, baseTime, cooldown)
		require.NoError(t, err)

		_, err = room.Spawn("host", knight, 0, 0, meta, baseTime.Add(200*time.Millisecond), cooldown)
		assert.ErrorIs(t, err, apperrors.ErrCooldownActive)
		assert.Equal(t, 1, room.HistoryLen())

		_, err = room.Spawn("host", knight, 0, 0, meta, baseTime.Add(cooldown), cooldown)
		require.NoError(t, err)
		assert.Equal(t, 2, room.HistoryLen())
	})

	t.Run("cooldown is per player", func(t *testing.T) {
		room := newTestRoom(200)
		_, err := room.Join("guest", "Bob", baseTime)
		require.NoError(t, err)

		_, err = room.Spawn("host", knight, 0, 0, meta, baseTime, cooldown)
		require.NoError(t, err)
		_, err = room.Spawn("guest", knight, 0, 0, meta, baseTime, cooldown)
		require.NoError(t, err)
	})
}

// TestRoom_HistoryLimit 超過上限時淘汰最舊的紀錄
func TestRoom_HistoryLimit(t *testing.T) {
	const limit = 200
	room := newTestRoom(limit)

	for i := 0; i < 250; i++ {
		_, err := room.Spawn("host", knight, float64(i), 0, json.RawMessage(`{}`), baseTime.Add(time.Duration(i)*time.Second), 0)
		require.NoError(t, err)
	}

	assert.Equal(t, limit, room.HistoryLen())

	snapshot := room.Snapshot(-1)
	require.Len(t, snapshot.LastSpawns, limit)
	assert.Equal(t, float64(50), snapshot.LastSpawns[0].X)
	assert.Equal(t, float64(249), snapshot.LastSpawns[limit-1].X)
}

// TestRoom_Snapshot 測試快照
func TestRoom_Snapshot(t *testing.T) {
	room := newTestRoom(200)
	_, err := room.Join("guest", "Bob", baseTime.Add(time.Second))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := room.Spawn("host", knight, float64(i), 0, json.RawMessage(`{}`), baseTime.Add(time.Duration(i)*time.Second), 0)
		require.NoError(t, err)
	}

	tests := []struct {
		name   string
		recent int
		wantXs []float64
	}{
		{name: "no spawns", recent: 0, wantXs: []float64{}},
		{name: "last two", recent: 2, wantXs: []float64{3, 4}},
		{name: "more than available", recent: 30, wantXs: []float64{0, 1, 2, 3, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot := room.Snapshot(tt.recent)

			assert.Equal(t, "room0001", snapshot.ID)
			assert.Equal(t, "host", snapshot.HostSessionID)
			assert.Len(t, snapshot.Players, 2)
			assert.False(t, snapshot.GameStarted)

			xs := make([]float64, 0, len(snapshot.LastSpawns))
			for _, s := range snapshot.LastSpawns {
				xs = append(xs, s.X)
			}
			assert.Equal(t, tt.wantXs, xs)
		})
	}

	t.Run("snapshot is a copy", func(t *testing.T) {
		snapshot := room.Snapshot(5)
		snapshot.LastSpawns[0].X = 999
		snapshot.Players[0].Name = "changed"

		again := room.Snapshot(5)
		assert.Equal(t, float64(0), again.LastSpawns[0].X)
		assert.Equal(t, "Alice", again.Players[0].Name)
	})
}
