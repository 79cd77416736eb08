package internal_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-spawn-relay/internal"
	apperrors "github.com/koopa0/system-design/14-spawn-relay/pkg/errors"
	"github.com/koopa0/system-design/14-spawn-relay/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *internal.Registry {
	return internal.NewRegistry(internal.DefaultSettings(), logger.Discard())
}

// TestRegistry_Create 測試創建房間
func TestRegistry_Create(t *testing.T) {
	registry := newTestRegistry()
	registry.SetClock(func() time.Time { return baseTime })

	room := registry.Create("host", "Alice")

	require.NotNil(t, room)
	assert.Len(t, room.ID, 8)
	assert.Regexp(t, "^[0-9a-f]{8}$", room.ID)
	assert.Equal(t, "host", room.HostSessionID)
	assert.Equal(t, baseTime, room.CreatedAt)
	assert.Equal(t, 1, registry.Len())

	got, err := registry.Get(room.ID)
	require.NoError(t, err)
	assert.Same(t, room, got)
}

// TestRegistry_CreateRetriesOnCollision ID 衝突時重新產生
func TestRegistry_CreateRetriesOnCollision(t *testing.T) {
	registry := newTestRegistry()

	ids := []string{"aaaaaaaa", "aaaaaaaa", "aaaaaaaa", "bbbbbbbb"}
	next := 0
	registry.SetIDGenerator(func() string {
		id := ids[next]
		next++
		return id
	})

	first := registry.Create("s1", "A")
	second := registry.Create("s2", "B")

	assert.Equal(t, "aaaaaaaa", first.ID)
	assert.Equal(t, "bbbbbbbb", second.ID)
	assert.Equal(t, 2, registry.Len())

	// 原本的房間沒有被覆蓋
	got, err := registry.Get("aaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.HostSessionID)
}

// TestRegistry_Get 測試查詢房間
func TestRegistry_Get(t *testing.T) {
	registry := newTestRegistry()

	_, err := registry.Get("missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrRoomNotFound)
	assert.True(t, apperrors.IsRoomNotFound(err))
}

// TestRegistry_DeleteIfEmpty 測試空房間清理
func TestRegistry_DeleteIfEmpty(t *testing.T) {
	t.Run("non-empty room is kept", func(t *testing.T) {
		registry := newTestRegistry()
		room := registry.Create("host", "Alice")

		assert.False(t, registry.DeleteIfEmpty(room.ID))
		assert.Equal(t, 1, registry.Len())
		assert.False(t, room.Closed())
	})

	t.Run("empty room is removed", func(t *testing.T) {
		registry := newTestRegistry()
		room := registry.Create("host", "Alice")
		_, ok := room.Leave("host")
		require.True(t, ok)

		assert.True(t, registry.DeleteIfEmpty(room.ID))
		assert.Equal(t, 0, registry.Len())
		assert.True(t, room.Closed())

		_, err := registry.Get(room.ID)
		assert.ErrorIs(t, err, apperrors.ErrRoomNotFound)
	})

	t.Run("idempotent", func(t *testing.T) {
		registry := newTestRegistry()
		room := registry.Create("host", "Alice")
		room.Leave("host")

		assert.True(t, registry.DeleteIfEmpty(room.ID))
		assert.False(t, registry.DeleteIfEmpty(room.ID))
		assert.False(t, registry.DeleteIfEmpty("missing"))
	})

	t.Run("closed room rejects changes", func(t *testing.T) {
		registry := newTestRegistry()
		room := registry.Create("host", "Alice")
		room.Leave("host")
		require.True(t, registry.DeleteIfEmpty(room.ID))

		// 持有舊指標的呼叫者不能讓房間復活
		_, err := room.Join("guest", "Bob", baseTime)
		assert.ErrorIs(t, err, apperrors.ErrRoomNotFound)
		assert.Equal(t, 0, room.PlayerCount())

		_, err = room.Start("host")
		assert.ErrorIs(t, err, apperrors.ErrRoomNotFound)
	})
}

// TestRegistry_RoomsWithSession 測試依 session 查詢房間
func TestRegistry_RoomsWithSession(t *testing.T) {
	registry := newTestRegistry()
	r1 := registry.Create("s1", "A")
	registry.Create("s2", "B")
	_, err := r1.Join("s3", "C", baseTime)
	require.NoError(t, err)

	rooms := registry.RoomsWithSession("s3")
	require.Len(t, rooms, 1)
	assert.Equal(t, r1.ID, rooms[0].ID)

	assert.Empty(t, registry.RoomsWithSession("nobody"))
}

// TestRegistry_Stats 測試統計
func TestRegistry_Stats(t *testing.T) {
	registry := newTestRegistry()
	r1 := registry.Create("s1", "A")
	registry.Create("s2", "B")
	_, err := r1.Join("s3", "C", baseTime)
	require.NoError(t, err)
	_, err = r1.Start("s1")
	require.NoError(t, err)

	assert.Equal(t, internal.Stats{
		TotalRooms:   2,
		TotalPlayers: 3,
		StartedRooms: 1,
	}, registry.Stats())
}

// TestRegistry_Rooms 依建立時間排序
func TestRegistry_Rooms(t *testing.T) {
	registry := newTestRegistry()

	clock := baseTime
	registry.SetClock(func() time.Time { return clock })

	var ids []string
	for i := 0; i < 5; i++ {
		clock = baseTime.Add(time.Duration(i) * time.Second)
		ids = append(ids, registry.Create(fmt.Sprintf("s%d", i), "P").ID)
	}

	rooms := registry.Rooms()
	require.Len(t, rooms, 5)
	for i, room := range rooms {
		assert.Equal(t, ids[i], room.ID)
	}
}

// TestRegistry_JoinRacesCleanup 加入與清理競爭時，房間要嘛保留並有成員，要嘛消失且加入失敗
func TestRegistry_JoinRacesCleanup(t *testing.T) {
	registry := newTestRegistry()

	for i := 0; i < 500; i++ {
		room := registry.Create("host", "Alice")
		roomID := room.ID
		room.Leave("host")

		var (
			wg      sync.WaitGroup
			joinErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			registry.DeleteIfEmpty(roomID)
		}()
		go func() {
			defer wg.Done()
			r, err := registry.Get(roomID)
			if err != nil {
				joinErr = err
				return
			}
			_, joinErr = r.Join("guest", "Bob", baseTime)
		}()
		wg.Wait()

		got, getErr := registry.Get(roomID)
		if joinErr == nil {
			require.NoError(t, getErr, "joined room must stay registered")
			assert.True(t, got.HasPlayer("guest"))
			assert.False(t, got.Closed())

			got.Leave("guest")
			require.True(t, registry.DeleteIfEmpty(roomID))
		} else {
			assert.ErrorIs(t, joinErr, apperrors.ErrRoomNotFound)
			assert.ErrorIs(t, getErr, apperrors.ErrRoomNotFound)
		}
	}

	assert.Equal(t, 0, registry.Len())
}
