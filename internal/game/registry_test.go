package game_test

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexandreohara/pictionary-test/internal/game"
	"github.com/alexandreohara/pictionary-test/internal/testutils"
	apperrors "github.com/alexandreohara/pictionary-test/pkg/errors"
	"github.com/alexandreohara/pictionary-test/pkg/logger"
)

func newTestRegistry(t *testing.T, mutate ...func(*game.Settings)) (*game.Registry, *testutils.FakeClock) {
	t.Helper()

	clock := testutils.NewFakeClock(epoch)
	settings := testSettings(clock)
	for _, m := range mutate {
		m(&settings)
	}

	reg := game.NewRegistry(settings, logger.Discard())
	t.Cleanup(reg.Close)
	return reg, clock
}

func TestRegistry_JoinOrCreate(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(t *testing.T, reg *game.Registry)
		code     string
		display  string
		connID   string
		wantCode string
		validate func(t *testing.T, reg *game.Registry, res *game.JoinResult, err error)
	}{
		{
			name:    "lazily creates missing room with normalized code",
			code:    "  abc123 ",
			display: "alice",
			connID:  "c1",
			validate: func(t *testing.T, reg *game.Registry, res *game.JoinResult, err error) {
				require.NoError(t, err)
				assert.True(t, res.Created)
				assert.Equal(t, "ABC123", res.RoomCode)
				assert.True(t, res.Participant.IsHost)
				assert.Equal(t, game.PhaseWaiting, res.Phase)
				assert.Empty(t, res.Others)

				_, ok := reg.Get("abc123")
				assert.True(t, ok)
			},
		},
		{
			name: "second joiner sees the first",
			setup: func(t *testing.T, reg *game.Registry) {
				_, _, err := reg.JoinOrCreate("ROOM1", "alice", "c1")
				require.NoError(t, err)
			},
			code:    "room1",
			display: "bob",
			connID:  "c2",
			validate: func(t *testing.T, reg *game.Registry, res *game.JoinResult, err error) {
				require.NoError(t, err)
				assert.False(t, res.Created)
				assert.False(t, res.Participant.IsHost)
				assert.Len(t, res.Participants, 2)
				assert.Equal(t, []string{"c1"}, res.Others)
				assert.Equal(t, 0, res.Participant.Score)
				assert.False(t, res.Participant.IsDrawer)
			},
		},
		{
			name: "name taken leaves membership unchanged",
			setup: func(t *testing.T, reg *game.Registry) {
				_, _, err := reg.JoinOrCreate("ROOM1", "alice", "c1")
				require.NoError(t, err)
			},
			code:    "ROOM1",
			display: "alice",
			connID:  "c2",
			validate: func(t *testing.T, reg *game.Registry, res *game.JoinResult, err error) {
				assert.ErrorIs(t, err, apperrors.ErrNameTaken)
				room, ok := reg.Get("ROOM1")
				require.True(t, ok)
				assert.Equal(t, 1, room.ParticipantCount())

				_, resolved := reg.Resolve("c2")
				assert.False(t, resolved)
			},
		},
		{
			name: "display names are case sensitive",
			setup: func(t *testing.T, reg *game.Registry) {
				_, _, err := reg.JoinOrCreate("ROOM1", "alice", "c1")
				require.NoError(t, err)
			},
			code:    "ROOM1",
			display: "Alice",
			connID:  "c2",
			validate: func(t *testing.T, reg *game.Registry, res *game.JoinResult, err error) {
				require.NoError(t, err)
			},
		},
		{
			name: "same connection cannot join twice",
			setup: func(t *testing.T, reg *game.Registry) {
				_, _, err := reg.JoinOrCreate("ROOM1", "alice", "c1")
				require.NoError(t, err)
			},
			code:    "ROOM2",
			display: "alice",
			connID:  "c1",
			validate: func(t *testing.T, reg *game.Registry, res *game.JoinResult, err error) {
				assert.ErrorIs(t, err, apperrors.ErrInvalidState)
				_, ok := reg.Get("ROOM2")
				assert.False(t, ok, "rejected lazy room must not linger")
			},
		},
		{
			name:    "empty display name",
			code:    "ROOM1",
			display: "   ",
			connID:  "c1",
			validate: func(t *testing.T, reg *game.Registry, res *game.JoinResult, err error) {
				assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
				assert.Zero(t, reg.Stats().Rooms)
			},
		},
		{
			name:    "display name too long",
			code:    "ROOM1",
			display: strings.Repeat("字", game.MaxDisplayNameLength+1),
			connID:  "c1",
			validate: func(t *testing.T, reg *game.Registry, res *game.JoinResult, err error) {
				assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
			},
		},
		{
			name:    "non alphanumeric code",
			code:    "ab-12",
			display: "alice",
			connID:  "c1",
			validate: func(t *testing.T, reg *game.Registry, res *game.JoinResult, err error) {
				assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
			},
		},
		{
			name:    "empty code",
			code:    "",
			display: "alice",
			connID:  "c1",
			validate: func(t *testing.T, reg *game.Registry, res *game.JoinResult, err error) {
				assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, _ := newTestRegistry(t)
			if tt.setup != nil {
				tt.setup(t, reg)
			}

			_, res, err := reg.JoinOrCreate(tt.code, tt.display, tt.connID)
			tt.validate(t, reg, res, err)
		})
	}
}

func TestRegistry_Capacity(t *testing.T) {
	reg, _ := newTestRegistry(t)

	for i := range 4 {
		_, _, err := reg.JoinOrCreate("FULL", fmt.Sprintf("p%d", i), fmt.Sprintf("c%d", i))
		require.NoError(t, err)
	}

	_, _, err := reg.JoinOrCreate("FULL", "p4", "c4")
	assert.ErrorIs(t, err, apperrors.ErrRoomFull)

	room, ok := reg.Get("FULL")
	require.True(t, ok)
	assert.Equal(t, 4, room.ParticipantCount())

	// 名稱衝突優先於人數已滿
	_, _, err = reg.JoinOrCreate("FULL", "p0", "c5")
	assert.ErrorIs(t, err, apperrors.ErrNameTaken)
}

func TestRegistry_ConcurrentJoinsNeverExceedCapacity(t *testing.T) {
	reg, _ := newTestRegistry(t)

	const joiners = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		full     int
	)

	for i := range joiners {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := reg.JoinOrCreate("RACE", fmt.Sprintf("p%d", i), fmt.Sprintf("c%d", i))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case apperrors.CodeOf(err) == apperrors.ErrCodeRoomFull:
				full++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 4, accepted)
	assert.Equal(t, joiners-4, full)

	room, ok := reg.Get("RACE")
	require.True(t, ok)
	assert.Equal(t, 4, room.ParticipantCount())
}

func TestRegistry_CreateRoom(t *testing.T) {
	t.Run("retries on collision", func(t *testing.T) {
		codes := []string{"AAAAAA", "AAAAAA", "bbbbbb"}
		next := 0
		reg, _ := newTestRegistry(t, func(s *game.Settings) {
			s.Codes = game.CodeFunc(func() string {
				code := codes[next%len(codes)]
				next++
				return code
			})
		})

		first, err := reg.CreateRoom()
		require.NoError(t, err)
		assert.Equal(t, "AAAAAA", first)

		second, err := reg.CreateRoom()
		require.NoError(t, err)
		assert.Equal(t, "BBBBBB", second)

		assert.Equal(t, 2, reg.Stats().Rooms)
	})

	t.Run("gives up when no free code", func(t *testing.T) {
		reg, _ := newTestRegistry(t, func(s *game.Settings) {
			s.Codes = game.CodeFunc(func() string { return "SAME01" })
		})

		_, err := reg.CreateRoom()
		require.NoError(t, err)

		_, err = reg.CreateRoom()
		assert.ErrorIs(t, err, apperrors.ErrInternal)
		assert.Equal(t, 1, reg.Stats().Rooms)
	})

	t.Run("skips invalid generated codes", func(t *testing.T) {
		calls := 0
		reg, _ := newTestRegistry(t, func(s *game.Settings) {
			s.Codes = game.CodeFunc(func() string {
				calls++
				if calls == 1 {
					return "??????"
				}
				return "GOOD01"
			})
		})

		code, err := reg.CreateRoom()
		require.NoError(t, err)
		assert.Equal(t, "GOOD01", code)
	})

	t.Run("created room is empty and waiting", func(t *testing.T) {
		reg, _ := newTestRegistry(t)

		code, err := reg.CreateRoom()
		require.NoError(t, err)
		assert.Regexp(t, codePattern, code)

		room, ok := reg.Get(code)
		require.True(t, ok)
		snap := room.Snapshot()
		assert.Equal(t, game.PhaseWaiting, snap.Phase)
		assert.Zero(t, snap.Round)
		assert.Empty(t, snap.Participants)
		assert.False(t, snap.GameStarted)
	})
}

func TestRegistry_ConcurrentCreateRoomCodesAreUnique(t *testing.T) {
	reg, _ := newTestRegistry(t, func(s *game.Settings) {
		s.Codes = game.RandomCodes{}
	})

	const n = 200
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = make(map[string]struct{}, n)
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, err := reg.CreateRoom()
			assert.NoError(t, err)

			mu.Lock()
			codes[code] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, codes, n)
	assert.Equal(t, n, reg.Stats().Rooms)
}

func TestRegistry_LeaveDeletesEmptyRoomAndCancelsTimer(t *testing.T) {
	reg, clock := newTestRegistry(t)

	room, _, err := reg.JoinOrCreate("GONE", "alice", "c1")
	require.NoError(t, err)
	_, _, err = reg.JoinOrCreate("GONE", "bob", "c2")
	require.NoError(t, err)

	_, err = room.Start("c1")
	require.NoError(t, err)
	assert.NotZero(t, clock.Pending())

	_, res, ok := reg.Leave("c1")
	require.True(t, ok)
	assert.False(t, res.Empty)

	_, res, ok = reg.Leave("c2")
	require.True(t, ok)
	assert.True(t, res.Empty)

	_, exists := reg.Get("GONE")
	assert.False(t, exists)
	assert.Zero(t, clock.Pending())
	assert.Zero(t, reg.Stats().Rooms)

	// 已刪除房間的遲到回呼不會改變狀態
	phase := room.Phase()
	clock.Advance(roundDuration)
	assert.Equal(t, phase, room.Phase())

	_, _, ok = reg.Leave("c2")
	assert.False(t, ok)
}

func TestRegistry_TimerWithoutListenerStillEndsRound(t *testing.T) {
	reg, clock := newTestRegistry(t)

	room, _, err := reg.JoinOrCreate("SOLO", "alice", "c1")
	require.NoError(t, err)
	_, _, err = reg.JoinOrCreate("SOLO", "bob", "c2")
	require.NoError(t, err)

	_, err = room.Start("c1")
	require.NoError(t, err)

	clock.Advance(roundDuration)
	assert.Equal(t, game.PhaseRoundOver, room.Phase())
}

func TestRegistry_Stats(t *testing.T) {
	reg, _ := newTestRegistry(t)

	started, _, err := reg.JoinOrCreate("ONE", "alice", "c1")
	require.NoError(t, err)
	_, _, err = reg.JoinOrCreate("ONE", "bob", "c2")
	require.NoError(t, err)
	_, err = started.Start("c1")
	require.NoError(t, err)

	_, _, err = reg.JoinOrCreate("TWO", "carol", "c3")
	require.NoError(t, err)
	_, _, err = reg.JoinOrCreate("TWO", "dave", "c4")
	require.NoError(t, err)

	stats := reg.Stats()
	assert.Equal(t, 2, stats.Rooms)
	assert.Equal(t, 4, stats.Participants)
	assert.Equal(t, 1, stats.ByPhase[game.PhaseWaiting])
	assert.Equal(t, 1, stats.ByPhase[game.PhaseInRound])
	assert.Equal(t, 1, stats.ActiveTimers)
}

func TestRegistry_Close(t *testing.T) {
	reg, clock := newTestRegistry(t)

	room, _, err := reg.JoinOrCreate("SHUT", "alice", "c1")
	require.NoError(t, err)
	_, _, err = reg.JoinOrCreate("SHUT", "bob", "c2")
	require.NoError(t, err)
	_, err = room.Start("c1")
	require.NoError(t, err)

	reg.Close()

	assert.Zero(t, clock.Pending())
	assert.Zero(t, reg.Stats().Rooms)
	_, ok := reg.Resolve("c1")
	assert.False(t, ok)
	assert.False(t, room.TimerActive())

	// 關閉前拿到的房間指標不能再改變狀態
	_, err = room.Advance("c1")
	assert.Equal(t, apperrors.ErrCodeRoomNotFound, apperrors.CodeOf(err))
	_, err = room.RelayStrokes("c1", []json.RawMessage{json.RawMessage(`{"x":1}`)})
	assert.Equal(t, apperrors.ErrCodeRoomNotFound, apperrors.CodeOf(err))
	_, err = room.SubmitGuess("c2", "apple")
	assert.Equal(t, apperrors.ErrCodeRoomNotFound, apperrors.CodeOf(err))
	_, err = room.ClearCanvas("c1")
	assert.Equal(t, apperrors.ErrCodeRoomNotFound, apperrors.CodeOf(err))
}

func TestRegistry_StartAfterClose(t *testing.T) {
	reg, clock := newTestRegistry(t)

	room, _, err := reg.JoinOrCreate("LATE", "alice", "c1")
	require.NoError(t, err)
	_, _, err = reg.JoinOrCreate("LATE", "bob", "c2")
	require.NoError(t, err)

	reg.Close()

	_, err = room.Start("c1")
	assert.Equal(t, apperrors.ErrCodeRoomNotFound, apperrors.CodeOf(err))
	assert.Zero(t, clock.Pending())
	assert.Equal(t, game.PhaseWaiting, room.Phase())
}

func BenchmarkRegistry_Resolve(b *testing.B) {
	reg := game.NewRegistry(game.Settings{}, logger.Discard())
	defer reg.Close()

	for i := range 1000 {
		_, _, err := reg.JoinOrCreate(fmt.Sprintf("R%d", i/4), fmt.Sprintf("p%d", i), fmt.Sprintf("c%d", i))
		if err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			reg.Resolve(fmt.Sprintf("c%d", i%1000))
			i++
		}
	})
}
