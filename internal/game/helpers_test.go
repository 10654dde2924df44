package game_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alexandreohara/pictionary-test/internal/game"
	"github.com/alexandreohara/pictionary-test/internal/testutils"
	"github.com/alexandreohara/pictionary-test/pkg/logger"
)

const (
	testWord      = "apple"
	roundDuration = 60 * time.Second
)

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

// testEnv 協調器 + 假時鐘 + 事件記錄器
type testEnv struct {
	coord    *game.Coordinator
	registry *game.Registry
	events   *testutils.EventRecorder
	clock    *testutils.FakeClock
}

func testSettings(clock *testutils.FakeClock) game.Settings {
	cfg := game.DefaultRoomConfig()
	cfg.RoundDuration = roundDuration
	return game.Settings{
		Room:     cfg,
		Clock:    clock,
		PickWord: func([]string) string { return testWord },
	}
}

func newTestEnv(t *testing.T, recorder game.Recorder, mutate ...func(*game.Settings)) *testEnv {
	t.Helper()

	clock := testutils.NewFakeClock(epoch)
	settings := testSettings(clock)
	for _, m := range mutate {
		m(&settings)
	}

	registry := game.NewRegistry(settings, logger.Discard())
	events := testutils.NewEventRecorder()
	coord := game.NewCoordinator(registry, events, recorder, logger.Discard())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = coord.Shutdown(ctx)
	})

	return &testEnv{
		coord:    coord,
		registry: registry,
		events:   events,
		clock:    clock,
	}
}

// join 讓 names 依序以 conn-<name> 加入 code
func (e *testEnv) join(t *testing.T, code string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, e.coord.Join(conn(name), code, name))
	}
}

// startedRoom 建立房間、加入並由第一位開始遊戲
func (e *testEnv) startedRoom(t *testing.T, code string, names ...string) *game.Room {
	t.Helper()
	e.join(t, code, names...)
	require.NoError(t, e.coord.StartGame(conn(names[0])))

	room, ok := e.registry.Get(code)
	require.True(t, ok)
	return room
}

// expire 讓目前回合自然到期
func (e *testEnv) expire() {
	e.clock.Advance(roundDuration)
}

func (e *testEnv) lastPayload(t *testing.T, eventType string) any {
	t.Helper()
	env, ok := e.events.Last(eventType)
	require.True(t, ok, "no %s event", eventType)
	return env.Event.Data
}

func (e *testEnv) lastFailure(t *testing.T) game.OperationFailedPayload {
	t.Helper()
	return e.lastPayload(t, game.EventOperationFailed).(game.OperationFailedPayload)
}

func conn(name string) string {
	return "conn-" + name
}

func scoreOf(scores []game.ScoreEntry, name string) int {
	for _, s := range scores {
		if s.DisplayName == name {
			return s.Score
		}
	}
	return -1
}

func participantScore(room *game.Room, name string) int {
	for _, p := range room.Snapshot().Participants {
		if p.DisplayName == name {
			return p.Score
		}
	}
	return -1
}

func drawerName(room *game.Room) string {
	for _, p := range room.Snapshot().Participants {
		if p.IsDrawer {
			return p.DisplayName
		}
	}
	return ""
}

// mockRecorder testify mock 版本的 Recorder
type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) RecordGame(ctx context.Context, result game.GameResult) error {
	args := m.Called(ctx, result)
	return args.Error(0)
}

// countingRecorder 只計算 RecordGame 的呼叫次數
type countingRecorder struct {
	calls atomic.Int64
}

func (c *countingRecorder) RecordGame(context.Context, game.GameResult) error {
	c.calls.Add(1)
	return nil
}

func (c *countingRecorder) Count() int {
	return int(c.calls.Load())
}
