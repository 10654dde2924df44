package internal_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexandreohara/pictionary-test/internal"
	"github.com/alexandreohara/pictionary-test/internal/game"
	"github.com/alexandreohara/pictionary-test/internal/testutils"
	apperrors "github.com/alexandreohara/pictionary-test/pkg/errors"
	"github.com/alexandreohara/pictionary-test/pkg/logger"
)

// wsEvent 出站事件
type wsEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type wsServer struct {
	server *httptest.Server
	hub    *internal.WebSocketHub
	coord  *game.Coordinator
	clock  *testutils.FakeClock
}

func newWSServer(t *testing.T, mutate ...func(*internal.HubConfig)) *wsServer {
	t.Helper()

	clock := testutils.NewFakeClock(time.Now())
	settings := game.Settings{
		Room:     game.DefaultRoomConfig(),
		Clock:    clock,
		PickWord: func([]string) string { return "apple" },
	}

	cfg := internal.DefaultHubConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	hub := internal.NewWebSocketHub(cfg, logger.Discard())
	coord := game.NewCoordinator(game.NewRegistry(settings, logger.Discard()), hub, nil, logger.Discard())
	hub.SetHandler(coord)

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		hub.Stop()
		server.Close()
		_ = coord.Shutdown(context.Background())
	})

	return &wsServer{server: server, hub: hub, coord: coord, clock: clock}
}

func (s *wsServer) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(s.server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, data any) {
	t.Helper()

	msg := map[string]any{"type": msgType}
	if data != nil {
		msg["data"] = data
	}
	require.NoError(t, conn.WriteJSON(msg))
}

// readUntil 讀到指定事件為止，略過其他事件
func readUntil(t *testing.T, conn *websocket.Conn, event string) wsEvent {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var ev wsEvent
		require.NoError(t, conn.ReadJSON(&ev), "waiting for %s", event)
		if ev.Event == event {
			return ev
		}
	}
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestWebSocket_JoinAndPlay(t *testing.T) {
	srv := newWSServer(t)

	alice := srv.dial(t, nil)
	send(t, alice, internal.MsgJoin, map[string]string{"room_code": "abc123", "display_name": "alice"})

	joined := decode[game.JoinedPayload](t, readUntil(t, alice, game.EventJoined).Data)
	assert.Equal(t, "ABC123", joined.RoomCode)
	assert.Equal(t, "alice", joined.Participant.DisplayName)
	assert.True(t, joined.Participant.IsHost)

	bob := srv.dial(t, nil)
	send(t, bob, internal.MsgJoin, map[string]string{"room_code": "ABC123", "display_name": "bob"})
	readUntil(t, bob, game.EventJoined)

	newcomer := decode[game.ParticipantJoinedPayload](t, readUntil(t, alice, game.EventParticipantJoined).Data)
	assert.Equal(t, "bob", newcomer.Participant.DisplayName)

	send(t, alice, internal.MsgStartGame, nil)
	assignment := decode[game.DrawingAssignmentPayload](t, readUntil(t, alice, game.EventDrawingAssignment).Data)
	assert.Equal(t, "apple", assignment.Word)

	started := decode[game.RoundStartedPayload](t, readUntil(t, bob, game.EventRoundStarted).Data)
	assert.Equal(t, "alice", started.DrawerName)
	assert.Equal(t, 1, started.Round)

	send(t, alice, internal.MsgStrokeRelay, map[string]any{
		"strokes": []map[string]any{{"x": 10, "y": 20, "phase": "start", "color": "#000"}},
	})
	relay := readUntil(t, bob, game.EventStrokeRelay)
	assert.JSONEq(t, `{"strokes":[{"x":10,"y":20,"phase":"start","color":"#000"}]}`, string(relay.Data))

	send(t, bob, internal.MsgGuess, map[string]string{"text": " Apple "})
	feedback := decode[game.GuessFeedbackPayload](t, readUntil(t, alice, game.EventGuessFeedback).Data)
	assert.True(t, feedback.Correct)

	ended := decode[game.RoundEndedPayload](t, readUntil(t, bob, game.EventRoundEnded).Data)
	assert.Equal(t, "apple", ended.SecretWord)
	assert.Equal(t, "bob", ended.WinnerName)

	send(t, bob, internal.MsgAdvanceRound, nil)
	failure := decode[game.OperationFailedPayload](t, readUntil(t, bob, game.EventOperationFailed).Data)
	assert.Equal(t, apperrors.ErrCodeNotHost, failure.Code)
}

func TestWebSocket_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		wantCode string
	}{
		{"malformed json", `{"type":`, apperrors.ErrCodeInvalidInput},
		{"unknown type", `{"type":"teleport"}`, apperrors.ErrCodeInvalidInput},
		{"malformed data", `{"type":"guess","data":"not an object"}`, apperrors.ErrCodeInvalidInput},
		{"guess before join", `{"type":"guess","data":{"text":"hi"}}`, apperrors.ErrCodeRoomNotFound},
		{"join without name", `{"type":"join","data":{"room_code":"ROOM1"}}`, apperrors.ErrCodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newWSServer(t)
			conn := srv.dial(t, nil)

			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tt.message)))
			failure := decode[game.OperationFailedPayload](t, readUntil(t, conn, game.EventOperationFailed).Data)
			assert.Equal(t, tt.wantCode, failure.Code)
			assert.NotEmpty(t, failure.Message)
		})
	}
}

func TestWebSocket_Ping(t *testing.T) {
	srv := newWSServer(t)
	conn := srv.dial(t, nil)

	send(t, conn, internal.MsgPing, nil)
	readUntil(t, conn, internal.EventPong)
}

func TestWebSocket_RateLimit(t *testing.T) {
	srv := newWSServer(t, func(c *internal.HubConfig) {
		c.RateLimit = 0.001
		c.RateBurst = 2
	})
	conn := srv.dial(t, nil)

	for range 3 {
		send(t, conn, internal.MsgPing, nil)
	}

	readUntil(t, conn, internal.EventPong)
	readUntil(t, conn, internal.EventPong)
	failure := decode[game.OperationFailedPayload](t, readUntil(t, conn, game.EventOperationFailed).Data)
	assert.Equal(t, apperrors.ErrCodeRateLimited, failure.Code)
}

func TestWebSocket_DisconnectLeavesRoom(t *testing.T) {
	srv := newWSServer(t)

	alice := srv.dial(t, nil)
	send(t, alice, internal.MsgJoin, map[string]string{"room_code": "ROOM1", "display_name": "alice"})
	readUntil(t, alice, game.EventJoined)

	bob := srv.dial(t, nil)
	send(t, bob, internal.MsgJoin, map[string]string{"room_code": "ROOM1", "display_name": "bob"})
	readUntil(t, bob, game.EventJoined)

	assert.Eventually(t, func() bool { return srv.hub.ConnectionCount() == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, alice.Close())

	left := decode[game.ParticipantLeftPayload](t, readUntil(t, bob, game.EventParticipantLeft).Data)
	assert.Equal(t, "alice", left.DisplayName)
	assert.Eventually(t, func() bool { return srv.hub.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	room, ok := srv.coord.Registry().Get("ROOM1")
	require.True(t, ok)
	assert.Equal(t, 1, room.ParticipantCount())
}

func TestWebSocket_CheckOrigin(t *testing.T) {
	srv := newWSServer(t, func(c *internal.HubConfig) {
		c.AllowedOrigins = []string{"http://localhost:3000"}
	})
	url := "ws" + strings.TrimPrefix(srv.server.URL, "http")

	t.Run("allowed origin", func(t *testing.T) {
		srv.dial(t, http.Header{"Origin": []string{"http://localhost:3000"}})
	})

	t.Run("foreign origin rejected", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"http://evil.example"}})
		require.Error(t, err)
		require.NotNil(t, resp)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestWebSocket_StopClosesConnections(t *testing.T) {
	srv := newWSServer(t)
	conn := srv.dial(t, nil)
	assert.Eventually(t, func() bool { return srv.hub.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	srv.hub.Stop()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.Zero(t, srv.hub.ConnectionCount())

	url := "ws" + strings.TrimPrefix(srv.server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestWebSocket_DispatchSkipsUnknownConnections(t *testing.T) {
	hub := internal.NewWebSocketHub(internal.DefaultHubConfig(), logger.Discard())
	assert.NotPanics(t, func() {
		hub.Dispatch([]game.Envelope{{To: []string{"ghost"}, Event: game.Event{Type: game.EventTimeRemaining}}})
	})
}
