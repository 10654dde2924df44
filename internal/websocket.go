package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/alexandreohara/pictionary-test/internal/game"
	apperrors "github.com/alexandreohara/pictionary-test/pkg/errors"
	"github.com/alexandreohara/pictionary-test/pkg/logger"
)

// 入站訊息類型
const (
	MsgJoin         = "join"
	MsgStartGame    = "start_game"
	MsgStrokeRelay  = "stroke_relay"
	MsgClearCanvas  = "clear_canvas"
	MsgGuess        = "guess"
	MsgAdvanceRound = "advance_round"
	MsgPing         = "ping"

	// EventPong 回應 ping
	EventPong = "pong"
)

// IntentHandler 入站意圖的處理者（由 game.Coordinator 實作）
//
// 錯誤已經由處理者以 operation_failed 回報給發起者，Hub 只記錄日誌。
type IntentHandler interface {
	Join(connID, code, displayName string) error
	StartGame(connID string) error
	Guess(connID, text string) error
	RelayStrokes(connID string, strokes []json.RawMessage) error
	ClearCanvas(connID string) error
	AdvanceRound(connID string) error
	Disconnect(connID string)
}

// HubConfig WebSocket 連線參數
type HubConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
	SendBuffer      int
	PingPeriod      time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	RateLimit       rate.Limit
	RateBurst       int
	AllowedOrigins  []string // 空或含 "*" 時不檢查來源
}

// DefaultHubConfig 預設參數：54s ping / 60s 讀取期限 / 10s 寫入期限
func DefaultHubConfig() HubConfig {
	return HubConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		MaxMessageSize:  64 * 1024,
		SendBuffer:      256,
		PingPeriod:      54 * time.Second,
		PongWait:        60 * time.Second,
		WriteWait:       10 * time.Second,
		RateLimit:       50,
		RateBurst:       100,
	}
}

// WebSocketHub WebSocket 連接中心
//
// Hub 模式設計：
//   - 每條連線一個 ID（uuid），遊戲層只認得連線 ID
//   - 入站訊息解碼後轉成 IntentHandler 的呼叫
//   - 實作 game.Dispatcher：事件序列化一次，再非阻塞地放進每個接收者的 Send channel
//
// 並發安全：
//   - 送出時持有讀鎖，關閉 Send channel 時持有寫鎖，所以不會對已關閉的 channel 寫入
//   - 緩衝區滿的慢客戶端直接跳過，不拖累整個房間
type WebSocketHub struct {
	cfg      HubConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	connections map[string]*Connection // connID -> Connection
	handler     IntentHandler
	stopped     bool
}

// Connection WebSocket 連接
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Hub     *WebSocketHub
	limiter *rate.Limiter
	ctx     context.Context

	closeOnce sync.Once // 確保 channel 只關閉一次
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type joinData struct {
	RoomCode    string `json:"room_code"`
	DisplayName string `json:"display_name"`
}

type guessData struct {
	Text string `json:"text"`
}

type strokeData struct {
	Strokes []json.RawMessage `json:"strokes"`
}

// NewWebSocketHub 創建 WebSocket Hub
func NewWebSocketHub(cfg HubConfig, logger *slog.Logger) *WebSocketHub {
	hub := &WebSocketHub{
		cfg:         cfg,
		logger:      logger,
		connections: make(map[string]*Connection),
	}
	hub.upgrader = websocket.Upgrader{
		CheckOrigin:     hub.checkOrigin,
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
	}
	return hub
}

// SetHandler 設定意圖處理者（協調器建立後才能設定）
func (hub *WebSocketHub) SetHandler(h IntentHandler) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.handler = h
}

func (hub *WebSocketHub) intentHandler() IntentHandler {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return hub.handler
}

// checkOrigin 只接受設定中的前端來源；非瀏覽器客戶端沒有 Origin 標頭
func (hub *WebSocketHub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(hub.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(hub.cfg.AllowedOrigins, "*") ||
		slices.Contains(hub.cfg.AllowedOrigins, origin)
}

// ServeWS 處理 WebSocket 連接
func (hub *WebSocketHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	hub.mu.RLock()
	stopped := hub.stopped
	hub.mu.RUnlock()
	if stopped {
		http.Error(w, "伺服器正在關閉", http.StatusServiceUnavailable)
		return
	}

	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warn("升級 WebSocket 失敗", "error", err, "origin", r.Header.Get("Origin"))
		return
	}

	id := uuid.NewString()
	connection := &Connection{
		ID:       id,
		Conn:     conn,
		Send:     make(chan []byte, hub.cfg.SendBuffer),
		Hub:      hub,
		limiter:  rate.NewLimiter(hub.cfg.RateLimit, hub.cfg.RateBurst),
		ctx:      logger.WithConnID(context.Background(), id),
	}

	if !hub.register(connection) {
		_ = conn.Close()
		return
	}

	go connection.writePump()
	go connection.readPump()

	hub.logger.InfoContext(connection.ctx, "WebSocket 連接建立", "remote_addr", r.RemoteAddr)
}

// register 註冊連接，Hub 已停止時回傳 false
func (hub *WebSocketHub) register(conn *Connection) bool {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if hub.stopped {
		return false
	}
	hub.connections[conn.ID] = conn
	return true
}

// unregister 取消註冊連接
func (hub *WebSocketHub) unregister(conn *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if actual, exists := hub.connections[conn.ID]; exists && actual == conn {
		delete(hub.connections, conn.ID)
		conn.closeOnce.Do(func() {
			close(conn.Send)
		})
	}
}

// Dispatch 實作 game.Dispatcher
func (hub *WebSocketHub) Dispatch(envelopes []game.Envelope) {
	for _, env := range envelopes {
		message, err := json.Marshal(env.Event)
		if err != nil {
			hub.logger.Error("序列化事件失敗", "event", env.Event.Type, "error", err)
			continue
		}
		hub.send(env.To, message)
	}
}

// send 非阻塞地送到指定連線
func (hub *WebSocketHub) send(connIDs []string, message []byte) {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for _, id := range connIDs {
		conn, ok := hub.connections[id]
		if !ok {
			continue
		}
		select {
		case conn.Send <- message:
		default:
			hub.logger.WarnContext(conn.ctx, "連接緩衝區滿，丟棄訊息")
		}
	}
}

// sendEvent 直接回應單一連線（pong、協定層錯誤）
func (hub *WebSocketHub) sendEvent(connID string, event game.Event) {
	hub.Dispatch([]game.Envelope{{To: []string{connID}, Event: event}})
}

// ConnectionCount 目前連線數
func (hub *WebSocketHub) ConnectionCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.connections)
}

// Stop 停止 WebSocket Hub，關閉所有連接
func (hub *WebSocketHub) Stop() {
	hub.mu.Lock()
	hub.stopped = true
	for _, conn := range hub.connections {
		// 先關閉 Send channel，writePump 會送出 close frame
		conn.closeOnce.Do(func() {
			close(conn.Send)
		})
	}
	hub.connections = make(map[string]*Connection)
	hub.mu.Unlock()

	hub.logger.Info("WebSocket Hub 已停止")
}

// readPump 讀取客戶端消息
//
// 心跳（讀取端）：PongWait 內沒有收到任何訊息（包括 Pong）就關閉連接，
// 配合 writePump 每 PingPeriod 送一次 Ping。
func (c *Connection) readPump() {
	defer func() {
		if h := c.Hub.intentHandler(); h != nil {
			h.Disconnect(c.ID)
		}
		c.Hub.unregister(c)
		_ = c.Conn.Close()
		c.Hub.logger.InfoContext(c.ctx, "WebSocket 連接關閉")
	}()

	c.Conn.SetReadLimit(c.Hub.cfg.MaxMessageSize)
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.Hub.cfg.PongWait)); err != nil {
		c.Hub.logger.ErrorContext(c.ctx, "設置讀取期限失敗", "error", err)
	}

	// 收到 pong 才延長讀取期限，逾時代表連線已死
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(c.Hub.cfg.PongWait))
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.Hub.logger.WarnContext(c.ctx, "WebSocket 讀取錯誤", "error", err)
			}
			return
		}

		if messageType == websocket.TextMessage {
			c.handleMessage(message)
		}
	}
}

// writePump 寫入消息到客戶端，並定期送 Ping
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Hub.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.cfg.WriteWait)); err != nil {
				c.Hub.logger.ErrorContext(c.ctx, "設置寫入期限失敗", "error", err)
			}
			if !ok {
				// Hub 關閉了通道，嘗試送出 close frame（連接可能已關閉）
				_ = c.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量發送隊列中的消息
			n := len(c.Send)
			for range n {
				next, ok := <-c.Send
				if !ok {
					return
				}
				if err := c.Conn.WriteMessage(websocket.TextMessage, next); err != nil {
					c.Hub.logger.WarnContext(c.ctx, "發送消息失敗", "error", err)
					return
				}
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.cfg.WriteWait)); err != nil {
				c.Hub.logger.ErrorContext(c.ctx, "設置寫入期限失敗", "error", err)
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 解碼入站訊息並轉給 IntentHandler
func (c *Connection) handleMessage(message []byte) {
	if !c.limiter.Allow() {
		c.fail(apperrors.ErrRateLimited)
		return
	}

	var msg inboundMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.fail(apperrors.ErrInvalidInput.WithDetails("malformed message"))
		return
	}

	if msg.Type == MsgPing {
		c.Hub.sendEvent(c.ID, game.Event{Type: EventPong, Data: struct{}{}})
		return
	}

	h := c.Hub.intentHandler()
	if h == nil {
		c.fail(apperrors.ErrUnavailable)
		return
	}

	var err error
	switch msg.Type {
	case MsgJoin:
		var data joinData
		if !c.decode(msg.Data, &data) {
			return
		}
		err = h.Join(c.ID, data.RoomCode, data.DisplayName)
	case MsgStartGame:
		err = h.StartGame(c.ID)
	case MsgStrokeRelay:
		var data strokeData
		if !c.decode(msg.Data, &data) {
			return
		}
		err = h.RelayStrokes(c.ID, data.Strokes)
	case MsgClearCanvas:
		err = h.ClearCanvas(c.ID)
	case MsgGuess:
		var data guessData
		if !c.decode(msg.Data, &data) {
			return
		}
		err = h.Guess(c.ID, data.Text)
	case MsgAdvanceRound:
		err = h.AdvanceRound(c.ID)
	default:
		c.fail(apperrors.ErrInvalidInput.WithDetails("unknown message type: " + msg.Type))
		return
	}

	if err != nil {
		c.Hub.logger.DebugContext(c.ctx, "意圖被拒絕", "type", msg.Type, "error", err)
	}
}

// decode 解碼 data 欄位，失敗時回報 INVALID_INPUT
func (c *Connection) decode(raw json.RawMessage, v any) bool {
	if len(raw) == 0 {
		return true
	}
	if err := json.Unmarshal(raw, v); err != nil {
		c.fail(apperrors.ErrInvalidInput.WithDetails("malformed data"))
		return false
	}
	return true
}

// fail 協定層錯誤只回報給這條連線
func (c *Connection) fail(err error) {
	c.Hub.sendEvent(c.ID, game.Event{
		Type: game.EventOperationFailed,
		Data: game.OperationFailedPayload{
			Code:    apperrors.CodeOf(err),
			Message: apperrors.MessageOf(err),
		},
	})
}
