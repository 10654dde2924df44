package game

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	apperrors "github.com/alexandreohara/pictionary-test/pkg/errors"
	"github.com/alexandreohara/pictionary-test/pkg/logger"
)

const (
	// maxCodeAttempts 產生房間代碼的最大重試次數
	maxCodeAttempts = 64
	// MaxDisplayNameLength 顯示名稱最長字元數
	MaxDisplayNameLength = 24
)

// Settings Registry 與其房間的依賴
type Settings struct {
	Room          RoomConfig
	Clock         Clock
	Codes         CodeGenerator
	PickWord      func(words []string) string
	NewID         func() string
	RecordTimeout time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.Room.MaxParticipants == 0 {
		s.Room = DefaultRoomConfig()
	}
	if s.Clock == nil {
		s.Clock = SystemClock()
	}
	if s.Codes == nil {
		s.Codes = RandomCodes{}
	}
	if s.PickWord == nil {
		s.PickWord = RandomWord
	}
	if s.NewID == nil {
		s.NewID = uuid.NewString
	}
	if s.RecordTimeout <= 0 {
		s.RecordTimeout = 5 * time.Second
	}
	return s
}

// roundListener 接收計時器回呼（由 Coordinator 實作）
type roundListener interface {
	roundExpired(r *Room, seq uint64)
	roundTick(r *Room, seq uint64)
}

// Registry 房間註冊表
//
// 兩張表：
//   - rooms：房間代碼 → Room
//   - connRoom：連線 ID → 房間代碼，讓每個後續意圖 O(1) 找到所屬房間
//
// 鎖順序固定為 Registry → Room；Room 永遠不會回頭取 Registry 的鎖。
// 猜題、筆畫等高頻操作只在解析時短暫持有讀鎖，不同房間之間不互相阻塞。
type Registry struct {
	settings Settings
	logger   *slog.Logger

	mu       sync.RWMutex
	rooms    map[string]*Room
	connRoom map[string]string
	listener roundListener
}

// Stats 註冊表統計
type Stats struct {
	Rooms        int           `json:"total_rooms"`
	Participants int           `json:"total_participants"`
	ByPhase      map[Phase]int `json:"by_phase"`
	ActiveTimers int           `json:"active_timers"`
}

// NewRegistry 創建房間註冊表
func NewRegistry(settings Settings, logger *slog.Logger) *Registry {
	return &Registry{
		settings: settings.withDefaults(),
		logger:   logger,
		rooms:    make(map[string]*Room),
		connRoom: make(map[string]string),
	}
}

// Settings 生效中的設定
func (reg *Registry) Settings() Settings {
	return reg.settings
}

// CreateRoom 以新代碼建立空房間
func (reg *Registry) CreateRoom() (string, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	code, err := reg.allocateCodeLocked()
	if err != nil {
		return "", err
	}
	reg.rooms[code] = reg.newRoom(code)

	reg.logger.InfoContext(logger.WithRoomCode(context.Background(), code), "房間已創建")
	return code, nil
}

// JoinOrCreate 加入房間，代碼不存在時延遲建立
//
// 新參與者在回傳前就已經對後續查詢可見（read-your-writes）。
func (reg *Registry) JoinOrCreate(code, displayName, connID string) (*Room, *JoinResult, error) {
	code = NormalizeCode(code)
	if !validCode(code) {
		return nil, nil, apperrors.ErrInvalidInput.WithDetails("room code must be alphanumeric")
	}
	name, err := normalizeName(displayName)
	if err != nil {
		return nil, nil, err
	}
	if connID == "" {
		return nil, nil, apperrors.ErrInvalidInput.WithDetails("missing connection id")
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, joined := reg.connRoom[connID]; joined {
		return nil, nil, apperrors.ErrInvalidState.WithDetails("connection already joined a room")
	}

	room, exists := reg.rooms[code]
	if !exists {
		room = reg.newRoom(code)
		reg.rooms[code] = room
	}

	res, err := room.addParticipant(reg.settings.NewID(), name, connID)
	if err != nil {
		if !exists {
			delete(reg.rooms, code)
			room.close()
		}
		return nil, nil, err
	}
	res.Created = !exists
	reg.connRoom[connID] = code

	ctx := logger.WithConnID(logger.WithRoomCode(context.Background(), code), connID)
	reg.logger.InfoContext(ctx, "參與者加入房間",
		"participant_id", res.Participant.ID,
		"display_name", name,
		"created", res.Created)

	return room, res, nil
}

// Resolve 找出連線所屬的房間
func (reg *Registry) Resolve(connID string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	code, ok := reg.connRoom[connID]
	if !ok {
		return nil, false
	}
	room, ok := reg.rooms[code]
	return room, ok
}

// Leave 移除連線對應的參與者，房間清空時立即刪除並取消計時器
func (reg *Registry) Leave(connID string) (*Room, *LeaveResult, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	code, ok := reg.connRoom[connID]
	if !ok {
		return nil, nil, false
	}
	delete(reg.connRoom, connID)

	room, ok := reg.rooms[code]
	if !ok {
		return nil, nil, false
	}

	res := room.removeParticipant(connID)
	if res == nil {
		return nil, nil, false
	}

	ctx := logger.WithConnID(logger.WithRoomCode(context.Background(), code), connID)
	if res.Empty {
		delete(reg.rooms, code)
		reg.logger.InfoContext(ctx, "房間已移除")
	}

	reg.logger.InfoContext(ctx, "參與者離開房間",
		"participant_id", res.Participant.ID,
		"host_changed", res.HostChanged)

	return room, res, true
}

// Get 以代碼取得房間
func (reg *Registry) Get(code string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	room, ok := reg.rooms[NormalizeCode(code)]
	return room, ok
}

// Stats 獲取統計資訊
func (reg *Registry) Stats() Stats {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	stats := Stats{
		Rooms:   len(reg.rooms),
		ByPhase: make(map[Phase]int),
	}
	for _, room := range reg.rooms {
		stats.Participants += room.ParticipantCount()
		stats.ByPhase[room.Phase()]++
		if room.TimerActive() {
			stats.ActiveTimers++
		}
	}
	return stats
}

// Close 關閉所有房間並取消計時器
func (reg *Registry) Close() {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for _, room := range reg.rooms {
		room.close()
	}
	reg.rooms = make(map[string]*Room)
	reg.connRoom = make(map[string]string)

	reg.logger.Info("房間註冊表已關閉")
}

func (reg *Registry) setListener(l roundListener) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.listener = l
}

func (reg *Registry) currentListener() roundListener {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.listener
}

// newRoom 計時器回呼交給 listener；沒有 listener 時只做狀態轉換
func (reg *Registry) newRoom(code string) *Room {
	return newRoom(code, reg.settings,
		func(r *Room, seq uint64) {
			if l := reg.currentListener(); l != nil {
				l.roundExpired(r, seq)
				return
			}
			r.ExpireRound(seq)
		},
		func(r *Room, seq uint64) {
			if l := reg.currentListener(); l != nil {
				l.roundTick(r, seq)
			}
		},
	)
}

func (reg *Registry) allocateCodeLocked() (string, error) {
	for range maxCodeAttempts {
		code := NormalizeCode(reg.settings.Codes.Generate())
		if !validCode(code) {
			continue
		}
		if _, taken := reg.rooms[code]; !taken {
			return code, nil
		}
	}
	return "", apperrors.ErrInternal.WithDetails("could not allocate a free room code")
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperrors.ErrInvalidInput.WithDetails("display name is required")
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return "", apperrors.ErrInvalidInput.WithDetails("display name too long")
	}
	return name, nil
}
