package game

import (
	"encoding/json"
	"slices"
	"strings"
	"sync"
	"time"

	apperrors "github.com/alexandreohara/pictionary-test/pkg/errors"
)

// Phase 房間狀態
//
// 有限狀態機：
//
//	WAITING → IN_ROUND → ROUND_OVER → IN_ROUND → ... → GAME_OVER
//
// 狀態轉換規則：
//   - WAITING → IN_ROUND：房主開始遊戲（至少 2 人）
//   - IN_ROUND → ROUND_OVER：有人猜中 / 計時到期 / 畫家離開
//   - ROUND_OVER → IN_ROUND：房主推進下一回合
//   - ROUND_OVER → GAME_OVER：最後一回合結束後推進
type Phase string

const (
	PhaseWaiting   Phase = "WAITING"    // 尚未開始
	PhaseInRound   Phase = "IN_ROUND"   // 回合進行中，計時器運作
	PhaseRoundOver Phase = "ROUND_OVER" // 回合結束，等待推進
	PhaseGameOver  Phase = "GAME_OVER"  // 遊戲結束（終態）
)

// Participant 參與者
type Participant struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	ConnID      string    `json:"-"`
	Score       int       `json:"score"`
	IsDrawer    bool      `json:"is_drawer"`
	IsHost      bool      `json:"is_host"`
	JoinedAt    time.Time `json:"joined_at"`
}

// MaxRoomCapacity 房間人數上限，配置不能超過
const MaxRoomCapacity = 4

// RoomConfig 房間規則
type RoomConfig struct {
	MaxParticipants int
	MinParticipants int
	TotalRounds     int
	RoundDuration   time.Duration
	TickInterval    time.Duration
	Words           []string
}

// DefaultRoomConfig 預設規則：4 人、5 回合、每回合 60 秒
func DefaultRoomConfig() RoomConfig {
	return RoomConfig{
		MaxParticipants: MaxRoomCapacity,
		MinParticipants: 2,
		TotalRounds:     5,
		RoundDuration:   60 * time.Second,
		TickInterval:    time.Second,
		Words:           slices.Clone(DefaultWords),
	}
}

// Room 一場遊戲的權威狀態
//
// 並發控制：
//   - 每個房間一把 Mutex，所有讀後寫操作（猜題+轉換、到期+轉換、加入/離開）都在鎖內完成
//   - 不同房間之間沒有共享鎖
//   - 方法回傳在轉換當下擷取的結果（接收者、題目、分數），事件在解鎖後才派送
//
// 計時器競爭：
//   - 猜中與到期同時發生時，IN_ROUND → ROUND_OVER 這個轉換本身就是序列化點
//   - 計時器回呼帶著回合世代 seq，舊世代或已轉換的回呼一律是 no-op
type Room struct {
	code      string
	cfg       RoomConfig
	clock     Clock
	pickWord  func([]string) string
	onExpire  func(r *Room, seq uint64)
	onTick    func(r *Room, seq uint64)
	createdAt time.Time

	mu           sync.Mutex
	participants []*Participant
	hostID       string
	phase        Phase
	round        int
	drawerIndex  int
	word         string
	roundStart   time.Time
	strokes      []json.RawMessage
	timer        *RoundTimer
	seq          uint64
	startedAt    time.Time
	closed       bool
}

// JoinResult 加入房間的結果
type JoinResult struct {
	RoomCode     string
	Created      bool
	Participant  Participant
	Participants []Participant
	Others       []string // 其他參與者的連線
	Phase        Phase
	Round        int
	TotalRounds  int
	DrawerName   string
	TimeLeft     int
	Strokes      []json.RawMessage // 回合進行中加入時補送的筆畫
}

// RoundStart 新回合開始
type RoundStart struct {
	Round        int
	TotalRounds  int
	TimeLeft     int
	DrawerName   string
	DrawerConnID string
	Word         string
	Participants []Participant
	Recipients   []string
}

// RoundEnd 回合結束
type RoundEnd struct {
	Round      int
	SecretWord string
	WinnerName string
	Scores     []ScoreEntry
	Recipients []string
}

// GameSummary 遊戲結束
type GameSummary struct {
	Result     GameResult
	Recipients []string
}

// GuessResult 猜題結果
type GuessResult struct {
	Correct      bool
	Text         string
	Guesser      Participant
	Award        Award
	Participants []Participant
	Recipients   []string
	RoundEnd     *RoundEnd
}

// AdvanceResult 推進回合的結果，兩者恰有一個非 nil
type AdvanceResult struct {
	Next     *RoundStart
	GameOver *GameSummary
}

// StrokeRelay 要轉發的筆畫
type StrokeRelay struct {
	Strokes    []json.RawMessage
	Recipients []string
}

// CanvasCleared 清除畫布
type CanvasCleared struct {
	Recipients []string
}

// LeaveResult 離開房間的結果
type LeaveResult struct {
	Participant  Participant
	Participants []Participant
	Recipients   []string
	Empty        bool
	HostChanged  bool
	RoundEnd     *RoundEnd // 畫家在回合中離開
	Advance      *AdvanceResult
}

// Snapshot 房間唯讀摘要（不含題目）
type Snapshot struct {
	Code         string        `json:"room_code"`
	Phase        Phase         `json:"phase"`
	Round        int           `json:"round"`
	TotalRounds  int           `json:"total_rounds"`
	HostID       string        `json:"host_id"`
	Participants []Participant `json:"participants"`
	TimeLeft     int           `json:"time_left"`
	GameStarted  bool          `json:"game_started"`
	GameOver     bool          `json:"game_over"`
	StrokeCount  int           `json:"stroke_count"`
	CreatedAt    time.Time     `json:"created_at"`
}

func newRoom(code string, s Settings, onExpire, onTick func(*Room, uint64)) *Room {
	return &Room{
		code:        code,
		cfg:         s.Room,
		clock:       s.Clock,
		pickWord:    s.PickWord,
		onExpire:    onExpire,
		onTick:      onTick,
		createdAt:   s.Clock.Now(),
		phase:       PhaseWaiting,
		drawerIndex: -1,
	}
}

// Code 房間代碼
func (r *Room) Code() string {
	return r.code
}

// addParticipant 加入參與者：先檢查名稱再檢查容量
func (r *Room) addParticipant(id, name, connID string) (*JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, apperrors.ErrRoomNotFound
	}

	for _, p := range r.participants {
		if p.DisplayName == name {
			return nil, apperrors.ErrNameTaken
		}
	}
	if len(r.participants) >= r.cfg.MaxParticipants {
		return nil, apperrors.ErrRoomFull
	}

	now := r.clock.Now()
	p := &Participant{
		ID:          id,
		DisplayName: name,
		ConnID:      connID,
		JoinedAt:    now,
	}
	r.participants = append(r.participants, p)
	if r.hostID == "" {
		r.hostID = p.ID
	}

	res := &JoinResult{
		RoomCode:     r.code,
		Participant:  r.viewLocked(p),
		Participants: r.viewsLocked(),
		Others:       r.connIDsLocked(connID),
		Phase:        r.phase,
		Round:        r.round,
		TotalRounds:  r.cfg.TotalRounds,
		TimeLeft:     r.timeLeftLocked(now),
	}
	if r.phase == PhaseInRound {
		res.DrawerName = r.participants[r.drawerIndex].DisplayName
		res.Strokes = slices.Clone(r.strokes)
	}

	return res, nil
}

// removeParticipant 移除參與者，房間清空時關閉
func (r *Room) removeParticipant(connID string) *LeaveResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexByConnLocked(connID)
	if idx < 0 {
		return nil
	}

	p := r.participants[idx]
	res := &LeaveResult{Participant: r.viewLocked(p)}
	wasDrawer := p.IsDrawer
	r.participants = slices.Delete(r.participants, idx, idx+1)

	n := len(r.participants)
	if n == 0 {
		res.Empty = true
		r.closeLocked()
		return res
	}

	// 房主離開時交給列表中第一位
	if p.ID == r.hostID {
		r.hostID = r.participants[0].ID
		res.HostChanged = true
	}

	switch {
	case idx < r.drawerIndex:
		r.drawerIndex--
	case wasDrawer && r.phase == PhaseInRound:
		// 畫家在回合中離開：立即結束回合（不計分），並自動推進到原本排在他後面的人；
		// 人數不足時 advanceLocked 直接結束遊戲
		r.timer.Cancel()
		r.phase = PhaseRoundOver
		res.RoundEnd = r.roundEndLocked("")
		r.drawerIndex = (idx - 1 + n) % n
		res.Advance = r.advanceLocked()
	case wasDrawer && r.phase == PhaseRoundOver:
		// 游標退回前一位，下一次推進仍輪到原本排在後面的人
		r.drawerIndex = (idx - 1 + n) % n
		r.participants[r.drawerIndex].IsDrawer = true
	}

	res.Participants = r.viewsLocked()
	res.Recipients = r.connIDsLocked("")
	return res
}

// Start 開始遊戲（只有房主可以）
//
// 房間關閉後（清空或服務器關閉）所有操作都回傳 ROOM_NOT_FOUND。
func (r *Room) Start(connID string) (*RoundStart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.byConnLocked(connID)
	if p == nil || r.closed {
		return nil, apperrors.ErrRoomNotFound
	}
	if r.phase != PhaseWaiting {
		return nil, apperrors.ErrAlreadyStarted
	}
	if p.ID != r.hostID {
		return nil, apperrors.ErrNotHost
	}
	if len(r.participants) < r.cfg.MinParticipants {
		return nil, apperrors.ErrNotEnoughPlayers
	}

	return r.beginRoundLocked(0), nil
}

// SubmitGuess 提交猜測
//
// 回合進行中以外的猜測視為聊天（correct=false），不是錯誤；
// 猜中時在同一把鎖內計分、取消計時器並轉換到 ROUND_OVER，
// 所以同時到期的計時器回呼只會看到 ROUND_OVER 而成為 no-op。
func (r *Room) SubmitGuess(connID, text string) (*GuessResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.byConnLocked(connID)
	if p == nil || r.closed {
		return nil, apperrors.ErrRoomNotFound
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.ErrInvalidInput.WithDetails("empty guess")
	}

	res := &GuessResult{
		Text:       text,
		Guesser:    r.viewLocked(p),
		Recipients: r.connIDsLocked(""),
	}

	if r.phase != PhaseInRound {
		return res, nil
	}
	if p.IsDrawer {
		return nil, apperrors.ErrDrawerCannotGuess
	}
	if !strings.EqualFold(text, r.word) {
		return res, nil
	}

	secs := SecondsRemaining(r.roundStart, r.clock.Now(), r.cfg.RoundDuration)
	award := ScoreCorrectGuess(time.Duration(secs) * time.Second)
	p.Score += award.Guesser
	r.participants[r.drawerIndex].Score += award.Drawer

	r.timer.Cancel()
	r.phase = PhaseRoundOver

	res.Correct = true
	res.Award = award
	res.Guesser = r.viewLocked(p)
	res.Participants = r.viewsLocked()
	res.RoundEnd = r.roundEndLocked(p.DisplayName)
	return res, nil
}

// ExpireRound 計時器到期回呼
//
// 只有在 IN_ROUND 且 seq 是目前回合世代時才轉換；否則代表回合已被猜中結束、
// 房間已關閉或這是前一回合遺留的回呼，直接忽略。
func (r *Room) ExpireRound(seq uint64) (*RoundEnd, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.phase != PhaseInRound || seq != r.seq {
		return nil, false
	}

	r.phase = PhaseRoundOver
	return r.roundEndLocked(""), true
}

// Advance 推進到下一回合，最後一回合之後結束遊戲（只有房主可以）
func (r *Room) Advance(connID string) (*AdvanceResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.byConnLocked(connID)
	if p == nil || r.closed {
		return nil, apperrors.ErrRoomNotFound
	}
	if r.phase != PhaseRoundOver {
		return nil, apperrors.ErrInvalidState
	}
	if p.ID != r.hostID {
		return nil, apperrors.ErrNotHost
	}

	return r.advanceLocked(), nil
}

// RelayStrokes 畫家送出筆畫，附加到筆畫紀錄並轉發給其他人
func (r *Room) RelayStrokes(connID string, strokes []json.RawMessage) (*StrokeRelay, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.byConnLocked(connID)
	if p == nil || r.closed {
		return nil, apperrors.ErrRoomNotFound
	}
	if r.phase != PhaseInRound {
		return nil, apperrors.ErrInvalidState
	}
	if !p.IsDrawer {
		return nil, apperrors.ErrNotYourTurn
	}
	if len(strokes) == 0 {
		return nil, apperrors.ErrInvalidInput.WithDetails("no strokes")
	}

	r.strokes = append(r.strokes, strokes...)
	return &StrokeRelay{
		Strokes:    strokes,
		Recipients: r.connIDsLocked(connID),
	}, nil
}

// ClearCanvas 畫家清除畫布
func (r *Room) ClearCanvas(connID string) (*CanvasCleared, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.byConnLocked(connID)
	if p == nil || r.closed {
		return nil, apperrors.ErrRoomNotFound
	}
	if !p.IsDrawer {
		return nil, apperrors.ErrNotYourTurn
	}

	r.strokes = nil
	return &CanvasCleared{Recipients: r.connIDsLocked("")}, nil
}

// TimeRemaining 目前回合剩餘秒數，seq 不是目前回合時回傳 false
func (r *Room) TimeRemaining(seq uint64) (int, []string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.phase != PhaseInRound || seq != r.seq {
		return 0, nil, false
	}
	return r.timeLeftLocked(r.clock.Now()), r.connIDsLocked(""), true
}

// Snapshot 房間唯讀摘要
func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Snapshot{
		Code:         r.code,
		Phase:        r.phase,
		Round:        r.round,
		TotalRounds:  r.cfg.TotalRounds,
		HostID:       r.hostID,
		Participants: r.viewsLocked(),
		TimeLeft:     r.timeLeftLocked(r.clock.Now()),
		GameStarted:  r.phase != PhaseWaiting,
		GameOver:     r.phase == PhaseGameOver,
		StrokeCount:  len(r.strokes),
		CreatedAt:    r.createdAt,
	}
}

// Phase 目前狀態
func (r *Room) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// ParticipantCount 參與者數量
func (r *Room) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

// TimerActive 回合計時器是否仍在計時
func (r *Room) TimerActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timer.Active()
}

// close 關閉房間並取消計時器，之後所有回呼都是 no-op
func (r *Room) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked()
}

func (r *Room) closeLocked() {
	r.closed = true
	r.timer.Cancel()
	r.timer = nil
}

// beginRoundLocked 以 drawerIdx 為畫家開始新回合
func (r *Room) beginRoundLocked(drawerIdx int) *RoundStart {
	now := r.clock.Now()
	if r.startedAt.IsZero() {
		r.startedAt = now
	}

	r.round++
	for _, p := range r.participants {
		p.IsDrawer = false
	}
	r.drawerIndex = drawerIdx
	drawer := r.participants[drawerIdx]
	drawer.IsDrawer = true

	r.word = r.pickWord(r.cfg.Words)
	r.strokes = nil
	r.roundStart = now
	r.phase = PhaseInRound
	r.armTimerLocked()

	return &RoundStart{
		Round:        r.round,
		TotalRounds:  r.cfg.TotalRounds,
		TimeLeft:     SecondsRemaining(now, now, r.cfg.RoundDuration),
		DrawerName:   drawer.DisplayName,
		DrawerConnID: drawer.ConnID,
		Word:         r.word,
		Participants: r.viewsLocked(),
		Recipients:   r.connIDsLocked(""),
	}
}

// armTimerLocked 先取消舊計時器再啟動新的，並推進回合世代
func (r *Room) armTimerLocked() {
	r.timer.Cancel()

	r.seq++
	seq := r.seq
	r.timer = StartRoundTimer(r.clock, r.cfg.RoundDuration, r.cfg.TickInterval,
		func() { r.onExpire(r, seq) },
		func() { r.onTick(r, seq) },
	)
}

// advanceLocked 輪替畫家開始下一回合，或在最後一回合後結束遊戲
//
// 剩下的人數不足 MinParticipants 時也直接結束遊戲，不會讓單人開新回合。
func (r *Room) advanceLocked() *AdvanceResult {
	if r.round >= r.cfg.TotalRounds || len(r.participants) < r.cfg.MinParticipants {
		return &AdvanceResult{GameOver: r.finishLocked()}
	}

	next := (r.drawerIndex + 1) % len(r.participants)
	return &AdvanceResult{Next: r.beginRoundLocked(next)}
}

func (r *Room) finishLocked() *GameSummary {
	r.timer.Cancel()
	r.phase = PhaseGameOver
	r.strokes = nil
	for _, p := range r.participants {
		p.IsDrawer = false
	}

	scores := r.scoresLocked()
	winner, _ := Winner(scores)
	return &GameSummary{
		Result: GameResult{
			RoomCode:    r.code,
			Rounds:      r.round,
			WinnerName:  winner.DisplayName,
			FinalScores: scores,
			StartedAt:   r.startedAt,
			FinishedAt:  r.clock.Now(),
		},
		Recipients: r.connIDsLocked(""),
	}
}

func (r *Room) roundEndLocked(winnerName string) *RoundEnd {
	return &RoundEnd{
		Round:      r.round,
		SecretWord: r.word,
		WinnerName: winnerName,
		Scores:     r.scoresLocked(),
		Recipients: r.connIDsLocked(""),
	}
}

func (r *Room) timeLeftLocked(now time.Time) int {
	if r.phase != PhaseInRound {
		return 0
	}
	return SecondsRemaining(r.roundStart, now, r.cfg.RoundDuration)
}

func (r *Room) byConnLocked(connID string) *Participant {
	if idx := r.indexByConnLocked(connID); idx >= 0 {
		return r.participants[idx]
	}
	return nil
}

func (r *Room) indexByConnLocked(connID string) int {
	return slices.IndexFunc(r.participants, func(p *Participant) bool {
		return p.ConnID == connID
	})
}

func (r *Room) viewLocked(p *Participant) Participant {
	v := *p
	v.IsHost = p.ID == r.hostID
	return v
}

func (r *Room) viewsLocked() []Participant {
	out := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, r.viewLocked(p))
	}
	return out
}

func (r *Room) scoresLocked() []ScoreEntry {
	out := make([]ScoreEntry, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, ScoreEntry{
			ParticipantID: p.ID,
			DisplayName:   p.DisplayName,
			Score:         p.Score,
		})
	}
	return out
}

// connIDsLocked 所有連線，except 非空時排除該連線
func (r *Room) connIDsLocked(except string) []string {
	out := make([]string, 0, len(r.participants))
	for _, p := range r.participants {
		if p.ConnID != except {
			out = append(out, p.ConnID)
		}
	}
	return out
}
