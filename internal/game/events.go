package game

import "encoding/json"

// 送出的事件名稱
const (
	EventJoined              = "joined"
	EventParticipantJoined   = "participant_joined"
	EventParticipantLeft     = "participant_left"
	EventParticipantsUpdated = "participants_updated"
	EventRoundStarted        = "round_started"
	EventDrawingAssignment   = "drawing_assignment"
	EventStrokeRelay         = "stroke_relay"
	EventCanvasCleared       = "canvas_cleared"
	EventGuessFeedback       = "guess_feedback"
	EventRoundEnded          = "round_ended"
	EventGameEnded           = "game_ended"
	EventTimeRemaining       = "time_remaining"
	EventOperationFailed     = "operation_failed"
)

// Event 送往客戶端的事件
type Event struct {
	Type string `json:"event"`
	Data any    `json:"data"`
}

// Envelope 一個事件與它的接收連線
//
// 接收者在狀態轉換當下（持有房間鎖時）決定，派送時不再回頭讀取房間狀態。
type Envelope struct {
	To    []string
	Event Event
}

// Dispatcher 把事件送到連線，實作端負責傳輸細節
//
// Dispatch 一定在房間鎖之外被呼叫，實作不得阻塞太久。
type Dispatcher interface {
	Dispatch(envelopes []Envelope)
}

// DispatcherFunc 讓一般函數滿足 Dispatcher
type DispatcherFunc func(envelopes []Envelope)

// Dispatch 實作 Dispatcher
func (f DispatcherFunc) Dispatch(envelopes []Envelope) { f(envelopes) }

// JoinedPayload joined 事件內容
type JoinedPayload struct {
	RoomCode     string        `json:"room_code"`
	Participant  Participant   `json:"participant"`
	Participants []Participant `json:"participants"`
	Phase        Phase         `json:"phase"`
	Round        int           `json:"round"`
	TotalRounds  int           `json:"total_rounds"`
	DrawerName   string        `json:"drawer_name,omitempty"`
	TimeLeft     int           `json:"time_left"`
}

// ParticipantJoinedPayload participant_joined 事件內容
type ParticipantJoinedPayload struct {
	Participant Participant `json:"participant"`
}

// ParticipantLeftPayload participant_left 事件內容
type ParticipantLeftPayload struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
}

// ParticipantsUpdatedPayload participants_updated 事件內容
type ParticipantsUpdatedPayload struct {
	Participants []Participant `json:"participants"`
}

// RoundStartedPayload round_started 事件內容
type RoundStartedPayload struct {
	DrawerName  string `json:"drawer_name"`
	Round       int    `json:"round"`
	TotalRounds int    `json:"total_rounds"`
	TimeLeft    int    `json:"time_left"`
}

// DrawingAssignmentPayload drawing_assignment 事件內容，只送給畫家
type DrawingAssignmentPayload struct {
	Word       string `json:"word"`
	DrawerName string `json:"drawer_name"`
	TimeLeft   int    `json:"time_left"`
}

// StrokeRelayPayload stroke_relay 事件內容，筆畫原樣轉發
type StrokeRelayPayload struct {
	Strokes []json.RawMessage `json:"strokes"`
}

// CanvasClearedPayload canvas_cleared 事件內容
type CanvasClearedPayload struct{}

// GuessFeedbackPayload guess_feedback 事件內容
type GuessFeedbackPayload struct {
	Correct     bool   `json:"correct"`
	Text        string `json:"text"`
	DisplayName string `json:"display_name"`
}

// RoundEndedPayload round_ended 事件內容
type RoundEndedPayload struct {
	Round      int          `json:"round"`
	SecretWord string       `json:"secret_word"`
	WinnerName string       `json:"winner_name,omitempty"`
	Scores     []ScoreEntry `json:"scores"`
}

// GameEndedPayload game_ended 事件內容
type GameEndedPayload struct {
	FinalScores []ScoreEntry `json:"final_scores"`
	WinnerName  string       `json:"winner_name"`
}

// TimeRemainingPayload time_remaining 事件內容
type TimeRemainingPayload struct {
	Seconds int `json:"seconds"`
}

// OperationFailedPayload operation_failed 事件內容，只送給發起者
type OperationFailedPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
