package game

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"

	apperrors "github.com/alexandreohara/pictionary-test/pkg/errors"
	"github.com/alexandreohara/pictionary-test/pkg/logger"
)

// Coordinator 遊戲協調器
//
// 把每個入站意圖（加入、開始、猜題、筆畫、清除、推進、斷線）轉成房間的狀態轉換，
// 再把轉換當下擷取的結果組成事件交給 Dispatcher。流程：
//
//	意圖（連線 ID）→ Registry 解析房間 → Room 在鎖內驗證並轉換 → 解鎖 → 組事件 → Dispatch
//
// 計時器到期也走同一條路：回呼進入 Room 的鎖，由回合世代判斷是否仍有效。
type Coordinator struct {
	registry   *Registry
	dispatcher Dispatcher
	recorder   Recorder
	logger     *slog.Logger

	mu     sync.Mutex
	closed bool // Shutdown 之後不再接受新的紀錄
	wg     sync.WaitGroup
}

// NewCoordinator 創建協調器並接手 registry 的計時器回呼
func NewCoordinator(registry *Registry, dispatcher Dispatcher, recorder Recorder, logger *slog.Logger) *Coordinator {
	if recorder == nil {
		recorder = NopRecorder{}
	}

	c := &Coordinator{
		registry:   registry,
		dispatcher: dispatcher,
		recorder:   recorder,
		logger:     logger,
	}
	registry.setListener(c)
	return c
}

// Registry 房間註冊表
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// CreateRoom 建立新房間
func (c *Coordinator) CreateRoom() (string, error) {
	return c.registry.CreateRoom()
}

// Join 加入（或延遲建立）房間
func (c *Coordinator) Join(connID, code, displayName string) error {
	_, res, err := c.registry.JoinOrCreate(code, displayName, connID)
	if err != nil {
		c.fail(connID, "join", err)
		return err
	}

	self := []string{connID}
	envs := []Envelope{{
		To: self,
		Event: Event{Type: EventJoined, Data: JoinedPayload{
			RoomCode:     res.RoomCode,
			Participant:  res.Participant,
			Participants: res.Participants,
			Phase:        res.Phase,
			Round:        res.Round,
			TotalRounds:  res.TotalRounds,
			DrawerName:   res.DrawerName,
			TimeLeft:     res.TimeLeft,
		}},
	}}

	// 回合進行中加入：補送目前畫布
	if len(res.Strokes) > 0 {
		envs = append(envs, Envelope{
			To:    self,
			Event: Event{Type: EventStrokeRelay, Data: StrokeRelayPayload{Strokes: res.Strokes}},
		})
	}

	if len(res.Others) > 0 {
		envs = append(envs,
			Envelope{
				To:    res.Others,
				Event: Event{Type: EventParticipantJoined, Data: ParticipantJoinedPayload{Participant: res.Participant}},
			},
			Envelope{
				To:    append(slices.Clone(res.Others), connID),
				Event: participantsUpdated(res.Participants),
			},
		)
	}

	c.dispatcher.Dispatch(envs)
	return nil
}

// StartGame 開始遊戲
func (c *Coordinator) StartGame(connID string) error {
	room, ok := c.registry.Resolve(connID)
	if !ok {
		c.fail(connID, "start_game", apperrors.ErrRoomNotFound)
		return apperrors.ErrRoomNotFound
	}

	start, err := room.Start(connID)
	if err != nil {
		c.fail(connID, "start_game", err)
		return err
	}

	c.logger.InfoContext(logger.WithRoomCode(context.Background(), room.Code()), "遊戲開始",
		"drawer", start.DrawerName)
	c.dispatcher.Dispatch(roundStartEnvelopes(start))
	return nil
}

// Guess 提交猜測，結果（對或錯）都以 guess_feedback 廣播給整個房間
func (c *Coordinator) Guess(connID, text string) error {
	room, ok := c.registry.Resolve(connID)
	if !ok {
		c.fail(connID, "guess", apperrors.ErrRoomNotFound)
		return apperrors.ErrRoomNotFound
	}

	res, err := room.SubmitGuess(connID, text)
	if err != nil {
		c.fail(connID, "guess", err)
		return err
	}

	envs := []Envelope{{
		To: res.Recipients,
		Event: Event{Type: EventGuessFeedback, Data: GuessFeedbackPayload{
			Correct:     res.Correct,
			Text:        res.Text,
			DisplayName: res.Guesser.DisplayName,
		}},
	}}

	if res.Correct {
		c.logger.InfoContext(logger.WithRoomCode(context.Background(), room.Code()), "猜中",
			"guesser", res.Guesser.DisplayName,
			"points", res.Award.Guesser)
		envs = append(envs,
			roundEndedEnvelope(res.RoundEnd),
			Envelope{To: res.Recipients, Event: participantsUpdated(res.Participants)},
		)
	}

	c.dispatcher.Dispatch(envs)
	return nil
}

// RelayStrokes 轉發畫家的筆畫給其他參與者
func (c *Coordinator) RelayStrokes(connID string, strokes []json.RawMessage) error {
	room, ok := c.registry.Resolve(connID)
	if !ok {
		c.fail(connID, "stroke_relay", apperrors.ErrRoomNotFound)
		return apperrors.ErrRoomNotFound
	}

	relay, err := room.RelayStrokes(connID, strokes)
	if err != nil {
		c.fail(connID, "stroke_relay", err)
		return err
	}

	if len(relay.Recipients) > 0 {
		c.dispatcher.Dispatch([]Envelope{{
			To:    relay.Recipients,
			Event: Event{Type: EventStrokeRelay, Data: StrokeRelayPayload{Strokes: relay.Strokes}},
		}})
	}
	return nil
}

// ClearCanvas 畫家清除畫布
func (c *Coordinator) ClearCanvas(connID string) error {
	room, ok := c.registry.Resolve(connID)
	if !ok {
		c.fail(connID, "clear_canvas", apperrors.ErrRoomNotFound)
		return apperrors.ErrRoomNotFound
	}

	cleared, err := room.ClearCanvas(connID)
	if err != nil {
		c.fail(connID, "clear_canvas", err)
		return err
	}

	c.dispatcher.Dispatch([]Envelope{{
		To:    cleared.Recipients,
		Event: Event{Type: EventCanvasCleared, Data: CanvasClearedPayload{}},
	}})
	return nil
}

// AdvanceRound 推進回合
func (c *Coordinator) AdvanceRound(connID string) error {
	room, ok := c.registry.Resolve(connID)
	if !ok {
		c.fail(connID, "advance_round", apperrors.ErrRoomNotFound)
		return apperrors.ErrRoomNotFound
	}

	adv, err := room.Advance(connID)
	if err != nil {
		c.fail(connID, "advance_round", err)
		return err
	}

	c.dispatcher.Dispatch(c.advanceEnvelopes(adv))
	return nil
}

// Disconnect 連線中斷，移除參與者
func (c *Coordinator) Disconnect(connID string) {
	_, res, ok := c.registry.Leave(connID)
	if !ok || res.Empty {
		return
	}

	envs := []Envelope{
		{
			To: res.Recipients,
			Event: Event{Type: EventParticipantLeft, Data: ParticipantLeftPayload{
				ParticipantID: res.Participant.ID,
				DisplayName:   res.Participant.DisplayName,
			}},
		},
		{To: res.Recipients, Event: participantsUpdated(res.Participants)},
	}

	if res.RoundEnd != nil {
		envs = append(envs, roundEndedEnvelope(res.RoundEnd))
	}
	if res.Advance != nil {
		envs = append(envs, c.advanceEnvelopes(res.Advance)...)
	}

	c.dispatcher.Dispatch(envs)
}

// Shutdown 取消所有計時器並等待進行中的紀錄寫入
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.registry.Close()

	// 先擋住新的 record 再 Wait，避免 wg.Add 與 Wait 同時發生
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// roundExpired 計時器到期：進入房間鎖，回合仍有效才廣播結束
func (c *Coordinator) roundExpired(r *Room, seq uint64) {
	end, ok := r.ExpireRound(seq)
	if !ok {
		return
	}

	c.logger.InfoContext(logger.WithRoomCode(context.Background(), r.Code()), "回合時間到",
		"round", end.Round)
	c.dispatcher.Dispatch([]Envelope{roundEndedEnvelope(end)})
}

func (c *Coordinator) roundTick(r *Room, seq uint64) {
	secs, to, ok := r.TimeRemaining(seq)
	if !ok {
		return
	}

	c.dispatcher.Dispatch([]Envelope{{
		To:    to,
		Event: Event{Type: EventTimeRemaining, Data: TimeRemainingPayload{Seconds: secs}},
	}})
}

func (c *Coordinator) advanceEnvelopes(adv *AdvanceResult) []Envelope {
	if adv.Next != nil {
		return roundStartEnvelopes(adv.Next)
	}

	summary := adv.GameOver
	summary.Result.GameID = c.registry.settings.NewID()
	c.record(summary.Result)

	c.logger.InfoContext(logger.WithRoomCode(context.Background(), summary.Result.RoomCode), "遊戲結束",
		"winner", summary.Result.WinnerName)

	return []Envelope{{
		To: summary.Recipients,
		Event: Event{Type: EventGameEnded, Data: GameEndedPayload{
			FinalScores: summary.Result.FinalScores,
			WinnerName:  summary.Result.WinnerName,
		}},
	}}
}

// record 以獨立 goroutine 交給 Recorder，不阻塞遊戲邏輯
func (c *Coordinator) record(result GameResult) {
	logCtx := logger.WithRoomCode(context.Background(), result.RoomCode)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.WarnContext(logCtx, "服務器關閉中，略過遊戲紀錄", "game_id", result.GameID)
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(logCtx, c.registry.settings.RecordTimeout)
		defer cancel()

		if err := c.recorder.RecordGame(ctx, result); err != nil {
			c.logger.WarnContext(ctx, "記錄遊戲結果失敗",
				"game_id", result.GameID,
				"error", err)
		}
	}()
}

// fail 錯誤只回報給發起者
func (c *Coordinator) fail(connID, op string, err error) {
	c.logger.DebugContext(logger.WithConnID(context.Background(), connID), "操作被拒絕",
		"op", op, "error", err)

	c.dispatcher.Dispatch([]Envelope{{
		To: []string{connID},
		Event: Event{Type: EventOperationFailed, Data: OperationFailedPayload{
			Code:    apperrors.CodeOf(err),
			Message: apperrors.MessageOf(err),
		}},
	}})
}

func roundStartEnvelopes(start *RoundStart) []Envelope {
	return []Envelope{
		{
			To: start.Recipients,
			Event: Event{Type: EventRoundStarted, Data: RoundStartedPayload{
				DrawerName:  start.DrawerName,
				Round:       start.Round,
				TotalRounds: start.TotalRounds,
				TimeLeft:    start.TimeLeft,
			}},
		},
		{To: start.Recipients, Event: participantsUpdated(start.Participants)},
		{
			To: []string{start.DrawerConnID},
			Event: Event{Type: EventDrawingAssignment, Data: DrawingAssignmentPayload{
				Word:       start.Word,
				DrawerName: start.DrawerName,
				TimeLeft:   start.TimeLeft,
			}},
		},
	}
}

func roundEndedEnvelope(end *RoundEnd) Envelope {
	return Envelope{
		To: end.Recipients,
		Event: Event{Type: EventRoundEnded, Data: RoundEndedPayload{
			Round:      end.Round,
			SecretWord: end.SecretWord,
			WinnerName: end.WinnerName,
			Scores:     end.Scores,
		}},
	}
}

func participantsUpdated(participants []Participant) Event {
	return Event{Type: EventParticipantsUpdated, Data: ParticipantsUpdatedPayload{Participants: participants}}
}
