package game

import (
	"context"
	"time"
)

// GameResult 一場結束的遊戲
type GameResult struct {
	GameID      string       `json:"game_id"`
	RoomCode    string       `json:"room_code"`
	Rounds      int          `json:"rounds"`
	WinnerName  string       `json:"winner_name"`
	FinalScores []ScoreEntry `json:"final_scores"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
}

// Recorder 接收結束的遊戲（歷史、排行榜、事件流）
//
// 由 Coordinator 在房間鎖之外以獨立 goroutine 呼叫，ctx 帶有逾時。
type Recorder interface {
	RecordGame(ctx context.Context, result GameResult) error
}

// NopRecorder 不做任何事
type NopRecorder struct{}

// RecordGame 實作 Recorder
func (NopRecorder) RecordGame(context.Context, GameResult) error { return nil }
