package recorder_test

import (
	"time"

	"github.com/alexandreohara/pictionary-test/internal/game"
)

var finishedAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// sampleResult alice 畫、bob 猜中的一場兩回合遊戲
func sampleResult(gameID string) game.GameResult {
	return game.GameResult{
		GameID:     gameID,
		RoomCode:   "ABC123",
		Rounds:     2,
		WinnerName: "bob",
		FinalScores: []game.ScoreEntry{
			{ParticipantID: "p-alice", DisplayName: "alice", Score: 50},
			{ParticipantID: "p-bob", DisplayName: "bob", Score: 160},
		},
		StartedAt:  finishedAt.Add(-2 * time.Minute),
		FinishedAt: finishedAt,
	}
}
