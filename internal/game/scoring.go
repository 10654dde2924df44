package game

import (
	"math"
	"time"
)

// 計分規則
const (
	GuesserBasePoints  = 100 // 猜中基本分
	TimeBonusPerSecond = 2   // 每剩餘一秒加分
	DrawerBonus        = 50  // 畫家固定獎勵
)

// Award 一次猜中的得分分配
type Award struct {
	Guesser int
	Drawer  int
}

// ScoreCorrectGuess 計算猜中的得分：猜中者 100 + floor(2 * 剩餘秒數)，畫家固定 50
func ScoreCorrectGuess(remaining time.Duration) Award {
	remaining = max(0, remaining)
	bonus := int(math.Floor(TimeBonusPerSecond * remaining.Seconds()))
	return Award{
		Guesser: GuesserBasePoints + bonus,
		Drawer:  DrawerBonus,
	}
}

// ScoreEntry 單一參與者的分數
type ScoreEntry struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
	Score         int    `json:"score"`
}

// Winner 取最高分者，同分時取列表中較前者
func Winner(scores []ScoreEntry) (ScoreEntry, bool) {
	if len(scores) == 0 {
		return ScoreEntry{}, false
	}

	best := scores[0]
	for _, s := range scores[1:] {
		if s.Score > best.Score {
			best = s
		}
	}
	return best, true
}
