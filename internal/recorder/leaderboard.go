// Package recorder 保存結束的遊戲：Redis 排行榜、PostgreSQL 歷史、NATS 事件流
//
// 每個 sink 都實作 game.Recorder，由 Multi 組合成一個。
package recorder

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alexandreohara/pictionary-test/internal/game"
)

// LeaderboardEntry 排行榜的一列
type LeaderboardEntry struct {
	DisplayName string `json:"display_name"`
	Wins        int64  `json:"wins"`
	Points      int64  `json:"points"`
}

// Leaderboard 以 Redis Sorted Set 保存累計勝場與得分
//
// Key 設計：
//
//	<prefix>:leaderboard:wins   → ZSET member=名稱 score=勝場
//	<prefix>:leaderboard:points → ZSET member=名稱 score=累計得分
//
// 沒有帳號系統，以顯示名稱為 member。
type Leaderboard struct {
	client    redis.UniversalClient
	winsKey   string
	pointsKey string
}

// NewLeaderboard 創建排行榜
func NewLeaderboard(client redis.UniversalClient, prefix string) *Leaderboard {
	if prefix == "" {
		prefix = "pictionary"
	}
	return &Leaderboard{
		client:    client,
		winsKey:   prefix + ":leaderboard:wins",
		pointsKey: prefix + ":leaderboard:points",
	}
}

// RecordGame 累加每位參與者的得分與贏家的勝場
func (l *Leaderboard) RecordGame(ctx context.Context, result game.GameResult) error {
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, entry := range result.FinalScores {
			// 沒贏過的人也要出現在勝場榜
			pipe.ZAddNX(ctx, l.winsKey, redis.Z{Score: 0, Member: entry.DisplayName})
			pipe.ZIncrBy(ctx, l.pointsKey, float64(entry.Score), entry.DisplayName)
		}
		if result.WinnerName != "" {
			pipe.ZIncrBy(ctx, l.winsKey, 1, result.WinnerName)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}
	return nil
}

// Top 勝場最多的前 limit 名（同勝場依 Redis 字典序倒序）
func (l *Leaderboard) Top(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		return []LeaderboardEntry{}, nil
	}

	ranked, err := l.client.ZRevRangeWithScores(ctx, l.winsKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read leaderboard: %w", err)
	}
	if len(ranked) == 0 {
		return []LeaderboardEntry{}, nil
	}

	// 一次往返取回所有人的累計得分
	pipe := l.client.Pipeline()
	points := make([]*redis.FloatCmd, len(ranked))
	for i, z := range ranked {
		points[i] = pipe.ZScore(ctx, l.pointsKey, z.Member.(string))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read leaderboard points: %w", err)
	}

	entries := make([]LeaderboardEntry, len(ranked))
	for i, z := range ranked {
		entries[i] = LeaderboardEntry{
			DisplayName: z.Member.(string),
			Wins:        int64(z.Score),
		}
		if p, err := points[i].Result(); err == nil {
			entries[i].Points = int64(p)
		}
	}
	return entries, nil
}

// Reset 清空排行榜（測試用）
func (l *Leaderboard) Reset(ctx context.Context) error {
	return l.client.Del(ctx, l.winsKey, l.pointsKey).Err()
}
