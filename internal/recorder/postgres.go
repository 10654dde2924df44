package recorder

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alexandreohara/pictionary-test/internal/game"
)

// PostgresArchive 在 PostgreSQL 保存每場遊戲的結果與最終分數
type PostgresArchive struct {
	pool *pgxpool.Pool
}

// NewPostgresArchive 創建歷史存檔，資料表由 migrations 建立
func NewPostgresArchive(pool *pgxpool.Pool) *PostgresArchive {
	return &PostgresArchive{pool: pool}
}

// RecordGame 在同一個交易中寫入結果與分數
//
// 重複的 game_id 會被忽略，recorder 重試不會產生兩筆。
func (a *PostgresArchive) RecordGame(ctx context.Context, result game.GameResult) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO game_results (game_id, room_code, rounds, winner_name, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (game_id) DO NOTHING`,
		result.GameID, result.RoomCode, result.Rounds, result.WinnerName, result.StartedAt, result.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert game result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i, entry := range result.FinalScores {
		batch.Queue(`
			INSERT INTO game_scores (game_id, position, participant_id, display_name, score)
			VALUES ($1, $2, $3, $4, $5)`,
			result.GameID, i, entry.ParticipantID, entry.DisplayName, entry.Score,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert game scores: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit archive tx: %w", err)
	}
	return nil
}

// RecentGames 最近結束的 limit 場遊戲，新的在前
func (a *PostgresArchive) RecentGames(ctx context.Context, limit int) ([]game.GameResult, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT game_id, room_code, rounds, winner_name, started_at, finished_at
		FROM game_results
		ORDER BY finished_at DESC, game_id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent games: %w", err)
	}

	games, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (game.GameResult, error) {
		var g game.GameResult
		err := row.Scan(&g.GameID, &g.RoomCode, &g.Rounds, &g.WinnerName, &g.StartedAt, &g.FinishedAt)
		g.FinalScores = []game.ScoreEntry{}
		return g, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan recent games: %w", err)
	}
	if len(games) == 0 {
		return []game.GameResult{}, nil
	}

	ids := make([]string, len(games))
	index := make(map[string]int, len(games))
	for i, g := range games {
		ids[i] = g.GameID
		index[g.GameID] = i
	}

	rows, err = a.pool.Query(ctx, `
		SELECT game_id, participant_id, display_name, score
		FROM game_scores
		WHERE game_id = ANY($1)
		ORDER BY game_id, position`, ids)
	if err != nil {
		return nil, fmt.Errorf("query game scores: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			gameID string
			entry  game.ScoreEntry
		)
		if err := rows.Scan(&gameID, &entry.ParticipantID, &entry.DisplayName, &entry.Score); err != nil {
			return nil, fmt.Errorf("scan game score: %w", err)
		}
		i := index[gameID]
		games[i].FinalScores = append(games[i].FinalScores, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate game scores: %w", err)
	}

	return games, nil
}
