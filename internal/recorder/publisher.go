package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alexandreohara/pictionary-test/internal/game"
)

// SubjectGameEnded 遊戲結束事件的主題後綴
const SubjectGameEnded = "game.ended"

// Publisher 將結束的遊戲發佈到 NATS，供其他服務訂閱
//
// 主題：<prefix>.game.ended，內容為 GameResult 的 JSON。
type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// ConnectNATS 連接 NATS，斷線後無限重連
func ConnectNATS(url string, reconnectWait time.Duration, logger *slog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(
		url,
		nats.Name("pictionary-server"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS 斷線", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS 已重連", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("連接 NATS 失敗: %w", err)
	}
	return conn, nil
}

// NewPublisher 創建發佈者，prefix 為空時使用 "pictionary"
func NewPublisher(conn *nats.Conn, prefix string, logger *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = "pictionary"
	}
	return &Publisher{
		conn:    conn,
		subject: prefix + "." + SubjectGameEnded,
		logger:  logger,
	}
}

// Subject 發佈的主題
func (p *Publisher) Subject() string {
	return p.subject
}

// RecordGame 發佈並等待伺服器確認收到
func (p *Publisher) RecordGame(ctx context.Context, result game.GameResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal game result: %w", err)
	}

	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish game result: %w", err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush game result: %w", err)
	}

	p.logger.Debug("已發佈遊戲結果", "subject", p.subject, "game_id", result.GameID)
	return nil
}
