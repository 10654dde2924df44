// Package migrations 遊戲歷史資料表的遷移
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed all:sql
var sqlFS embed.FS

// Migrator 管理資料庫遷移
type Migrator struct {
	migrate *migrate.Migrate
	logger  *slog.Logger
}

// New 建立遷移管理器，databaseURL 必須是 postgres:// 形式
func New(databaseURL string, logger *slog.Logger) (*Migrator, error) {
	source, err := iofs.New(sqlFS, "sql")
	if err != nil {
		return nil, fmt.Errorf("建立遷移源失敗: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("建立遷移實例失敗: %w", err)
	}

	return &Migrator{
		migrate: m,
		logger:  logger,
	}, nil
}

// Up 執行所有待處理的遷移
func (m *Migrator) Up() error {
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("獲取當前版本失敗: %w", err)
	}

	if dirty {
		// 上次遷移中斷，退回前一版重跑（SQL 皆為 IF NOT EXISTS）
		m.logger.Warn("資料庫處於髒狀態，嘗試修復", "version", version)
		prev := int(version) - 1 // #nosec G115 - 版本號很小
		if prev == 0 {
			prev = database.NilVersion
		}
		if err := m.migrate.Force(prev); err != nil {
			return fmt.Errorf("修復髒狀態失敗: %w", err)
		}
	}

	if err := m.migrate.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Debug("資料庫已是最新版本")
			return nil
		}
		return fmt.Errorf("執行遷移失敗: %w", err)
	}

	newVersion, _, _ := m.Version()
	m.logger.Info("資料庫遷移成功", "version", newVersion)
	return nil
}

// Reset 回滾所有遷移，會刪除遊戲歷史資料
func (m *Migrator) Reset() error {
	if err := m.migrate.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("重置失敗: %w", err)
	}
	m.logger.Warn("資料庫遷移已全部回滾")
	return nil
}

// Version 獲取當前版本
func (m *Migrator) Version() (uint, bool, error) {
	return m.migrate.Version()
}

// Close 關閉遷移管理器
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	return errors.Join(sourceErr, dbErr)
}

// Run 建立、執行並關閉，啟動時用
func Run(databaseURL string, logger *slog.Logger) error {
	return withMigrator(databaseURL, logger, (*Migrator).Up)
}

// RunDown 建立、回滾並關閉，-migrate-down 用
func RunDown(databaseURL string, logger *slog.Logger) error {
	return withMigrator(databaseURL, logger, (*Migrator).Reset)
}

func withMigrator(databaseURL string, logger *slog.Logger, fn func(*Migrator) error) (err error) {
	m, err := New(databaseURL, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, m.Close())
	}()
	return fn(m)
}
