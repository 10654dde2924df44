package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/alexandreohara/pictionary-test/internal"
	"github.com/alexandreohara/pictionary-test/internal/game"
	"github.com/alexandreohara/pictionary-test/internal/recorder"
	"github.com/alexandreohara/pictionary-test/internal/recorder/migrations"
	"github.com/alexandreohara/pictionary-test/pkg/logger"
)

func main() {
	// .env 不存在時忽略
	_ = godotenv.Load()

	var (
		configPath  = flag.String("config", "", "YAML 配置檔路徑")
		port        = flag.Int("port", 0, "服務器端口（覆蓋配置）")
		logLevel    = flag.String("log-level", "", "日誌級別 (debug, info, warn, error)")
		logFormat   = flag.String("log-format", "", "日誌格式 (text, json)")
		migrateDown = flag.Bool("migrate-down", false, "回滾遊戲歷史資料表後退出")
	)
	flag.Parse()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		config.Server.Port = *port
	}
	if *logLevel != "" {
		config.Log.Level = *logLevel
	}
	if *logFormat != "" {
		config.Log.Format = *logFormat
	}
	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, logger.Options{
		Level:     config.Log.Level,
		Format:    config.Log.Format,
		AddSource: config.Log.AddSource,
	})
	slog.SetDefault(log)

	if *migrateDown {
		if !config.Postgres.Enabled {
			log.Error("postgres.enabled 為 false，沒有可回滾的資料庫")
			os.Exit(1)
		}
		if err := migrations.RunDown(config.PostgresDSN(), log); err != nil {
			log.Error("回滾遷移失敗", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(config, log); err != nil {
		log.Error("服務器異常結束", "error", err)
		os.Exit(1)
	}
}

// backends 啟用的外部服務
type backends struct {
	pool    *pgxpool.Pool
	redis   *redis.Client
	nats    *nats.Conn
	sinks   []game.Recorder
	board   *recorder.Leaderboard
	archive *recorder.PostgresArchive
}

func (b *backends) close() {
	if b.nats != nil {
		_ = b.nats.Drain()
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
}

// connectBackends 連接配置中啟用的 PostgreSQL、Redis、NATS
func connectBackends(ctx context.Context, config *internal.Config, log *slog.Logger) (*backends, error) {
	b := &backends{}

	if config.Postgres.Enabled {
		dsn := config.PostgresDSN()
		if err := migrations.Run(dsn, log); err != nil {
			return b, fmt.Errorf("run migrations: %w", err)
		}

		pgConfig, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return b, fmt.Errorf("parse postgres config: %w", err)
		}
		pgConfig.MaxConns = config.Postgres.MaxConns
		pgConfig.MinConns = config.Postgres.MinConns

		b.pool, err = pgxpool.NewWithConfig(ctx, pgConfig)
		if err != nil {
			return b, fmt.Errorf("connect postgres: %w", err)
		}
		if err := b.pool.Ping(ctx); err != nil {
			return b, fmt.Errorf("ping postgres: %w", err)
		}

		b.archive = recorder.NewPostgresArchive(b.pool)
		b.sinks = append(b.sinks, b.archive)
		log.Info("遊戲歷史已啟用", "backend", "postgres")
	}

	if config.Redis.Enabled {
		b.redis = redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
			PoolSize: config.Redis.PoolSize,
		})
		if err := b.redis.Ping(ctx).Err(); err != nil {
			return b, fmt.Errorf("ping redis: %w", err)
		}

		b.board = recorder.NewLeaderboard(b.redis, config.Redis.KeyPrefix)
		b.sinks = append(b.sinks, b.board)
		log.Info("排行榜已啟用", "backend", "redis", "addr", config.Redis.Addr)
	}

	if config.NATS.Enabled {
		conn, err := recorder.ConnectNATS(config.NATS.URL, config.NATS.ReconnectWait, log)
		if err != nil {
			return b, err
		}
		b.nats = conn

		publisher := recorder.NewPublisher(conn, config.NATS.SubjectPrefix, log)
		b.sinks = append(b.sinks, publisher)
		log.Info("遊戲事件流已啟用", "backend", "nats", "subject", publisher.Subject())
	}

	return b, nil
}

func run(config *internal.Config, log *slog.Logger) error {
	connectCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	b, err := connectBackends(connectCtx, config, log)
	cancel()
	defer b.close()
	if err != nil {
		return err
	}

	// 遊戲核心
	registry := game.NewRegistry(config.GameSettings(), log)
	hub := internal.NewWebSocketHub(config.HubConfig(), log)
	coord := game.NewCoordinator(registry, hub, recorder.NewMulti(b.sinks...), log)
	hub.SetHandler(coord)

	opts := []internal.HandlerOption{internal.WithAllowedOrigins(config.Server.AllowedOrigins)}
	if b.board != nil {
		opts = append(opts, internal.WithLeaderboard(b.board))
	}
	if b.archive != nil {
		opts = append(opts, internal.WithHistory(b.archive))
	}
	handler := internal.NewHandler(coord, hub, log, opts...)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("遊戲服務器啟動",
			"port", config.Server.Port,
			"rounds", config.Game.TotalRounds,
			"round_duration", config.Game.RoundDuration,
			"recorders", len(b.sinks))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case sig := <-shutdown:
		log.Info("收到關閉信號，開始優雅關閉", "signal", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer cancel()

	// 停止接受新連接
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("HTTP 服務器關閉失敗", "error", err)
	}

	// 關閉所有 WebSocket 連線，再停掉房間計時器並等待紀錄寫完
	hub.Stop()
	if err := coord.Shutdown(ctx); err != nil {
		log.Error("等待遊戲紀錄逾時", "error", err)
	}

	log.Info("服務器已關閉")
	return nil
}
