package internal

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/alexandreohara/pictionary-test/internal/game"
)

// Config 整個應用的配置
//
// 載入順序：DefaultConfig → YAML 檔案 → 環境變數 → 命令列參數（由 cmd/server 套用）。
// 外部服務（PostgreSQL、Redis、NATS）預設關閉，不需要任何依賴就能啟動。
type Config struct {
	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
	} `yaml:"server"`

	Game struct {
		MaxParticipants int           `yaml:"max_participants"`
		MinParticipants int           `yaml:"min_participants"`
		TotalRounds     int           `yaml:"total_rounds"`
		RoundDuration   time.Duration `yaml:"round_duration"`
		TickInterval    time.Duration `yaml:"tick_interval"`
		Words           []string      `yaml:"words"`
	} `yaml:"game"`

	WebSocket struct {
		ReadBufferSize  int           `yaml:"read_buffer_size"`
		WriteBufferSize int           `yaml:"write_buffer_size"`
		MaxMessageSize  int64         `yaml:"max_message_size"`
		SendBuffer      int           `yaml:"send_buffer"`
		PingPeriod      time.Duration `yaml:"ping_period"`
		PongWait        time.Duration `yaml:"pong_wait"`
		WriteWait       time.Duration `yaml:"write_wait"`
		RateLimit       float64       `yaml:"rate_limit"` // 每秒訊息數
		RateBurst       int           `yaml:"rate_burst"`
	} `yaml:"websocket"`

	Postgres struct {
		Enabled  bool   `yaml:"enabled"`
		URL      string `yaml:"url"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		MaxConns int32  `yaml:"max_conns"`
		MinConns int32  `yaml:"min_conns"`
	} `yaml:"postgres"`

	Redis struct {
		Enabled   bool   `yaml:"enabled"`
		Addr      string `yaml:"addr"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		PoolSize  int    `yaml:"pool_size"`
		KeyPrefix string `yaml:"key_prefix"`
	} `yaml:"redis"`

	NATS struct {
		Enabled       bool          `yaml:"enabled"`
		URL           string        `yaml:"url"`
		SubjectPrefix string        `yaml:"subject_prefix"`
		ReconnectWait time.Duration `yaml:"reconnect_wait"`
	} `yaml:"nats"`

	Recorder struct {
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"recorder"`

	Log struct {
		Level     string `yaml:"level"`
		Format    string `yaml:"format"`
		AddSource bool   `yaml:"add_source"`
	} `yaml:"log"`
}

// DefaultConfig 預設配置
func DefaultConfig() *Config {
	c := &Config{}

	c.Server.Port = 8080
	c.Server.ReadTimeout = 15 * time.Second
	c.Server.WriteTimeout = 15 * time.Second
	c.Server.ShutdownTimeout = 30 * time.Second
	c.Server.AllowedOrigins = []string{"http://localhost:3000"}

	room := game.DefaultRoomConfig()
	c.Game.MaxParticipants = room.MaxParticipants
	c.Game.MinParticipants = room.MinParticipants
	c.Game.TotalRounds = room.TotalRounds
	c.Game.RoundDuration = room.RoundDuration
	c.Game.TickInterval = room.TickInterval
	c.Game.Words = room.Words

	c.WebSocket.ReadBufferSize = 1024
	c.WebSocket.WriteBufferSize = 1024
	c.WebSocket.MaxMessageSize = 64 * 1024
	c.WebSocket.SendBuffer = 256
	c.WebSocket.PingPeriod = 54 * time.Second
	c.WebSocket.PongWait = 60 * time.Second
	c.WebSocket.WriteWait = 10 * time.Second
	c.WebSocket.RateLimit = 50
	c.WebSocket.RateBurst = 100

	c.Postgres.Host = "localhost"
	c.Postgres.Port = 5432
	c.Postgres.User = "postgres"
	c.Postgres.DBName = "pictionary"
	c.Postgres.MaxConns = 10
	c.Postgres.MinConns = 2

	c.Redis.Addr = "localhost:6379"
	c.Redis.PoolSize = 10
	c.Redis.KeyPrefix = "pictionary"

	c.NATS.URL = "nats://localhost:4222"
	c.NATS.SubjectPrefix = "pictionary"
	c.NATS.ReconnectWait = 2 * time.Second

	c.Recorder.Timeout = 5 * time.Second

	c.Log.Level = "info"
	c.Log.Format = "text"

	return c
}

// LoadConfig 載入配置：path 為空時只用預設值與環境變數
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		// #nosec G304 - path 來自命令列參數，由部署者控制
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnv 環境變數覆蓋（生產環境常用）
func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("FRONTEND_URL"); v != "" {
		c.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Postgres.URL = v
		c.Postgres.Enabled = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
		c.NATS.Enabled = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate 檢查不可能成立的設定
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Game.MinParticipants < 2 {
		errs = append(errs, errors.New("game.min_participants must be at least 2"))
	}
	if c.Game.MaxParticipants < c.Game.MinParticipants {
		errs = append(errs, errors.New("game.max_participants must not be below game.min_participants"))
	}
	if c.Game.MaxParticipants > game.MaxRoomCapacity {
		errs = append(errs, fmt.Errorf("game.max_participants must not exceed %d", game.MaxRoomCapacity))
	}
	if c.Game.TotalRounds <= 0 {
		errs = append(errs, errors.New("game.total_rounds must be positive"))
	}
	if c.Game.RoundDuration < time.Second {
		errs = append(errs, errors.New("game.round_duration must be at least 1s"))
	}
	if c.Game.TickInterval < 0 {
		errs = append(errs, errors.New("game.tick_interval must not be negative"))
	}
	if len(c.Game.Words) == 0 {
		errs = append(errs, errors.New("game.words must not be empty"))
	}
	if c.WebSocket.PingPeriod >= c.WebSocket.PongWait {
		errs = append(errs, errors.New("websocket.ping_period must be shorter than websocket.pong_wait"))
	}
	if c.WebSocket.RateLimit <= 0 || c.WebSocket.RateBurst <= 0 {
		errs = append(errs, errors.New("websocket rate limit and burst must be positive"))
	}
	if c.Recorder.Timeout <= 0 {
		errs = append(errs, errors.New("recorder.timeout must be positive"))
	}

	return errors.Join(errs...)
}

// PostgresDSN 生成 PostgreSQL 連線 URL，url 優先
//
// 使用 URL 形式，pgxpool 與 golang-migrate 共用同一個字串。
func (c *Config) PostgresDSN() string {
	if c.Postgres.URL != "" {
		return c.Postgres.URL
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Postgres.User, c.Postgres.Password),
		Host:     net.JoinHostPort(c.Postgres.Host, strconv.Itoa(c.Postgres.Port)),
		Path:     "/" + c.Postgres.DBName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// GameSettings 轉成房間註冊表的設定
func (c *Config) GameSettings() game.Settings {
	return game.Settings{
		Room: game.RoomConfig{
			MaxParticipants: c.Game.MaxParticipants,
			MinParticipants: c.Game.MinParticipants,
			TotalRounds:     c.Game.TotalRounds,
			RoundDuration:   c.Game.RoundDuration,
			TickInterval:    c.Game.TickInterval,
			Words:           c.Game.Words,
		},
		RecordTimeout: c.Recorder.Timeout,
	}
}

// HubConfig 轉成 WebSocket Hub 的參數
func (c *Config) HubConfig() HubConfig {
	return HubConfig{
		ReadBufferSize:  c.WebSocket.ReadBufferSize,
		WriteBufferSize: c.WebSocket.WriteBufferSize,
		MaxMessageSize:  c.WebSocket.MaxMessageSize,
		SendBuffer:      c.WebSocket.SendBuffer,
		PingPeriod:      c.WebSocket.PingPeriod,
		PongWait:        c.WebSocket.PongWait,
		WriteWait:       c.WebSocket.WriteWait,
		RateLimit:       rate.Limit(c.WebSocket.RateLimit),
		RateBurst:       c.WebSocket.RateBurst,
		AllowedOrigins:  c.Server.AllowedOrigins,
	}
}
