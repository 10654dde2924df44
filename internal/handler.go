package internal

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/alexandreohara/pictionary-test/internal/game"
	"github.com/alexandreohara/pictionary-test/internal/recorder"
	apperrors "github.com/alexandreohara/pictionary-test/pkg/errors"
)

const (
	defaultListLimit = 10
	maxListLimit     = 100
)

// LeaderboardReader 排行榜查詢（recorder.Leaderboard 實作）
type LeaderboardReader interface {
	Top(ctx context.Context, limit int) ([]recorder.LeaderboardEntry, error)
}

// GameHistory 歷史查詢（recorder.PostgresArchive 實作）
type GameHistory interface {
	RecentGames(ctx context.Context, limit int) ([]game.GameResult, error)
}

// Handler HTTP 請求處理器
type Handler struct {
	coord          *game.Coordinator
	hub            *WebSocketHub
	leaderboard    LeaderboardReader
	history        GameHistory
	allowedOrigins []string
	logger         *slog.Logger
}

// HandlerOption 可選的依賴
type HandlerOption func(*Handler)

// WithLeaderboard 啟用排行榜端點
func WithLeaderboard(l LeaderboardReader) HandlerOption {
	return func(h *Handler) { h.leaderboard = l }
}

// WithHistory 啟用歷史端點
func WithHistory(g GameHistory) HandlerOption {
	return func(h *Handler) { h.history = g }
}

// WithAllowedOrigins CORS 允許的來源，含 "*" 時允許全部
func WithAllowedOrigins(origins []string) HandlerOption {
	return func(h *Handler) { h.allowedOrigins = origins }
}

// NewHandler 創建 HTTP 處理器
func NewHandler(coord *game.Coordinator, hub *WebSocketHub, logger *slog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		coord:  coord,
		hub:    hub,
		logger: logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(h.recoverer(), h.loggerMiddleware())
	if cfg, ok := h.corsConfig(); ok {
		r.Use(cors.New(cfg))
	}

	// 健康檢查
	r.GET("/health", h.health)
	r.GET("/stats", h.stats)

	// 遊戲連線
	r.GET("/ws", h.serveWS)

	api := r.Group("/api/v1")
	{
		api.POST("/rooms", h.createRoom)
		api.GET("/rooms/:code", h.getRoom)
		api.GET("/words", h.words)
		api.GET("/leaderboard", h.getLeaderboard)
		api.GET("/games", h.recentGames)
	}

	return r
}

func (h *Handler) corsConfig() (cors.Config, bool) {
	if len(h.allowedOrigins) == 0 {
		return cors.Config{}, false
	}

	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if slices.Contains(h.allowedOrigins, "*") {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = h.allowedOrigins
	}
	return cfg, true
}

// health 健康檢查
func (h *Handler) health(c *gin.Context) {
	stats := h.coord.Registry().Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":             "OK",
		"total_rooms":        stats.Rooms,
		"total_participants": stats.Participants,
	})
}

// stats 統計資訊
func (h *Handler) stats(c *gin.Context) {
	stats := h.coord.Registry().Stats()
	c.JSON(http.StatusOK, gin.H{
		"total_rooms":        stats.Rooms,
		"total_participants": stats.Participants,
		"by_phase":           stats.ByPhase,
		"active_timers":      stats.ActiveTimers,
		"connections":        h.hub.ConnectionCount(),
	})
}

func (h *Handler) serveWS(c *gin.Context) {
	h.hub.ServeWS(c.Writer, c.Request)
}

// createRoom 建立空房間，回傳代碼
func (h *Handler) createRoom(c *gin.Context) {
	code, err := h.coord.CreateRoom()
	if err != nil {
		h.errorResponse(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"room_code": code})
}

// getRoom 房間摘要（不含題目）
func (h *Handler) getRoom(c *gin.Context) {
	room, ok := h.coord.Registry().Get(c.Param("code"))
	if !ok {
		h.errorResponse(c, apperrors.ErrRoomNotFound)
		return
	}
	c.JSON(http.StatusOK, room.Snapshot())
}

// words 目前使用的題庫
func (h *Handler) words(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"words": h.coord.Registry().Settings().Room.Words})
}

// getLeaderboard 排行榜
func (h *Handler) getLeaderboard(c *gin.Context) {
	if h.leaderboard == nil {
		h.errorResponse(c, apperrors.ErrUnavailable.WithDetails("leaderboard"))
		return
	}

	limit, err := parseLimit(c)
	if err != nil {
		h.errorResponse(c, err)
		return
	}

	entries, err := h.leaderboard.Top(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("讀取排行榜失敗", "error", err)
		h.errorResponse(c, apperrors.Wrap(err, apperrors.ErrCodeInternal, "leaderboard unavailable"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// recentGames 最近的遊戲
func (h *Handler) recentGames(c *gin.Context) {
	if h.history == nil {
		h.errorResponse(c, apperrors.ErrUnavailable.WithDetails("game history"))
		return
	}

	limit, err := parseLimit(c)
	if err != nil {
		h.errorResponse(c, err)
		return
	}

	games, err := h.history.RecentGames(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("讀取遊戲歷史失敗", "error", err)
		h.errorResponse(c, apperrors.Wrap(err, apperrors.ErrCodeInternal, "game history unavailable"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"games": games})
}

// parseLimit 讀取 ?limit=，預設 10，上限 100
func parseLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, apperrors.ErrInvalidInput.WithDetails("limit must be a positive integer")
	}
	return min(limit, maxListLimit), nil
}

// errorResponse 返回錯誤響應 {error, code}
func (h *Handler) errorResponse(c *gin.Context, err error) {
	code := apperrors.CodeOf(err)
	c.AbortWithStatusJSON(httpStatus(code), gin.H{
		"error": apperrors.MessageOf(err),
		"code":  code,
	})
}

// httpStatus 錯誤碼對應的 HTTP 狀態
func httpStatus(code string) int {
	switch code {
	case apperrors.ErrCodeRoomNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case apperrors.ErrCodeRoomFull, apperrors.ErrCodeNameTaken, apperrors.ErrCodeAlreadyStarted,
		apperrors.ErrCodeInvalidState, apperrors.ErrCodeNotEnoughPlayers:
		return http.StatusConflict
	case apperrors.ErrCodeNotHost, apperrors.ErrCodeNotYourTurn, apperrors.ErrCodeDrawerCannotGuess:
		return http.StatusForbidden
	case apperrors.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case apperrors.ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		h.logger.Info("HTTP 請求",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		h.logger.Error("處理請求時發生 panic",
			"error", recovered,
			"method", c.Request.Method,
			"path", c.Request.URL.Path)

		h.errorResponse(c, apperrors.ErrInternal)
	})
}
