// Package logger 提供結構化日誌功能
package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

// contextKey 用於上下文的鍵類型
type contextKey string

const (
	// ConnIDKey 連線 ID 的上下文鍵
	ConnIDKey contextKey = "conn_id"
	// RoomCodeKey 房間代碼的上下文鍵
	RoomCodeKey contextKey = "room_code"
)

// Options 日誌設定
type Options struct {
	Level     string
	Format    string
	AddSource bool
}

// New 建立日誌記錄器
//
// 處理器會被 contextHandler 包裝，使用 *Context 系列方法時自動帶上連線與房間資訊。
func New(w io.Writer, opts Options) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{
		Level:     ParseLevel(opts.Level),
		AddSource: opts.AddSource,
	}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, handlerOpts)
	default:
		handler = slog.NewTextHandler(w, handlerOpts)
	}

	return slog.New(&contextHandler{Handler: handler})
}

// Discard 回傳不輸出任何內容的日誌記錄器
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// ParseLevel 解析日誌級別
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// contextHandler 從上下文中提取資訊的處理器
type contextHandler struct {
	slog.Handler
}

// Handle 處理日誌記錄
func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if connID, ok := ctx.Value(ConnIDKey).(string); ok && connID != "" {
		r.AddAttrs(slog.String("conn_id", connID))
	}

	if code, ok := ctx.Value(RoomCodeKey).(string); ok && code != "" {
		r.AddAttrs(slog.String("room_code", code))
	}

	return h.Handler.Handle(ctx, r)
}

// WithAttrs 保持包裝，否則 logger.With 之後會遺失上下文欄位
func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup 同上
func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}

// WithConnID 添加連線 ID 到上下文
func WithConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, ConnIDKey, connID)
}

// WithRoomCode 添加房間代碼到上下文
func WithRoomCode(ctx context.Context, code string) context.Context {
	return context.WithValue(ctx, RoomCodeKey, code)
}
