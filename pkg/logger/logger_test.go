package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/alexandreohara/pictionary-test/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"nonsense", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, logger.ParseLevel(tt.in))
		})
	}
}

func TestNew_ContextAttributes(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&buf, logger.Options{Level: "debug", Format: "json"})

	ctx := logger.WithRoomCode(logger.WithConnID(context.Background(), "conn-1"), "ABC123")
	log.With("component", "test").InfoContext(ctx, "房間已建立")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "conn-1", entry["conn_id"])
	assert.Equal(t, "ABC123", entry["room_code"])
	assert.Equal(t, "test", entry["component"])
}

func TestNew_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&buf, logger.Options{Level: "warn", Format: "text"})

	log.Info("不應輸出")
	assert.Zero(t, buf.Len())

	log.Warn("應輸出")
	assert.Contains(t, buf.String(), "應輸出")
}
