package mcpservice

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/mcpdemo/server-go/mcp"
)

func TestSlogLevelVarLogging_SetLevel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		level mcp.LoggingLevel
		want  slog.Level
	}{
		{mcp.LoggingLevelDebug, slog.LevelDebug},
		{mcp.LoggingLevelInfo, slog.LevelInfo},
		{mcp.LoggingLevelNotice, slog.LevelInfo},
		{mcp.LoggingLevelWarning, slog.LevelWarn},
		{mcp.LoggingLevelError, slog.LevelError},
		{mcp.LoggingLevelCritical, slog.LevelError},
		{mcp.LoggingLevelAlert, slog.LevelError},
		{mcp.LoggingLevelEmergency, slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			lv := new(slog.LevelVar)
			lc := NewSlogLevelVarLogging(lv)
			if err := lc.SetLevel(ctx, tt.level); err != nil {
				t.Fatalf("SetLevel: %v", err)
			}
			if got := lv.Level(); got != tt.want {
				t.Fatalf("level = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSlogLevelVarLogging_InvalidLevel(t *testing.T) {
	t.Parallel()
	lv := new(slog.LevelVar)
	lc := NewSlogLevelVarLogging(lv)

	err := lc.SetLevel(context.Background(), mcp.LoggingLevel("verbose"))
	if !errors.Is(err, ErrInvalidLoggingLevel) {
		t.Fatalf("expected ErrInvalidLoggingLevel, got %v", err)
	}
}
