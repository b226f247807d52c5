package mcpservice

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mcpdemo/server-go/mcp"
)

// ErrInvalidLoggingLevel indicates the provided level is not one of the
// protocol-defined severities.
var ErrInvalidLoggingLevel = errors.New("invalid logging level")

// NewSlogLevelVarLogging returns a LoggingCapability that maps protocol
// logging levels onto a slog.LevelVar. Handlers created from the same
// LevelVar observe level changes process-wide.
func NewSlogLevelVarLogging(lv *slog.LevelVar) LoggingCapability {
	return &slogLevelVarLogging{lv: lv}
}

type slogLevelVarLogging struct{ lv *slog.LevelVar }

func (l *slogLevelVarLogging) SetLevel(ctx context.Context, level mcp.LoggingLevel) error {
	if l == nil || l.lv == nil {
		return nil
	}
	if !mcp.IsValidLoggingLevel(level) {
		return ErrInvalidLoggingLevel
	}
	var slogLevel slog.Level
	switch level {
	case mcp.LoggingLevelDebug:
		slogLevel = slog.LevelDebug
	case mcp.LoggingLevelInfo, mcp.LoggingLevelNotice:
		slogLevel = slog.LevelInfo
	case mcp.LoggingLevelWarning:
		slogLevel = slog.LevelWarn
	default:
		// error and above all map to slog's error level.
		slogLevel = slog.LevelError
	}
	l.lv.Set(slogLevel)
	return nil
}
