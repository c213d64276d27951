package audit

import (
	"context"
	"time"

	"sentinel-policy/internal/storage"

	"go.uber.org/zap"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

type Sink interface {
	AddAuditLog(ctx context.Context, log storage.AuditLog) error
}

type Logger struct {
	sink   Sink
	logger *zap.Logger
}

func NewLogger(sink Sink, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{sink: sink, logger: logger}
}

func (l *Logger) Log(ctx context.Context, level, guildID, userID, event, details string) {
	if l == nil {
		return
	}
	entry := storage.AuditLog{
		GuildID:   guildID,
		UserID:    userID,
		Level:     level,
		Event:     event,
		Details:   details,
		CreatedAt: time.Now(),
	}
	if l.sink != nil {
		if err := l.sink.AddAuditLog(ctx, entry); err != nil {
			l.logger.Warn("audit persist failed", zap.String("event", event), zap.Error(err))
		}
	}

	fields := []zap.Field{
		zap.String("level", level),
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.String("event", event),
		zap.String("details", details),
	}
	if level == LevelCrit {
		l.logger.Warn("audit", fields...)
		return
	}
	l.logger.Info("audit", fields...)
}
