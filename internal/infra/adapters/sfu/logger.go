package sfu

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"

	"github.com/qrave1/parley/internal/application/constant"
)

const levelTrace = slog.LevelDebug - 4

// slogLoggerFactory направляет логи pion в slog.
type slogLoggerFactory struct{}

func (slogLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &slogLogger{scope: scope}
}

type slogLogger struct {
	scope string
}

func (l *slogLogger) log(level slog.Level, msg string) {
	logger := slog.Default()
	if !logger.Enabled(context.Background(), level) {
		return
	}

	logger.Log(context.Background(), level, msg, slog.String(constant.Scope, "pion/"+l.scope))
}

func (l *slogLogger) Trace(msg string) { l.log(levelTrace, msg) }
func (l *slogLogger) Tracef(format string, args ...any) {
	l.log(levelTrace, fmt.Sprintf(format, args...))
}
func (l *slogLogger) Debug(msg string) { l.log(slog.LevelDebug, msg) }
func (l *slogLogger) Debugf(format string, args ...any) {
	l.log(slog.LevelDebug, fmt.Sprintf(format, args...))
}
func (l *slogLogger) Info(msg string) { l.log(slog.LevelInfo, msg) }
func (l *slogLogger) Infof(format string, args ...any) {
	l.log(slog.LevelInfo, fmt.Sprintf(format, args...))
}
func (l *slogLogger) Warn(msg string) { l.log(slog.LevelWarn, msg) }
func (l *slogLogger) Warnf(format string, args ...any) {
	l.log(slog.LevelWarn, fmt.Sprintf(format, args...))
}
func (l *slogLogger) Error(msg string) { l.log(slog.LevelError, msg) }
func (l *slogLogger) Errorf(format string, args ...any) {
	l.log(slog.LevelError, fmt.Sprintf(format, args...))
}
