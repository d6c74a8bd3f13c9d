package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v3"
)

// badgerLogger routes badger's printf-style logging onto slog. Info and debug
// chatter is demoted to debug so compaction noise stays out of normal output.
type badgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func newBadgerLogger(l *slog.Logger) *badgerLogger {
	return &badgerLogger{logger: l.With(slog.String("component", "badger"))}
}

func (b *badgerLogger) log(level slog.Level, format string, args ...interface{}) {
	if !b.logger.Enabled(context.Background(), level) {
		return
	}
	b.logger.Log(context.Background(), level, strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b *badgerLogger) Errorf(format string, args ...interface{}) {
	b.log(slog.LevelError, format, args...)
}

func (b *badgerLogger) Warningf(format string, args ...interface{}) {
	b.log(slog.LevelWarn, format, args...)
}

func (b *badgerLogger) Infof(format string, args ...interface{}) {
	b.log(slog.LevelDebug, format, args...)
}

func (b *badgerLogger) Debugf(format string, args ...interface{}) {
	b.log(slog.LevelDebug, format, args...)
}
