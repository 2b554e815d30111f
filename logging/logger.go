package logging

import (
	"context"
)

// Logger is the structured logging interface used throughout the gripper packages.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})

	// CDebugw logs at debug when either the logger is at debug level or the context has debug
	// mode enabled (see EnableDebugMode).
	CDebugw(ctx context.Context, msg string, keysAndValues ...interface{})

	SetLevel(level Level)
	Sublogger(subname string) Logger
	AddAppender(appender Appender)
	Sync() error
}
