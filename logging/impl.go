package logging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type impl struct {
	name  string
	level AtomicLevel
	inUTC bool

	// shared with every sublogger
	mu        *sync.RWMutex
	appenders *[]Appender
}

func newImpl(name string, level Level, inUTC bool, appenders ...Appender) *impl {
	return &impl{
		name:      name,
		level:     NewAtomicLevelAt(level),
		inUTC:     inUTC,
		mu:        &sync.RWMutex{},
		appenders: &appenders,
	}
}

// AddAppender adds an output to this logger and every sublogger sharing its appender set.
func (imp *impl) AddAppender(appender Appender) {
	imp.mu.Lock()
	*imp.appenders = append(*imp.appenders, appender)
	imp.mu.Unlock()
}

func (imp *impl) SetLevel(level Level) {
	imp.level.Set(level)
}

func (imp *impl) Sublogger(subname string) Logger {
	newName := subname
	if imp.name != "" {
		newName = imp.name + "." + subname
	}
	return &impl{
		name:      newName,
		level:     NewAtomicLevelAt(imp.level.Get()),
		inUTC:     imp.inUTC,
		mu:        imp.mu,
		appenders: imp.appenders,
	}
}

func (imp *impl) Sync() error {
	imp.mu.RLock()
	defer imp.mu.RUnlock()
	var err error
	for _, appender := range *imp.appenders {
		err = multierr.Append(err, appender.Sync())
	}
	return err
}

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) {
	imp.logw(imp.level.Get() <= DEBUG, DEBUG, msg, keysAndValues)
}

func (imp *impl) CDebugw(ctx context.Context, msg string, keysAndValues ...interface{}) {
	imp.logw(imp.level.Get() <= DEBUG || IsDebugMode(ctx), DEBUG, msg, keysAndValues)
}

func (imp *impl) Infow(msg string, keysAndValues ...interface{}) {
	imp.logw(imp.level.Get() <= INFO, INFO, msg, keysAndValues)
}

func (imp *impl) Warnw(msg string, keysAndValues ...interface{}) {
	imp.logw(imp.level.Get() <= WARN, WARN, msg, keysAndValues)
}

// logw turns keysAndValues into zap fields, odd elements being keys, and writes the entry to
// every appender.
func (imp *impl) logw(enabled bool, level Level, msg string, keysAndValues []interface{}) {
	if !enabled {
		return
	}
	entry := zapcore.Entry{
		Level:      level.AsZap(),
		Time:       time.Now(),
		LoggerName: imp.name,
		Message:    msg,
		Caller:     getCaller(),
	}
	if imp.inUTC {
		entry.Time = entry.Time.UTC()
	}

	fields := make([]zapcore.Field, 0, len(keysAndValues)/2)
	for keyIdx := 0; keyIdx < len(keysAndValues); keyIdx += 2 {
		key := fmt.Sprint(keysAndValues[keyIdx])
		if keyIdx+1 < len(keysAndValues) {
			fields = append(fields, zap.Any(key, keysAndValues[keyIdx+1]))
		} else {
			// keep the stray key visible instead of dropping it
			fields = append(fields, zap.Any(key, errors.New("unpaired log key")))
		}
	}

	imp.mu.RLock()
	defer imp.mu.RUnlock()
	for _, appender := range *imp.appenders {
		if err := appender.Write(entry, fields); err != nil {
			fmt.Fprint(os.Stderr, err)
		}
	}
}

// getCaller reports the file and line of the code that called a Logger method,
// e.g. "logging/impl_test.go:36".
func getCaller() zapcore.EntryCaller {
	var entryCaller zapcore.EntryCaller
	// getCaller, logw, then the Logger method
	const skipToLogCaller = 3
	var ok bool
	entryCaller.PC, entryCaller.File, entryCaller.Line, ok = runtime.Caller(skipToLogCaller)
	if !ok {
		return entryCaller
	}
	entryCaller.Defined = true
	if fn := runtime.FuncForPC(entryCaller.PC); fn != nil {
		entryCaller.Function = fn.Name()
	}
	return entryCaller
}
