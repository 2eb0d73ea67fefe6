// Package logger wraps a process-wide zap logger. Output goes to stderr, or to a
// rotated file when one is configured.
package logger

import (
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls Init. Zero values pick sensible defaults.
type Options struct {
	Level      string // debug, info, warn, error
	File       string // empty means stderr
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

var (
	mu      sync.RWMutex
	sugared = zap.NewNop().Sugar()
)

func init() {
	if l, err := build(Options{Level: "info"}); err == nil {
		sugared = l
	}
}

// Init replaces the process logger.
func Init(opts Options) error {
	l, err := build(opts)
	if err != nil {
		return err
	}
	mu.Lock()
	old := sugared
	sugared = l
	mu.Unlock()
	_ = old.Sync()
	return nil
}

func build(opts Options) (*zap.SugaredLogger, error) {
	level := ParseLevel(opts.Level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006-01-02 15:04:05"))
	}
	encCfg.EncodeCaller = zapcore.ShortCallerEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.MessageKey = "message"

	var encoder zapcore.Encoder
	if level == zapcore.DebugLevel {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	var sink zapcore.WriteSyncer
	if opts.File != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    withDefault(opts.MaxSizeMB, 100),
			MaxBackups: withDefault(opts.MaxBackups, 3),
			MaxAge:     withDefault(opts.MaxAgeDays, 28),
			Compress:   opts.Compress,
		})
	} else {
		sink = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(encoder, sink, zap.NewAtomicLevelAt(level))
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar(), nil
}

func withDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// ParseLevel maps a level name to zap. Unknown names mean info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugared
}

func Debugf(format string, args ...interface{}) { current().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { current().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { current().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { current().Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) { current().Fatalf(format, args...) }

// With returns a child logger carrying the given key/value pairs.
func With(keysAndValues ...interface{}) *zap.SugaredLogger {
	return current().Desugar().WithOptions(zap.AddCallerSkip(-1)).Sugar().With(keysAndValues...)
}

// Sync flushes buffered entries; call before exit.
func Sync() {
	_ = current().Sync()
}
