// Package logger wires the process-wide structured logger. PySentinel
// components take an injected *zap.Logger rather than reaching for a
// package global directly; Get is provided for cmd/ wiring and tests.
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var (
	global     *zap.Logger
	globalOnce sync.Once
)

// Options configures the global logger.
type Options struct {
	Level      string // debug, info, warn, error
	LogFile    string // rotated file sink; empty disables it
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultOptions returns sane defaults matching the config schema's
// global.log_level default.
func DefaultOptions() Options {
	return Options{
		Level:      "info",
		LogFile:    "sentinel.log",
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 14,
	}
}

// New builds a *zap.Logger writing to stdout and, if LogFile is set, a
// rotated file sink.
func New(opts Options) *zap.Logger {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level),
	}

	if opts.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.LogFile,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

// Get returns the global logger, initializing it with default options
// on first use.
func Get() *zap.Logger {
	globalOnce.Do(func() {
		if global == nil {
			global = New(DefaultOptions())
		}
	})
	return global
}

// SetGlobal installs l as the process-wide logger returned by Get.
func SetGlobal(l *zap.Logger) {
	global = l
}

// Sync flushes any buffered log entries.
func Sync() error {
	if global != nil {
		return global.Sync()
	}
	return nil
}
