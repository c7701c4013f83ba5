// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package logx builds a structured zap logger and adapts it to the
// htpscan.HookLogFunc signature, so a caller that wants file rotation and
// leveled output doesn't have to write that glue itself.
package logx

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/intuitivelabs/htpscan"
)

// Options configures the rotating file (or stdout) sink.
type Options struct {
	Stdout     bool   `mapstructure:"stdout"`
	Level      string `mapstructure:"level"` // debug, info, warn, error
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxAge     int    `mapstructure:"max_age"`  // days
	MaxBackups int    `mapstructure:"max_backups"`
}

func toZapLevel(l string) zapcore.Level {
	switch l {
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.DebugLevel
	}
}

func toZapEntryLevel(l htpscan.LogLevel) zapcore.Level {
	switch l {
	case htpscan.LogInfo:
		return zapcore.InfoLevel
	case htpscan.LogWarn:
		return zapcore.WarnLevel
	case htpscan.LogError:
		return zapcore.ErrorLevel
	default:
		return zapcore.DebugLevel
	}
}

// Logger wraps a zap.SugaredLogger and exposes a Hook method usable
// directly as Hooks.Log.
type Logger struct {
	sugared *zap.SugaredLogger
}

// New builds a Logger from Options. A zero Filename with Stdout false
// falls back to stdout, since a misconfigured log path shouldn't make the
// parser unusable.
func New(opt Options) Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format("2006-01-02T15:04:05.000Z"))
	}
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewConsoleEncoder(encoderConfig)

	var w zapcore.WriteSyncer
	if opt.Stdout || opt.Filename == "" {
		w = zapcore.AddSync(os.Stdout)
	} else {
		if err := os.MkdirAll(filepath.Dir(opt.Filename), 0o755); err != nil {
			w = zapcore.AddSync(os.Stdout)
		} else {
			w = zapcore.AddSync(&lumberjack.Logger{
				Filename:   opt.Filename,
				MaxSize:    opt.MaxSize,
				MaxBackups: opt.MaxBackups,
				MaxAge:     opt.MaxAge,
				LocalTime:  false,
			})
		}
	}

	core := zapcore.NewCore(encoder, w, toZapLevel(opt.Level))
	return Logger{sugared: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()}
}

// Hook adapts Logger to htpscan.HookLogFunc, suitable for
// htpscan.Hooks{Log: logger.Hook}.
func (l Logger) Hook(e htpscan.LogEntry) {
	switch toZapEntryLevel(e.Level) {
	case zapcore.InfoLevel:
		l.sugared.Infow(e.Message, "site", e.Site, "flags", e.Code.String())
	case zapcore.WarnLevel:
		l.sugared.Warnw(e.Message, "site", e.Site, "flags", e.Code.String())
	case zapcore.ErrorLevel:
		l.sugared.Errorw(e.Message, "site", e.Site, "flags", e.Code.String())
	default:
		l.sugared.Debugw(e.Message, "site", e.Site, "flags", e.Code.String())
	}
}

// Sync flushes any buffered log entries; callers should defer it after
// constructing a Logger that writes to a file.
func (l Logger) Sync() error {
	return l.sugared.Sync()
}
