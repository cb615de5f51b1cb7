/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2026 tunmesh contributors. All Rights Reserved.
 */

package device

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	LogLevelSilent = iota
	LogLevelError
	LogLevelInfo
	LogLevelDebug
)

var _ Logger = &zapLogger{}

// Logger is the structured logging surface the device and peer packages
// depend on. It never reaches for the global log package.
type Logger interface {
	Debug(v ...interface{})
	Debugf(f string, v ...interface{})
	Info(v ...interface{})
	Infof(f string, v ...interface{})
	Error(v ...interface{})
	Errorf(f string, v ...interface{})
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

func zapLevel(level int) zapcore.Level {
	switch {
	case level >= LogLevelDebug:
		return zapcore.DebugLevel
	case level >= LogLevelInfo:
		return zapcore.InfoLevel
	case level >= LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.FatalLevel + 1 // above Fatal: nothing logs
	}
}

// NewLogger builds a console-encoded zap logger at the given level, with
// prepend attached to every line as the "device" field (normally the
// device's own name).
func NewLogger(level int, prepend string) *zapLogger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(cfg),
		zapcore.Lock(zapcore.AddSync(os.Stdout)),
		zapLevel(level),
	)

	base := zap.New(core)
	if prepend != "" {
		base = base.With(zap.String("device", prepend))
	}
	return &zapLogger{sugar: base.Sugar()}
}

func (l *zapLogger) Debug(v ...interface{})            { l.sugar.Debug(v...) }
func (l *zapLogger) Debugf(f string, v ...interface{})  { l.sugar.Debugf(f, v...) }
func (l *zapLogger) Info(v ...interface{})              { l.sugar.Info(v...) }
func (l *zapLogger) Infof(f string, v ...interface{})   { l.sugar.Infof(f, v...) }
func (l *zapLogger) Error(v ...interface{})             { l.sugar.Error(v...) }
func (l *zapLogger) Errorf(f string, v ...interface{})  { l.sugar.Errorf(f, v...) }
