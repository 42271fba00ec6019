package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level = zapcore.Level

const (
	DEBUG = zapcore.DebugLevel
	INFO  = zapcore.InfoLevel
	WARN  = zapcore.WarnLevel
	ERROR = zapcore.ErrorLevel
)

var (
	mu    sync.RWMutex
	level = zap.NewAtomicLevelAt(INFO)
	base  = newBase()
)

func newBase() *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg := zap.Config{
		Level:            level,
		Encoding:         "console",
		EncoderConfig:    encCfg,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		l = zap.NewNop()
	}
	return l.Sugar()
}

func SetLevel(l Level) {
	level.SetLevel(l)
}

// component-scoped helpers; the F variants attach structured fields.

func componentLogger(component string) *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return base.With("component", component)
}

func fieldsToArgs(fields map[string]interface{}) []interface{} {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

func DebugC(component, msg string) {
	componentLogger(component).Debug(msg)
}

func DebugCF(component, msg string, fields map[string]interface{}) {
	componentLogger(component).Debugw(msg, fieldsToArgs(fields)...)
}

func InfoC(component, msg string) {
	componentLogger(component).Info(msg)
}

func InfoCF(component, msg string, fields map[string]interface{}) {
	componentLogger(component).Infow(msg, fieldsToArgs(fields)...)
}

func WarnC(component, msg string) {
	componentLogger(component).Warn(msg)
}

func WarnCF(component, msg string, fields map[string]interface{}) {
	componentLogger(component).Warnw(msg, fieldsToArgs(fields)...)
}

func ErrorC(component, msg string) {
	componentLogger(component).Error(msg)
}

func ErrorCF(component, msg string, fields map[string]interface{}) {
	componentLogger(component).Errorw(msg, fieldsToArgs(fields)...)
}

// Sync flushes buffered log entries. Callers should invoke it on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = base.Sync()
}
