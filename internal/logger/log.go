// Package logger holds the process-wide structured logger. It starts as a
// no-op so packages can log unconditionally; cmd/ binaries call Init.
package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the shared logger. Never nil.
var Log = zap.NewNop().Sugar()

// Init replaces Log with a console logger at the given level
// ("debug", "info", "warn", "error"). Unknown levels fall back to info.
func Init(level string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}

	l, err := cfg.Build()
	if err != nil {
		return err
	}
	Log = l.Sugar()
	return nil
}

// Named returns a child logger tagged with name, e.g. "realtime".
func Named(name string) *zap.SugaredLogger {
	return Log.Named(name)
}

// Sync flushes buffered entries.
func Sync() {
	_ = Log.Sync()
}

// Redact masks a bearer token for logging, keeping only a short prefix.
func Redact(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "<redacted>"
	}
	return token[:4] + "…<redacted>"
}
