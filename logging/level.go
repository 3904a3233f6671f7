package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// ParseLevel maps LOG_LEVEL values to a zap level. Unknown or empty
// values return def.
func ParseLevel(s string, def zapcore.Level) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	}
	return def
}
