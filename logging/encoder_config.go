package logging

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// JSON keys shared by the file and production console encoders.
const (
	KeyTimestamp  = "timestamp"
	KeyLevel      = "level"
	KeyLogger     = "logger"
	KeyCaller     = "caller"
	KeyMessage    = "message"
	KeyStacktrace = "stacktrace"
)

// JSONEncoderConfig is used for the log file and for console output in
// production.
func JSONEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        KeyTimestamp,
		LevelKey:       KeyLevel,
		NameKey:        KeyLogger,
		CallerKey:      KeyCaller,
		MessageKey:     KeyMessage,
		StacktraceKey:  KeyStacktrace,
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// ConsoleEncoderConfig is the colored, human readable development format.
func ConsoleEncoderConfig() zapcore.EncoderConfig {
	cfg := JSONEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("15:04:05.000"))
	}
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	return cfg
}
