package logging

import (
	"go.uber.org/zap/zapcore"
)

// NewMultiCore tees a console core and an optional JSON file core. The
// console is colored text in development and JSON otherwise.
func NewMultiCore(level zapcore.LevelEnabler, console, file zapcore.WriteSyncer, dev bool) zapcore.Core {
	var consoleEncoder zapcore.Encoder
	if dev {
		consoleEncoder = zapcore.NewConsoleEncoder(ConsoleEncoderConfig())
	} else {
		consoleEncoder = zapcore.NewJSONEncoder(JSONEncoderConfig())
	}
	cores := []zapcore.Core{zapcore.NewCore(consoleEncoder, console, level)}
	if file != nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(JSONEncoderConfig()), file, level))
	}
	return zapcore.NewTee(cores...)
}
