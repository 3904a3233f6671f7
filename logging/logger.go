// Package logging builds the server's zap logger: console plus a rotated
// JSON file, with secrets redacted before encoding.
package logging

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures NewLoggerWithOptions.
type Options struct {
	Development bool
	// Level defaults to debug in development and info otherwise.
	Level *zapcore.Level
	// FilePath enables the rotated JSON log file when set.
	FilePath string
	Rotation RotationConfig
	// Console defaults to stdout.
	Console zapcore.WriteSyncer
}

// Logger owns the zap logger and its log file.
//
//	logger, err := logging.NewLogger(cfg.DevMode, cfg.LogFile)
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//	svc, err := generation.NewService(svcCfg, logger.Zap())
type Logger struct {
	zap         *zap.Logger
	level       zap.AtomicLevel
	file        *FileWriter
	development bool
	filePath    string
}

// NewLogger creates a logger with default rotation.
func NewLogger(development bool, filePath string) (*Logger, error) {
	return NewLoggerWithOptions(Options{
		Development: development,
		FilePath:    filePath,
		Rotation:    DefaultRotation(),
	})
}

// NewLoggerWithOptions creates a logger from opts.
func NewLoggerWithOptions(opts Options) (*Logger, error) {
	level := zapcore.InfoLevel
	if opts.Development {
		level = zapcore.DebugLevel
	}
	if opts.Level != nil {
		level = *opts.Level
	}
	atomic := zap.NewAtomicLevelAt(level)

	console := opts.Console
	if console == nil {
		console = zapcore.Lock(os.Stdout)
	}

	l := &Logger{level: atomic, development: opts.Development, filePath: opts.FilePath}
	var file zapcore.WriteSyncer
	if opts.FilePath != "" {
		fw, err := NewFileWriter(opts.FilePath, opts.Rotation)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = fw
		file = fw
	}

	core := NewRedactingCore(NewMultiCore(atomic, console, file, opts.Development))
	zapOpts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if opts.Development {
		zapOpts = append(zapOpts, zap.Development())
	}
	l.zap = zap.New(core, zapOpts...)
	return l, nil
}

// Zap returns the logger handed to packages.
func (l *Logger) Zap() *zap.Logger { return l.zap }

// Sugar returns a sugared view for printf-style call sites in main.
func (l *Logger) Sugar() *zap.SugaredLogger { return l.zap.Sugar() }

// Named returns a child zap logger.
func (l *Logger) Named(name string) *zap.Logger { return l.zap.Named(name) }

// SetLevel changes the level at runtime.
func (l *Logger) SetLevel(level zapcore.Level) { l.level.SetLevel(level) }

// Level returns the current level.
func (l *Logger) Level() zapcore.Level { return l.level.Level() }

// IsDevelopment reports whether development output is enabled.
func (l *Logger) IsDevelopment() bool { return l.development }

// FilePath returns the log file path, or "" when file logging is off.
func (l *Logger) FilePath() string { return l.filePath }

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	if l == nil || l.zap == nil {
		return nil
	}
	return l.zap.Sync()
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	err := l.Sync()
	if l.file != nil {
		err = errors.Join(err, l.file.Close())
	}
	return err
}
