package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults for the log file.
const (
	DefaultMaxSizeMB  = 100
	DefaultMaxBackups = 5
	DefaultMaxAgeDays = 30
)

// RotationConfig controls lumberjack rotation. Zero sizes use the defaults.
type RotationConfig struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultRotation is 100 MB files, 5 backups, 30 days, gzip compressed.
func DefaultRotation() RotationConfig {
	return RotationConfig{
		MaxSizeMB:  DefaultMaxSizeMB,
		MaxBackups: DefaultMaxBackups,
		MaxAgeDays: DefaultMaxAgeDays,
		Compress:   true,
	}
}

// FileWriter is a rotating log file. Close releases the file handle.
type FileWriter struct {
	zapcore.WriteSyncer
	lj *lumberjack.Logger
}

// NewFileWriter creates the parent directory and returns a rotating writer
// for path.
func NewFileWriter(path string, cfg RotationConfig) (*FileWriter, error) {
	if path == "" {
		return nil, fmt.Errorf("log file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = DefaultMaxSizeMB
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = DefaultMaxBackups
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = DefaultMaxAgeDays
	}
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return &FileWriter{WriteSyncer: zapcore.AddSync(lj), lj: lj}, nil
}

// Rotate closes the current file and starts a new one.
func (w *FileWriter) Rotate() error { return w.lj.Rotate() }

// Close closes the underlying file.
func (w *FileWriter) Close() error { return w.lj.Close() }
