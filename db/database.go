package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrClosed is returned by operations on a closed Database.
var ErrClosed = errors.New("db: database is closed")

// Database owns the SQLite connection and the background writer.
//
//	database, err := db.Open("/home/user/MochiDiffusion/history.db", logger)
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
type Database struct {
	mu     sync.RWMutex
	conn   *sql.DB
	path   string
	writer *AsyncWriter
	logger *zap.Logger
}

// Open creates the parent directory, applies migrations and starts the
// background writer.
func Open(path string, logger *zap.Logger) (*Database, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}
	if err := MigrateUp(path); err != nil {
		return nil, err
	}
	conn, err := NewSQLiteConnection(DefaultConnectionConfig(path))
	if err != nil {
		return nil, err
	}

	d := &Database{conn: conn, path: path, logger: logger.Named("db")}
	d.writer = NewAsyncWriter(d.execute, DefaultChannelCapacity)
	d.writer.Start()
	return d, nil
}

func (d *Database) execute(op WriteOperation) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.conn == nil {
		return ErrClosed
	}
	if _, err := d.conn.Exec(op.Query, op.Args...); err != nil {
		d.logger.Warn("history write failed",
			zap.Error(err),
			zap.Duration("queued_for", time.Since(op.Timestamp)))
		return err
	}
	return nil
}

// enqueue runs a write in the background. A full queue drops the write.
func (d *Database) enqueue(query string, args ...any) {
	if !d.writer.Write(query, args...) {
		d.logger.Warn("history write dropped", zap.Int("pending", d.writer.Pending()))
	}
}

// Flush waits until queued writes have been executed or timeout passes.
func (d *Database) Flush(timeout time.Duration) bool {
	return d.writer.Flush(timeout)
}

// Path returns the database file path.
func (d *Database) Path() string { return d.path }

// Close drains queued writes and closes the connection.
func (d *Database) Close() error {
	if !d.writer.Stop(DefaultDrainTimeout) {
		d.logger.Warn("history writes still pending at close")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

func (d *Database) query(fn func(conn *sql.DB) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.conn == nil {
		return ErrClosed
	}
	return fn(d.conn)
}
