package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// CleanupResult reports what a retention pass removed.
type CleanupResult struct {
	RequestsDeleted int64
	ImagesDeleted   int64
	Duration        time.Duration
}

// Cleanup deletes history older than retention in one transaction. Image
// rows go with their request. The image files themselves are untouched.
func (d *Database) Cleanup(ctx context.Context, retention time.Duration) (CleanupResult, error) {
	start := time.Now()
	var result CleanupResult
	if retention < 0 {
		return result, fmt.Errorf("retention must be non-negative, got %v", retention)
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	cutoff := fmt.Sprintf("-%d seconds", int64(retention.Seconds()))
	err := d.query(func(conn *sql.DB) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		res, err := tx.ExecContext(ctx, `
			DELETE FROM generated_images
			WHERE created_at < datetime('now', ?)
			   OR request_id IN (SELECT id FROM generation_requests WHERE created_at < datetime('now', ?))`,
			cutoff, cutoff)
		if err != nil {
			return fmt.Errorf("failed to delete images: %w", err)
		}
		result.ImagesDeleted, _ = res.RowsAffected()

		res, err = tx.ExecContext(ctx,
			`DELETE FROM generation_requests WHERE created_at < datetime('now', ?)`, cutoff)
		if err != nil {
			return fmt.Errorf("failed to delete requests: %w", err)
		}
		result.RequestsDeleted, _ = res.RowsAffected()

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit cleanup: %w", err)
		}
		return nil
	})
	result.Duration = time.Since(start)
	return result, err
}

// RunRetention runs Cleanup every interval until ctx is done. A zero
// retention disables it.
func (d *Database) RunRetention(ctx context.Context, interval, retention time.Duration) {
	if retention <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := d.Cleanup(ctx, retention)
			if err != nil {
				d.logger.Warn("history cleanup failed", zap.Error(err))
				continue
			}
			if result.RequestsDeleted > 0 || result.ImagesDeleted > 0 {
				d.logger.Info("history cleanup complete",
					zap.Int64("requests_deleted", result.RequestsDeleted),
					zap.Int64("images_deleted", result.ImagesDeleted),
					zap.Duration("duration", result.Duration))
			}
		}
	}
}
