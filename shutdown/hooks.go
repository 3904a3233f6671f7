package shutdown

import (
	"context"
	"errors"
	"io"
	"net/http"
	"syscall"

	"go.uber.org/zap"
)

// TempCleaner removes leftover atomic-write temp files from a directory.
type TempCleaner interface {
	CleanupTempFiles(dir string) (int, error)
}

// RemoveTempImages deletes stale image temp files. Failures are logged and
// never block shutdown.
func RemoveTempImages(logger *zap.Logger, cleaner TempCleaner, dir string) Func {
	return func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			logger.Warn("skipping temp image cleanup", zap.Error(err))
			return nil
		}
		removed, err := cleaner.CleanupTempFiles(dir)
		if err != nil {
			logger.Warn("temp image cleanup incomplete",
				zap.String("dir", dir),
				zap.Int("removed", removed),
				zap.Error(err))
			return nil
		}
		if removed > 0 {
			logger.Info("removed stale temp images", zap.String("dir", dir), zap.Int("removed", removed))
		}
		return nil
	}
}

// StopHTTP gracefully stops an http.Server.
func StopHTTP(server *http.Server) Func {
	return func(ctx context.Context) error {
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Close adapts an io.Closer.
func Close(c io.Closer) Func {
	return func(context.Context) error { return c.Close() }
}

// SyncLogger flushes buffered log entries. Sync on a terminal returns
// EINVAL or ENOTTY on some platforms; those are ignored.
func SyncLogger(logger *zap.Logger) Func {
	return func(context.Context) error {
		err := logger.Sync()
		if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
			return nil
		}
		return err
	}
}
