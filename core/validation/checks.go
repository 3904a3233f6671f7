package validation

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"mochi_backend/core"
)

// MinImageSpace is the free space below which the image directory check
// warns. One full-resolution PNG is a few MB.
const MinImageSpace uint64 = 512 << 20

// CheckWritableDir creates dir if needed and proves it is writable with a
// throwaway file.
func CheckWritableDir(key, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", core.ErrDirectory(key, dir, err)
	}
	f, err := os.CreateTemp(dir, ".mochi-probe-*")
	if err != nil {
		return "", core.ErrDirectory(key, dir, err)
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return dir, nil
}

// CheckDiskSpace reports free space at dir and fails below min.
func CheckDiskSpace(dir string, min uint64) (string, error) {
	for {
		if _, err := os.Stat(dir); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	total, free, err := freeSpace(dir)
	if err != nil {
		return "", fmt.Errorf("cannot read free space at %s: %w", dir, err)
	}
	msg := fmt.Sprintf("%s free of %s", humanize.IBytes(free), humanize.IBytes(total))
	if free < min {
		return msg, &core.ConfigError{
			Code:    core.ErrCodeDiskSpace,
			Message: fmt.Sprintf("Only %s free at %s", humanize.IBytes(free), dir),
			Action:  fmt.Sprintf("Free at least %s or move MOCHI_IMAGE_DIR", humanize.IBytes(min)),
		}
	}
	return msg, nil
}

// CountModelDirs returns the number of non-hidden subdirectories of dir.
func CountModelDirs(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() && e.Name()[0] != '.' {
			n++
		}
	}
	return n, nil
}
