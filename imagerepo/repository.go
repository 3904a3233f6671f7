// Package imagerepo stores generated images on local disk.
package imagerepo

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"mochi_backend/generation"
)

// TempFilePattern matches the temporary files written before an atomic rename.
const TempFilePattern = ".mochi-tmp-*"

// jpegQuality is used when results are converted to JPEG.
const jpegQuality = 95

var (
	// ErrEmptyImage is returned by WriteImage for a result without image data.
	ErrEmptyImage = errors.New("imagerepo: result has no image data")
	// ErrInvalidFilename is returned by WriteImage for a stem that would
	// place the file outside the output directory.
	ErrInvalidFilename = errors.New("imagerepo: filename leaves the output directory")
)

// imageExtensions are the file types Load picks up.
var imageExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// Record is one image found on disk.
type Record struct {
	Path        string              `json:"path"`
	Name        string              `json:"name"`
	ModTime     time.Time           `json:"mod_time"`
	Size        int64               `json:"size"`
	Metadata    generation.Metadata `json:"metadata"`
	HasMetadata bool                `json:"has_metadata"`
}

// Repository reads and writes images under output directories.
type Repository struct {
	logger *zap.Logger
}

// New creates a Repository.
func New(logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{logger: logger.Named("images")}
}

// EnsureOutputDirectory creates dir if needed and checks that it is
// writable. Failures are returned as *generation.ImageDirectoryError.
func (r *Repository) EnsureOutputDirectory(dir string) (string, error) {
	if dir == "" {
		return "", &generation.ImageDirectoryError{Path: dir, Err: errors.New("empty path")}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", &generation.ImageDirectoryError{Path: dir, Err: err}
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", &generation.ImageDirectoryError{Path: abs, Err: err}
	}
	probe, err := os.CreateTemp(abs, TempFilePattern)
	if err != nil {
		return "", &generation.ImageDirectoryError{Path: abs, Err: err}
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return abs, nil
}

// WriteImage saves result under dir as "<stem>.<ext>" and returns the path.
// The file is written to a temporary name and renamed into place.
func (r *Repository) WriteImage(stem string, result generation.Result, dir string, imageType generation.ImageType) (string, error) {
	if len(result.ImageData) == 0 {
		return "", ErrEmptyImage
	}
	data, err := encodeForType(result, imageType)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, stem+"."+imageType.Extension())
	if filepath.Dir(path) != filepath.Clean(dir) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, stem)
	}
	if err := writeAtomic(dir, path, data); err != nil {
		return "", err
	}
	r.logger.Debug("image saved", zap.String("path", path), zap.Int("bytes", len(data)))
	return path, nil
}

// Load lists the images in dir oldest first. Images written by WriteImage
// come back with their metadata.
func (r *Repository) Load(dir string) ([]Record, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &generation.ImageDirectoryError{Path: dir, Err: err}
	}
	var records []Record
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !imageExtensions[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		rec := Record{
			Path:    filepath.Join(dir, name),
			Name:    name,
			ModTime: info.ModTime(),
			Size:    info.Size(),
		}
		if data, err := os.ReadFile(rec.Path); err == nil {
			rec.Metadata, rec.HasMetadata = readMetadata(data)
		} else {
			r.logger.Warn("unable to read image", zap.String("path", rec.Path), zap.Error(err))
		}
		records = append(records, rec)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ModTime.Before(records[j].ModTime)
	})
	return records, nil
}

// Delete removes the image at path. A missing file is not an error.
func (r *Repository) Delete(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("imagerepo: delete %s: %w", path, err)
	}
	return nil
}

// CleanupTempFiles removes interrupted writes from dir.
func (r *Repository) CleanupTempFiles(dir string) (int, error) {
	n, err := CleanupTempFiles(dir)
	if n > 0 {
		r.logger.Info("Removed stale temp images", zap.String("dir", dir), zap.Int("removed", n))
	}
	return n, err
}

// CleanupTempFiles removes leftover temporary files from interrupted writes
// and returns how many were removed.
func CleanupTempFiles(dir string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, TempFilePattern))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range matches {
		if err := os.Remove(m); err == nil {
			removed++
		}
	}
	return removed, nil
}

func encodeForType(result generation.Result, imageType generation.ImageType) ([]byte, error) {
	entries := textEntries(result.Metadata)
	if imageType != generation.ImageTypeJPEG {
		return embedPNGText(result.ImageData, entries)
	}

	img, _, err := image.Decode(bytes.NewReader(result.ImageData))
	if err != nil {
		return nil, fmt.Errorf("imagerepo: decode result: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("imagerepo: encode jpeg: %w", err)
	}
	return embedJPEGComment(buf.Bytes(), commentFor(entries))
}

// commentFor flattens entries into one caption, leaving out the
// description that already repeats them.
func commentFor(entries []textEntry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Key == keyDescription || e.Key == keySoftware {
			continue
		}
		parts = append(parts, e.Key+": "+e.Value)
	}
	return strings.Join(parts, captionSeparator)
}

func readMetadata(data []byte) (generation.Metadata, bool) {
	if comment, ok := readJPEGComment(data); ok {
		return metadataFromText(parseCaption(comment))
	}
	entries, err := readPNGText(data)
	if err != nil || len(entries) == 0 {
		return generation.Metadata{}, false
	}
	values := make(map[string]string, len(entries))
	for _, e := range entries {
		values[e.Key] = e.Value
	}
	return metadataFromText(values)
}

func writeAtomic(dir, path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(dir, TempFilePattern)
	if err != nil {
		return fmt.Errorf("imagerepo: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("imagerepo: write %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("imagerepo: sync %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("imagerepo: close %s: %w", path, err)
	}
	if err = os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("imagerepo: chmod %s: %w", path, err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("imagerepo: rename into %s: %w", path, err)
	}
	return nil
}
