// Package gallery keeps the in-memory collection of generated images.
package gallery

import (
	"context"
	"image"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"mochi_backend/generation"
	"mochi_backend/imagerepo"
)

// Preview is the image currently being generated. A nil Image clears it.
type Preview struct {
	Image   image.Image
	Version uint64
}

// Gallery tracks the saved images and the in-progress preview. It
// implements generation.Gallery.
type Gallery struct {
	mu       sync.RWMutex
	images   []imagerepo.Record
	current  image.Image
	version  uint64
	previews *generation.Hub[Preview]
	logger   *zap.Logger
}

// New creates an empty gallery.
func New(logger *zap.Logger) *Gallery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gallery{
		previews: generation.NewHub[Preview](),
		logger:   logger.Named("gallery"),
	}
}

// Load replaces the collection with the images already in dir.
func (g *Gallery) Load(repo *imagerepo.Repository, dir string) error {
	records, err := repo.Load(dir)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.images = records
	g.mu.Unlock()
	g.logger.Info("gallery loaded", zap.String("dir", dir), zap.Int("images", len(records)))
	return nil
}

// Count returns the number of images. The service numbers new files from
// Count()+1.
func (g *Gallery) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.images)
}

// Images returns a copy of the collection, oldest first.
func (g *Gallery) Images() []imagerepo.Record {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]imagerepo.Record(nil), g.images...)
}

// Add appends a saved result.
func (g *Gallery) Add(r generation.Result) {
	if r.ImagePath == "" {
		return
	}
	rec := imagerepo.Record{
		Path:        r.ImagePath,
		Name:        filepath.Base(r.ImagePath),
		ModTime:     r.Metadata.GeneratedDate,
		Size:        int64(len(r.ImageData)),
		Metadata:    r.Metadata,
		HasMetadata: true,
	}
	if rec.ModTime.IsZero() {
		rec.ModTime = time.Now()
	}
	g.mu.Lock()
	g.images = append(g.images, rec)
	g.mu.Unlock()
}

// Remove drops the image at path and reports whether it was present.
func (g *Gallery) Remove(path string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, rec := range g.images {
		if rec.Path == path {
			g.images = append(g.images[:i], g.images[i+1:]...)
			return true
		}
	}
	return false
}

// Find returns the record at path.
func (g *Gallery) Find(path string) (imagerepo.Record, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, rec := range g.images {
		if rec.Path == path {
			return rec, true
		}
	}
	return imagerepo.Record{}, false
}

// SetCurrentGenerating publishes the in-progress image; nil clears it.
func (g *Gallery) SetCurrentGenerating(img image.Image) {
	g.mu.Lock()
	if img == nil && g.current == nil {
		g.mu.Unlock()
		return
	}
	g.current = img
	g.version++
	p := Preview{Image: img, Version: g.version}
	g.mu.Unlock()
	g.previews.Publish(p)
}

// CurrentGenerating returns the latest preview.
func (g *Gallery) CurrentGenerating() Preview {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Preview{Image: g.current, Version: g.version}
}

// Previews streams preview changes until ctx is done.
func (g *Gallery) Previews(ctx context.Context) <-chan Preview {
	return g.previews.Subscribe(ctx)
}

// Close ends preview subscriptions.
func (g *Gallery) Close() {
	g.previews.Close()
}
