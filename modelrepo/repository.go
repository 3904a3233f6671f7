package modelrepo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mochi_backend/generation"
	"mochi_backend/sdruntime"
)

// controlNetLink is the per-model link to the shared ControlNet directory.
const controlNetLink = "controlnet"

// Repository loads models from a directory of model subdirectories.
type Repository struct {
	logger *zap.Logger
}

// New creates a Repository.
func New(logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{logger: logger.Named("models")}
}

// Load returns the models under modelDir sorted case-insensitively by name.
// Models that accept ControlNet conditioning list every ControlNet found in
// controlNetDir and get a "controlnet" link pointing at it.
func (r *Repository) Load(ctx context.Context, modelDir, controlNetDir string) ([]generation.Model, error) {
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNoAccess, modelDir, err)
	}
	entries, err := os.ReadDir(modelDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNoSubdirectories, modelDir, err)
	}

	var dirs []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if isDir(filepath.Join(modelDir, e.Name())) {
			dirs = append(dirs, e.Name())
		}
	}
	sort.SliceStable(dirs, func(i, j int) bool {
		return strings.ToLower(dirs[i]) < strings.ToLower(dirs[j])
	})

	controlNets := r.ControlNets(controlNetDir)

	found := make([]*generation.Model, len(dirs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, name := range dirs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			dir := filepath.Join(modelDir, name)
			model, ok := probe(dir, controlNets)
			if !ok {
				r.logger.Debug("skipping directory without a model", zap.String("dir", dir))
				return nil
			}
			if model.SD != nil && len(model.SD.ControlNets) > 0 {
				r.linkControlNets(dir, controlNetDir)
			}
			found[i] = &model
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	models := make([]generation.Model, 0, len(found))
	for _, m := range found {
		if m != nil {
			models = append(models, *m)
		}
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoModelsFound, modelDir)
	}

	r.logger.Info("models loaded",
		zap.String("dir", modelDir),
		zap.Int("count", len(models)),
		zap.Int("controlnets", len(controlNets)))
	return models, nil
}

// ModelExists reports whether the model's directory is still on disk.
func (r *Repository) ModelExists(model generation.Model) bool {
	path := model.Path()
	return path != "" && exists(path)
}

// ControlNets lists the ControlNet names in dir: subdirectories and
// checkpoint files. A missing or unreadable directory yields none.
func (r *Repository) ControlNets(dir string) []string {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn("unable to read controlnet directory", zap.String("dir", dir), zap.Error(err))
		}
		return nil
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if isDir(filepath.Join(dir, name)) || sdruntime.IsWeightFile(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (r *Repository) linkControlNets(modelDir, controlNetDir string) {
	link := filepath.Join(modelDir, controlNetLink)
	if exists(link) {
		return
	}
	if err := os.Symlink(controlNetDir, link); err != nil {
		r.logger.Debug("unable to link controlnet directory", zap.String("link", link), zap.Error(err))
	}
}
