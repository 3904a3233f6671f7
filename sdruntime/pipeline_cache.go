package sdruntime

import (
	"image"
	"sync"
)

// Pipeline is a loaded Stable Diffusion pipeline.
type Pipeline interface {
	// Generate produces one image. A nil image with a nil error means step
	// returned false and the run was abandoned.
	Generate(params GenerateParams, step StepFunc) (image.Image, error)
	Close()
}

// Loader creates pipelines.
type Loader interface {
	Load(cfg PipelineConfig) (Pipeline, error)
}

// NativeLoader loads pipelines through the stable-diffusion.cpp bindings.
type NativeLoader struct {
	Threads   int
	VAETiling bool
}

// Load implements Loader.
func (l NativeLoader) Load(cfg PipelineConfig) (Pipeline, error) {
	if cfg.Threads == 0 {
		cfg.Threads = l.Threads
	}
	cfg.VAETiling = cfg.VAETiling || l.VAETiling
	sdCtx, err := LoadModel(cfg)
	if err != nil {
		return nil, err
	}
	return &nativePipeline{ctx: sdCtx}, nil
}

type nativePipeline struct {
	ctx *SDContext
}

func (p *nativePipeline) Generate(params GenerateParams, step StepFunc) (image.Image, error) {
	return GenerateImage(p.ctx, params, step)
}

func (p *nativePipeline) Close() {
	FreeContext(p.ctx)
}

// PipelineCache holds the most recently loaded pipeline and reloads only
// when the requested PipelineConfig.Key changes.
type PipelineCache struct {
	mu      sync.Mutex
	loader  Loader
	key     string
	current Pipeline
	loads   int
	closed  bool
}

// NewPipelineCache creates an empty cache backed by loader.
func NewPipelineCache(loader Loader) *PipelineCache {
	return &PipelineCache{loader: loader}
}

// Get returns the pipeline for cfg. beforeLoad, if non-nil, runs only when
// a load is about to happen; loaded reports whether one did.
//
// The previous pipeline is released before loading the next one so two
// sets of weights are never resident together. A failed load leaves the
// cache empty.
func (c *PipelineCache) Get(cfg PipelineConfig, beforeLoad func()) (p Pipeline, loaded bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, false, ErrCacheClosed
	}

	key := cfg.Key()
	if c.current != nil && c.key == key {
		return c.current, false, nil
	}

	if beforeLoad != nil {
		beforeLoad()
	}
	c.releaseLocked()

	p, err = c.loader.Load(cfg)
	if err != nil {
		return nil, false, err
	}
	c.current = p
	c.key = key
	c.loads++
	return p, true, nil
}

// Loads returns how many pipelines have been loaded.
func (c *PipelineCache) Loads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}

// Key returns the key of the cached pipeline, or "" when empty.
func (c *PipelineCache) Key() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

// Close frees the cached pipeline. Close is safe to call multiple times.
func (c *PipelineCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.releaseLocked()
	return nil
}

func (c *PipelineCache) releaseLocked() {
	if c.current != nil {
		c.current.Close()
	}
	c.current = nil
	c.key = ""
}
