package sdruntime

import (
	"errors"
	"image"
	"image/color"
	"sync"
)

// countingLoader records every load and hands out fakePipelines.
type countingLoader struct {
	mu      sync.Mutex
	configs []PipelineConfig
	closed  int
	err     error

	preview      bool // pipelines offer a preview on every step
	failGenerate bool
}

func (l *countingLoader) Load(cfg PipelineConfig) (Pipeline, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.configs = append(l.configs, cfg)
	return &fakePipeline{loader: l, preview: l.preview, fail: l.failGenerate}, nil
}

func (l *countingLoader) loads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.configs)
}

func (l *countingLoader) last() PipelineConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.configs[len(l.configs)-1]
}

func (l *countingLoader) closes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

var errFakeInference = errors.New("fake inference failure")

type fakePipeline struct {
	loader  *countingLoader
	preview bool
	params  []GenerateParams
	fail    bool
}

func (p *fakePipeline) Generate(params GenerateParams, step StepFunc) (image.Image, error) {
	p.params = append(p.params, params)
	if p.fail {
		return nil, errFakeInference
	}
	for i := 1; i <= params.Steps; i++ {
		progress := StepProgress{Step: i, StepCount: params.Steps}
		if p.preview {
			progress.Preview = func() image.Image { return image.NewRGBA(image.Rect(0, 0, 8, 8)) }
		}
		if !step(progress) {
			return nil, nil
		}
	}
	img := image.NewRGBA(image.Rect(0, 0, params.Width, params.Height))
	img.Set(0, 0, color.RGBA{R: uint8(params.Seed), A: 255})
	return img, nil
}

func (p *fakePipeline) Close() {
	p.loader.mu.Lock()
	p.loader.closed++
	p.loader.mu.Unlock()
}
