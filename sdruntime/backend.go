package sdruntime

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"mochi_backend/generation"
)

// Backend runs SD pipeline requests for the generation service. It keeps
// the last loaded pipeline and reuses it while the pipeline identity is
// unchanged.
type Backend struct {
	cache         *PipelineCache
	controlNetDir string
	logger        *zap.Logger
	run           generation.RunCanceler
}

// NewBackend creates a Backend. ControlNet names resolve against
// controlNetDir, or against the model's "controlnet" link when it is empty.
func NewBackend(loader Loader, controlNetDir string, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		cache:         NewPipelineCache(loader),
		controlNetDir: controlNetDir,
		logger:        logger.Named("sd"),
	}
}

// Stop asks the running generation to end at the next step boundary.
func (b *Backend) Stop() {
	b.run.Cancel()
}

// Loads returns how many pipelines this backend has loaded.
func (b *Backend) Loads() int {
	return b.cache.Loads()
}

// Close frees the cached pipeline.
func (b *Backend) Close() error {
	return b.cache.Close()
}

// Generate implements generation.Backend.
func (b *Backend) Generate(ctx context.Context, req generation.Request, cb generation.Callbacks) error {
	sd := req.Pipeline.SD
	if req.Pipeline.Kind != generation.PipelineSD || sd == nil {
		cb.EmitState(generation.Error("Pipeline is not loaded."))
		return generation.ErrPipelineNotAvailable
	}

	ctx, done := b.run.Begin(ctx)
	defer done()
	cb.EmitState(generation.Loading())
	defer cb.EmitPreview(nil)

	size := sd.Model.InputSize
	if size.IsZero() {
		size = req.Size
	}

	startingImage, err := prepareImage(req.StartingImage, size)
	if err != nil {
		return fmt.Errorf("%w: starting image: %v", generation.ErrDecodeFailed, err)
	}

	var controlNets []string
	var controlInputs []image.Image
	for i, name := range sd.ControlNets {
		if i >= len(req.ControlNetInputs) {
			break
		}
		if len(req.ControlNetInputs[i]) == 0 {
			continue
		}
		input, err := prepareImage(req.ControlNetInputs[i], size)
		if err != nil {
			// The run goes on without this ControlNet.
			b.logger.Warn("skipping controlnet with unreadable input",
				zap.String("controlnet", name), zap.Error(err))
			continue
		}
		controlNets = append(controlNets, b.controlNetPath(sd.Model, name))
		controlInputs = append(controlInputs, input)
	}

	cfg := PipelineConfig{
		ModelPath:    sd.Model.Path,
		ModelType:    sd.Model.Type,
		ControlNets:  controlNets,
		ComputeUnit:  sd.ComputeUnit,
		ReduceMemory: sd.ReduceMemory,
	}
	loadStart := time.Now()
	pipeline, loaded, err := b.cache.Get(cfg, nil)
	if err != nil {
		return fmt.Errorf("load %s: %w", sd.Model.Name, err)
	}
	if loaded {
		b.logger.Info("pipeline loaded",
			zap.String("model", sd.Model.Name),
			zap.Int("controlnets", len(controlNets)),
			zap.Duration("duration", time.Since(loadStart)))
		cb.EmitState(generation.Ready(""))
	}

	params := GenerateParams{
		Prompt:                   SanitizePrompt(req.Prompt),
		NegativePrompt:           SanitizePrompt(req.NegativePrompt),
		Width:                    size.Width,
		Height:                   size.Height,
		Steps:                    req.Pipeline.EffectiveStepCount(req.StepCount),
		CFGScale:                 req.GuidanceScale,
		Strength:                 req.Strength,
		Scheduler:                req.Pipeline.EffectiveScheduler(req.Scheduler),
		StartingImage:            startingImage,
		ControlNetInputs:         controlInputs,
		DisableSafety:            req.DisableSafety,
		UseDenoisedIntermediates: req.UseDenoisedIntermediates,
	}
	params.ApplyModelType(sd.Model.Type)

	seed := req.Seed
	for i := 0; i < req.NumberOfImages; i++ {
		if ctx.Err() != nil {
			break
		}
		params.Seed = seed

		last := time.Now()
		step := func(p StepProgress) bool {
			now := time.Now()
			cb.EmitProgress(generation.Progress{Step: p.Step, StepCount: p.StepCount}, now.Sub(last))
			last = now
			if req.UseDenoisedIntermediates && p.Preview != nil {
				if preview := p.Preview(); preview != nil {
					cb.EmitPreview(preview)
				}
			}
			return ctx.Err() == nil
		}

		img, err := pipeline.Generate(params, step)
		if err != nil {
			return err
		}
		if img == nil || ctx.Err() != nil {
			break
		}

		data, err := EncodePNG(img)
		if err != nil {
			return err
		}
		metadata := generation.Metadata{
			Prompt:         req.Prompt,
			NegativePrompt: req.NegativePrompt,
			Width:          size.Width,
			Height:         size.Height,
			Pipeline:       req.Pipeline,
			Model:          req.Pipeline.DisplayName(),
			Scheduler:      params.Scheduler,
			ComputeUnit:    sd.ComputeUnit,
			Seed:           seed,
			Steps:          params.Steps,
			GuidanceScale:  req.GuidanceScale,
			GeneratedDate:  time.Now(),
			Fields:         req.Pipeline.MetadataFields(),
		}
		if err := cb.EmitResult(generation.NewResult(req.ID, metadata, data)); err != nil {
			return err
		}
		seed = NextSeed(seed)
	}

	cb.EmitState(generation.Ready(""))
	return nil
}

func (b *Backend) controlNetPath(model generation.SDModel, name string) string {
	if b.controlNetDir != "" {
		return filepath.Join(b.controlNetDir, name)
	}
	return filepath.Join(model.Path, "controlnet", name)
}

// prepareImage decodes data and fits it to size. Empty data yields nil.
func prepareImage(data []byte, size generation.Size) (image.Image, error) {
	if len(data) == 0 {
		return nil, nil
	}
	img, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}
	return ScaleAndCrop(img, size.Width, size.Height)
}
