package fluxruntime

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"mochi_backend/generation"
)

// Backend runs Flux pipeline requests for the generation service. Each
// request opens its own engine session; only prompt embeddings outlive a
// request.
type Backend struct {
	engine  Engine
	cache   *EmbeddingCache
	logger *zap.Logger
	run    generation.RunCanceler
}

// NewBackend creates a Backend. A nil cache disables embedding reuse.
func NewBackend(engine Engine, cache *EmbeddingCache, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		engine: engine,
		cache:  cache,
		logger: logger.Named("flux"),
	}
}

// Stop asks the running request to end before its next image.
func (b *Backend) Stop() {
	b.run.Cancel()
}

// Generate implements generation.Backend.
func (b *Backend) Generate(ctx context.Context, req generation.Request, cb generation.Callbacks) error {
	fp := req.Pipeline.Flux
	if req.Pipeline.Kind != generation.PipelineFlux || fp == nil {
		cb.EmitState(generation.Error("Pipeline is not loaded."))
		return generation.ErrPipelineNotAvailable
	}

	ctx, done := b.run.Begin(ctx)
	defer done()
	cb.EmitState(generation.Loading())
	defer cb.EmitPreview(nil)

	session, err := b.engine.Open(fp.ModelDir)
	if err != nil {
		return wrapErr(ErrLoadFailed, err)
	}
	defer session.Close()

	var start image.Image
	if len(req.StartingImage) > 0 {
		img, err := decodeStartingImage(req.StartingImage, req.Size.Width, req.Size.Height)
		if err != nil {
			return fmt.Errorf("%w: %w: %v", generation.ErrDecodeFailed, ErrDecodeStartingImage, err)
		}
		start = img
	}

	distilled := session.IsDistilled()
	b.logger.Info("model opened", zap.String("dir", fp.ModelDir), zap.Bool("distilled", distilled))
	var emb *Embedding
	if distilled {
		e, err := b.promptEmbedding(session, fp.ModelDir, req.Prompt)
		if err != nil {
			return err
		}
		emb = &e
		session.ReleaseTextEncoder()
	}

	guidance := baseGuidance
	if distilled {
		guidance = distilledGuidance
	}

	seed := req.Seed
	for i := 0; i < req.NumberOfImages; i++ {
		if ctx.Err() != nil {
			break
		}

		params := DefaultParams()
		params.Width = req.Size.Width
		params.Height = req.Size.Height
		params.Steps = generation.FluxStepCount
		params.Seed = int64(seed)

		last := time.Now()
		step := func(p StepProgress) {
			now := time.Now()
			cb.EmitProgress(generation.Progress{Step: p.Step, StepCount: p.StepCount}, now.Sub(last))
			last = now
			if req.UseDenoisedIntermediates && p.Image != nil {
				cb.EmitPreview(p.Image)
			}
		}

		img, err := session.Generate(req.Prompt, emb, start, params, step)
		if err != nil {
			return wrapErr(ErrGenerateFailed, err)
		}

		data, err := encodePNG(img)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrEncodeFailed, err)
		}

		bounds := img.Bounds()
		metadata := generation.Metadata{
			Prompt:         req.Prompt,
			NegativePrompt: req.NegativePrompt,
			Width:          bounds.Dx(),
			Height:         bounds.Dy(),
			Pipeline:       req.Pipeline,
			Model:          req.Pipeline.DisplayName(),
			Scheduler:      generation.SchedulerDiscreteFlow,
			Seed:           seed,
			Steps:          generation.FluxStepCount,
			GuidanceScale:  guidance,
			GeneratedDate:  time.Now(),
			Fields:         req.Pipeline.MetadataFields(),
		}
		if err := cb.EmitResult(generation.NewResult(req.ID, metadata, data)); err != nil {
			return err
		}
		seed++
	}

	cb.EmitState(generation.Ready(""))
	return nil
}

// promptEmbedding returns the cached embedding for prompt, encoding and
// caching it on a miss. The value returned after a miss is read back from
// the cache so every run of a prompt sees the same quantized values.
func (b *Backend) promptEmbedding(session Session, modelDir, prompt string) (Embedding, error) {
	if b.cache != nil {
		if cached, ok := b.cache.Lookup(modelDir, prompt); ok {
			b.logger.Debug("prompt embedding cache hit", zap.Int("seq_len", cached.SeqLen))
			return cached, nil
		}
	}

	encoded, err := session.EncodeText(prompt)
	if err != nil {
		return Embedding{}, wrapErr(ErrGenerateFailed, err)
	}
	if encoded.TextDim <= 0 {
		return Embedding{}, fmt.Errorf("%w: %w", ErrGenerateFailed, ErrInvalidTextDim)
	}
	if b.cache == nil {
		return encoded, nil
	}

	b.cache.Store(modelDir, prompt, encoded)
	if canonical, ok := b.cache.Lookup(modelDir, prompt); ok {
		return canonical, nil
	}
	return encoded, nil
}

// wrapErr tags err with sentinel unless it already carries it.
func wrapErr(sentinel, err error) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
