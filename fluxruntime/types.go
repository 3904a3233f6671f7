package fluxruntime

import "image"

// Params mirrors the engine's flux_params.
type Params struct {
	Width          int
	Height         int
	Steps          int
	Seed           int64 // -1 asks the engine for a random seed
	Guidance       float32
	LinearSchedule bool
	PowerSchedule  bool
	PowerAlpha     float32
}

// DefaultParams returns the engine defaults. Width, Height, Steps and Seed
// are overwritten per image by the backend.
func DefaultParams() Params {
	return Params{
		Width:      256,
		Height:     256,
		Steps:      4,
		Seed:       -1,
		Guidance:   0,
		PowerAlpha: 2.0,
	}
}

// Guidance values recorded in image metadata.
const (
	distilledGuidance = 1.0
	baseGuidance      = 4.0
)

// Embedding is an encoded prompt: SeqLen rows of TextDim values.
type Embedding struct {
	SeqLen  int
	TextDim int
	Values  []float32
}

// StepProgress is reported after each denoising step.
type StepProgress struct {
	Step      int
	StepCount int
	Image     image.Image // Decoded intermediate; nil when unavailable
}

// StepFunc receives step progress.
type StepFunc func(StepProgress)

// Engine opens model directories.
type Engine interface {
	Open(modelDir string) (Session, error)
}

// Session is one loaded model. Sessions are not reused across requests and
// must be closed on every exit path.
type Session interface {
	IsDistilled() bool
	EncodeText(prompt string) (Embedding, error)
	// ReleaseTextEncoder frees the text encoder weights. Generate still
	// works afterwards when given an embedding.
	ReleaseTextEncoder()
	// Generate renders one image. emb may be nil, in which case the prompt
	// is encoded by the engine. start selects img2img when non-nil.
	Generate(prompt string, emb *Embedding, start image.Image, params Params, step StepFunc) (image.Image, error)
	Close()
}
