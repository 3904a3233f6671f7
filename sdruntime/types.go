package sdruntime

import (
	"fmt"
	"image"

	"mochi_backend/generation"
)

// PipelineConfig identifies a loaded pipeline. Two configs with the same
// Key share one native context.
type PipelineConfig struct {
	ModelPath    string               // Model directory or weights file
	ModelType    generation.ModelType // Architecture family
	ControlNets  []string             // ControlNet paths, only those that received an input
	ComputeUnit  generation.ComputeUnit
	ReduceMemory bool // Keep text encoder and VAE off the accelerator between uses
	Threads      int  // CPU threads for the native runtime; 0 picks a default
	VAETiling    bool
}

// GenerateParams holds parameters for a single native generation call.
type GenerateParams struct {
	Prompt         string  // Text description of the image to generate
	NegativePrompt string  // Optional: what to avoid in the image
	Width          int     // Image width in pixels (128-2048, must be divisible by 8)
	Height         int     // Image height in pixels (128-2048, must be divisible by 8)
	Steps          int     // Number of inference steps (1-150)
	CFGScale       float64 // Classifier-free guidance scale (0.0-30.0)
	Seed           uint32  // Seed for this image
	Strength       float64 // img2img denoising strength (0-1)
	Scheduler      generation.Scheduler

	StartingImage    image.Image   // Optional img2img input, already at the model input size
	ControlNetInputs []image.Image // One conditioning image per configured ControlNet

	// Model-family specific settings
	EncoderScaleFactor float64
	DecoderScaleFactor float64
	KarrasTimesteps    bool
	TimestepShift      float64

	DisableSafety            bool
	UseDenoisedIntermediates bool
}

// StepProgress is reported after each denoising step.
type StepProgress struct {
	Step      int
	StepCount int
	// Preview decodes the current latents; nil when previews are unavailable.
	Preview func() image.Image
}

// StepFunc receives step progress and returns false to abort the run.
type StepFunc func(StepProgress) bool

// Parameter validation constants
const (
	MinImageSize     = 128
	MaxImageSize     = 2048
	ImageSizeMultple = 8 // Image dimensions must be divisible by this

	MinSteps = 1
	MaxSteps = 150

	MinCFGScale = 0.0
	MaxCFGScale = 30.0

	MaxPromptLength = 4000
)

// SDXL latent scale factor shared by the encoder and decoder.
const sdxlScaleFactor = 0.13025

// SD3 scheduler timestep shift.
const sd3TimestepShift = 3.0

// ApplyModelType sets the family specific parameters for t.
func (p *GenerateParams) ApplyModelType(t generation.ModelType) {
	switch t {
	case generation.ModelTypeSDXL:
		p.EncoderScaleFactor = sdxlScaleFactor
		p.DecoderScaleFactor = sdxlScaleFactor
		p.KarrasTimesteps = true
	case generation.ModelTypeSD3:
		p.TimestepShift = sd3TimestepShift
	}
}

// ValidateParams validates generation parameters and returns an error if invalid.
// This is a pure function with no side effects.
func ValidateParams(p GenerateParams) error {
	if err := ValidatePrompt(p.Prompt); err != nil {
		return err
	}

	if p.Width < MinImageSize || p.Width > MaxImageSize {
		return fmt.Errorf("%w: width %d must be between %d and %d",
			ErrInvalidParams, p.Width, MinImageSize, MaxImageSize)
	}
	if p.Width%ImageSizeMultple != 0 {
		return fmt.Errorf("%w: width %d must be divisible by %d",
			ErrInvalidParams, p.Width, ImageSizeMultple)
	}

	if p.Height < MinImageSize || p.Height > MaxImageSize {
		return fmt.Errorf("%w: height %d must be between %d and %d",
			ErrInvalidParams, p.Height, MinImageSize, MaxImageSize)
	}
	if p.Height%ImageSizeMultple != 0 {
		return fmt.Errorf("%w: height %d must be divisible by %d",
			ErrInvalidParams, p.Height, ImageSizeMultple)
	}

	if p.Steps < MinSteps || p.Steps > MaxSteps {
		return fmt.Errorf("%w: steps %d must be between %d and %d",
			ErrInvalidParams, p.Steps, MinSteps, MaxSteps)
	}

	if p.CFGScale < MinCFGScale || p.CFGScale > MaxCFGScale {
		return fmt.Errorf("%w: CFGScale %.2f must be between %.1f and %.1f",
			ErrInvalidParams, p.CFGScale, MinCFGScale, MaxCFGScale)
	}

	if p.Strength < 0 || p.Strength > 1 {
		return fmt.Errorf("%w: strength %.2f must be between 0 and 1", ErrInvalidParams, p.Strength)
	}

	if len(p.NegativePrompt) > MaxPromptLength {
		return fmt.Errorf("%w: negative prompt length %d exceeds maximum %d",
			ErrInvalidParams, len(p.NegativePrompt), MaxPromptLength)
	}

	return nil
}
