// Package fluxruntime runs FLUX.2 flow-model requests on the flux2.c engine.
package fluxruntime

import "errors"

// Sentinel errors for flux runtime operations.
var (
	ErrLoadFailed     = errors.New("fluxruntime: failed to load model")
	ErrGenerateFailed = errors.New("fluxruntime: failed to generate image")
	ErrEncodeFailed   = errors.New("fluxruntime: failed to encode generated image")

	// ErrDecodeStartingImage is returned alongside generation.ErrDecodeFailed.
	ErrDecodeStartingImage = errors.New("fluxruntime: failed to decode starting image for img2img")

	ErrInvalidTextDim = errors.New("fluxruntime: invalid text embedding dimension")
	ErrNotModelDir    = errors.New("fluxruntime: not a flux model directory")
)
