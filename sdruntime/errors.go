package sdruntime

import "errors"

var (
	ErrModelNotFound   = errors.New("sdruntime: model file not found")
	ErrModelLoadFailed = errors.New("sdruntime: failed to load model")

	ErrGenerationFailed = errors.New("sdruntime: image generation failed")
	ErrContextInvalid   = errors.New("sdruntime: context is nil or freed")
	ErrInvalidPrompt    = errors.New("sdruntime: invalid prompt")
	ErrInvalidParams    = errors.New("sdruntime: invalid generation parameters")

	// ErrCacheClosed is returned by PipelineCache.Get after Close.
	ErrCacheClosed = errors.New("sdruntime: pipeline cache is closed")

	ErrImageEmpty       = errors.New("sdruntime: image data is empty")
	ErrImageDecodeFail  = errors.New("sdruntime: failed to decode image")
	ErrImageEncodeFail  = errors.New("sdruntime: failed to encode image")
	ErrImageInvalidSize = errors.New("sdruntime: invalid image dimensions")
)
