// Package sdruntime provides CGo bindings for stable-diffusion.cpp.
//
// This file contains wrapper functions for the stable-diffusion.cpp C library.
// When the library is not available, build with the "stub" tag to use mock implementations.
//
// Build requirements for real CGo implementation:
//   - stable-diffusion.cpp compiled as shared library (libstable-diffusion.so/dylib/dll)
//   - Header file: stable-diffusion.h
//   - Set CGO_CFLAGS and CGO_LDFLAGS appropriately
//
// Example build with real library:
//
//	CGO_CFLAGS="-I/path/to/stable-diffusion.cpp" \
//	CGO_LDFLAGS="-L/path/to/stable-diffusion.cpp/build -lstable-diffusion" \
//	go build -tags sd
//
// Example build without library (stub mode):
//
//	go build -tags stub
package sdruntime

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SDContext represents an opaque handle to a stable-diffusion context.
// In the real implementation, this maps to a C sd_ctx_t pointer.
// The stub implementation uses an internal ID for tracking.
type SDContext struct {
	id          uint64
	config      PipelineConfig
	weightsPath string
	valid       bool
}

// IsValid returns whether this context is valid and usable.
func (c *SDContext) IsValid() bool {
	if c == nil {
		return false
	}
	return c.valid
}

// ModelPath returns the weights file used to create this context.
func (c *SDContext) ModelPath() string {
	if c == nil {
		return ""
	}
	return c.weightsPath
}

// weightExtensions are the checkpoint formats stable-diffusion.cpp loads, in preference order.
var weightExtensions = []string{".gguf", ".safetensors", ".ckpt"}

// IsWeightFile reports whether name has a checkpoint extension.
func IsWeightFile(name string) bool {
	ext := filepath.Ext(name)
	for _, want := range weightExtensions {
		if strings.EqualFold(ext, want) {
			return true
		}
	}
	return false
}

// ResolveWeightsPath returns the checkpoint to load for a model path. A
// directory resolves to the first checkpoint file it contains.
func ResolveWeightsPath(modelPath string) (string, error) {
	info, err := os.Stat(modelPath)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", ErrModelNotFound, modelPath)
	} else if err != nil {
		return "", fmt.Errorf("%w: unable to access %s: %v", ErrModelLoadFailed, modelPath, err)
	}
	if !info.IsDir() {
		return modelPath, nil
	}

	entries, err := os.ReadDir(modelPath)
	if err != nil {
		return "", fmt.Errorf("%w: unable to read %s: %v", ErrModelLoadFailed, modelPath, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, ext := range weightExtensions {
		for _, name := range names {
			if strings.EqualFold(filepath.Ext(name), ext) {
				return filepath.Join(modelPath, name), nil
			}
		}
	}
	return "", fmt.Errorf("%w: no checkpoint in %s", ErrModelNotFound, modelPath)
}

// LoadModel loads a Stable Diffusion pipeline and returns a context for generation.
//
// This function composes:
//   - ErrModelNotFound: when the model path or its checkpoint does not exist
//   - ErrModelLoadFailed: when the C library fails to load the model
//
// The returned SDContext must be freed with FreeContext when no longer needed.
func LoadModel(cfg PipelineConfig) (*SDContext, error) {
	weights, err := ResolveWeightsPath(cfg.ModelPath)
	if err != nil {
		return nil, err
	}
	controlNets := make([]string, 0, len(cfg.ControlNets))
	for _, cn := range cfg.ControlNets {
		path, err := ResolveWeightsPath(cn)
		if err != nil {
			return nil, fmt.Errorf("controlnet: %w", err)
		}
		controlNets = append(controlNets, path)
	}
	cfg.ControlNets = controlNets
	return loadModelImpl(cfg, weights)
}

// GenerateImage runs one denoising pass and returns the decoded image.
// step is called after every denoising step; returning false aborts the
// run, in which case GenerateImage returns a nil image and nil error.
//
// This function composes:
//   - ErrInvalidParams: when params fail validation (via ValidateParams)
//   - ErrGenerationFailed: when the C library fails to generate
func GenerateImage(ctx *SDContext, params GenerateParams, step StepFunc) (image.Image, error) {
	if err := ValidateParams(params); err != nil {
		return nil, err
	}
	if !ctx.IsValid() {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, ErrContextInvalid)
	}
	if step == nil {
		step = func(StepProgress) bool { return true }
	}
	return generateImageImpl(ctx, params, step)
}

// FreeContext releases resources associated with an SDContext.
// Calling FreeContext on a nil or already-freed context is safe (no-op).
func FreeContext(ctx *SDContext) {
	freeContextImpl(ctx)
}

// GetBackendInfo returns information about the available compute backend.
func GetBackendInfo() string {
	return getBackendInfoImpl()
}
