// Package sdruntime runs Stable Diffusion requests on stable-diffusion.cpp.
//
// The package is layered:
//
//   - Atoms: pure functions (ValidateParams, ValidatePrompt, NextSeed, ScaleAndCrop)
//   - Molecules: the CGo bindings (LoadModel, GenerateImage, FreeContext) and
//     the PipelineCache that keeps one loaded pipeline alive
//   - Organism: Backend, which implements generation.Backend
//
// # Quick Start
//
//	backend := sdruntime.NewBackend(sdruntime.LoadSDConfig().Loader(), controlNetDir, logger)
//	defer backend.Close()
//
//	svc, err := generation.NewService(generation.ServiceConfig{
//	    Backends: map[generation.PipelineKind]generation.Backend{
//	        generation.PipelineSD: backend,
//	    },
//	    // ...
//	}, logger)
//
// # Pipeline Reuse
//
// Loading weights takes seconds to minutes, so the backend keeps the last
// pipeline and reloads only when PipelineConfig.Key changes. The key covers
// the model path and type, the ControlNets that received an input, the
// compute unit and the reduce-memory flag.
//
// # Configuration
//
// LoadSDConfig reads the native runtime tuning:
//
//	SD_THREADS=0              # Native CPU threads, 0 = all cores
//	SD_VAE_TILING=false       # Decode in tiles
//
// # Build Tags
//
// The package supports two build modes:
//
//   - Stub mode (default): go build
//     Models load but generation returns ErrGenerationFailed
//
//   - Real mode: CGO_ENABLED=1 go build -tags sd
//     Requires stable-diffusion.cpp library to be built and available
//
// # Error Handling
//
// Use errors.Is() for error checking:
//
//	err := backend.Generate(ctx, req, callbacks)
//	if errors.Is(err, sdruntime.ErrModelNotFound) {
//	    // The checkpoint or a ControlNet was removed; rescan models
//	}
package sdruntime
