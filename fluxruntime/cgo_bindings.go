// Engine bindings for flux2.c.
//
// Build requirements for the real engine:
//   - flux2.c built as a library (libflux) together with the
//     flux_img2img_with_embeddings extension
//   - Headers: flux.h, flux_img2img_with_embeddings.h
//
// Example build with real library:
//
//	CGO_CFLAGS="-I/path/to/flux2.c" \
//	CGO_LDFLAGS="-L/path/to/flux2.c/build -lflux" \
//	go build -tags flux
//
// Without the tag the stub engine is used: model directories open, but
// encoding and generation fail.

package fluxruntime

import "fmt"

// NativeEngine opens models with the linked flux2.c library.
type NativeEngine struct{}

// Open loads modelDir with weights memory mapped.
func (NativeEngine) Open(modelDir string) (Session, error) {
	if !IsModelDir(modelDir) {
		return nil, fmt.Errorf("%w: %s", ErrNotModelDir, modelDir)
	}
	return openImpl(modelDir)
}

// BackendInfo describes the linked engine.
func BackendInfo() string {
	return backendInfoImpl()
}
