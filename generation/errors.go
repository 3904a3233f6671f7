package generation

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the service and its backends.
var (
	ErrInvalidRequest = errors.New("generation: invalid request")

	// Backend errors
	ErrPipelineNotAvailable        = errors.New("generation: pipeline not available")
	ErrStartingImageWithoutEncoder = errors.New("generation: starting image provided without encoder")
	ErrDecodeFailed                = errors.New("generation: failed to decode image")

	// Persistence errors
	ErrImageWriteFailed = errors.New("generation: failed to write image")

	ErrServiceClosed = errors.New("generation: service is closed")
)

// ModelNotFoundError reports a model that vanished before it could be loaded.
type ModelNotFoundError struct {
	Name string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("generation: model %q not found", e.Name)
}

// ImageDirectoryError reports an output directory that cannot be created or written.
type ImageDirectoryError struct {
	Path string
	Err  error
}

func (e *ImageDirectoryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation: no access to image directory %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("generation: no access to image directory %s", e.Path)
}

func (e *ImageDirectoryError) Unwrap() error { return e.Err }
