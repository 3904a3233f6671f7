//go:build !sd || stub

package sdruntime

import (
	"fmt"
	"image"
	"sync/atomic"
)

// Without the sd tag contexts load instantly and every generation fails,
// which keeps the queue, cache and HTTP layers testable on any machine.

const stubBackendInfo = "stub (no stable-diffusion.cpp library linked)"

var stubContexts atomic.Uint64

func loadModelImpl(cfg PipelineConfig, weightsPath string) (*SDContext, error) {
	return &SDContext{
		id:          stubContexts.Add(1),
		config:      cfg,
		weightsPath: weightsPath,
		valid:       true,
	}, nil
}

func generateImageImpl(ctx *SDContext, params GenerateParams, step StepFunc) (image.Image, error) {
	return nil, fmt.Errorf("%w: built without stable-diffusion.cpp, rebuild with CGO_ENABLED=1 -tags sd", ErrGenerationFailed)
}

func freeContextImpl(ctx *SDContext) {
	if ctx != nil {
		ctx.valid = false
	}
}

func getBackendInfoImpl() string {
	return stubBackendInfo
}
