//go:build sd && cgo && !stub

// Real CGo implementation of stable-diffusion.cpp bindings.
// Build with: CGO_ENABLED=1 go build -tags sd
//
// Prerequisites:
//   1. stable-diffusion.cpp must be compiled as a shared library
//   2. Set CGO_CFLAGS to include header path: -I/path/to/stable-diffusion.cpp
//   3. Set CGO_LDFLAGS to link library: -L/path/to/build -lstable-diffusion
//
// Written against the sd_ctx_params_t / sd_img_gen_params_t API
// (stable-diffusion.cpp master, mid 2025).

package sdruntime

/*
#cgo CFLAGS: -I${SRCDIR}/../vendor/stable-diffusion.cpp
#cgo LDFLAGS: -L${SRCDIR}/../vendor/stable-diffusion.cpp/build -lstable-diffusion -lstdc++ -lm

#include <stdlib.h>
#include <stdint.h>
#include "stable-diffusion.h"

extern void goSDProgress(int step, int steps, float time, void* data);
*/
import "C"

import (
	"fmt"
	"image"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"mochi_backend/generation"
)

// sdContextCounter generates unique IDs for contexts
var sdContextCounter uint64

// contextMap stores the mapping from SDContext.id to the native context.
var (
	contextMu  sync.Mutex
	contextMap = make(map[uint64]*C.sd_ctx_t)
)

// The native progress callback is process-global, so only one generation
// may run at a time. progressMu is held for the whole generate_image call.
var (
	progressMu      sync.Mutex
	progressStep    StepFunc
	progressAborted atomic.Bool
)

//export goSDProgress
func goSDProgress(step, steps C.int, _ C.float, _ unsafe.Pointer) {
	fn := progressStep
	if fn == nil || progressAborted.Load() {
		return
	}
	if !fn(StepProgress{Step: int(step), StepCount: int(steps)}) {
		progressAborted.Store(true)
	}
}

// loadModelImpl is the real CGo implementation of LoadModel.
func loadModelImpl(cfg PipelineConfig, weightsPath string) (*SDContext, error) {
	var params C.sd_ctx_params_t
	C.sd_ctx_params_init(&params)

	cModelPath := C.CString(weightsPath)
	defer C.free(unsafe.Pointer(cModelPath))
	params.model_path = cModelPath

	if len(cfg.ControlNets) > 0 {
		// stable-diffusion.cpp applies a single ControlNet per context.
		cControlNet := C.CString(cfg.ControlNets[0])
		defer C.free(unsafe.Pointer(cControlNet))
		params.control_net_path = cControlNet
	}

	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	params.n_threads = C.int(threads)
	params.vae_decode_only = C.bool(false)
	params.free_params_immediately = C.bool(false)

	offload := cfg.ReduceMemory || cfg.ComputeUnit == generation.ComputeCPUOnly
	params.keep_clip_on_cpu = C.bool(offload)
	params.keep_vae_on_cpu = C.bool(cfg.ComputeUnit == generation.ComputeCPUOnly)
	params.keep_control_net_on_cpu = C.bool(offload)

	cCtx := C.new_sd_ctx(&params)
	if cCtx == nil {
		return nil, fmt.Errorf("%w: stable-diffusion.cpp returned nil context for %s", ErrModelLoadFailed, weightsPath)
	}

	id := atomic.AddUint64(&sdContextCounter, 1)
	contextMu.Lock()
	contextMap[id] = cCtx
	contextMu.Unlock()

	return &SDContext{id: id, config: cfg, weightsPath: weightsPath, valid: true}, nil
}

func nativeContext(ctx *SDContext) *C.sd_ctx_t {
	contextMu.Lock()
	defer contextMu.Unlock()
	return contextMap[ctx.id]
}

// sdImage copies img into C memory. The caller frees the returned data pointer.
func sdImage(img image.Image) (C.sd_image_t, unsafe.Pointer) {
	pixels, w, h := ImageToRGB(img)
	data := C.CBytes(pixels)
	return C.sd_image_t{
		width:   C.uint32_t(w),
		height:  C.uint32_t(h),
		channel: 3,
		data:    (*C.uint8_t)(data),
	}, data
}

func sampleMethod(s generation.Scheduler) C.enum_sample_method_t {
	switch s {
	case generation.SchedulerEulerAncestral:
		return C.EULER_A
	case generation.SchedulerLCM:
		return C.LCM
	case generation.SchedulerDPMSolverMultistep, generation.SchedulerDPMSolverKarras:
		return C.DPMPP2M
	case generation.SchedulerDPMSDEKarras:
		return C.DPMPP2S_A
	default:
		return C.EULER
	}
}

// generateImageImpl is the real CGo implementation of GenerateImage.
func generateImageImpl(ctx *SDContext, params GenerateParams, step StepFunc) (image.Image, error) {
	cCtx := nativeContext(ctx)
	if cCtx == nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, ErrContextInvalid)
	}

	cPrompt := C.CString(params.Prompt)
	defer C.free(unsafe.Pointer(cPrompt))
	cNegPrompt := C.CString(params.NegativePrompt)
	defer C.free(unsafe.Pointer(cNegPrompt))

	var p C.sd_img_gen_params_t
	C.sd_img_gen_params_init(&p)
	p.prompt = cPrompt
	p.negative_prompt = cNegPrompt
	p.width = C.int(params.Width)
	p.height = C.int(params.Height)
	p.seed = C.int64_t(params.Seed)
	p.batch_count = 1
	p.sample_params.sample_steps = C.int(params.Steps)
	p.sample_params.guidance.txt_cfg = C.float(params.CFGScale)
	p.sample_params.sample_method = sampleMethod(params.Scheduler)
	if params.KarrasTimesteps || params.Scheduler == generation.SchedulerDPMSolverKarras ||
		params.Scheduler == generation.SchedulerDPMSDEKarras {
		p.sample_params.scheduler = C.KARRAS
	}

	if params.StartingImage != nil {
		initImg, data := sdImage(params.StartingImage)
		defer C.free(data)
		p.init_image = initImg
		p.strength = C.float(params.Strength)
	}
	if len(params.ControlNetInputs) > 0 {
		control, data := sdImage(params.ControlNetInputs[0])
		defer C.free(data)
		p.control_image = control
		p.control_strength = 0.9
	}

	progressMu.Lock()
	progressStep = step
	progressAborted.Store(false)
	C.sd_set_progress_callback(C.sd_progress_cb_t(C.goSDProgress), nil)
	out := C.generate_image(cCtx, &p)
	C.sd_set_progress_callback(nil, nil)
	progressStep = nil
	aborted := progressAborted.Load()
	progressMu.Unlock()

	if out == nil {
		if aborted {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: stable-diffusion.cpp returned no image", ErrGenerationFailed)
	}
	defer C.free(unsafe.Pointer(out))
	if out.data == nil {
		return nil, fmt.Errorf("%w: stable-diffusion.cpp returned empty image", ErrGenerationFailed)
	}
	defer C.free(unsafe.Pointer(out.data))

	// The native loop does not observe the abort flag, so a stopped run
	// still completes; its output is discarded here.
	if aborted {
		return nil, nil
	}

	w, h, ch := int(out.width), int(out.height), int(out.channel)
	pixels := C.GoBytes(unsafe.Pointer(out.data), C.int(w*h*ch))
	img, err := RGBToImage(pixels, w, h, ch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return img, nil
}

// freeContextImpl is the real CGo implementation of FreeContext.
func freeContextImpl(ctx *SDContext) {
	if ctx == nil || !ctx.valid {
		return
	}
	contextMu.Lock()
	cCtx, ok := contextMap[ctx.id]
	delete(contextMap, ctx.id)
	contextMu.Unlock()
	if ok && cCtx != nil {
		C.free_sd_ctx(cCtx)
	}
	ctx.valid = false
}

// getBackendInfoImpl returns information about the compute backend.
func getBackendInfoImpl() string {
	info := C.sd_get_system_info()
	if info == nil {
		return "stable-diffusion.cpp (unknown backend)"
	}
	return C.GoString(info)
}
