//go:build flux && cgo && !stub

// Real CGo implementation of the flux2.c bindings.
// Build with: CGO_ENABLED=1 go build -tags flux

package fluxruntime

/*
#cgo CFLAGS: -I${SRCDIR}/../vendor/flux2.c
#cgo LDFLAGS: -L${SRCDIR}/../vendor/flux2.c/build -lflux -lm

#include <stdlib.h>
#include "flux.h"
#include "flux_img2img_with_embeddings.h"

extern void goFluxStepImage(int step, int total, flux_image *img);
*/
import "C"

import (
	"fmt"
	"image"
	"sync"
	"unsafe"
)

// The step callback is process-global; stepMu serializes generations.
var (
	stepMu sync.Mutex
	stepFn StepFunc
)

//export goFluxStepImage
func goFluxStepImage(step, total C.int, img *C.flux_image) {
	fn := stepFn
	if fn == nil {
		return
	}
	progress := StepProgress{Step: int(step), StepCount: int(total)}
	if img != nil {
		if decoded, err := copyFluxImage(img); err == nil {
			progress.Image = decoded
		}
	}
	fn(progress)
}

func lastError() string {
	msg := C.flux_get_error()
	if msg == nil {
		return "unknown error"
	}
	return C.GoString(msg)
}

type nativeSession struct {
	ctx *C.flux_ctx
}

func openImpl(modelDir string) (Session, error) {
	cDir := C.CString(modelDir)
	defer C.free(unsafe.Pointer(cDir))

	ctx := C.flux_load_dir(cDir)
	if ctx == nil {
		return nil, fmt.Errorf("%w: %s", ErrLoadFailed, lastError())
	}
	C.flux_set_mmap(ctx, 1)
	return &nativeSession{ctx: ctx}, nil
}

func (s *nativeSession) IsDistilled() bool {
	return C.flux_is_distilled(s.ctx) != 0
}

func (s *nativeSession) EncodeText(prompt string) (Embedding, error) {
	cPrompt := C.CString(prompt)
	defer C.free(unsafe.Pointer(cPrompt))

	var seqLen C.int
	encoded := C.flux_encode_text(s.ctx, cPrompt, &seqLen)
	if encoded == nil {
		return Embedding{}, fmt.Errorf("%w: %s", ErrGenerateFailed, lastError())
	}
	defer C.free(unsafe.Pointer(encoded))

	textDim := int(C.flux_text_dim(s.ctx))
	if textDim <= 0 {
		return Embedding{}, fmt.Errorf("%w: %w", ErrGenerateFailed, ErrInvalidTextDim)
	}
	count := int(seqLen) * textDim
	values := make([]float32, count)
	copy(values, unsafe.Slice((*float32)(unsafe.Pointer(encoded)), count))
	return Embedding{SeqLen: int(seqLen), TextDim: textDim, Values: values}, nil
}

func (s *nativeSession) ReleaseTextEncoder() {
	C.flux_release_text_encoder(s.ctx)
}

func (s *nativeSession) Generate(prompt string, emb *Embedding, start image.Image, params Params, step StepFunc) (image.Image, error) {
	cParams := C.flux_params{
		width:           C.int(params.Width),
		height:          C.int(params.Height),
		num_steps:       C.int(params.Steps),
		seed:            C.int64_t(params.Seed),
		guidance:        C.float(params.Guidance),
		linear_schedule: cBool(params.LinearSchedule),
		power_schedule:  cBool(params.PowerSchedule),
		power_alpha:     C.float(params.PowerAlpha),
	}

	var cStart *C.flux_image
	if start != nil {
		var err error
		cStart, err = newFluxImage(start)
		if err != nil {
			return nil, err
		}
		defer C.flux_image_free(cStart)
	}

	cPrompt := C.CString(prompt)
	defer C.free(unsafe.Pointer(cPrompt))

	stepMu.Lock()
	stepFn = step
	C.flux_set_step_image_callback(s.ctx, (*[0]byte)(C.goFluxStepImage))

	var out *C.flux_image
	switch {
	case emb != nil && len(emb.Values) > 0 && cStart != nil:
		out = C.flux_img2img_with_embeddings(s.ctx, (*C.float)(unsafe.Pointer(&emb.Values[0])), C.int(emb.SeqLen), cStart, &cParams)
	case emb != nil && len(emb.Values) > 0:
		out = C.flux_generate_with_embeddings(s.ctx, (*C.float)(unsafe.Pointer(&emb.Values[0])), C.int(emb.SeqLen), &cParams)
	case cStart != nil:
		out = C.flux_img2img(s.ctx, cPrompt, cStart, &cParams)
	default:
		out = C.flux_generate(s.ctx, cPrompt, &cParams)
	}

	C.flux_set_step_image_callback(s.ctx, nil)
	stepFn = nil
	stepMu.Unlock()

	if out == nil {
		return nil, fmt.Errorf("%w: %s", ErrGenerateFailed, lastError())
	}
	defer C.flux_image_free(out)
	return copyFluxImage(out)
}

func (s *nativeSession) Close() {
	if s.ctx != nil {
		C.flux_free(s.ctx)
		s.ctx = nil
	}
}

func cBool(b bool) C.int {
	if b {
		return 1
	}
	return 0
}

// newFluxImage copies img into an engine-owned RGBA buffer.
func newFluxImage(img image.Image) (*C.flux_image, error) {
	rgba := toRGBA(img)
	w, h := rgba.Rect.Dx(), rgba.Rect.Dy()
	out := C.flux_image_create(C.int(w), C.int(h), 4)
	if out == nil || out.data == nil {
		if out != nil {
			C.flux_image_free(out)
		}
		return nil, fmt.Errorf("%w: could not allocate starting image", ErrGenerateFailed)
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(out.data)), w*h*4), rgba.Pix)
	return out, nil
}

// copyFluxImage copies engine pixels into Go memory.
func copyFluxImage(img *C.flux_image) (image.Image, error) {
	w, h, ch := int(img.width), int(img.height), int(img.channels)
	if img.data == nil || w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: engine returned an empty image", ErrGenerateFailed)
	}
	pixels := C.GoBytes(unsafe.Pointer(img.data), C.int(w*h*ch))
	return pixelsToImage(pixels, w, h, ch)
}

func backendInfoImpl() string {
	return "flux2.c"
}
