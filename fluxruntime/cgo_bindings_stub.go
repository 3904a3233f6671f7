//go:build !flux || stub

package fluxruntime

import (
	"fmt"
	"image"
)

const stubBackendInfo = "stub (no flux2.c library linked)"

var errStub = fmt.Errorf("%w: flux2.c library not available (stub mode). "+
	"Build with CGO and the 'flux' tag to enable image generation", ErrGenerateFailed)

type stubSession struct {
	modelDir string
}

func openImpl(modelDir string) (Session, error) {
	return &stubSession{modelDir: modelDir}, nil
}

func (s *stubSession) IsDistilled() bool { return true }

func (s *stubSession) EncodeText(string) (Embedding, error) {
	return Embedding{}, errStub
}

func (s *stubSession) ReleaseTextEncoder() {}

func (s *stubSession) Generate(string, *Embedding, image.Image, Params, StepFunc) (image.Image, error) {
	return nil, errStub
}

func (s *stubSession) Close() {}

func backendInfoImpl() string {
	return stubBackendInfo
}
