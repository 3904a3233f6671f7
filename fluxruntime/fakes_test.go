package fluxruntime

import (
	"errors"
	"image"
	"sync"
)

var errFakeEngine = errors.New("fake engine failure")

// countingEngine hands out fakeSessions and counts what they do.
type countingEngine struct {
	mu        sync.Mutex
	distilled bool
	textDim   int
	openErr   error
	genErr    error

	opens, closes, encodes, releases int
	embeddings                       []*Embedding // per Generate call
	starts                           []image.Image
	seeds                            []int64
}

func newCountingEngine() *countingEngine {
	return &countingEngine{distilled: true, textDim: 8}
}

func (e *countingEngine) Open(modelDir string) (Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.openErr != nil {
		return nil, e.openErr
	}
	e.opens++
	return &fakeSession{engine: e}, nil
}

func (e *countingEngine) counts() (opens, closes, encodes, releases int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opens, e.closes, e.encodes, e.releases
}

type fakeSession struct {
	engine *countingEngine
}

func (s *fakeSession) IsDistilled() bool { return s.engine.distilled }

func (s *fakeSession) EncodeText(prompt string) (Embedding, error) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	s.engine.encodes++
	seqLen := len(prompt) + 1
	values := make([]float32, seqLen*max(s.engine.textDim, 1))
	for i := range values {
		values[i] = float32(i%17)/8 - 1
	}
	return Embedding{SeqLen: seqLen, TextDim: s.engine.textDim, Values: values}, nil
}

func (s *fakeSession) ReleaseTextEncoder() {
	s.engine.mu.Lock()
	s.engine.releases++
	s.engine.mu.Unlock()
}

func (s *fakeSession) Generate(prompt string, emb *Embedding, start image.Image, params Params, step StepFunc) (image.Image, error) {
	s.engine.mu.Lock()
	s.engine.embeddings = append(s.engine.embeddings, emb)
	s.engine.starts = append(s.engine.starts, start)
	s.engine.seeds = append(s.engine.seeds, params.Seed)
	err := s.engine.genErr
	s.engine.mu.Unlock()
	if err != nil {
		return nil, err
	}

	for i := 1; i <= params.Steps; i++ {
		step(StepProgress{Step: i, StepCount: params.Steps, Image: image.NewRGBA(image.Rect(0, 0, 4, 4))})
	}
	return image.NewRGBA(image.Rect(0, 0, params.Width, params.Height)), nil
}

func (s *fakeSession) Close() {
	s.engine.mu.Lock()
	s.engine.closes++
	s.engine.mu.Unlock()
}
