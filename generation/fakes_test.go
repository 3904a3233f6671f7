package generation

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

// fakeBackend produces one tiny result per requested image.
type fakeBackend struct {
	mu      sync.Mutex
	calls   []string
	run     RunCanceler

	// gate, when set, blocks Generate after Loading until it is closed or receives.
	gate    chan struct{}
	started chan string
	err     error
	// afterResult runs after each emitted result with the zero-based image index.
	afterResult func(req Request, i int)
}

func (b *fakeBackend) Generate(ctx context.Context, req Request, cb Callbacks) error {
	ctx, done := b.run.Begin(ctx)
	defer done()
	cb.EmitState(Loading())

	b.mu.Lock()
	b.calls = append(b.calls, req.ID)
	b.mu.Unlock()
	if b.started != nil {
		b.started <- req.ID
	}
	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if b.err != nil {
		return b.err
	}

	seed := req.Seed
	for i := 0; i < req.NumberOfImages; i++ {
		if ctx.Err() != nil {
			break
		}
		cb.EmitProgress(Progress{Step: 1, StepCount: 1}, time.Millisecond)
		cb.EmitPreview(image.NewGray(image.Rect(0, 0, 1, 1)))
		r := NewResult(req.ID, Metadata{
			Prompt:   req.Prompt,
			Seed:     seed,
			Pipeline: req.Pipeline,
			Model:    req.Pipeline.DisplayName(),
			Fields:   req.Pipeline.MetadataFields(),
		}, []byte(fmt.Sprintf("image-%d", i)))
		if err := cb.EmitResult(r); err != nil {
			return err
		}
		if b.afterResult != nil {
			b.afterResult(req, i)
		}
		seed++
	}
	cb.EmitState(Ready(""))
	return nil
}

func (b *fakeBackend) Stop() { b.run.Cancel() }

func (b *fakeBackend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// memoryStore records writes instead of touching disk.
type memoryStore struct {
	mu          sync.Mutex
	stems       []string
	paths       []string
	ensureCalls int
	// failWrite returns true for write attempts (zero-based) that should fail.
	failWrite func(n int) bool
	// dirErrFrom makes EnsureOutputDirectory fail from this call on (1-based); 0 disables.
	dirErrFrom int
	writes     int
	// onEnsure runs at the start of EnsureOutputDirectory.
	onEnsure func()
}

func (s *memoryStore) EnsureOutputDirectory(dir string) (string, error) {
	if s.onEnsure != nil {
		s.onEnsure()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureCalls++
	if s.dirErrFrom > 0 && s.ensureCalls >= s.dirErrFrom {
		return "", &ImageDirectoryError{Path: dir}
	}
	return dir, nil
}

func (s *memoryStore) WriteImage(stem string, _ Result, dir string, imageType ImageType) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.writes
	s.writes++
	if s.failWrite != nil && s.failWrite(n) {
		return "", errors.New("disk full")
	}
	path := filepath.Join(dir, stem+"."+imageType.Extension())
	s.stems = append(s.stems, stem)
	s.paths = append(s.paths, path)
	return path, nil
}

func (s *memoryStore) Stems() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.stems...)
}

type fakeGallery struct {
	mu      sync.Mutex
	count   int
	added   []string
	preview image.Image
	cleared int
}

func (g *fakeGallery) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count + len(g.added)
}

func (g *fakeGallery) Add(r Result) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.added = append(g.added, r.ImagePath)
}

func (g *fakeGallery) SetCurrentGenerating(img image.Image) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.preview = img
	if img == nil {
		g.cleared++
	}
}

func (g *fakeGallery) Preview() image.Image {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.preview
}

// fakeNotifier signals every drain and records the queue length at that moment.
type fakeNotifier struct {
	svc     *Service
	calls   atomic.Int32
	drained chan struct{}
	// nonEmpty counts notifications that saw queued work.
	nonEmpty atomic.Int32
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{drained: make(chan struct{}, 16)}
}

func (n *fakeNotifier) SendQueueEmptyNotification() {
	n.calls.Add(1)
	if n.svc != nil {
		snap := n.svc.Snapshot()
		if len(snap.Queue) > 0 || snap.Current != nil {
			n.nonEmpty.Add(1)
		}
	}
	n.drained <- struct{}{}
}

func (n *fakeNotifier) wait(t *testing.T) {
	t.Helper()
	select {
	case <-n.drained:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for queue to drain")
	}
}

type fakeModels struct {
	missing map[string]bool
}

func (m fakeModels) ModelExists(model Model) bool {
	return !m.missing[model.Name()]
}

type recordingObserver struct {
	mu       sync.Mutex
	started  []string
	outcomes []Outcome
}

func (o *recordingObserver) RequestStarted(req Request) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, req.ID)
}

func (o *recordingObserver) RequestFinished(_ Request, outcome Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) Outcomes() []Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Outcome(nil), o.outcomes...)
}

type testHarness struct {
	svc      *Service
	backend  *fakeBackend
	flux     *fakeBackend
	store    *memoryStore
	gallery  *fakeGallery
	notifier *fakeNotifier
	observer *recordingObserver
}

func newHarness(t *testing.T, models ModelChecker) *testHarness {
	t.Helper()
	h := &testHarness{
		backend:  &fakeBackend{},
		flux:     &fakeBackend{},
		store:    &memoryStore{},
		gallery:  &fakeGallery{},
		notifier: newFakeNotifier(),
		observer: &recordingObserver{},
	}
	svc, err := NewService(ServiceConfig{
		Models:   models,
		Images:   h.store,
		Gallery:  h.gallery,
		Notifier: h.notifier,
		Backends: map[PipelineKind]Backend{
			PipelineSD:   h.backend,
			PipelineFlux: h.flux,
		},
		Observers: []Observer{h.observer},
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	h.svc = svc
	h.notifier.svc = svc
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return h
}

func sdRequest(id, prompt string, images int) Request {
	return Request{
		ID:             id,
		Pipeline:       NewSDPipeline(SDModel{Name: "sd-v1-5", Path: "/models/sd-v1-5"}, ComputeCPUAndGPU, nil, false),
		Prompt:         prompt,
		StepCount:      20,
		GuidanceScale:  7.5,
		Scheduler:      SchedulerDPMSolverMultistep,
		Seed:           42,
		NumberOfImages: images,
		ImageDir:       "/images",
		ImageType:      ImageTypePNG,
	}
}
