package webui

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"mochi_backend/db"
	"mochi_backend/gallery"
	"mochi_backend/generation"
	"mochi_backend/imagerepo"
	"mochi_backend/metrics"
	"mochi_backend/shutdown"
)

type fakeService struct {
	mu         sync.Mutex
	queue      []generation.Request
	current    *generation.Request
	enqueueErr error
	stops      int
	state      *generation.State
	snapshots  *generation.Hub[generation.Snapshot]
	results    *generation.Hub[generation.Result]
}

func newFakeService() *fakeService {
	return &fakeService{
		state:     generation.NewState(),
		snapshots: generation.NewHub[generation.Snapshot](),
		results:   generation.NewHub[generation.Result](),
	}
}

func (s *fakeService) Enqueue(req generation.Request) error {
	s.mu.Lock()
	if s.enqueueErr != nil {
		s.mu.Unlock()
		return s.enqueueErr
	}
	s.queue = append(s.queue, req)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.snapshots.Publish(snap)
	return nil
}

func (s *fakeService) RemoveQueued(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.queue {
		if r.ID == id {
			s.queue = append(s.queue[:i:i], s.queue[i+1:]...)
			return
		}
	}
}

func (s *fakeService) StopCurrentGeneration() {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
}

func (s *fakeService) Snapshot() generation.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *fakeService) snapshotLocked() generation.Snapshot {
	return generation.Snapshot{
		Queue:   append([]generation.Request(nil), s.queue...),
		Current: s.current,
	}
}

func (s *fakeService) Updates(ctx context.Context) <-chan generation.Snapshot {
	return s.snapshots.Subscribe(ctx, s.Snapshot())
}

func (s *fakeService) Results(ctx context.Context) <-chan generation.Result {
	return s.results.Subscribe(ctx)
}

func (s *fakeService) State() *generation.State { return s.state }

func (s *fakeService) Queued() []generation.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]generation.Request(nil), s.queue...)
}

type fakeModels struct {
	models []generation.Model
	err    error
}

func (m fakeModels) Load(context.Context, string, string) ([]generation.Model, error) {
	return m.models, m.err
}

func testModels() fakeModels {
	return fakeModels{models: []generation.Model{
		{
			Kind: generation.PipelineFlux,
			Flux: &generation.FluxModel{Name: "flux2-klein", Path: "/models/flux2-klein"},
		},
		{
			Kind: generation.PipelineSD,
			SD: &generation.SDModel{
				Name:        "sd-v1-5",
				Path:        "/models/sd-v1-5",
				Type:        generation.ModelTypeSD,
				ControlNets: []string{"canny", "depth"},
			},
		},
	}}
}

type fakeGallery struct {
	mu       sync.Mutex
	images   []imagerepo.Record
	previews *generation.Hub[gallery.Preview]
}

func newFakeGallery(images ...imagerepo.Record) *fakeGallery {
	return &fakeGallery{images: images, previews: generation.NewHub[gallery.Preview]()}
}

func (g *fakeGallery) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.images)
}

func (g *fakeGallery) Images() []imagerepo.Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]imagerepo.Record(nil), g.images...)
}

func (g *fakeGallery) Remove(path string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, rec := range g.images {
		if rec.Path == path {
			g.images = append(g.images[:i], g.images[i+1:]...)
			return true
		}
	}
	return false
}

func (g *fakeGallery) CurrentGenerating() gallery.Preview { return gallery.Preview{} }

func (g *fakeGallery) Previews(ctx context.Context) <-chan gallery.Preview {
	return g.previews.Subscribe(ctx)
}

type fakeDeleter struct {
	deleted []string
	err     error
}

func (d *fakeDeleter) Delete(path string) error {
	if d.err != nil {
		return d.err
	}
	d.deleted = append(d.deleted, path)
	return nil
}

type fakeHistory struct {
	records   []db.RequestRecord
	lastLimit int
}

func (h *fakeHistory) RecentRequests(_ context.Context, limit int) ([]db.RequestRecord, error) {
	h.lastLimit = limit
	return h.records, nil
}

func (h *fakeHistory) Request(_ context.Context, id string) (db.RequestRecord, error) {
	for _, r := range h.records {
		if r.ID == id {
			return r, nil
		}
	}
	return db.RequestRecord{}, fmt.Errorf("%w: request %s", db.ErrNotFound, id)
}

type fakeTracker struct {
	closed bool
	names  []string
}

func (t *fakeTracker) Track(ctx context.Context, name string, fn func(context.Context) error) error {
	if t.closed {
		return shutdown.ErrShuttingDown
	}
	t.names = append(t.names, name)
	return fn(ctx)
}

// headerAuth admits requests carrying X-Test-Auth.
type headerAuth struct{}

func (headerAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Test-Auth") == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (headerAuth) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("login")) }
}

func (headerAuth) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("logout")) }
}

type testEnv struct {
	server  *Server
	service *fakeService
	gallery *fakeGallery
	deleter *fakeDeleter
	history *fakeHistory
	tracker *fakeTracker
}

func newTestEnv(t *testing.T, auth AuthProvider) *testEnv {
	t.Helper()
	return newTestEnvWithLogger(t, auth, zaptest.NewLogger(t))
}

// newTestEnvWithLogger is for tests whose goroutines may outlive the test
// logger.
func newTestEnvWithLogger(t *testing.T, auth AuthProvider, logger *zap.Logger) *testEnv {
	t.Helper()
	env := &testEnv{
		service: newFakeService(),
		gallery: newFakeGallery(),
		deleter: &fakeDeleter{},
		history: &fakeHistory{},
		tracker: &fakeTracker{},
	}
	cfg := DefaultServerConfig()
	cfg.Version = "test"
	cfg.Defaults = GenerateDefaults{
		ImageDir:    t.TempDir(),
		ImageType:   generation.ImageTypePNG,
		ComputeUnit: generation.ComputeCPUAndGPU,
	}
	s, err := NewServer(cfg, Dependencies{
		Service: env.service,
		Models:  testModels(),
		Gallery: env.gallery,
		Images:  env.deleter,
		History: env.history,
		Metrics: metrics.NewStore(10, "test"),
		Tracker: env.tracker,
	}, auth, logger)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	env.server = s
	return env
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}
