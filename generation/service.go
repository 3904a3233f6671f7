package generation

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ServiceConfig wires the service to its collaborators.
type ServiceConfig struct {
	State    *State
	Models   ModelChecker
	Images   ImageStore
	Gallery  Gallery
	Notifier Notifier
	// Backends holds one long-lived backend per pipeline kind.
	Backends  map[PipelineKind]Backend
	Observers []Observer
}

// Service owns the generation queue and runs it on a single worker.
//
// All exported methods are safe for concurrent use and never wait on the
// worker.
type Service struct {
	logger    *zap.Logger
	state     *State
	models    ModelChecker
	images    ImageStore
	gallery   Gallery
	notifier  Notifier
	backends  map[PipelineKind]Backend
	observers []Observer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.Mutex
	queue          []Request
	current        *Request
	stopCurrent    context.CancelFunc
	active         Backend
	running        bool
	closed         bool
	nextImageIndex int

	snapshots *Hub[Snapshot]
	results   *Hub[Result]
}

// NewService validates cfg and returns an idle service.
func NewService(cfg ServiceConfig, logger *zap.Logger) (*Service, error) {
	if cfg.Images == nil {
		return nil, errors.New("generation: image store is required")
	}
	if len(cfg.Backends) == 0 {
		return nil, errors.New("generation: at least one backend is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.State == nil {
		cfg.State = NewState()
	}
	if cfg.Gallery == nil {
		cfg.Gallery = nopGallery{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = nopNotifier{}
	}

	backends := make(map[PipelineKind]Backend, len(cfg.Backends))
	for kind, b := range cfg.Backends {
		backends[kind] = b
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		logger:         logger.Named("generation"),
		state:          cfg.State,
		models:         cfg.Models,
		images:         cfg.Images,
		gallery:        cfg.Gallery,
		notifier:       cfg.Notifier,
		backends:       backends,
		observers:      append([]Observer(nil), cfg.Observers...),
		ctx:            ctx,
		cancel:         cancel,
		nextImageIndex: 1,
		snapshots:      NewHub[Snapshot](),
		results:        NewHub[Result](),
	}, nil
}

// State returns the shared status the service reports into.
func (s *Service) State() *State { return s.state }

// Enqueue appends req to the queue and starts the worker if it is idle.
func (s *Service) Enqueue(req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServiceClosed
	}
	s.queue = append(s.queue, req)
	s.broadcastLocked()
	s.logger.Debug("Request enqueued",
		zap.String("request_id", req.ID),
		zap.Stringer("pipeline", req.Pipeline.Kind),
		zap.Int("queue_length", len(s.queue)),
	)
	s.startLocked()
	return nil
}

// RemoveQueued drops a pending request. The current request cannot be
// removed this way; use StopCurrentGeneration.
func (s *Service) RemoveQueued(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.ID == id {
		return
	}
	for i, r := range s.queue {
		if r.ID == id {
			s.queue = append(s.queue[:i:i], s.queue[i+1:]...)
			s.broadcastLocked()
			s.logger.Debug("Queued request removed", zap.String("request_id", id))
			return
		}
	}
}

// StopCurrentGeneration stops the request shown as current, wherever it
// is in its run. It is a no-op when nothing is running.
func (s *Service) StopCurrentGeneration() {
	s.mu.Lock()
	stop, active := s.stopCurrent, s.active
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
	if active != nil {
		active.Stop()
	}
}

// Snapshot returns the current queue view.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Updates streams snapshots, starting with the current one.
func (s *Service) Updates(ctx context.Context) <-chan Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots.Subscribe(ctx, s.snapshotLocked())
}

// Results streams saved results.
func (s *Service) Results(ctx context.Context) <-chan Result {
	return s.results.Subscribe(ctx)
}

// Running reports whether the worker loop is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Shutdown stops the active backend, waits for the worker to exit and
// closes every subscription. Queued requests are discarded.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	active := s.active
	s.mu.Unlock()

	if active != nil {
		active.Stop()
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("generation: shutdown: %w", ctx.Err())
	}

	s.snapshots.Close()
	s.results.Close()
	return nil
}

func (s *Service) startLocked() {
	if s.running || s.closed {
		return
	}
	s.running = true
	s.wg.Add(1)
	go s.processQueue()
}

func (s *Service) processQueue() {
	defer s.wg.Done()
	for {
		if status := s.state.Status(); !status.Idle() {
			s.logger.Warn("Queue processing deferred, generation state is busy",
				zap.Stringer("status", status))
			s.stopRunning()
			return
		}

		if !s.drain() {
			s.stopRunning()
			return
		}
		s.notifier.SendQueueEmptyNotification()

		s.mu.Lock()
		if len(s.queue) == 0 || s.closed {
			s.running = false
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
}

func (s *Service) stopRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// drain processes requests until the queue is empty. It returns false if
// the service was shut down first.
func (s *Service) drain() bool {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 || s.ctx.Err() != nil {
			s.current = nil
			s.stopCurrent = nil
			s.active = nil
			s.broadcastLocked()
			drained := s.ctx.Err() == nil
			s.mu.Unlock()
			return drained
		}
		req := s.queue[0]
		s.queue[0] = Request{}
		s.queue = s.queue[1:]
		// The stop token exists before the request is visible as current.
		ctx, stop := context.WithCancel(s.ctx)
		s.current = &req
		s.stopCurrent = stop
		s.broadcastLocked()
		s.mu.Unlock()

		s.process(ctx, req)
		stop()
	}
}

func (s *Service) process(ctx context.Context, req Request) {
	for _, o := range s.observers {
		o.RequestStarted(req)
	}

	start := time.Now()
	outcome := s.run(ctx, req)
	outcome.Duration = time.Since(start)
	s.gallery.SetCurrentGenerating(nil)

	if outcome.Err != nil {
		s.logger.Error("Generation request failed",
			zap.String("request_id", req.ID),
			zap.String("model", req.Pipeline.DisplayName()),
			zap.Int("saved", outcome.Saved),
			zap.Error(outcome.Err),
		)
	} else {
		s.logger.Info("Generation request finished",
			zap.String("request_id", req.ID),
			zap.String("model", req.Pipeline.DisplayName()),
			zap.Int("saved", outcome.Saved),
			zap.Int("skipped", outcome.Skipped),
			zap.Duration("duration", outcome.Duration),
		)
	}

	for _, o := range s.observers {
		o.RequestFinished(req, outcome)
	}
}

func (s *Service) run(ctx context.Context, req Request) Outcome {
	var outcome Outcome

	fail := func(err error) Outcome {
		outcome.Err = err
		outcome.Status = StatusForError(req, err)
		s.state.SetStatus(outcome.Status)
		return outcome
	}

	backend, err := s.resolveBackend(req)
	if err != nil {
		return fail(err)
	}
	if len(req.StartingImage) > 0 && !req.Pipeline.Capabilities().Has(CapStartingImage) {
		return fail(ErrStartingImageWithoutEncoder)
	}

	s.mu.Lock()
	s.active = backend
	s.mu.Unlock()

	dir, err := s.images.EnsureOutputDirectory(req.ImageDir)
	if err != nil {
		var dirErr *ImageDirectoryError
		if !errors.As(err, &dirErr) {
			err = &ImageDirectoryError{Path: req.ImageDir, Err: err}
		}
		return fail(err)
	}
	if ctx.Err() != nil {
		outcome.Status = Ready("")
		s.state.SetStatus(outcome.Status)
		return outcome
	}

	baseline := s.gallery.Count() + 1
	s.mu.Lock()
	s.nextImageIndex = baseline
	s.mu.Unlock()

	imageType := req.ImageType
	if imageType == "" {
		imageType = ImageTypePNG
	}

	err = backend.Generate(ctx, req, Callbacks{
		OnState: func(status Status) {
			s.state.SetStatus(status)
		},
		OnProgress: func(p Progress, elapsed time.Duration) {
			s.state.SetProgress(p, elapsed)
		},
		OnPreview: func(img image.Image) {
			s.gallery.SetCurrentGenerating(img)
		},
		OnResult: func(r Result) error {
			return s.saveResult(req, dir, imageType, r, &outcome)
		},
	})
	switch {
	case err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil:
		// A stop or shutdown interrupted the run.
		outcome.Status = Ready("")
		s.state.SetStatus(outcome.Status)
		return outcome
	case err != nil:
		return fail(err)
	case outcome.Skipped > 0:
		outcome.Status = Error(skippedImagesMessage(outcome.Skipped))
		s.state.SetStatus(outcome.Status)
		return outcome
	}

	outcome.Status = s.state.Status()
	if !outcome.Status.Idle() {
		outcome.Status = Ready("")
		s.state.SetStatus(outcome.Status)
	}
	return outcome
}

func (s *Service) resolveBackend(req Request) (Backend, error) {
	if req.Pipeline.Kind == PipelineSD && req.Pipeline.SD != nil && s.models != nil {
		model := Model{Kind: PipelineSD, SD: &req.Pipeline.SD.Model}
		if !s.models.ModelExists(model) {
			return nil, &ModelNotFoundError{Name: model.Name()}
		}
	}
	backend, ok := s.backends[req.Pipeline.Kind]
	if !ok || backend == nil {
		return nil, fmt.Errorf("%w: no backend for %s", ErrPipelineNotAvailable, req.Pipeline.Kind)
	}
	return backend, nil
}

// saveResult writes one image. A failed write is skipped unless the output
// directory itself has become unusable, which aborts the request.
func (s *Service) saveResult(req Request, dir string, imageType ImageType, r Result, outcome *Outcome) error {
	stem := s.nextFilename(r.Metadata)

	path, err := s.images.WriteImage(stem, r, dir, imageType)
	if err != nil || path == "" {
		if _, dirErr := s.images.EnsureOutputDirectory(dir); dirErr != nil {
			return fmt.Errorf("%w: %v", ErrImageWriteFailed, dirErr)
		}
		outcome.Skipped++
		s.logger.Warn("Skipping image that could not be saved",
			zap.String("request_id", req.ID),
			zap.String("filename", stem),
			zap.Error(err),
		)
		return nil
	}

	r.ImagePath = path
	if r.RequestID == "" {
		r.RequestID = req.ID
	}
	outcome.Saved++
	s.gallery.Add(r)
	s.results.Publish(r)
	return nil
}

func (s *Service) nextFilename(m Metadata) string {
	s.mu.Lock()
	index := s.nextImageIndex
	s.nextImageIndex++
	s.mu.Unlock()
	return FilenameWithoutExtension(m.Prompt, index, m.Seed)
}

func (s *Service) snapshotLocked() Snapshot {
	snap := Snapshot{Queue: append([]Request(nil), s.queue...)}
	if s.current != nil {
		cur := *s.current
		snap.Current = &cur
	}
	return snap
}

func (s *Service) broadcastLocked() {
	s.snapshots.Publish(s.snapshotLocked())
}

type nopGallery struct{}

func (nopGallery) Count() int                         { return 0 }
func (nopGallery) Add(_ Result)                       {}
func (nopGallery) SetCurrentGenerating(_ image.Image) {}

type nopNotifier struct{}

func (nopNotifier) SendQueueEmptyNotification() {}
