package generation

import (
	"context"
	"image"
	"sync"
	"time"
)

// Callbacks carry backend events back to the service.
type Callbacks struct {
	// OnState mirrors a status change.
	OnState func(Status)
	// OnProgress reports a finished step and the time it took.
	OnProgress func(progress Progress, elapsed time.Duration)
	// OnPreview publishes an intermediate image; nil clears the preview.
	OnPreview func(image.Image)
	// OnResult hands over a fully encoded image. A returned error aborts the request.
	OnResult func(Result) error
}

// EmitState calls OnState if set.
func (c Callbacks) EmitState(s Status) {
	if c.OnState != nil {
		c.OnState(s)
	}
}

// EmitProgress calls OnProgress if set.
func (c Callbacks) EmitProgress(p Progress, elapsed time.Duration) {
	if c.OnProgress != nil {
		c.OnProgress(p, elapsed)
	}
}

// EmitPreview calls OnPreview if set.
func (c Callbacks) EmitPreview(img image.Image) {
	if c.OnPreview != nil {
		c.OnPreview(img)
	}
}

// EmitResult calls OnResult if set.
func (c Callbacks) EmitResult(r Result) error {
	if c.OnResult != nil {
		return c.OnResult(r)
	}
	return nil
}

// Backend runs one request at a time against an inference engine.
//
// Generate must emit Loading promptly, produce up to NumberOfImages results
// through OnResult, and emit Ready("") when it finishes normally. Stop is
// cooperative: after the next checked boundary no further results are
// emitted.
type Backend interface {
	Generate(ctx context.Context, req Request, cb Callbacks) error
	Stop()
}

// RunCanceler lets a backend's Stop reach the Generate call that is
// running. A Stop with nothing running is dropped, so it never leaks into
// the next request.
type RunCanceler struct {
	mu     sync.Mutex
	run    uint64
	cancel context.CancelFunc
}

// Begin derives the context for one Generate call. The returned func must
// be called when the call returns.
func (c *RunCanceler) Begin(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.run++
	run := c.run
	c.cancel = cancel
	c.mu.Unlock()
	return ctx, func() {
		c.mu.Lock()
		if c.run == run {
			c.cancel = nil
		}
		c.mu.Unlock()
		cancel()
	}
}

// Cancel stops the running call, if any.
func (c *RunCanceler) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ModelChecker reports whether a model is still present on storage.
type ModelChecker interface {
	ModelExists(model Model) bool
}

// ImageStore persists result images.
type ImageStore interface {
	// EnsureOutputDirectory creates dir if needed and verifies it is writable.
	// Failures are reported as *ImageDirectoryError.
	EnsureOutputDirectory(dir string) (string, error)
	// WriteImage saves the result under dir as "<stem>.<ext>" and returns the path.
	WriteImage(stem string, result Result, dir string, imageType ImageType) (string, error)
}

// Gallery is the consumer-side image collection. Add is called for every
// saved result before the next image is numbered.
type Gallery interface {
	Count() int
	Add(r Result)
	SetCurrentGenerating(img image.Image)
}

// Notifier receives the queue-empty side effect.
type Notifier interface {
	SendQueueEmptyNotification()
}

// Observer is told about request lifecycle events. Implementations must not block.
type Observer interface {
	RequestStarted(req Request)
	RequestFinished(req Request, outcome Outcome)
}

// Outcome summarizes how a dequeued request ended.
type Outcome struct {
	Saved    int           `json:"saved"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
	Status   Status        `json:"status"`
	Err      error         `json:"-"`
}
