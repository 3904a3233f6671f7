package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds the whole shutdown sequence.
const DefaultTimeout = 30 * time.Second

// Manager cancels its context on the first SIGINT/SIGTERM and exits the
// process on the second.
//
//	manager := shutdown.NewManager(logger)
//	manager.Register("generation", shutdown.PriorityGeneration, service.Shutdown)
//	manager.Start()
//	<-manager.Context().Done()
//	err := manager.Shutdown()
type Manager struct {
	logger  *zap.Logger
	timeout time.Duration
	exit    func(code int)
	signals []os.Signal

	mu       sync.Mutex
	started  bool
	stopping bool
	received int
	sigCh    chan os.Signal

	ctx    context.Context
	cancel context.CancelFunc

	inflight *tracker
	hooks    registry
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(m *Manager) { m.timeout = timeout }
}

// WithExit replaces os.Exit for the forced path.
func WithExit(exit func(code int)) Option {
	return func(m *Manager) { m.exit = exit }
}

// WithSignals replaces the default SIGINT/SIGTERM set.
func WithSignals(sigs ...os.Signal) Option {
	return func(m *Manager) { m.signals = sigs }
}

// NewManager creates a manager. Nothing listens for signals until Start.
func NewManager(logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		logger:   logger.Named("shutdown"),
		timeout:  DefaultTimeout,
		exit:     os.Exit,
		signals:  []os.Signal{os.Interrupt, syscall.SIGTERM},
		ctx:      ctx,
		cancel:   cancel,
		inflight: newTracker(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Context is cancelled when shutdown is requested.
func (m *Manager) Context() context.Context { return m.ctx }

// Register adds a hook. Hooks added after Shutdown are ignored.
func (m *Manager) Register(name string, priority int, fn Func) {
	if !m.hooks.add(name, priority, fn) {
		m.logger.Warn("shutdown hook ignored", zap.String("name", name))
		return
	}
	m.logger.Debug("shutdown hook registered", zap.String("name", name), zap.Int("priority", priority))
}

// Start listens for termination signals. Repeated calls are no-ops.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.sigCh = make(chan os.Signal, 2)
	signal.Notify(m.sigCh, m.signals...)
	go func() {
		for sig := range m.sigCh {
			m.handleSignal(sig)
		}
	}()
}

func (m *Manager) handleSignal(sig os.Signal) {
	m.mu.Lock()
	m.received++
	n := m.received
	m.mu.Unlock()

	if n == 1 {
		m.logger.Info("shutdown requested", zap.String("signal", sig.String()))
		m.cancel()
		return
	}
	m.logger.Warn("second signal received, exiting immediately", zap.String("signal", sig.String()))
	m.exit(1)
}

// Trigger requests shutdown without a signal, e.g. from a service stop.
func (m *Manager) Trigger() { m.cancel() }

// Shutdown refuses new operations, waits for in-flight ones, then runs
// the hooks with what remains of the timeout. Only the first call runs.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	m.stopping = true
	if m.sigCh != nil {
		signal.Stop(m.sigCh)
		close(m.sigCh)
	}
	m.mu.Unlock()
	m.cancel()

	start := time.Now()
	m.inflight.close()
	if n := m.inflight.count(); n > 0 {
		m.logger.Info("waiting for in-flight operations", zap.Int("active", n))
	}
	if err := m.inflight.wait(m.timeout); err != nil {
		m.logger.Warn("in-flight operations still running", zap.Int("active", m.inflight.count()))
	}

	remaining := m.timeout - time.Since(start)
	if remaining < time.Second {
		remaining = time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), remaining)
	defer cancel()

	m.logger.Info("running shutdown hooks", zap.Strings("hooks", m.hooks.names()))
	err := m.hooks.run(ctx)
	if err != nil {
		m.logger.Error("shutdown finished with errors", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return err
	}
	m.logger.Info("shutdown complete", zap.Duration("duration", time.Since(start)))
	return nil
}

// Track runs fn as an in-flight operation. It returns ErrShuttingDown
// without calling fn once shutdown has begun.
func (m *Manager) Track(ctx context.Context, name string, fn func(context.Context) error) error {
	if !m.inflight.start() {
		m.logger.Debug("operation rejected", zap.String("operation", name))
		return ErrShuttingDown
	}
	defer m.inflight.done()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// Active returns the number of in-flight operations.
func (m *Manager) Active() int { return m.inflight.count() }

// ShuttingDown reports whether Shutdown has begun.
func (m *Manager) ShuttingDown() bool { return m.inflight.isClosed() }

// Hooks returns the hook names in execution order.
func (m *Manager) Hooks() []string { return m.hooks.names() }
