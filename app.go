package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mochi_backend/core"
	"mochi_backend/db"
	"mochi_backend/fluxruntime"
	"mochi_backend/gallery"
	"mochi_backend/generation"
	"mochi_backend/imagerepo"
	"mochi_backend/metrics"
	"mochi_backend/modelrepo"
	"mochi_backend/notify"
	"mochi_backend/sdruntime"
	"mochi_backend/shutdown"
	"mochi_backend/webui"
)

// metricsHistory is how many finished requests the metrics store keeps.
const metricsHistory = 100

// stackOptions select what differs between the serve, generate and test
// stacks.
type stackOptions struct {
	// Backends replaces the native runtimes when set.
	Backends  map[generation.PipelineKind]generation.Backend
	Sinks     []notify.Sink
	Observers []generation.Observer
}

// stack holds every long-lived component behind the generation service.
type stack struct {
	cfg      *core.Config
	logger   *zap.Logger
	state    *generation.State
	models   *modelrepo.Repository
	images   *imagerepo.Repository
	gallery  *gallery.Gallery
	notifier *notify.Notifier
	database *db.Database
	history  *db.History
	metrics  *metrics.Store
	requests *requestLog
	sd       *sdruntime.Backend
	service  *generation.Service
}

func newStack(cfg *core.Config, logger *zap.Logger, opts stackOptions) (*stack, error) {
	st := &stack{
		cfg:      cfg,
		logger:   logger,
		state:    generation.NewState(),
		models:   modelrepo.New(logger),
		images:   imagerepo.New(logger),
		gallery:  gallery.New(logger),
		metrics:  metrics.NewStore(metricsHistory, core.Version),
		requests: newRequestLog(logger),
	}
	sinks := append([]notify.Sink{notify.LogSink{Logger: logger.Named("notify")}}, opts.Sinks...)
	st.notifier = notify.New(notify.Preferences{
		SendNotification:  cfg.SendNotification,
		NotificationSound: cfg.NotificationSound,
	}, logger, sinks...)

	if _, err := st.images.EnsureOutputDirectory(cfg.ImageDir); err != nil {
		return nil, err
	}
	if _, err := st.images.CleanupTempFiles(cfg.ImageDir); err != nil {
		logger.Warn("Unable to remove stale temp images", zap.Error(err))
	}
	if err := st.gallery.Load(st.images, cfg.ImageDir); err != nil {
		return nil, err
	}

	database, err := db.Open(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	st.database = database
	st.history = db.NewHistory(database)

	backends := opts.Backends
	if backends == nil {
		backends, err = st.nativeBackends()
		if err != nil {
			database.Close()
			return nil, err
		}
	}

	st.service, err = generation.NewService(generation.ServiceConfig{
		State:     st.state,
		Models:    st.models,
		Images:    st.images,
		Gallery:   st.gallery,
		Notifier:  st.notifier,
		Backends:  backends,
		Observers: append([]generation.Observer{st.history, st.metrics, st.requests}, opts.Observers...),
	}, logger)
	if err != nil {
		st.closeStorage()
		return nil, err
	}
	return st, nil
}

func (st *stack) nativeBackends() (map[generation.PipelineKind]generation.Backend, error) {
	cache, err := fluxruntime.NewEmbeddingCache(fluxruntime.DefaultEmbeddingCacheSize)
	if err != nil {
		return nil, err
	}
	st.sd = sdruntime.NewBackend(sdruntime.LoadSDConfig().Loader(), st.cfg.ControlNetDir, st.logger)
	st.logger.Info("Inference runtimes",
		zap.String("sd", sdruntime.GetBackendInfo()),
		zap.String("flux", fluxruntime.BackendInfo()),
	)
	return map[generation.PipelineKind]generation.Backend{
		generation.PipelineSD:   st.sd,
		generation.PipelineFlux: fluxruntime.NewBackend(fluxruntime.NativeEngine{}, cache, st.logger),
	}, nil
}

// runConsumers feeds history and metrics from the service until ctx is
// done or the service shuts down.
func (st *stack) runConsumers(ctx context.Context, g *errgroup.Group) {
	results := st.service.Results(ctx)
	events := st.state.Subscribe(ctx)
	logged := st.service.Results(ctx)
	steps := st.state.Subscribe(ctx)
	g.Go(func() error {
		st.history.Consume(ctx, results)
		return nil
	})
	g.Go(func() error {
		st.metrics.ConsumeState(ctx, events)
		return nil
	})
	g.Go(func() error {
		st.requests.consumeResults(ctx, logged)
		return nil
	})
	g.Go(func() error {
		st.requests.consumeSteps(ctx, steps)
		return nil
	})
	g.Go(func() error {
		st.database.RunRetention(ctx, st.cfg.CleanupInterval, st.cfg.HistoryRetention)
		return nil
	})
}

func (st *stack) dependencies(tracker webui.RequestTracker) webui.Dependencies {
	return webui.Dependencies{
		Service: st.service,
		Models:  st.models,
		Gallery: st.gallery,
		Images:  st.images,
		History: st.history,
		Metrics: st.metrics,
		Tracker: tracker,
	}
}

// registerHooks orders teardown so nothing writes to a closed store.
func (st *stack) registerHooks(m *shutdown.Manager) {
	m.Register("generation", shutdown.PriorityGeneration, st.service.Shutdown)
	if st.sd != nil {
		m.Register("sd-pipelines", shutdown.PriorityGeneration, shutdown.Close(st.sd))
	}
	m.Register("history", shutdown.PriorityHistory, shutdown.Close(st.database))
	m.Register("gallery", shutdown.PriorityFiles, func(context.Context) error {
		st.gallery.Close()
		return nil
	})
	m.Register("temp-images", shutdown.PriorityFiles, shutdown.RemoveTempImages(st.logger, st.images, st.cfg.ImageDir))
}

// Close tears the stack down outside a shutdown.Manager.
func (st *stack) Close(ctx context.Context) error {
	err := st.service.Shutdown(ctx)
	return errors.Join(err, st.closeStorage())
}

func (st *stack) closeStorage() error {
	var errs []error
	if st.sd != nil {
		errs = append(errs, st.sd.Close())
	}
	st.gallery.Close()
	errs = append(errs, st.database.Close())
	return errors.Join(errs...)
}

func serverConfig(cfg *core.Config) webui.ServerConfig {
	sc := webui.DefaultServerConfig()
	sc.Addr = cfg.ListenAddr
	sc.Version = core.Version
	sc.Defaults = webui.GenerateDefaults{
		ModelDir:      cfg.ModelDir,
		ControlNetDir: cfg.ControlNetDir,
		ImageDir:      cfg.ImageDir,
		ImageType:     cfg.ImageType,
		ComputeUnit:   cfg.ComputeUnit,
		ReduceMemory:  cfg.ReduceMemory,
	}
	return sc
}

// shutdownTimeout bounds Close for one-shot commands.
const shutdownTimeout = 10 * time.Second
