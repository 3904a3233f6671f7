package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mochi_backend/core"
	"mochi_backend/core/validation"
	"mochi_backend/notify"
	"mochi_backend/shutdown"
	"mochi_backend/webui"
	"mochi_backend/webui/auth"
)

// serveOptions carries what differs between a terminal run and a service
// run.
type serveOptions struct {
	// Console adds the terminal notification sink and prints the startup
	// checks to stdout.
	Console bool
	// Started is called with the shutdown manager once the server is
	// wired, so a service wrapper can trigger shutdown.
	Started func(*shutdown.Manager)
	// Shutdown overrides the manager options, for tests.
	Shutdown []shutdown.Option
}

// runServe wires the stack and serves until a termination signal or
// Manager.Trigger, then shuts everything down in priority order.
func runServe(envPath string, opts serveOptions) error {
	cfg, err := core.LoadConfig(envPath)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Close()
	logger := log.Zap()

	logger.Info("Starting Mochi Diffusion",
		zap.String("version", core.Version),
		zap.String("commit", core.GitCommit),
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("model_dir", cfg.ModelDir),
		zap.String("image_dir", cfg.ImageDir),
		zap.Bool("auth", cfg.AuthEnabled()),
	)

	var checksOut io.Writer
	if opts.Console {
		checksOut = os.Stdout
	}
	res := validation.ForConfig(cfg, checksOut).Run()
	if !res.OK() {
		logger.Error(res.Summary(), zap.Error(res.Err()))
		return res.Err()
	}
	logger.Info(res.Summary(), zap.Duration("duration", res.Duration))

	var sinks []notify.Sink
	if opts.Console {
		sinks = append(sinks, notify.NewConsoleSink())
	}
	st, err := newStack(cfg, logger, stackOptions{Sinks: sinks})
	if err != nil {
		return err
	}

	manager := shutdown.NewManager(logger, opts.Shutdown...)
	ctx := manager.Context()

	var authProvider webui.AuthProvider
	if cfg.AuthEnabled() {
		authCfg := auth.DefaultConfig()
		authCfg.SessionSecret = cfg.SessionSecret
		am, err := auth.NewAuthMiddlewareWithConfig(cfg.APIPassword, logger, authCfg)
		if err != nil {
			st.Close(ctx)
			return fmt.Errorf("configure authentication: %w", err)
		}
		am.StartCleanup(ctx, auth.DefaultCleanupInterval)
		authProvider = am
	}

	server, err := webui.NewServer(serverConfig(cfg), st.dependencies(manager), authProvider, logger)
	if err != nil {
		st.Close(ctx)
		return err
	}
	st.notifier.AddSink(server.Broadcaster())

	manager.Register("http", shutdown.PriorityHTTP, shutdown.StopHTTP(server.HTTPServer()))
	st.registerHooks(manager)
	manager.Register("logs", shutdown.PriorityLogs, shutdown.SyncLogger(logger))
	manager.Start()

	g := new(errgroup.Group)
	st.runConsumers(ctx, g)
	g.Go(func() error {
		err := server.ListenAndServe(ctx)
		if err != nil {
			logger.Error("Controller failed", zap.Error(err))
			manager.Trigger()
		}
		return err
	})
	if opts.Started != nil {
		opts.Started(manager)
	}

	<-ctx.Done()
	shutdownErr := manager.Shutdown()
	return errors.Join(g.Wait(), shutdownErr)
}
