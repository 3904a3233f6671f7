package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"mochi_backend/shutdown"
)

// serviceStopTimeout bounds how long Stop waits for the server to exit.
const serviceStopTimeout = 45 * time.Second

// Program runs the server under the operating system's service manager.
// It implements service.Interface.
type Program struct {
	envPath string
	serve   func(envPath string, opts serveOptions) error

	mu       sync.Mutex
	manager  *shutdown.Manager
	stopping bool
	exit     chan struct{}
	err      error
}

// NewProgram creates a Program that serves with the given .env file.
func NewProgram(envPath string) *Program {
	return &Program{envPath: envPath, serve: runServe}
}

// Start launches the server in the background, as the service manager
// expects Start to return promptly.
func (p *Program) Start(s service.Service) error {
	p.mu.Lock()
	p.exit = make(chan struct{})
	p.stopping = false
	exit := p.exit
	p.mu.Unlock()

	go func() {
		defer close(exit)
		err := p.serve(p.envPath, serveOptions{Started: p.setManager})
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
	}()
	return nil
}

func (p *Program) setManager(m *shutdown.Manager) {
	p.mu.Lock()
	p.manager = m
	stopping := p.stopping
	p.mu.Unlock()
	if stopping {
		m.Trigger()
	}
}

// Stop triggers a graceful shutdown and waits for it.
func (p *Program) Stop(s service.Service) error {
	p.mu.Lock()
	p.stopping = true
	m, exit := p.manager, p.exit
	p.mu.Unlock()

	if exit == nil {
		return nil
	}
	if m != nil {
		m.Trigger()
	}
	select {
	case <-exit:
	case <-time.After(serviceStopTimeout):
		return errors.New("timeout waiting for service to stop")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// newServiceConfig describes the installed service. The service runs
// "service run" with the absolute envPath from its directory.
func newServiceConfig(envPath string) *service.Config {
	return &service.Config{
		Name:             "MochiDiffusion",
		DisplayName:      "Mochi Diffusion",
		Description:      "Queued Stable Diffusion and Flux image generation with an HTTP controller",
		Arguments:        []string{"service", "run", "--env", envPath},
		WorkingDirectory: filepath.Dir(envPath),
		Option: service.KeyValue{
			"StartType": "automatic",
		},
	}
}

func newSystemService(envPath string) (service.Service, error) {
	abs, err := filepath.Abs(envPath)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", envPath, err)
	}
	s, err := service.New(NewProgram(abs), newServiceConfig(abs))
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return s, nil
}

func newServiceCmd() *cobra.Command {
	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the system service",
	}

	for _, action := range service.ControlAction {
		serviceCmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: fmt.Sprintf("%s the system service", capitalize(action)),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := newSystemService(envFlag(cmd))
				if err != nil {
					return err
				}
				if err := service.Control(s, action); err != nil {
					return fmt.Errorf("failed to %s service: %w", action, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Service %s: ok\n", action)
				return nil
			},
		})
	}

	serviceCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the system service status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSystemService(envFlag(cmd))
			if err != nil {
				return err
			}
			status, err := s.Status()
			if err != nil && !errors.Is(err, service.ErrNotInstalled) {
				return fmt.Errorf("failed to get service status: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), statusText(status, err))
			return nil
		},
	})

	serviceCmd.AddCommand(&cobra.Command{
		Use:    "run",
		Short:  "Run under the service manager",
		Args:   cobra.NoArgs,
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSystemService(envFlag(cmd))
			if err != nil {
				return err
			}
			return s.Run()
		},
	})
	return serviceCmd
}

func statusText(status service.Status, err error) string {
	if errors.Is(err, service.ErrNotInstalled) {
		return "Service is not installed"
	}
	switch status {
	case service.StatusRunning:
		return "Service is running"
	case service.StatusStopped:
		return "Service is stopped"
	}
	return "Service status unknown"
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
