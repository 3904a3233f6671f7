package main

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kardianos/service"

	"mochi_backend/shutdown"
)

// fakeServe blocks like runServe until its manager is triggered.
func fakeServe(result error) func(string, serveOptions) error {
	return func(envPath string, opts serveOptions) error {
		m := shutdown.NewManager(nil)
		if opts.Started != nil {
			opts.Started(m)
		}
		<-m.Context().Done()
		return result
	}
}

func TestProgram_StartStop(t *testing.T) {
	tests := []struct {
		name    string
		result  error
		wantErr bool
	}{
		{name: "clean exit"},
		{name: "serve error", result: errors.New("listen failed"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProgram("/etc/mochi/.env")
			p.serve = fakeServe(tt.result)

			if err := p.Start(nil); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			waitForManager(t, p)

			err := p.Stop(nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("Stop() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestProgram_StopBeforeServerIsWired(t *testing.T) {
	release := make(chan struct{})
	p := NewProgram(".env")
	p.serve = func(envPath string, opts serveOptions) error {
		<-release
		return fakeServe(nil)(envPath, opts)
	}
	if err := p.Start(nil); err != nil {
		t.Fatal(err)
	}

	stopped := make(chan error, 1)
	go func() { stopped <- p.Stop(nil) }()

	// Stop is already waiting; the manager must be triggered as soon as it
	// is handed over.
	time.Sleep(10 * time.Millisecond)
	close(release)

	select {
	case err := <-stopped:
		if err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() did not return")
	}
}

func TestProgram_StopWithoutStart(t *testing.T) {
	if err := NewProgram(".env").Stop(nil); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func waitForManager(t *testing.T, p *Program) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		p.mu.Lock()
		m := p.manager
		p.mu.Unlock()
		if m != nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("server never handed over its manager")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNewServiceConfig(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	cfg := newServiceConfig(envPath)

	if cfg.Name != "MochiDiffusion" {
		t.Errorf("Name = %q", cfg.Name)
	}
	want := []string{"service", "run", "--env", envPath}
	if len(cfg.Arguments) != len(want) {
		t.Fatalf("Arguments = %v, want %v", cfg.Arguments, want)
	}
	for i := range want {
		if cfg.Arguments[i] != want[i] {
			t.Errorf("Arguments[%d] = %q, want %q", i, cfg.Arguments[i], want[i])
		}
	}
	if cfg.WorkingDirectory != filepath.Dir(envPath) {
		t.Errorf("WorkingDirectory = %q", cfg.WorkingDirectory)
	}
}

func TestStatusText(t *testing.T) {
	tests := []struct {
		status service.Status
		err    error
		want   string
	}{
		{status: service.StatusRunning, want: "Service is running"},
		{status: service.StatusStopped, want: "Service is stopped"},
		{status: service.StatusUnknown, want: "Service status unknown"},
		{status: service.StatusUnknown, err: service.ErrNotInstalled, want: "Service is not installed"},
	}
	for _, tt := range tests {
		if got := statusText(tt.status, tt.err); got != tt.want {
			t.Errorf("statusText(%v, %v) = %q, want %q", tt.status, tt.err, got, tt.want)
		}
	}
}

func TestCapitalize(t *testing.T) {
	for in, want := range map[string]string{"install": "Install", "stop": "Stop", "": ""} {
		if got := capitalize(in); got != want {
			t.Errorf("capitalize(%q) = %q, want %q", in, got, want)
		}
	}
}
