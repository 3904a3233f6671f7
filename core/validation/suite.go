// Package validation runs the startup checks behind `mochi serve` and
// `mochi check`, printing one colored line per step.
package validation

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"mochi_backend/core"
)

// StepStatus is the result of one check.
type StepStatus int

const (
	StepPassed StepStatus = iota
	StepWarning
	StepFailed
	StepSkipped
)

func (s StepStatus) String() string {
	switch s {
	case StepPassed:
		return "passed"
	case StepWarning:
		return "warning"
	case StepFailed:
		return "failed"
	case StepSkipped:
		return "skipped"
	}
	return "unknown"
}

// Step is a finished check.
type Step struct {
	Name    string
	Status  StepStatus
	Message string
	Err     error
	Latency time.Duration
}

// Check returns a short message, or an error. Fatal checks fail the suite;
// the rest only warn.
type Check struct {
	Name  string
	Fatal bool
	Run   func() (string, error)
}

// Result summarizes a suite run.
type Result struct {
	Steps    []Step
	Passed   int
	Warnings int
	Failed   int
	Duration time.Duration
}

// OK reports whether no fatal check failed.
func (r Result) OK() bool { return r.Failed == 0 }

// Err joins the errors of failed steps.
func (r Result) Err() error {
	var errs []error
	for _, s := range r.Steps {
		if s.Status == StepFailed && s.Err != nil {
			errs = append(errs, s.Err)
		}
	}
	return errors.Join(errs...)
}

// Summary is a one-line description for logs.
func (r Result) Summary() string {
	var sb strings.Builder
	if r.OK() {
		sb.WriteString("startup checks passed")
	} else {
		sb.WriteString("startup checks failed")
	}
	fmt.Fprintf(&sb, ": %d passed", r.Passed)
	if r.Warnings > 0 {
		fmt.Fprintf(&sb, ", %d warnings", r.Warnings)
	}
	if r.Failed > 0 {
		fmt.Fprintf(&sb, ", %d failed", r.Failed)
	}
	return sb.String()
}

// Suite runs checks in order.
type Suite struct {
	out      io.Writer
	quiet    bool
	failFast bool
	checks   []Check
}

// NewSuite prints progress to out unless out is nil.
func NewSuite(out io.Writer) *Suite {
	return &Suite{out: out, quiet: out == nil}
}

// WithFailFast skips the remaining checks after a fatal failure.
func (s *Suite) WithFailFast(on bool) *Suite {
	s.failFast = on
	return s
}

// Add appends a check.
func (s *Suite) Add(c Check) *Suite {
	s.checks = append(s.checks, c)
	return s
}

// ForConfig returns the standard startup checks for cfg.
func ForConfig(cfg *core.Config, out io.Writer) *Suite {
	s := NewSuite(out).WithFailFast(true)
	s.Add(Check{Name: "Images directory", Fatal: true, Run: func() (string, error) {
		return CheckWritableDir("MOCHI_IMAGE_DIR", cfg.ImageDir)
	}})
	s.Add(Check{Name: "Models directory", Fatal: true, Run: func() (string, error) {
		if _, err := CheckWritableDir("MOCHI_MODEL_DIR", cfg.ModelDir); err != nil {
			return "", err
		}
		n, err := CountModelDirs(cfg.ModelDir)
		if err != nil {
			return "", core.ErrDirectory("MOCHI_MODEL_DIR", cfg.ModelDir, err)
		}
		return fmt.Sprintf("%s (%d entries)", cfg.ModelDir, n), nil
	}})
	s.Add(Check{Name: "ControlNet directory", Run: func() (string, error) {
		return CheckWritableDir("MOCHI_CONTROLNET_DIR", cfg.ControlNetDir)
	}})
	s.Add(Check{Name: "Disk space", Run: func() (string, error) {
		return CheckDiskSpace(cfg.ImageDir, MinImageSpace)
	}})
	s.Add(Check{Name: "API authentication", Run: func() (string, error) {
		if cfg.AuthEnabled() {
			return "password required", nil
		}
		return "", errors.New("MOCHI_API_PASSWORD is empty, the API is open to anyone who can reach it")
	}})
	return s
}

// Run executes the checks and prints a summary.
func (s *Suite) Run() Result {
	start := time.Now()
	var res Result
	s.header("Mochi Diffusion startup checks")

	stopped := false
	for _, c := range s.checks {
		if stopped {
			step := Step{Name: c.Name, Status: StepSkipped, Message: "skipped after earlier failure"}
			res.Steps = append(res.Steps, step)
			s.print(step)
			continue
		}
		t := time.Now()
		msg, err := c.Run()
		step := Step{Name: c.Name, Message: msg, Err: err, Latency: time.Since(t)}
		switch {
		case err == nil:
			step.Status = StepPassed
			res.Passed++
		case c.Fatal:
			step.Status = StepFailed
			res.Failed++
			stopped = s.failFast
		default:
			step.Status = StepWarning
			res.Warnings++
		}
		res.Steps = append(res.Steps, step)
		s.print(step)
	}
	res.Duration = time.Since(start)
	s.summary(res)
	return res
}

func (s *Suite) header(title string) {
	if s.quiet {
		return
	}
	color.New(color.FgCyan, color.Bold).Fprintf(s.out, "━━━ %s ━━━\n", title)
}

func (s *Suite) print(step Step) {
	if s.quiet {
		return
	}
	icon, clr := "?", color.New(color.FgWhite)
	switch step.Status {
	case StepPassed:
		icon, clr = "✓", color.New(color.FgGreen)
	case StepWarning:
		icon, clr = "!", color.New(color.FgYellow)
	case StepFailed:
		icon, clr = "✗", color.New(color.FgRed)
	case StepSkipped:
		icon, clr = "○", color.New(color.FgHiBlack)
	}
	clr.Fprintf(s.out, "  %s %s", icon, step.Name)
	if step.Message != "" {
		color.New(color.FgHiBlack).Fprintf(s.out, " - %s", step.Message)
	}
	fmt.Fprintln(s.out)
	if step.Err != nil && step.Status != StepPassed {
		clr.Fprintf(s.out, "    └─ %s\n", step.Err)
	}
}

func (s *Suite) summary(r Result) {
	if s.quiet {
		return
	}
	clr := color.New(color.FgGreen, color.Bold)
	if !r.OK() {
		clr = color.New(color.FgRed, color.Bold)
	}
	clr.Fprintf(s.out, "━━━ %s (%v) ━━━\n", r.Summary(), r.Duration.Round(time.Millisecond))
}
