package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"mochi_backend/core"
	"mochi_backend/core/validation"
	"mochi_backend/generation"
	"mochi_backend/modelrepo"
	"mochi_backend/webui"
)

func checkHandler(cmd *cobra.Command, args []string) error {
	cfg, err := core.LoadConfig(envFlag(cmd))
	if err != nil {
		return err
	}
	res := validation.ForConfig(cfg, cmd.OutOrStdout()).Run()
	if !res.OK() {
		return res.Err()
	}
	return nil
}

func modelsHandler(cmd *cobra.Command, args []string) error {
	cfg, err := core.LoadConfig(envFlag(cmd))
	if err != nil {
		return err
	}
	models, err := modelrepo.New(nil).Load(cmd.Context(), cfg.ModelDir, cfg.ControlNetDir)
	if err != nil {
		return err
	}
	return printModels(cmd.OutOrStdout(), models)
}

func printModels(out io.Writer, models []generation.Model) error {
	if len(models) == 0 {
		fmt.Fprintln(out, "No models found.")
		return nil
	}

	var data [][]string
	for _, m := range models {
		typ, controlNets, path := "-", "-", ""
		switch {
		case m.SD != nil:
			typ = m.SD.Type.String()
			if len(m.SD.ControlNets) > 0 {
				controlNets = strings.Join(m.SD.ControlNets, ",")
			}
			path = m.SD.Path
		case m.Flux != nil:
			path = m.Flux.Path
		}
		modified := "-"
		if info, err := os.Stat(path); err == nil {
			modified = humanize.Time(info.ModTime())
		}
		data = append(data, []string{m.Name(), m.Kind.String(), typ, controlNets, modified})
	}

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"NAME", "PIPELINE", "TYPE", "CONTROLNET", "MODIFIED"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("   ")
	table.AppendBulk(data)
	table.Render()
	return nil
}

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate MODEL PROMPT",
		Short: "Generate images once without starting the server",
		Args:  cobra.ExactArgs(2),
		RunE:  generateHandler,
	}
	flags := cmd.Flags()
	flags.String("negative-prompt", "", "Negative prompt")
	flags.IntP("count", "n", 1, "Number of images")
	flags.Int("steps", 0, "Step count (default 12, Flux always uses 4)")
	flags.Float64("guidance", webui.DefaultGuidanceScale, "Guidance scale")
	flags.Float64("strength", webui.DefaultStrength, "Strength applied to the starting image")
	flags.Uint32("seed", 0, "Seed (random when unset)")
	flags.Int("width", 0, "Image width")
	flags.Int("height", 0, "Image height")
	flags.String("scheduler", "", "Scheduler (default \"DPM++ 2M\")")
	flags.String("image-type", "", "Output format, png or jpeg")
	flags.String("starting-image", "", "Image file for image-to-image")
	flags.StringArray("controlnet", nil, "ControlNet input as NAME=IMAGE_FILE, repeatable")
	flags.Bool("disable-safety", false, "Disable the safety checker")
	return cmd
}

func generateHandler(cmd *cobra.Command, args []string) error {
	body, err := generateRequestFromFlags(cmd, args[0], args[1])
	if err != nil {
		return err
	}
	cfg, err := core.LoadConfig(envFlag(cmd))
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Close()
	return runGenerate(cmd.Context(), cfg, log.Zap(), body, cmd.OutOrStdout(), stackOptions{})
}

func generateRequestFromFlags(cmd *cobra.Command, model, prompt string) (webui.GenerateRequest, error) {
	flags := cmd.Flags()
	body := webui.GenerateRequest{Model: model, Prompt: prompt}
	body.NegativePrompt, _ = flags.GetString("negative-prompt")
	body.NumberOfImages, _ = flags.GetInt("count")
	body.StepCount, _ = flags.GetInt("steps")
	body.Width, _ = flags.GetInt("width")
	body.Height, _ = flags.GetInt("height")
	body.Scheduler, _ = flags.GetString("scheduler")
	body.ImageType, _ = flags.GetString("image-type")
	body.DisableSafety, _ = flags.GetBool("disable-safety")

	if flags.Changed("guidance") {
		v, _ := flags.GetFloat64("guidance")
		body.GuidanceScale = &v
	}
	if flags.Changed("strength") {
		v, _ := flags.GetFloat64("strength")
		body.Strength = &v
	}
	if flags.Changed("seed") {
		v, _ := flags.GetUint32("seed")
		body.Seed = &v
	}

	if path, _ := flags.GetString("starting-image"); path != "" {
		data, err := readImageFile(path)
		if err != nil {
			return body, err
		}
		body.StartingImage = data
	}
	inputs, _ := flags.GetStringArray("controlnet")
	for _, in := range inputs {
		name, path, ok := strings.Cut(in, "=")
		if !ok || name == "" || path == "" {
			return body, fmt.Errorf("invalid --controlnet %q, want NAME=IMAGE_FILE", in)
		}
		data, err := readImageFile(path)
		if err != nil {
			return body, err
		}
		body.ControlNets = append(body.ControlNets, webui.ControlNetInput{Name: name, Image: data})
	}
	return body, nil
}

func readImageFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// finishWatcher hands over the outcome of one request.
type finishWatcher struct {
	id   string
	done chan generation.Outcome
}

func newFinishWatcher() *finishWatcher {
	return &finishWatcher{done: make(chan generation.Outcome, 1)}
}

func (w *finishWatcher) RequestStarted(generation.Request) {}

func (w *finishWatcher) RequestFinished(req generation.Request, outcome generation.Outcome) {
	if req.ID != w.id {
		return
	}
	select {
	case w.done <- outcome:
	default:
	}
}

// runGenerate runs one request through a private stack and prints each
// saved image. Interrupting ctx stops the generation.
func runGenerate(ctx context.Context, cfg *core.Config, logger *zap.Logger, body webui.GenerateRequest, out io.Writer, opts stackOptions) error {
	watcher := newFinishWatcher()
	opts.Observers = append(opts.Observers, watcher)
	st, err := newStack(cfg, logger, opts)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := st.Close(closeCtx); err != nil {
			logger.Warn("Shutdown incomplete", zap.Error(err))
		}
	}()

	models, err := st.models.Load(ctx, cfg.ModelDir, cfg.ControlNetDir)
	if err != nil {
		return err
	}
	req, err := body.ToRequest(models, serverConfig(cfg).Defaults)
	if err != nil {
		return err
	}
	watcher.id = req.ID

	results := st.service.Results(ctx)
	if err := st.service.Enqueue(req); err != nil {
		return err
	}
	fmt.Fprintf(out, "Generating %d image(s) with %s, seed %d\n", req.NumberOfImages, req.Pipeline.DisplayName(), req.Seed)

	// Step progress is redrawn in place, so only terminals get it.
	var progress <-chan generation.StateEvent
	if isTerminal(out) {
		progress = st.state.Subscribe(ctx)
	}
	line := &progressLine{out: out}

	saved := color.New(color.FgGreen).SprintFunc()
	printed := 0
	var outcome *generation.Outcome
	for outcome == nil || printed < outcome.Saved {
		select {
		case <-ctx.Done():
			line.clear()
			st.service.StopCurrentGeneration()
			return ctx.Err()
		case ev, ok := <-progress:
			if !ok {
				progress = nil
				continue
			}
			line.update(ev)
		case r, ok := <-results:
			if !ok {
				return generation.ErrServiceClosed
			}
			if r.RequestID != req.ID {
				continue
			}
			printed++
			line.clear()
			fmt.Fprintf(out, "%s %s (seed %d)\n", saved("saved"), filepath.Base(r.ImagePath), r.Metadata.Seed)
		case o := <-watcher.done:
			outcome = &o
		}
	}
	line.clear()

	switch {
	case outcome.Err != nil:
		return outcome.Err
	case outcome.Status.Kind == generation.StatusError:
		return errors.New(outcome.Status.Message)
	}
	fmt.Fprintf(out, "Done: %d image(s) in %s\n", outcome.Saved, outcome.Duration.Round(time.Millisecond))
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// progressLine keeps one carriage-return line with the running step.
type progressLine struct {
	out   io.Writer
	width int
}

func (l *progressLine) update(ev generation.StateEvent) {
	p := ev.Status.Progress
	if ev.Status.Kind != generation.StatusRunning || p == nil {
		return
	}
	text := fmt.Sprintf("step %d/%d", p.Step, p.StepCount)
	if ev.LastStepElapsed > 0 {
		text += fmt.Sprintf(" (%s/step)", ev.LastStepElapsed.Round(time.Millisecond))
	}
	l.write(text)
}

func (l *progressLine) clear() {
	if l.width > 0 {
		fmt.Fprintf(l.out, "\r%s\r", strings.Repeat(" ", l.width))
		l.width = 0
	}
}

func (l *progressLine) write(text string) {
	pad := l.width - len(text)
	if pad < 0 {
		pad = 0
	}
	fmt.Fprintf(l.out, "\r%s%s", text, strings.Repeat(" ", pad))
	l.width = len(text)
}
