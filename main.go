// Command mochi runs the Mochi Diffusion generation server: a single
// worker queue in front of the Stable Diffusion and Flux runtimes, with an
// HTTP and WebSocket controller, persisted history and an optional
// operating-system service wrapper.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"mochi_backend/core"
	"mochi_backend/logging"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and maps the outcome to a process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewCLI()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		color.New(color.FgRed, color.Bold).Fprint(stderr, "Error: ")
		fmt.Fprintln(stderr, err)
	}
	return core.ExitCodeFor(err)
}

// NewCLI builds the command tree.
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:     "mochi",
		Short:   "Mochi Diffusion image generation server",
		Version: core.VersionInfo(),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true
		},
	}
	rootCmd.PersistentFlags().String("env", ".env", "Path of the .env file to load")

	serveCmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the generation server",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(envFlag(cmd), serveOptions{Console: true})
		},
	}

	generateCmd := newGenerateCmd()

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "List the models found in the model directory",
		Args:  cobra.NoArgs,
		RunE:  modelsHandler,
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Run the startup checks and exit",
		Args:  cobra.NoArgs,
		RunE:  checkHandler,
	}

	rootCmd.AddCommand(serveCmd, generateCmd, modelsCmd, checkCmd, newServiceCmd())
	return rootCmd
}

func envFlag(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("env")
	return path
}

// newLogger builds the process logger from cfg.
func newLogger(cfg *core.Config) (*logging.Logger, error) {
	def := zapcore.InfoLevel
	if cfg.DevMode {
		def = zapcore.DebugLevel
	}
	level := logging.ParseLevel(cfg.LogLevel, def)
	return logging.NewLoggerWithOptions(logging.Options{
		Development: cfg.DevMode,
		Level:       &level,
		FilePath:    cfg.LogFile,
		Rotation:    logging.DefaultRotation(),
	})
}
