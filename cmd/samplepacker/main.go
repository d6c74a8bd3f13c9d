// Package main provides the samplepacker command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/maauso/samplepacker/internal/bootstrap"
	"github.com/maauso/samplepacker/internal/cli"
	"github.com/maauso/samplepacker/internal/config"
)

var version = "0.1.0"

// Exit codes.
const (
	exitOK        = 0
	exitError     = 1
	exitPartial   = 2
	exitCancelled = 130
)

var (
	errCancelled   = errors.New("cancelled")
	errFilesFailed = errors.New("some files failed")
)

// CLI defines the command-line interface.
type CLI struct {
	Version kong.VersionFlag `short:"v" help:"Show version information."`

	Process     ProcessCmd     `cmd:"" help:"Detect and export samples from a file or directory."`
	Detect      DetectCmd      `cmd:"" help:"Run detection on one file and print the segments."`
	Overlaps    OverlapsCmd    `cmd:"" help:"Clean up the segments of an existing output."`
	Cache       CacheCmd       `cmd:"" help:"Manage the audio cache."`
	Spectrogram SpectrogramCmd `cmd:"" help:"Render a spectrogram tile to PNG."`
}

// App is bound into every command's Run method.
type App struct {
	ctx    context.Context
	cfg    *config.Config
	logger *slog.Logger
	stdout io.Writer
	stderr io.Writer

	deps        *bootstrap.Dependencies
	stopPruner  context.CancelFunc
	prunerAlive bool
}

// Deps opens the shared dependencies on first use.
func (a *App) Deps() (*bootstrap.Dependencies, error) {
	if a.deps != nil {
		return a.deps, nil
	}
	deps, err := bootstrap.NewDependencies(a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	a.deps = deps
	return deps, nil
}

// startPruner prunes the cache in the background until Close.
func (a *App) startPruner() {
	if a.deps == nil || a.prunerAlive {
		return
	}
	ctx, cancel := context.WithCancel(a.ctx)
	a.stopPruner = cancel
	a.prunerAlive = true
	a.deps.StartPruner(ctx)
}

// Close stops the pruner and releases the dependencies.
func (a *App) Close() {
	if a.stopPruner != nil {
		a.stopPruner()
	}
	if a.deps != nil {
		if err := a.deps.Close(); err != nil {
			a.logger.Warn("failed to close audio cache", slog.String("error", err.Error()))
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		cli.PrintError(stderr, err.Error())
		return exitError
	}

	logger := cfg.NewLoggerTo(stderr)
	slog.SetDefault(logger)

	var root CLI
	parser, err := kong.New(&root,
		kong.Name("samplepacker"),
		kong.Description("Find usable samples in audio recordings and export them."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
		kong.Writers(stdout, stderr),
		settingsVars(),
		kong.Vars{"version": version},
	)
	if err != nil {
		cli.PrintError(stderr, err.Error())
		return exitError
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		parser.Errorf("%s", err)
		return exitError
	}

	app := &App{ctx: ctx, cfg: cfg, logger: logger, stdout: stdout, stderr: stderr}
	defer app.Close()

	logger.Debug("starting samplepacker",
		slog.String("command", kctx.Command()),
		slog.String("config", cfg.String()),
	)

	err = kctx.Run(app)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errCancelled):
		cli.PrintError(stderr, "cancelled")
		return exitCancelled
	case errors.Is(err, errFilesFailed):
		cli.PrintError(stderr, err.Error())
		return exitPartial
	default:
		cli.PrintError(stderr, fmt.Sprint(err))
		return exitError
	}
}
