// Package app provides the top-level lifecycle of the algomarkets operator
// tool. It wires the ledger client and the optional stores, lock and archive,
// then runs the flow selected by the configured mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/algomarkets/internal/config"
	"github.com/alanyoungcy/algomarkets/internal/notify"
)

// Options are the per-invocation overrides given on the command line.
type Options struct {
	// EpochFile replaces settlement.epoch_file when non-empty.
	EpochFile string
	// AppID is the target application of the inspect and delete modes.
	AppID uint64
}

// WireFunc builds the dependencies of a run.
type WireFunc func(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	opts    Options
	wire    WireFunc
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, opts Options, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		opts:   opts,
		wire:   Wire,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, runs the flow of the configured mode to
// completion and returns its error.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("network", a.cfg.Algod.Network),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := a.wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	mode := strings.ToLower(a.cfg.Mode)
	switch mode {
	case "deploy":
		err = a.DeployMode(ctx, deps)
	case "settle":
		err = a.SettleMode(ctx, deps)
	case "health":
		err = a.HealthMode(ctx, deps)
	case "inspect":
		err = a.InspectMode(ctx, deps)
	case "delete":
		err = a.DeleteMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
	if err != nil {
		a.notifyError(ctx, deps, mode, err)
	}
	return err
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) notifyError(ctx context.Context, deps *Dependencies, mode string, runErr error) {
	if !deps.Notifier.Enabled() || ctx.Err() != nil {
		return
	}
	title := fmt.Sprintf("algomarkets %s failed", mode)
	if err := deps.Notifier.Notify(ctx, notify.EventError, title, runErr.Error()); err != nil {
		a.logger.WarnContext(ctx, "error notification failed", slog.String("error", err.Error()))
	}
}
