package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/bsmeter/internal/logging"
	"github.com/ppiankov/bsmeter/internal/model"
	"github.com/ppiankov/bsmeter/internal/orchestrator"
	"github.com/ppiankov/bsmeter/internal/registry"
	"github.com/ppiankov/bsmeter/internal/store"
)

// app is the wired set of components a command works with
type app struct {
	cfg      *model.Config
	logger   *zap.Logger
	registry *registry.Registry
	store    store.Store
	orch     *orchestrator.Orchestrator
}

// newApp loads configuration and builds logger, registry, store and orchestrator
func newApp(ctx context.Context, observer orchestrator.Observer) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	reg, err := registry.New(cfg.Providers, registry.WithLogger(logger.Named("registry")))
	if err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}

	st, err := store.Open(ctx, cfg.Store, logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	orch := orchestrator.New(reg, st,
		orchestrator.WithLogger(logger.Named("orchestrator")),
		orchestrator.WithObserver(observer),
		orchestrator.WithDeadline(cfg.Analysis.Deadline),
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		store:    st,
		orch:     orch,
	}, nil
}

// Close releases the store and flushes the logger
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// progressObserver prints attempt progress to stderr. Failures are always
// shown; the rest only with --verbose.
func progressObserver(ev orchestrator.Event) {
	switch ev.Kind {
	case orchestrator.EventAttemptStarted:
		if verbose {
			fmt.Fprintf(os.Stderr, "⚙️  Trying %s (attempt %d)...\n", ev.Provider, ev.Attempt)
		}
	case orchestrator.EventAttemptFailed:
		fmt.Fprintf(os.Stderr, "✗ %s failed: %v\n", ev.Provider, ev.Err)
	case orchestrator.EventSucceeded:
		if verbose {
			fmt.Fprintf(os.Stderr, "✓ %s answered in %s\n", ev.Provider, ev.Elapsed.Round(time.Millisecond))
		}
	case orchestrator.EventDedupHit:
		if verbose {
			fmt.Fprintf(os.Stderr, "✓ Found stored analysis %s\n", ev.Fingerprint.Short())
		}
	case orchestrator.EventPersistFailed:
		fmt.Fprintf(os.Stderr, "⚠️  Could not save analysis: %v\n", ev.Err)
	}
}
