// Command orchestrator loads configuration, builds the provider registry and
// state store, and runs one reconciliation cycle (or, with -watch, a
// long-lived ticker loop) through internal/facade. Grounded on the teacher's
// cmd/server/main.go wiring order (config -> logging -> collaborators ->
// run -> signal-driven shutdown), adapted from the teacher's supervisor-tree
// service set to this repo's single facade.Run entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mediasync/orchestrator/internal/breaker"
	"github.com/mediasync/orchestrator/internal/config"
	"github.com/mediasync/orchestrator/internal/facade"
	"github.com/mediasync/orchestrator/internal/obslog"
	"github.com/mediasync/orchestrator/internal/provider"
	"github.com/mediasync/orchestrator/internal/statestore"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "plan every pair without writing to any provider")
	onlyFeature := flag.String("only-feature", "", "restrict this run to a single feature")
	watch := flag.Bool("watch", false, "run continuously, sleeping -interval between cycles")
	interval := flag.Duration("interval", 15*time.Minute, "sleep between cycles when -watch is set")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	log := obslog.New(obslog.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: os.Stdout}, nil)
	log.Info("configuration loaded", map[string]any{"pairs": len(cfg.Pairs), "state_dir": cfg.StateDir})

	store, err := statestore.New(cfg.StateDir)
	if err != nil {
		log.Error("initialize state store", err, map[string]any{"state_dir": cfg.StateDir})
		os.Exit(1)
	}

	registry := provider.NewRegistry()
	// Real provider adapters (Trakt, Simkl, Plex, Jellyfin, ...) register
	// themselves here once implemented; an empty registry still lets the
	// facade run a no-op cycle against a config with no reachable pairs.

	facadeCfg := facade.Config{
		Pairs:            cfg.ToPairSpecs(),
		Registry:         registry,
		Configs:          cfg.Providers,
		Store:            store,
		Breakers:         breaker.NewRegistry(),
		Log:              log,
		Flags:            cfg.ToDriverFlags(),
		TombstoneTTLDays: cfg.Runtime.TombstoneTTLDays,
		RateLowThreshold: cfg.Runtime.RateLowThreshold,
	}
	opts := facade.RunOptions{DryRun: *dryRun, OnlyFeature: *onlyFeature, WriteStateJSON: true}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", map[string]any{"signal": sig.String()})
		cancel()
	}()

	if !*watch {
		if err := runOnce(ctx, facadeCfg, opts, log); err != nil {
			os.Exit(1)
		}
		return
	}

	log.Info("starting watch loop", map[string]any{"interval": interval.String()})
	for {
		if err := runOnce(ctx, facadeCfg, opts, log); err != nil {
			log.Warn("cycle failed, will retry next interval", map[string]any{"error": err.Error()})
		}
		select {
		case <-ctx.Done():
			log.Info("watch loop stopped", nil)
			return
		case <-time.After(*interval):
		}
	}
}

func runOnce(ctx context.Context, cfg facade.Config, opts facade.RunOptions, log obslog.Logger) error {
	summary, err := facade.Run(ctx, cfg, opts)
	if err != nil {
		log.Error("reconciliation cycle failed", err, nil)
		return err
	}
	log.Info("reconciliation cycle finished", map[string]any{
		"run_id": summary.RunID, "added": summary.Added, "removed": summary.Removed, "unresolved": summary.Unresolved,
	})
	return nil
}
