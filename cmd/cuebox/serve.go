package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/nerrad567/cuebox/internal/api"
	"github.com/nerrad567/cuebox/internal/library"
)

// newServeCommand creates the serve command.
func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine and the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), rootOpts.ConfigPath)
		},
	}
}

// runServe is the long-running application, separated from the command
// for testability. Returning an error lets main handle exit codes.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configFlag: value of the --config flag
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func runServe(ctx context.Context, configFlag string) error {
	cfg, log, err := loadConfig(configFlag)
	if err != nil {
		return err
	}
	log.Info("starting cuebox",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	a, err := openApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	// The hub observes the engine from here on, so profile activations
	// during the library load already reach WebSocket clients.
	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Engine:   a.engine,
		Checks:   a.healthChecks(),
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	loader, lib := a.loadLibrary()

	if cfg.Library.Watch {
		watcher, watchErr := library.NewWatcher(library.WatcherConfig{
			Loader:   loader,
			Sink:     a.engine,
			Debounce: cfg.GetDebounce(),
			Logger:   log.Component("library"),
		})
		if watchErr != nil {
			return fmt.Errorf("watching library: %w", watchErr)
		}
		watcher.Seed(lib)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			watcher.Start(ctx)
		}()
		defer func() {
			log.Info("stopping library watcher")
			_ = watcher.Close()
			wg.Wait()
		}()
		log.Info("library watcher started",
			"profiles_dir", cfg.Library.ProfilesDir,
			"automations_dir", cfg.Library.AutomationsDir,
		)
	}

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	a.engine.Ready(ctx)
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred closes run in reverse order:
	// 1. API server
	// 2. Library watcher (if enabled)
	// 3. Engine, mirror, InfluxDB, MQTT, database

	log.Info("cuebox stopped")
	return nil
}
