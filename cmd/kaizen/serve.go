package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/caelum-ai/kaizen/internal/config"
	"github.com/caelum-ai/kaizen/internal/control"
	"github.com/caelum-ai/kaizen/internal/inventory"
	"github.com/caelum-ai/kaizen/internal/optimizer"
	"github.com/caelum-ai/kaizen/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the optimization daemon",
	Long: `Start the long-running optimization daemon.

The daemon will:
1. Open storage and install any missing starting principles
2. Start the performance monitor and the cycle scheduler
3. Answer commands on the control socket (status, trigger, evidence, ...)
4. Hot-reload monitor thresholds when the config file changes
5. Continue until stopped with Ctrl+C`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		scfg := resolveStorageConfig()
		if isSQLiteFile(scfg) {
			// One serve loop per database; concurrent cycles would race
			// on principle updates.
			if err := storage.AcquireExclusiveLock(scfg.Path, "kaizen serve"); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			defer func() { _ = storage.ReleaseExclusiveLock(scfg.Path) }()
		}

		store, err := storage.NewStorage(ctx, scfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to open storage: %v\n", err)
			os.Exit(1)
		}
		defer func() {
			if err := store.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to close storage: %v\n", err)
			}
		}()

		opt, err := optimizer.New(cfg.ToOptimizer(), optimizer.Deps{
			Storage:  store,
			Provider: inventory.NewFileProvider(cfg.Inventory.Path),
			Applier:  buildApplier(),
			Logger:   logger,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to build optimizer: %v\n", err)
			os.Exit(1)
		}

		if err := opt.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start optimizer: %v\n", err)
			os.Exit(1)
		}

		srv, err := control.NewServer(cfg.Control.Socket, opt, logger)
		if err != nil {
			opt.Stop()
			fmt.Fprintf(os.Stderr, "Error: failed to create control server: %v\n", err)
			os.Exit(1)
		}
		if err := srv.Start(ctx); err != nil {
			opt.Stop()
			fmt.Fprintf(os.Stderr, "Error: failed to start control server: %v\n", err)
			os.Exit(1)
		}

		var sweeper *storage.Sweeper
		if cfg.Retention.Enabled {
			sweeper = storage.NewSweeper(store, cfg.ToRetention(), logger)
			if err := sweeper.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: retention disabled: %v\n", err)
				sweeper = nil
			}
		}

		// Threshold changes apply without a restart; everything else in
		// the file takes effect on the next start.
		watcher, err := config.NewWatcher(cfgPath, func(next *config.Config) {
			opt.ApplyThresholds(next.Monitor.Thresholds)
		}, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: config watching disabled: %v\n", err)
			watcher = nil
		} else if err := watcher.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "warning: config watching disabled: %v\n", err)
			watcher.Stop()
			watcher = nil
		}

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()

		fmt.Printf("%s kaizen daemon started\n", green("✓"))
		fmt.Printf("  Storage:  %s\n", cyan(storageDesc()))
		fmt.Printf("  Socket:   %s\n", cyan(cfg.Control.Socket))
		fmt.Printf("  Cycles:   every %s\n", cfg.Cycle.Interval)
		fmt.Printf("  Monitor:  every %s\n", cfg.Monitor.Interval)
		if len(cfg.Cycle.ApplyCommands) > 0 {
			applies := fmt.Sprintf("scripted (%d categories)", len(cfg.Cycle.ApplyCommands))
			if cfg.Cycle.ApplyRatePerMinute > 0 {
				applies += fmt.Sprintf(", max %d/min", cfg.Cycle.ApplyRatePerMinute)
			}
			fmt.Printf("  Applies:  %s\n", applies)
		} else {
			fmt.Printf("  Applies:  recommend-only (logged, not executed)\n")
		}
		if sweeper != nil {
			fmt.Printf("  Retention: events %s, runs %s\n", cfg.Retention.Events, cfg.Retention.Runs)
		}
		fmt.Printf("  Press Ctrl+C to stop\n\n")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		fmt.Println("\nShutting down...")

		if watcher != nil {
			watcher.Stop()
		}
		if err := srv.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: control server shutdown: %v\n", err)
		}
		if sweeper != nil {
			sweeper.Stop()
		}
		opt.Stop()

		fmt.Printf("%s kaizen stopped\n", green("✓"))
	},
}

func storageDesc() string {
	if cfg.Storage.Backend == "" || cfg.Storage.Backend == "sqlite" {
		return cfg.Storage.Path
	}
	return cfg.Storage.Backend
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
