// scripts/prune.go - Manual retention sweep for a kaizen database
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/caelum-ai/kaizen/internal/storage"
)

func main() {
	ctx := context.Background()

	cfg := storage.DefaultConfig()
	if dbPath := os.Getenv("KAIZEN_DB"); dbPath != "" {
		cfg.Path = dbPath
	}

	fmt.Printf("Connecting to database: %s\n", cfg.Path)

	store, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening storage: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	retention := storage.DefaultRetentionConfig()
	fmt.Printf("Running sweep (events kept %s, linked %s, runs %s)...\n",
		retention.EventTTL, retention.LinkedEventTTL, retention.RunTTL)

	stats, err := storage.NewSweeper(store, retention, nil).SweepOnce(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error during sweep: %v\n", err)
		os.Exit(1)
	}

	if stats.EventsPruned > 0 || stats.RunsPruned > 0 {
		fmt.Printf("✓ Pruned %d event(s) and %d run record(s)\n", stats.EventsPruned, stats.RunsPruned)
	} else {
		fmt.Println("✓ Nothing past retention")
	}
}
