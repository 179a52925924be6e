package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/caelum-ai/kaizen/internal/config"
	"github.com/caelum-ai/kaizen/internal/evidence"
	"github.com/caelum-ai/kaizen/internal/inventory"
	"github.com/caelum-ai/kaizen/internal/principles"
	"github.com/caelum-ai/kaizen/internal/storage"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize kaizen in the current directory",
	Long: `Initialize kaizen by creating the .kaizen/ data directory.

This creates:
  - .kaizen/config.yaml     (commented default configuration)
  - .kaizen/inventory.yaml  (starter tool inventory)
  - .kaizen/kaizen.db       (SQLite database with schema)
and installs the starting principles.

Example:
  cd ~/myproject
  kaizen init
  kaizen serve`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		if err := config.SaveDefault(cfgPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if _, err := os.Stat(cfg.Inventory.Path); os.IsNotExist(err) {
			if err := inventory.SaveDefaultInventory(cfg.Inventory.Path); err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to write inventory: %v\n", err)
				os.Exit(1)
			}
		}

		// Opening storage creates the schema
		store, err := storage.NewStorage(ctx, cfg.ToStorage())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to initialize database: %v\n", err)
			os.Exit(1)
		}

		registry := principles.NewRegistry(store, evidence.NewStore(store), cfg.ToPrinciples())
		installed, err := registry.Seed(ctx)
		if err != nil {
			_ = store.Close()
			fmt.Fprintf(os.Stderr, "Error: failed to seed principles: %v\n", err)
			os.Exit(1)
		}
		_ = store.Close()

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		dbDesc := cfg.Storage.Path
		if cfg.Storage.Backend != "sqlite" {
			dbDesc = cfg.Storage.Backend
		}

		fmt.Printf("\n%s Initialized kaizen\n\n", green("✓"))
		fmt.Printf("  Config:     %s\n", cyan(cfgPath))
		fmt.Printf("  Inventory:  %s\n", cyan(cfg.Inventory.Path))
		fmt.Printf("  Database:   %s\n", cyan(dbDesc))
		fmt.Printf("  Principles: %d installed\n", installed)
		fmt.Println()

		fmt.Printf("%s Next steps:\n", gray("→"))
		fmt.Printf("  %s\n", gray("kaizen serve     # start the optimization daemon"))
		fmt.Printf("  %s\n", gray("kaizen status    # check on the system"))
		fmt.Printf("  %s\n", gray("kaizen console   # interactive shell"))
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
