package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/caelum-ai/kaizen/internal/console"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Start the interactive console",
	Long: `Start an interactive shell for the optimization system.

The console connects to a running daemon when one is listening on the
control socket, and otherwise reads storage directly. Type 'help' in
the console for available commands.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		b, viaDaemon, cleanup, err := resolveBackend(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		gray := color.New(color.FgHiBlack).SprintFunc()
		if viaDaemon {
			fmt.Printf("%s\n", gray(fmt.Sprintf("Connected to daemon at %s", cfg.Control.Socket)))
		} else {
			fmt.Printf("%s\n", gray("No daemon running; reading storage directly"))
		}

		c, err := console.New(b)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to create console: %v\n", err)
			os.Exit(1)
		}
		if err := c.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}
