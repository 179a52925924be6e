package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show optimization system status",
	Long:  `Display system activity, current performance, cycle history, and principle strength.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		b, viaDaemon, cleanup, err := resolveBackend(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		status, err := b.Status()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n", cyan("=== Kaizen Status ==="))
		if viaDaemon {
			fmt.Printf("%s\n\n", gray("(via daemon socket)"))
		} else {
			fmt.Printf("%s\n\n", gray("(no daemon; direct storage read)"))
		}

		fmt.Printf("%s\n", yellow("System:"))
		if status.SystemActive {
			fmt.Printf("  %s %s\n", green("●"), green("active"))
		} else {
			fmt.Printf("  %s %s\n", gray("○"), gray("stopped"))
		}
		fmt.Println()

		fmt.Printf("%s\n", yellow("Performance:"))
		fmt.Printf("  Success rate: %.1f%%\n", status.CurrentPerformance.SuccessRate*100)
		fmt.Printf("  Monitoring:   %s\n", status.CurrentPerformance.MonitoringStatus)
		if status.CurrentPerformance.ActiveAlerts > 0 {
			fmt.Printf("  Alerts:       %s\n", red(fmt.Sprintf("%d active", status.CurrentPerformance.ActiveAlerts)))
		} else {
			fmt.Printf("  Alerts:       none\n")
		}
		fmt.Println()

		fmt.Printf("%s\n", yellow("Optimization Cycles:"))
		fmt.Printf("  Completed: %d\n", status.OptimizationCycles.TotalCompleted)
		if status.OptimizationCycles.TotalCompleted > 0 {
			fmt.Printf("  Recent:    %.0f%% successful\n", status.OptimizationCycles.RecentSuccessRate*100)
		}
		fmt.Printf("  Phase:     %s\n", status.OptimizationCycles.Phase)
		if status.OptimizationCycles.LastRunID != "" {
			fmt.Printf("  Last run:  %s", status.OptimizationCycles.LastRunID)
			if status.OptimizationCycles.LastRunAt != nil {
				fmt.Printf(" (%s)", status.OptimizationCycles.LastRunAt.Format("2006-01-02 15:04:05"))
			}
			fmt.Println()
		}
		fmt.Println()

		fmt.Printf("%s\n", yellow("Principles:"))
		fmt.Printf("  In force:     %d\n", status.Principles.TotalLearned)
		fmt.Printf("  Avg strength: %.2f\n", status.Principles.AvgEvidenceStrength)
		fmt.Println()

		if !status.SystemActive {
			fmt.Printf("%s\n\n", gray("Run 'kaizen serve' to start optimizing"))
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
