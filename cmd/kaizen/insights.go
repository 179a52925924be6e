package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var insightsCmd = &cobra.Command{
	Use:   "insights",
	Short: "Show learnings synthesized from optimization history",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		b, _, cleanup, err := resolveBackend(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		result, err := b.Insights()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		report := result.Insights
		if report == nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", result.Message)
			os.Exit(1)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== System Insights ==="))

		fmt.Printf("%s\n", yellow("Key Learnings:"))
		if len(report.KeyLearnings) == 0 {
			fmt.Printf("  %s\n", gray("Nothing learned yet; run some optimization cycles first"))
		}
		for i, learning := range report.KeyLearnings {
			fmt.Printf("%2d. %s\n", i+1, learning.Statement)
		}
		fmt.Println()

		if len(report.SuccessPatterns) > 0 {
			fmt.Printf("%s\n", yellow("Success Patterns:"))
			for _, p := range report.SuccessPatterns {
				fmt.Printf("  %s %s: %d/%d improved (%.0f%%)\n",
					green("✓"), p.Category, p.Improved, p.Applications, p.SuccessRate*100)
			}
			fmt.Println()
		}

		if len(report.Effectiveness) > 0 {
			fmt.Printf("%s\n", yellow("Principle Effectiveness:"))
			for _, eff := range report.Effectiveness {
				fmt.Printf("  %-32s score %.2f  %s\n", eff.PrincipleID, eff.Score, eff.Recommendation)
			}
			fmt.Println()
		}

		if len(report.AreasForImprovement) > 0 {
			fmt.Printf("%s\n", yellow("Areas For Improvement:"))
			for _, area := range report.AreasForImprovement {
				fmt.Printf("  %s %s\n", red("!"), area)
			}
			fmt.Println()
		}

		if report.RunsConsidered > 0 {
			fmt.Printf("Recent success rate %.0f%% over %d runs, trend %s\n\n",
				report.RecentSuccessRate*100, report.RunsConsidered, report.Trend)
		}
	},
}

func init() {
	rootCmd.AddCommand(insightsCmd)
}
