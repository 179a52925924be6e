package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var principlesCmd = &cobra.Command{
	Use:   "principles",
	Short: "List the principles currently in force",
	Long: `List active principles strongest-first with their evidence strength.

Strength starts at the principle's prior and moves with supporting and
contradicting evidence; principles whose strength decays to the
retirement floor drop out of this list.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		b, _, cleanup, err := resolveBackend(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		result, err := b.Principles()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== Current Principles ==="))
		if len(result.Principles) == 0 {
			fmt.Printf("  %s\n\n", gray("No principles in force; run 'kaizen init' to install the starting set"))
			return
		}

		for i, p := range result.Principles {
			colored := cmdStrengthColor(p.EvidenceStrength)
			fmt.Printf("%2d. [%s] %s: %s\n", i+1,
				colored(fmt.Sprintf("%.2f", p.EvidenceStrength)), p.ID, p.Title)
			if p.Description != "" {
				fmt.Printf("    %s\n", gray(p.Description))
			}
		}
		fmt.Printf("\n%d principles, average strength %.2f\n\n",
			result.TotalCount, result.AvgEvidenceStrength)
	},
}

func cmdStrengthColor(strength float64) func(a ...interface{}) string {
	switch {
	case strength >= 0.8:
		return color.New(color.FgGreen).SprintFunc()
	case strength >= 0.6:
		return color.New(color.FgYellow).SprintFunc()
	default:
		return color.New(color.FgRed).SprintFunc()
	}
}

func init() {
	rootCmd.AddCommand(principlesCmd)
}
