package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/caelum-ai/kaizen/internal/types"
)

var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Record and inspect evidence events",
}

var (
	evidenceSubject   string
	evidenceMetric    string
	evidenceValue     float64
	evidencePrinciple string
	evidencePolarity  string
)

var evidenceAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Record one evidence event",
	Long: `Record one evidence event against a subject.

Examples:
  kaizen evidence add --subject search_tool --metric tool_invocation --value 0.42
  kaizen evidence add --subject search_tool --metric error --value 1
  kaizen evidence add --subject research --metric task_success --value 1 \
      --principle workflow_centric_approach --polarity supporting`,
	Run: func(cmd *cobra.Command, args []string) {
		if evidenceSubject == "" || evidenceMetric == "" {
			fmt.Fprintf(os.Stderr, "Error: --subject and --metric are required\n")
			os.Exit(1)
		}
		polarity := types.EvidencePolarity(evidencePolarity)
		if !polarity.IsValid() {
			fmt.Fprintf(os.Stderr, "Error: polarity must be supporting, contradicting, or neutral (got %q)\n",
				evidencePolarity)
			os.Exit(1)
		}

		ctx := context.Background()
		b, _, cleanup, err := resolveBackend(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		event := &types.EvidenceEvent{
			Subject:     evidenceSubject,
			Metric:      evidenceMetric,
			Value:       evidenceValue,
			PrincipleID: evidencePrinciple,
			Polarity:    polarity,
		}
		if err := b.AddEvidence(event); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Recorded %s %s = %g\n", green("✓"), evidenceSubject, evidenceMetric, evidenceValue)
	},
}

var (
	evidenceListSince time.Duration
	evidenceListLimit int
)

var evidenceListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show recent evidence events",
	Long: `Show recent evidence events, oldest first, reading storage directly.

Examples:
  kaizen evidence list
  kaizen evidence list --subject search_tool --since 1h
  kaizen evidence list --metric error --limit 50`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		store, err := openStorage(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to open storage: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		events, err := store.QueryEvents(ctx, types.EventFilter{
			Subject: evidenceSubject,
			Metric:  evidenceMetric,
			After:   time.Now().Add(-evidenceListSince),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		gray := color.New(color.FgHiBlack).SprintFunc()
		if len(events) == 0 {
			fmt.Printf("%s\n", gray(fmt.Sprintf("No events in the last %s", evidenceListSince)))
			return
		}
		if evidenceListLimit > 0 && len(events) > evidenceListLimit {
			events = events[len(events)-evidenceListLimit:]
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		fmt.Printf("\n%s\n\n", cyan(fmt.Sprintf("=== Evidence (last %s) ===", evidenceListSince)))
		for _, e := range events {
			line := fmt.Sprintf("%s  %-24s %-22s %8.3f",
				e.Timestamp.Format("2006-01-02 15:04:05"), e.Subject, e.Metric, e.Value)
			if e.Polarity != types.PolarityNeutral {
				line += fmt.Sprintf("  %s %s", e.Polarity, e.PrincipleID)
			}
			fmt.Println(line)
		}
		fmt.Printf("\n%d events\n\n", len(events))
	},
}

func init() {
	evidenceAddCmd.Flags().StringVarP(&evidenceSubject, "subject", "s", "", "Tool, workflow, or task type the event is about (required)")
	evidenceAddCmd.Flags().StringVarP(&evidenceMetric, "metric", "m", "", "Metric name, e.g. tool_invocation, error, task_success (required)")
	evidenceAddCmd.Flags().Float64Var(&evidenceValue, "value", 0, "Metric value")
	evidenceAddCmd.Flags().StringVar(&evidencePrinciple, "principle", "", "Principle the event supports or contradicts")
	evidenceAddCmd.Flags().StringVar(&evidencePolarity, "polarity", string(types.PolarityNeutral), "supporting, contradicting, or neutral")

	evidenceListCmd.Flags().StringVarP(&evidenceSubject, "subject", "s", "", "Only events about this subject")
	evidenceListCmd.Flags().StringVarP(&evidenceMetric, "metric", "m", "", "Only events for this metric")
	evidenceListCmd.Flags().DurationVar(&evidenceListSince, "since", 24*time.Hour, "Lookback window")
	evidenceListCmd.Flags().IntVarP(&evidenceListLimit, "limit", "n", 20, "Most recent events to show (0 for all)")

	evidenceCmd.AddCommand(evidenceAddCmd)
	evidenceCmd.AddCommand(evidenceListCmd)
	rootCmd.AddCommand(evidenceCmd)
}
