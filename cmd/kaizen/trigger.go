package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/caelum-ai/kaizen/internal/types"
)

var (
	triggerWaitFlag    bool
	triggerWaitTimeout time.Duration
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Start an optimization cycle now",
	Long: `Start an optimization cycle immediately instead of waiting for the
next scheduled one. While a cycle is running further triggers report
busy; nothing is queued.

Without a daemon the cycle runs inside this process, so the command
always waits for it to finish.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		b, viaDaemon, cleanup, err := resolveBackend(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		result, err := b.Trigger()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		if result.Status == "busy" {
			fmt.Printf("%s %s\n", yellow("ℹ"), result.Message)
			return
		}
		fmt.Printf("%s Optimization cycle %s started\n", green("✓"), result.RunID)

		wait := triggerWaitFlag
		if !viaDaemon && !wait {
			// The run dies with this process, so finishing it is the
			// only useful outcome
			fmt.Printf("%s\n", gray("no daemon; waiting for the cycle to finish"))
			wait = true
		}
		if !wait {
			fmt.Printf("%s\n", gray("kaizen trigger --wait blocks until the cycle finishes"))
			return
		}

		waitCtx, cancel := context.WithTimeout(ctx, triggerWaitTimeout)
		defer cancel()
		run, err := waitForRun(waitCtx, b, result.RunID)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				fmt.Fprintf(os.Stderr, "Error: cycle still running after %s\n", triggerWaitTimeout)
			} else {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			os.Exit(1)
		}

		elapsed := run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond)
		if run.Status == types.RunCompleted {
			fmt.Printf("%s Cycle completed in %s\n", green("✓"), elapsed)
		} else {
			fmt.Printf("%s Cycle failed after %s: %s\n", red("✗"), elapsed, run.FailureReason)
		}

		if s := run.PhaseResults.Suggestion; s != nil {
			fmt.Printf("  Suggestions: %d\n", len(s.Suggestions))
		}
		if impl := run.PhaseResults.Implementation; impl != nil {
			fmt.Printf("  Applied:     %d (%d failed, %d skipped)\n",
				impl.Implemented, impl.Failed, impl.Skipped)
		}
		if eval := run.PhaseResults.Evaluation; eval != nil {
			fmt.Printf("  Evaluation:  %d improved, %d regressed\n",
				eval.Improved, eval.Regressed)
		}
		if len(run.PrinciplesLearned) > 0 {
			fmt.Printf("  Learned:     %v\n", run.PrinciplesLearned)
		}

		if run.Status != types.RunCompleted {
			os.Exit(1)
		}
	},
}

// waitForRun polls the run record until it finishes
func waitForRun(ctx context.Context, b backend, runID string) (*types.CycleRun, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		run, err := b.Run(runID)
		if err != nil {
			return nil, err
		}
		if run.FinishedAt != nil {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func init() {
	triggerCmd.Flags().BoolVarP(&triggerWaitFlag, "wait", "w", false, "Block until the cycle finishes and report its outcome")
	triggerCmd.Flags().DurationVar(&triggerWaitTimeout, "timeout", 10*time.Minute, "How long --wait blocks before giving up")
	rootCmd.AddCommand(triggerCmd)
}
