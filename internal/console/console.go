// Package console is the interactive shell over the optimization
// control surface. It speaks to a running daemon through the control
// client, or to an in-process optimizer through the same interface.
package console

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/caelum-ai/kaizen/internal/control"
	"github.com/caelum-ai/kaizen/internal/optimizer"
	"github.com/caelum-ai/kaizen/internal/types"
)

// Backend answers console commands. The control client satisfies it for
// daemon sessions; cmd wires a direct adapter when no daemon runs.
type Backend interface {
	Status() (*optimizer.StatusResult, error)
	Principles() (*optimizer.PrinciplesResult, error)
	Insights() (*optimizer.InsightsResult, error)
	Trigger() (*optimizer.TriggerResult, error)
	Alerts() (*control.AlertsData, error)
	AddEvidence(event *types.EvidenceEvent) error
}

// CommandHandler handles a specific command
type CommandHandler func(args []string) error

// Console is the interactive shell
type Console struct {
	backend  Backend
	rl       *readline.Instance
	commands map[string]CommandHandler
}

// New creates a console over the given backend
func New(backend Backend) (*Console, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}

	c := &Console{
		backend:  backend,
		commands: make(map[string]CommandHandler),
	}
	c.registerCommands()
	return c, nil
}

// Run starts the interactive loop and blocks until exit
func (c *Console) Run() error {
	cyan := color.New(color.FgCyan).SprintFunc()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            cyan("kaizen> "),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()
	c.rl = rl

	c.printWelcome()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			} else if err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if err := c.processInput(line); err != nil {
			if err == io.EOF {
				return nil
			}
			red := color.New(color.FgRed).SprintFunc()
			fmt.Printf("%s %v\n", red("Error:"), err)
		}
	}
}

func (c *Console) processInput(line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}

	if handler, ok := c.commands[parts[0]]; ok {
		return handler(parts[1:])
	}

	yellow := color.New(color.FgYellow).SprintFunc()
	fmt.Printf("%s Unknown command %q. Type 'help' for available commands.\n", yellow("Note:"), parts[0])
	return nil
}

func (c *Console) registerCommands() {
	c.commands["help"] = c.cmdHelp
	c.commands["?"] = c.cmdHelp
	c.commands["exit"] = c.cmdExit
	c.commands["quit"] = c.cmdExit
	c.commands["status"] = c.cmdStatus
	c.commands["principles"] = c.cmdPrinciples
	c.commands["insights"] = c.cmdInsights
	c.commands["trigger"] = c.cmdTrigger
	c.commands["evidence"] = c.cmdEvidence
	c.commands["alerts"] = c.cmdAlerts
}

func (c *Console) printWelcome() {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Printf("\n%s\n", cyan("kaizen - self-optimization console"))
	fmt.Println()
	fmt.Println("Type 'help' for available commands, 'exit' to quit")
	fmt.Println()
}

func (c *Console) cmdHelp(args []string) error {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("\n%s\n\n", cyan("Available Commands:"))

	commands := []struct {
		name string
		desc string
	}{
		{"status", "Show system status: performance, cycles, principles"},
		{"principles", "List the principles currently in force"},
		{"insights", "Show learnings synthesized from optimization history"},
		{"alerts", "Show active performance alerts"},
		{"trigger", "Start an optimization cycle now"},
		{"evidence <subject> <metric> <value>", "Record an observation"},
		{"help, ?", "Show this help message"},
		{"exit, quit", "Exit the console"},
	}
	for _, cmd := range commands {
		fmt.Printf("  %s  %s\n", green(cmd.name), cmd.desc)
	}
	fmt.Println()
	return nil
}

func (c *Console) cmdExit(args []string) error {
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("\n%s Goodbye!\n", green("✓"))
	if c.rl != nil {
		c.rl.Close()
	}
	return io.EOF
}

func (c *Console) cmdStatus(args []string) error {
	status, err := c.backend.Status()
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	system := red("stopped")
	if status.SystemActive {
		system = green("active")
	}
	alerts := fmt.Sprintf("%d alerts", status.CurrentPerformance.ActiveAlerts)
	if status.CurrentPerformance.ActiveAlerts > 0 {
		alerts = red(alerts)
	}

	fmt.Printf("\n%s\n\n", cyan("Optimization Status"))
	fmt.Printf("  System        %s\n", system)
	fmt.Printf("  Monitoring    %s (%s)\n", status.CurrentPerformance.MonitoringStatus, alerts)
	fmt.Printf("  Success rate  %.1f%%\n", status.CurrentPerformance.SuccessRate*100)
	fmt.Printf("  Cycles        %d completed", status.OptimizationCycles.TotalCompleted)
	if status.OptimizationCycles.TotalCompleted > 0 {
		fmt.Printf(" (recent %.0f%%)", status.OptimizationCycles.RecentSuccessRate*100)
	}
	fmt.Println()
	fmt.Printf("  Phase         %s\n", status.OptimizationCycles.Phase)
	fmt.Printf("  Principles    %d in force (avg strength %.2f)\n",
		status.Principles.TotalLearned, status.Principles.AvgEvidenceStrength)
	fmt.Println()
	return nil
}

func strengthColor(strength float64) func(a ...interface{}) string {
	switch {
	case strength >= 0.8:
		return color.New(color.FgGreen).SprintFunc()
	case strength >= 0.6:
		return color.New(color.FgYellow).SprintFunc()
	default:
		return color.New(color.FgRed).SprintFunc()
	}
}

func (c *Console) cmdPrinciples(args []string) error {
	result, err := c.backend.Principles()
	if err != nil {
		return err
	}

	if len(result.Principles) == 0 {
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("\n%s No principles in force yet.\n\n", yellow("ℹ"))
		return nil
	}

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Printf("\n%s\n\n", cyan("Current Principles"))
	for i, p := range result.Principles {
		colored := strengthColor(p.EvidenceStrength)
		fmt.Printf("%2d. [%s] %s: %s\n", i+1,
			colored(fmt.Sprintf("%.2f", p.EvidenceStrength)), p.ID, p.Title)
	}
	fmt.Printf("\nAverage evidence strength: %.2f\n\n", result.AvgEvidenceStrength)
	return nil
}

func (c *Console) cmdInsights(args []string) error {
	result, err := c.backend.Insights()
	if err != nil {
		return err
	}
	report := result.Insights
	if report == nil {
		return fmt.Errorf("insight synthesis failed: %s", result.Message)
	}

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Printf("\n%s\n\n", cyan("System Insights"))

	if len(report.KeyLearnings) == 0 {
		fmt.Println("  No learnings yet; run some optimization cycles first.")
	}
	for i, learning := range report.KeyLearnings {
		fmt.Printf("%2d. %s\n", i+1, learning.Statement)
	}

	if len(report.SuccessPatterns) > 0 {
		fmt.Printf("\n%s\n", cyan("Success Patterns"))
		for _, p := range report.SuccessPatterns {
			fmt.Printf("  %s %s: %d/%d improved (%.0f%%)\n",
				green("✓"), p.Category, p.Improved, p.Applications, p.SuccessRate*100)
		}
	}

	if len(report.AreasForImprovement) > 0 {
		fmt.Printf("\n%s\n", cyan("Areas For Improvement"))
		for _, area := range report.AreasForImprovement {
			fmt.Printf("  %s %s\n", red("!"), area)
		}
	}

	if report.RunsConsidered > 0 {
		fmt.Printf("\nRecent success rate %.0f%% over %d runs, trend %s\n",
			report.RecentSuccessRate*100, report.RunsConsidered, report.Trend)
	}
	fmt.Println()
	return nil
}

func (c *Console) cmdTrigger(args []string) error {
	result, err := c.backend.Trigger()
	if err != nil {
		return err
	}

	switch result.Status {
	case "started":
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("\n%s Optimization cycle %s started\n\n", green("✓"), result.RunID)
	case "busy":
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("\n%s %s\n\n", yellow("ℹ"), result.Message)
	default:
		return fmt.Errorf("%s", result.Message)
	}
	return nil
}

func (c *Console) cmdEvidence(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: evidence <subject> <metric> <value>")
	}
	value, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", args[2], err)
	}

	event := &types.EvidenceEvent{
		Subject:  args[0],
		Metric:   args[1],
		Value:    value,
		Polarity: types.PolarityNeutral,
	}
	if err := c.backend.AddEvidence(event); err != nil {
		return err
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("\n%s Recorded %s %s = %g\n\n", green("✓"), args[0], args[1], value)
	return nil
}

func severityColor(severity types.AlertSeverity) func(a ...interface{}) string {
	switch severity {
	case types.SeverityCritical:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	case types.SeverityHigh:
		return color.New(color.FgRed).SprintFunc()
	case types.SeverityMedium:
		return color.New(color.FgYellow).SprintFunc()
	default:
		return color.New(color.FgHiBlack).SprintFunc()
	}
}

func (c *Console) cmdAlerts(args []string) error {
	result, err := c.backend.Alerts()
	if err != nil {
		return err
	}

	if result.Count == 0 {
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("\n%s No active alerts.\n\n", green("✓"))
		return nil
	}

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Printf("\n%s\n\n", cyan("Active Alerts"))
	for _, alert := range result.Alerts {
		colored := severityColor(alert.Severity)
		fmt.Printf("  [%s] %s: %s\n", colored(string(alert.Severity)), alert.Subject, alert.Message)
	}
	fmt.Println()
	return nil
}
