package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/caelum-ai/kaizen/internal/types"
)

// Applier pushes one suggested configuration change into the
// collaborating system. Implementations must respect ctx cancellation
// and deadlines; the implementing phase bounds every call.
type Applier interface {
	Apply(ctx context.Context, s *types.Suggestion) error
}

// LogApplier records what would change without touching anything. It is
// the default applier: the optimizer is useful as a recommender long
// before anyone trusts it to reconfigure systems.
type LogApplier struct {
	logger *zap.Logger
}

// NewLogApplier creates the no-op applier
func NewLogApplier(logger *zap.Logger) *LogApplier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogApplier{logger: logger}
}

// Apply logs the suggested change
func (a *LogApplier) Apply(ctx context.Context, s *types.Suggestion) error {
	a.logger.Info("suggestion accepted (log-only applier)",
		zap.String("suggestion_id", s.ID),
		zap.String("target", s.Target),
		zap.String("category", s.Category),
		zap.String("change", s.ChangeDescription))
	return nil
}

// ScriptedApplier shells out to a configured command per suggestion
// category. The suggestion is delivered as JSON on stdin plus KAIZEN_*
// environment variables, so scripts can stay one-liners.
type ScriptedApplier struct {
	commands map[string]string // category -> argv string
	logger   *zap.Logger
}

// NewScriptedApplier creates an applier routing categories to commands
func NewScriptedApplier(commands map[string]string, logger *zap.Logger) *ScriptedApplier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScriptedApplier{commands: commands, logger: logger}
}

// Apply runs the category's command. A missing mapping, a non-zero
// exit, or a deadline all surface as ExternalCallError so the
// implementing phase can count the failure without aborting the batch.
func (a *ScriptedApplier) Apply(ctx context.Context, s *types.Suggestion) error {
	command, ok := a.commands[s.Category]
	if !ok {
		command, ok = a.commands["default"]
	}
	if !ok || strings.TrimSpace(command) == "" {
		return &types.ExternalCallError{
			Target: s.Target,
			Err:    fmt.Errorf("no apply command configured for category %q", s.Category),
		}
	}

	payload, err := json.Marshal(s)
	if err != nil {
		return &types.ExternalCallError{Target: s.Target, Err: fmt.Errorf("failed to marshal suggestion: %w", err)}
	}

	parts := strings.Fields(command)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Stdin = strings.NewReader(string(payload))
	cmd.Env = append(os.Environ(),
		"KAIZEN_TARGET="+s.Target,
		"KAIZEN_CATEGORY="+s.Category,
		"KAIZEN_CHANGE="+s.ChangeDescription,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return &types.ExternalCallError{
			Target: s.Target,
			Err:    fmt.Errorf("apply command failed: %w (output: %s)", err, strings.TrimSpace(string(output))),
		}
	}

	a.logger.Info("suggestion applied",
		zap.String("suggestion_id", s.ID),
		zap.String("target", s.Target),
		zap.String("command", parts[0]))
	return nil
}

// RateLimitedApplier wraps an applier with a token-bucket limit so a
// burst of suggestions cannot hammer the collaborating system.
type RateLimitedApplier struct {
	inner   Applier
	limiter *rate.Limiter
}

// NewRateLimitedApplier bounds the wrapped applier to perMinute calls,
// allowing short bursts up to burst.
func NewRateLimitedApplier(inner Applier, perMinute float64, burst int) *RateLimitedApplier {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedApplier{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perMinute/60.0), burst),
	}
}

// Apply waits for a rate token, then delegates. A ctx expiry while
// waiting becomes an ExternalCallError like any other apply failure.
func (a *RateLimitedApplier) Apply(ctx context.Context, s *types.Suggestion) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return &types.ExternalCallError{Target: s.Target, Err: fmt.Errorf("rate limit wait: %w", err)}
	}
	return a.inner.Apply(ctx, s)
}
