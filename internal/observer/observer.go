// Package observer ingests live task activity from collaborating
// systems and turns it into evidence events. It also keeps a bounded
// in-memory window of recent tasks for catalog-level analysis that
// per-subject aggregates cannot answer, like tool diversity.
package observer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/caelum-ai/kaizen/internal/evidence"
	"github.com/caelum-ai/kaizen/internal/types"
)

// TaskRecord summarizes one observed task execution
type TaskRecord struct {
	TaskID          string
	TaskType        string
	StartedAt       time.Time
	EndedAt         time.Time
	Success         bool
	ToolCalls       int
	ContextSwitches int
	Tools           map[string]int // tool name -> call count
}

// Config holds observer configuration
type Config struct {
	// WindowSize is the number of recent task records to keep in memory
	// Default: 100
	WindowSize int
}

// DefaultConfig returns default observer configuration
func DefaultConfig() *Config {
	return &Config{
		WindowSize: 100,
	}
}

// Observer tracks in-flight tasks and emits evidence as they progress
type Observer struct {
	mu sync.Mutex

	evidence   *evidence.Store
	logger     *zap.Logger
	window     []*TaskRecord
	windowSize int
	active     map[string]*activeTask
}

type activeTask struct {
	record   *TaskRecord
	lastTool string
}

// New creates an observer
func New(ev *evidence.Store, cfg *Config, logger *zap.Logger) *Observer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Observer{
		evidence:   ev,
		logger:     logger,
		window:     make([]*TaskRecord, 0, cfg.WindowSize),
		windowSize: cfg.WindowSize,
		active:     make(map[string]*activeTask),
	}
}

// StartTask begins tracking a task execution
func (o *Observer) StartTask(taskID, taskType string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.active[taskID] = &activeTask{
		record: &TaskRecord{
			TaskID:    taskID,
			TaskType:  taskType,
			StartedAt: time.Now().UTC(),
			Tools:     make(map[string]int),
		},
	}
}

// RecordToolCall notes one tool call inside a task and emits invocation
// evidence immediately. Switching tools mid-task counts as a context
// switch. Calls for unknown task IDs still produce tool evidence; the
// per-task bookkeeping is just skipped.
func (o *Observer) RecordToolCall(ctx context.Context, taskID, tool string, latency time.Duration, failed bool) error {
	o.mu.Lock()
	if task, ok := o.active[taskID]; ok {
		task.record.ToolCalls++
		task.record.Tools[tool]++
		if task.lastTool != "" && task.lastTool != tool {
			task.record.ContextSwitches++
		}
		task.lastTool = tool
	}
	o.mu.Unlock()

	if err := o.evidence.Record(ctx, evidence.NewToolInvocationEvent(tool, latency.Seconds())); err != nil {
		return err
	}
	if failed {
		if err := o.evidence.Record(ctx, evidence.NewErrorEvent(tool)); err != nil {
			return err
		}
	}
	return nil
}

// EndTask completes a task, emits its summary evidence, and adds the
// record to the sliding window
func (o *Observer) EndTask(ctx context.Context, taskID string, success bool) error {
	o.mu.Lock()
	task, ok := o.active[taskID]
	if !ok {
		o.mu.Unlock()
		return &types.ValidationError{Field: "task_id", Reason: fmt.Sprintf("unknown task %q", taskID)}
	}
	delete(o.active, taskID)

	record := task.record
	record.EndedAt = time.Now().UTC()
	record.Success = success

	o.window = append(o.window, record)
	if len(o.window) > o.windowSize {
		copy(o.window, o.window[len(o.window)-o.windowSize:])
		o.window = o.window[:o.windowSize]
	}
	o.mu.Unlock()

	duration := record.EndedAt.Sub(record.StartedAt)
	events := []*types.EvidenceEvent{
		evidence.NewTaskOutcomeEvent(record.TaskType, success),
		evidence.NewTaskDurationEvent(record.TaskType, duration.Seconds()),
		evidence.NewContextSwitchEvent(record.TaskType, float64(record.ContextSwitches)),
	}
	if minutes := duration.Minutes(); minutes > 0 && record.ToolCalls > 0 {
		events = append(events, evidence.NewToolRateEvent(record.TaskType, float64(record.ToolCalls)/minutes))
	}

	if err := o.evidence.RecordBatch(ctx, events); err != nil {
		return err
	}

	o.logger.Debug("task observed",
		zap.String("task_id", taskID),
		zap.String("task_type", record.TaskType),
		zap.Bool("success", success),
		zap.Int("tool_calls", record.ToolCalls))
	return nil
}

// Recent returns copies of the last n task records, oldest first
func (o *Observer) Recent(n int) []*TaskRecord {
	o.mu.Lock()
	defer o.mu.Unlock()

	if n <= 0 || len(o.window) == 0 {
		return nil
	}
	start := len(o.window) - n
	if start < 0 {
		start = 0
	}

	result := make([]*TaskRecord, 0, len(o.window)-start)
	for _, r := range o.window[start:] {
		copied := *r
		copied.Tools = make(map[string]int, len(r.Tools))
		for k, v := range r.Tools {
			copied.Tools[k] = v
		}
		result = append(result, &copied)
	}
	return result
}

// InFlight reports how many tasks are currently being tracked
func (o *Observer) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// TypeStats aggregates outcomes for one task type
type TypeStats struct {
	Attempts  int     `json:"attempts"`
	Successes int     `json:"successes"`
	Rate      float64 `json:"rate"`
}

// Analysis is a catalog-level view over the recent task window
type Analysis struct {
	Tasks        int                  `json:"tasks"`
	ToolCalls    int                  `json:"tool_calls"`
	UniqueTools  int                  `json:"unique_tools"`
	TopToolShare float64              `json:"top_tool_share"` // share of calls going to the 5 busiest tools
	TaskTypes    map[string]TypeStats `json:"task_types"`
}

// Analyze folds the task window into catalog-level statistics
func (o *Observer) Analyze() *Analysis {
	o.mu.Lock()
	defer o.mu.Unlock()

	analysis := &Analysis{
		Tasks:     len(o.window),
		TaskTypes: make(map[string]TypeStats),
	}

	toolCounts := make(map[string]int)
	for _, record := range o.window {
		stats := analysis.TaskTypes[record.TaskType]
		stats.Attempts++
		if record.Success {
			stats.Successes++
		}
		analysis.TaskTypes[record.TaskType] = stats

		for tool, count := range record.Tools {
			toolCounts[tool] += count
			analysis.ToolCalls += count
		}
	}

	for taskType, stats := range analysis.TaskTypes {
		stats.Rate = float64(stats.Successes) / float64(stats.Attempts)
		analysis.TaskTypes[taskType] = stats
	}

	analysis.UniqueTools = len(toolCounts)
	if analysis.ToolCalls > 0 {
		counts := make([]int, 0, len(toolCounts))
		for _, c := range toolCounts {
			counts = append(counts, c)
		}
		sort.Sort(sort.Reverse(sort.IntSlice(counts)))
		top := 0
		for i, c := range counts {
			if i == 5 {
				break
			}
			top += c
		}
		analysis.TopToolShare = float64(top) / float64(analysis.ToolCalls)
	}

	return analysis
}
