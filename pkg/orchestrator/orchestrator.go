// SPDX-License-Identifier: Apache-2.0

// Package orchestrator decomposes a root task into subtasks, runs one loop
// controller per subtask under a strict one-level bound, and aggregates the
// results even when some workers fail.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"helmsman/pkg/core"
	"helmsman/pkg/loop"
)

// CapabilityDelegate names the delegation capability. Worker catalogs must
// never contain it: omission, not a runtime depth counter, is what makes
// further delegation structurally impossible.
const CapabilityDelegate = "orchestrator.delegate"

// StripDelegation returns the catalog without the delegation capability.
// Every worker catalog passes through here.
func StripDelegation(catalog []core.ActionSpec) []core.ActionSpec {
	out := make([]core.ActionSpec, 0, len(catalog))
	for _, spec := range catalog {
		if spec.Name == CapabilityDelegate {
			continue
		}
		out = append(out, spec)
	}
	return out
}

// CoordinatorResult aggregates the terminal results of all workers.
type CoordinatorResult struct {
	TaskID         string
	Success        bool
	Summary        string
	SubtaskResults []core.WorkerResult
	TotalDuration  time.Duration
}

// AnalyzeFunc decomposes a task into an ordered sequence of subtasks.
type AnalyzeFunc func(ctx context.Context, task *core.Task) ([]core.Subtask, error)

// WorkerFactory builds the loop controller for one subtask. Each worker
// owns an independent budget, event store, and circuit breaker state; the
// factory must not share any of those between siblings.
type WorkerFactory func(subtask core.Subtask) (*loop.Controller, error)

// Config tunes orchestration.
type Config struct {
	// PhaseOrder lists subtask types in execution order. Phases run
	// sequentially; subtasks within one phase run concurrently. Types not
	// listed run after the listed ones, grouped in first-seen order.
	PhaseOrder []string

	// AbortOnPhaseFailure cancels later phases once a phase records a
	// failure. The default policy proceeds and marks the overall result
	// unsuccessful.
	AbortOnPhaseFailure bool
}

// Orchestrator coordinates workers for one task at a time.
type Orchestrator struct {
	cfg     Config
	analyze AnalyzeFunc
	factory WorkerFactory
	tracer  trace.Tracer
	log     *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig sets the orchestration config.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// WithAnalyzer sets the task decomposition function.
func WithAnalyzer(analyze AnalyzeFunc) Option {
	return func(o *Orchestrator) { o.analyze = analyze }
}

// New creates an orchestrator around a worker factory.
func New(factory WorkerFactory, opts ...Option) (*Orchestrator, error) {
	if factory == nil {
		return nil, fmt.Errorf("worker factory is required")
	}
	o := &Orchestrator{
		factory: factory,
		cfg: Config{
			PhaseOrder: []string{"analysis", "implementation", "review"},
		},
		tracer: otel.Tracer("helmsman/orchestrator"),
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.analyze == nil {
		o.analyze = singleSubtask
	}
	return o, nil
}

// singleSubtask is the default decomposition: the whole task as one
// implementation subtask.
func singleSubtask(_ context.Context, task *core.Task) ([]core.Subtask, error) {
	return []core.Subtask{core.NewSubtask(task.ID, "implementation", task.Description)}, nil
}

// Analyze decomposes the task into ordered subtasks.
func (o *Orchestrator) Analyze(ctx context.Context, task *core.Task) ([]core.Subtask, error) {
	return o.analyze(ctx, task)
}

// Delegate runs the subtasks in dependency-ordered phases. Phases execute
// sequentially; subtasks within one phase execute concurrently, each on an
// independent worker. A failing subtask never aborts siblings already
// dispatched in its phase.
func (o *Orchestrator) Delegate(ctx context.Context, subtasks []core.Subtask) []core.WorkerResult {
	phases := o.groupPhases(subtasks)

	var results []core.WorkerResult
	aborted := false
	for i, phase := range phases {
		if aborted {
			// Cancelled workers still report a terminal result so
			// aggregation stays complete.
			for _, st := range phase {
				results = append(results, core.WorkerResult{
					SubtaskID: st.ID,
					Success:   false,
					Output:    "cancelled: earlier phase failed",
				})
			}
			continue
		}

		phaseCtx, span := o.tracer.Start(ctx, "Orchestrator.Phase", trace.WithAttributes(
			attribute.Int("phase.index", i),
			attribute.Int("phase.subtasks", len(phase)),
		))
		phaseResults := o.runPhase(phaseCtx, phase)
		span.End()

		failed := false
		for _, r := range phaseResults {
			if !r.Success {
				failed = true
			}
		}
		results = append(results, phaseResults...)

		if failed && o.cfg.AbortOnPhaseFailure {
			aborted = true
		}
	}
	return results
}

// runPhase dispatches all subtasks of one phase concurrently.
func (o *Orchestrator) runPhase(ctx context.Context, phase []core.Subtask) []core.WorkerResult {
	results := make([]core.WorkerResult, len(phase))
	var wg sync.WaitGroup
	for i, st := range phase {
		wg.Add(1)
		go func(i int, st core.Subtask) {
			defer wg.Done()
			results[i] = o.runWorker(ctx, st)
		}(i, st)
	}
	wg.Wait()
	return results
}

// runWorker executes one subtask on a fresh controller.
func (o *Orchestrator) runWorker(ctx context.Context, st core.Subtask) core.WorkerResult {
	if err := ctx.Err(); err != nil {
		return core.WorkerResult{SubtaskID: st.ID, Success: false, Output: "cancelled: " + err.Error()}
	}

	worker, err := o.factory(st)
	if err != nil {
		return core.WorkerResult{SubtaskID: st.ID, Success: false, Output: "worker setup failed: " + err.Error()}
	}

	start := time.Now()
	res, runErr := worker.Run(ctx)
	metrics := core.WorkerMetrics{
		Iterations: res.Iterations,
		APICalls:   worker.Budget().UsedAPICalls,
		Tokens:     worker.Budget().UsedTokens,
		Duration:   time.Since(start),
	}

	output := res.Output
	success := runErr == nil && res.State == loop.StateDone
	if runErr != nil {
		output = runErr.Error()
	} else if !success && output == "" {
		output = fmt.Sprintf("worker ended in state %s", res.State)
	}

	o.log.Info("orchestrator.worker_done",
		slog.String("subtask_id", st.ID),
		slog.String("type", st.Type),
		slog.Bool("success", success),
		slog.String("state", string(res.State)),
	)

	return core.WorkerResult{
		SubtaskID: st.ID,
		Success:   success,
		Output:    output,
		Metrics:   metrics,
	}
}

// groupPhases buckets subtasks into phases by declared type ordering,
// preserving subtask order within each phase.
func (o *Orchestrator) groupPhases(subtasks []core.Subtask) [][]core.Subtask {
	rank := make(map[string]int, len(o.cfg.PhaseOrder))
	for i, t := range o.cfg.PhaseOrder {
		rank[t] = i
	}

	buckets := make(map[string][]core.Subtask)
	var unknownOrder []string
	for _, st := range subtasks {
		if _, known := rank[st.Type]; !known {
			if _, seen := buckets[st.Type]; !seen {
				unknownOrder = append(unknownOrder, st.Type)
			}
		}
		buckets[st.Type] = append(buckets[st.Type], st)
	}

	var phases [][]core.Subtask
	for _, t := range o.cfg.PhaseOrder {
		if len(buckets[t]) > 0 {
			phases = append(phases, buckets[t])
		}
	}
	for _, t := range unknownOrder {
		phases = append(phases, buckets[t])
	}
	return phases
}

// Aggregate folds the worker results into one coordinator result.
func (o *Orchestrator) Aggregate(task *core.Task, results []core.WorkerResult, elapsed time.Duration) CoordinatorResult {
	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	return CoordinatorResult{
		TaskID:         task.ID,
		Success:        succeeded == len(results),
		Summary:        fmt.Sprintf("%d/%d subtasks succeeded", succeeded, len(results)),
		SubtaskResults: results,
		TotalDuration:  elapsed,
	}
}

// Execute runs the full analyze/delegate/aggregate cycle for one task.
func (o *Orchestrator) Execute(ctx context.Context, task *core.Task) (CoordinatorResult, error) {
	ctx, span := o.tracer.Start(ctx, "Orchestrator.Execute", trace.WithAttributes(
		attribute.String("task.id", task.ID),
	))
	defer span.End()

	start := time.Now()
	subtasks, err := o.Analyze(ctx, task)
	if err != nil {
		return CoordinatorResult{}, fmt.Errorf("analyze task %s: %w", task.ID, err)
	}
	if len(subtasks) == 0 {
		return CoordinatorResult{}, fmt.Errorf("task %s produced no subtasks", task.ID)
	}

	results := o.Delegate(ctx, subtasks)
	return o.Aggregate(task, results, time.Since(start)), nil
}
