// SPDX-License-Identifier: Apache-2.0

// Package loop owns one session: its iteration cycle, termination, and the
// composition of guards, resilience, and event log around the decision
// source.
package loop

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"helmsman/pkg/core"
	"helmsman/pkg/decision"
	"helmsman/pkg/errors"
	"helmsman/pkg/eventlog"
	"helmsman/pkg/guard"
	"helmsman/pkg/memory"
	"helmsman/pkg/resilience"
	"helmsman/pkg/telemetry"
)

// SessionState is the controller's lifecycle state.
type SessionState string

const (
	StateRunning              SessionState = "RUNNING"
	StateDone                 SessionState = "DONE"
	StateBudgetExceeded       SessionState = "BUDGET_EXCEEDED"
	StateMaxIterations        SessionState = "MAX_ITERATIONS"
	StateAwaitingConfirmation SessionState = "AWAITING_CONFIRMATION"
)

// Executor runs one approved action. Failures come back as data in
// ExecResult so the session can feed them into context instead of dying;
// the error return is for transport-level trouble only.
type Executor interface {
	Execute(ctx context.Context, action core.Action) (core.ExecResult, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, action core.Action) (core.ExecResult, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, action core.Action) (core.ExecResult, error) {
	return f(ctx, action)
}

// Config tunes a controller.
type Config struct {
	// MaxIterations is the hard iteration ceiling. Mandatory: unbounded
	// loops are the primary operational failure mode defended against.
	MaxIterations int

	// DecideRetry and ExecRetry wrap the decision source and the executor.
	DecideRetry resilience.RetryConfig
	ExecRetry   resilience.RetryConfig

	// ExecTimeout bounds a single action execution. The budget time check
	// is cooperative and cannot interrupt a hung call; this can.
	ExecTimeout time.Duration

	// TerminateOnDependencyDown decides whether a circuit-open or
	// retry-exhausted decision-source failure ends the session. When
	// false, Fallback supplies a degraded final result.
	TerminateOnDependencyDown bool

	// Fallback produces the degraded result when the session continues
	// past a down dependency.
	Fallback resilience.FallbackStrategy

	// Prune is applied to the context window after each iteration.
	Prune memory.PruneConfig
}

// DefaultConfig returns a workable controller configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations:             50,
		DecideRetry:               resilience.DefaultRetryConfig(),
		ExecRetry:                 resilience.DefaultRetryConfig(),
		ExecTimeout:               2 * time.Minute,
		TerminateOnDependencyDown: true,
		Prune:                     memory.PruneConfig{KeepLast: 20},
	}
}

// Result is what a finished or suspended session reports.
type Result struct {
	State      SessionState
	Output     string
	Iterations int

	// Pending is the approved-but-unconfirmed action when the session is
	// suspended awaiting confirmation.
	Pending *core.Action
}

// Controller drives one session. It is single-threaded cooperative with
// respect to its own state: one in-flight decision, at most one in-flight
// execution, and never two guard evaluations against the same budget.
type Controller struct {
	id       string
	budget   *core.Budget
	store    *eventlog.Store
	pipeline *guard.Pipeline
	source   decision.Source
	executor Executor
	catalog  []core.ActionSpec
	cfg      Config

	decideBreaker *resilience.CircuitBreaker
	execBreaker   *resilience.CircuitBreaker

	messages   []memory.Message
	state      SessionState
	pending    *core.Action
	iterations int

	tracer  trace.Tracer
	log     *slog.Logger
	metrics *telemetry.SessionMetrics
}

// Option configures a Controller.
type Option func(*Controller)

// WithExecutor sets the action executor.
func WithExecutor(executor Executor) Option {
	return func(c *Controller) { c.executor = executor }
}

// WithCatalog sets the action catalog advertised to the decision source.
func WithCatalog(catalog []core.ActionSpec) Option {
	return func(c *Controller) { c.catalog = append([]core.ActionSpec(nil), catalog...) }
}

// WithConfig sets the controller configuration.
func WithConfig(cfg Config) Option {
	return func(c *Controller) { c.cfg = cfg }
}

// WithBudget sets the session budget ledger.
func WithBudget(budget *core.Budget) Option {
	return func(c *Controller) { c.budget = budget }
}

// WithEventStore sets the session event store.
func WithEventStore(store *eventlog.Store) Option {
	return func(c *Controller) { c.store = store }
}

// WithGuards sets the admission pipeline.
func WithGuards(pipeline *guard.Pipeline) Option {
	return func(c *Controller) { c.pipeline = pipeline }
}

// WithDecideBreaker sets the circuit breaker bound to the decision source.
func WithDecideBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Controller) { c.decideBreaker = cb }
}

// WithExecBreaker sets the circuit breaker bound to action execution.
func WithExecBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Controller) { c.execBreaker = cb }
}

// WithMetrics attaches session metrics. A nil tracker is a no-op.
func WithMetrics(metrics *telemetry.SessionMetrics) Option {
	return func(c *Controller) { c.metrics = metrics }
}

// WithGoal seeds the context window with the session goal.
func WithGoal(goal string) Option {
	return func(c *Controller) {
		c.messages = append(c.messages, memory.NewMessage("goal", goal, false))
	}
}

// New creates a controller for one session.
func New(id string, source decision.Source, opts ...Option) (*Controller, error) {
	if id == "" {
		return nil, fmt.Errorf("controller id is required")
	}
	if source == nil {
		return nil, fmt.Errorf("decision source is required")
	}
	c := &Controller{
		id:     id,
		source: source,
		cfg:    DefaultConfig(),
		state:  StateRunning,
		tracer: otel.Tracer("helmsman/loop"),
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if c.cfg.MaxIterations < 1 {
		return nil, fmt.Errorf("max iterations must be at least 1")
	}
	if c.budget == nil {
		c.budget = core.NewBudget(0, 0, 0)
	}
	if c.store == nil {
		c.store = eventlog.NewStore()
	}
	if c.pipeline == nil {
		c.pipeline = guard.NewPipeline(
			guard.Structural(),
			guard.Safety(),
			guard.BudgetGuard(c.budget),
		)
	}
	return c, nil
}

// State returns the current session state.
func (c *Controller) State() SessionState { return c.state }

// Iterations returns the number of completed ticks.
func (c *Controller) Iterations() int { return c.iterations }

// Events returns the session event store.
func (c *Controller) Events() *eventlog.Store { return c.store }

// Budget returns the session budget ledger.
func (c *Controller) Budget() *core.Budget { return c.budget }

// DerivedState folds the session's event log into its current state.
func (c *Controller) DerivedState() eventlog.DerivedState {
	return eventlog.DeriveState(c.store.All())
}

// Messages returns a copy of the current context window.
func (c *Controller) Messages() []memory.Message {
	return append([]memory.Message(nil), c.messages...)
}

// Run drives the session until it reaches a terminal state or suspends
// awaiting confirmation.
func (c *Controller) Run(ctx context.Context) (Result, error) {
	if c.state != StateRunning {
		return c.result(), fmt.Errorf("session is %s, not runnable", c.state)
	}
	ctx = core.WithSessionID(ctx, c.id)
	return c.run(ctx)
}

func (c *Controller) run(ctx context.Context) (Result, error) {
	for {
		// Cooperative time check at the top of every tick.
		if c.budget.MaxDuration > 0 && c.budget.Elapsed() >= c.budget.MaxDuration {
			c.transition(StateBudgetExceeded)
			return c.result(), nil
		}
		if c.iterations >= c.cfg.MaxIterations {
			c.transition(StateMaxIterations)
			return c.result(), nil
		}
		c.iterations++

		tickCtx, span := c.tracer.Start(ctx, "Loop.Tick", trace.WithAttributes(
			attribute.String("session.id", c.id),
			attribute.Int("iteration", c.iterations),
		))
		c.metrics.RecordIteration(tickCtx, c.id)
		res, done, err := c.tick(tickCtx)
		span.End()
		if err != nil || done {
			return res, err
		}
	}
}

// tick performs one decide/guard/execute/observe cycle. done reports that
// the loop should stop, either terminally or suspended.
func (c *Controller) tick(ctx context.Context) (Result, bool, error) {
	d, err := c.decide(ctx)
	if err != nil {
		return c.dependencyDown(ctx, err)
	}

	if d.Done {
		c.budget.Charge(d.TokensUsed, 1)
		c.transition(StateDone)
		c.log.Info("session.complete",
			slog.String("session_id", c.id),
			slog.Int("iterations", c.iterations),
		)
		res := c.result()
		res.Output = d.Result
		return res, true, nil
	}

	var action core.Action
	if d.Action != nil {
		action = *d.Action
	}

	verdict := c.pipeline.Evaluate(ctx, action)

	if !verdict.Allowed {
		c.metrics.RecordRejection(ctx, verdict.Guard)
		if verdict.Override {
			// Budget exhaustion: terminal, unlike ordinary rejections.
			c.appendEvent(eventlog.GuardRejected(c.id, action, verdict.Reason))
			c.transition(StateBudgetExceeded)
			return c.result(), true, nil
		}
		c.appendEvent(eventlog.GuardRejected(c.id, action, verdict.Reason))
		c.feedback("feedback", fmt.Sprintf("action %q rejected: %s", action.Type, verdict.Reason))
		c.budget.Charge(d.TokensUsed, 0)
		c.prune()
		return Result{}, false, nil
	}

	if verdict.RequiresConfirmation {
		c.pending = &action
		c.state = StateAwaitingConfirmation
		c.appendEvent(eventlog.StateChanged(c.id, string(StateRunning), string(StateAwaitingConfirmation)))
		c.log.Info("session.suspend",
			slog.String("session_id", c.id),
			slog.String("action", action.Type),
			slog.String("reason", verdict.Reason),
		)
		return c.result(), true, nil
	}

	c.execute(ctx, action)
	c.budget.Charge(d.TokensUsed, 1)
	c.prune()
	return Result{}, false, nil
}

// Resume re-enters a suspended session with the external confirmation
// decision. A granted confirmation re-evaluates the guards before
// executing; a denied one is fed back to the decision source like any
// other rejection.
func (c *Controller) Resume(ctx context.Context, granted bool) (Result, error) {
	if c.state != StateAwaitingConfirmation || c.pending == nil {
		return c.result(), fmt.Errorf("session is %s, not awaiting confirmation", c.state)
	}
	ctx = core.WithSessionID(ctx, c.id)

	action := *c.pending
	c.pending = nil
	c.state = StateRunning
	c.appendEvent(eventlog.StateChanged(c.id, string(StateAwaitingConfirmation), string(StateRunning)))

	if !granted {
		c.appendEvent(eventlog.GuardRejected(c.id, action, "confirmation denied by operator"))
		c.feedback("feedback", fmt.Sprintf("action %q was not confirmed by the operator", action.Type))
		c.prune()
		return c.run(ctx)
	}

	// Guards may have changed verdict while suspended; only the
	// confirmation flag itself is considered satisfied.
	verdict := c.pipeline.Evaluate(ctx, action)
	if !verdict.Allowed {
		if verdict.Override {
			c.appendEvent(eventlog.GuardRejected(c.id, action, verdict.Reason))
			c.transition(StateBudgetExceeded)
			return c.result(), nil
		}
		c.appendEvent(eventlog.GuardRejected(c.id, action, verdict.Reason))
		c.feedback("feedback", fmt.Sprintf("action %q rejected: %s", action.Type, verdict.Reason))
		c.prune()
		return c.run(ctx)
	}

	c.execute(ctx, action)
	c.budget.Charge(0, 1)
	c.prune()
	return c.run(ctx)
}

// decide asks the decision source for the next action, wrapped by the
// resilience stack bound to that source.
func (c *Controller) decide(ctx context.Context) (decision.Decision, error) {
	var d decision.Decision
	err := resilience.Protect(ctx, c.decideBreaker, c.cfg.DecideRetry, func() error {
		var decideErr error
		d, decideErr = c.source.Decide(ctx, c.messages, c.catalog)
		return decideErr
	})
	if c.decideBreaker != nil {
		c.metrics.RecordBreakerState(ctx, "decision", breakerStateValue(c.decideBreaker.State()))
	}
	return d, err
}

// execute runs one approved action and feeds the observation back.
func (c *Controller) execute(ctx context.Context, action core.Action) {
	c.appendEvent(eventlog.ActionInvoked(c.id, action))

	var res core.ExecResult
	err := resilience.Protect(ctx, c.execBreaker, c.cfg.ExecRetry, func() error {
		return resilience.WithTimeout(ctx, c.cfg.ExecTimeout, func() error {
			var execErr error
			res, execErr = c.executor.Execute(ctx, action)
			return execErr
		})
	})
	if err != nil {
		c.appendEvent(eventlog.ErrorOccurred(c.id, err))
		c.metrics.RecordError(ctx, err, "executor")
		res = core.ExecResult{Output: fmt.Sprintf("execution failed: %v", err), Failed: true}
	}
	if c.execBreaker != nil {
		c.metrics.RecordBreakerState(ctx, "executor", breakerStateValue(c.execBreaker.State()))
	}

	c.appendEvent(eventlog.ActionResult(c.id, action, res.Output, res.Failed))
	c.feedback("observation", res.Output)
	c.log.Debug("session.action",
		slog.String("session_id", c.id),
		slog.String("action", action.Type),
		slog.Bool("failed", res.Failed),
	)
}

// dependencyDown handles a circuit-open or retry-exhausted decision-source
// failure according to policy.
func (c *Controller) dependencyDown(ctx context.Context, err error) (Result, bool, error) {
	c.appendEvent(eventlog.ErrorOccurred(c.id, err))
	c.metrics.RecordError(ctx, err, "decision")
	c.log.Error("session.decision_source_down",
		slog.String("session_id", c.id),
		slog.String("error", err.Error()),
	)

	if !c.cfg.TerminateOnDependencyDown && c.cfg.Fallback != nil {
		value, fbErr := c.cfg.Fallback.Execute(ctx, err)
		if fbErr == nil {
			c.transition(StateDone)
			res := c.result()
			res.Output = fmt.Sprintf("%v", value)
			return res, true, nil
		}
		err = fbErr
	}

	c.transition(StateDone)
	return c.result(), true, errors.AsHelmsmanError(err)
}

func (c *Controller) feedback(role, content string) {
	c.messages = append(c.messages, memory.NewMessage(role, content, true))
}

func (c *Controller) prune() {
	c.messages = memory.PruneEphemeral(c.messages, c.cfg.Prune, time.Now().UTC())
}

func (c *Controller) transition(to SessionState) {
	from := c.state
	c.state = to
	c.appendEvent(eventlog.StateChanged(c.id, string(from), string(to)))
	switch to {
	case StateDone, StateBudgetExceeded, StateMaxIterations:
		c.metrics.RecordSessionDuration(context.Background(), string(to), c.budget.Elapsed().Seconds())
	}
}

func breakerStateValue(state resilience.CircuitBreakerState) int64 {
	switch state {
	case resilience.StateClosed:
		return 2
	case resilience.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

func (c *Controller) appendEvent(event eventlog.Event) {
	if _, err := c.store.Append(event); err != nil {
		c.log.Error("session.event_append_failed",
			slog.String("session_id", c.id),
			slog.String("event_type", string(event.Type)),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Controller) result() Result {
	return Result{
		State:      c.state,
		Iterations: c.iterations,
		Pending:    c.pending,
	}
}
