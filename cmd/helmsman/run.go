// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"helmsman/pkg/config"
	"helmsman/pkg/core"
	"helmsman/pkg/decision"
	"helmsman/pkg/eventlog"
	"helmsman/pkg/guard"
	"helmsman/pkg/loop"
	"helmsman/pkg/resilience"
	"helmsman/pkg/telemetry"
)

// taskFile is the YAML document describing one session to run.
type taskFile struct {
	Goal    string `yaml:"goal"`
	Catalog []struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
	} `yaml:"catalog"`
	// Script drives the session with pre-recorded decisions, useful for
	// dry runs and demos without a live decision source.
	Script []struct {
		Done   bool   `yaml:"done"`
		Result string `yaml:"result"`
		Action *struct {
			Type       string         `yaml:"type"`
			Target     string         `yaml:"target"`
			Parameters map[string]any `yaml:"parameters"`
		} `yaml:"action"`
	} `yaml:"script"`
}

func runRun(ctx context.Context, args []string) {
	cmd := flag.NewFlagSet("run", flag.ExitOnError)
	taskPath := cmd.String("task", "", "Path to task YAML file")
	configPath := cmd.String("config", "", "Path to config YAML file")
	noTelemetry := cmd.Bool("no-telemetry", false, "Disable telemetry output")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	if *taskPath == "" {
		fatal(fmt.Errorf("-task is required"))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(fmt.Errorf("load config: %w", err))
	}

	telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if !*noTelemetry {
		shutdown, err := telemetry.Init("helmsman", version)
		if err != nil {
			fatal(fmt.Errorf("init telemetry: %w", err))
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	task, source, catalog, err := loadTask(*taskPath)
	if err != nil {
		fatal(err)
	}

	controller, cleanup, err := buildController(cfg, task, source, catalog)
	if err != nil {
		fatal(err)
	}
	defer cleanup()

	result, err := controller.Run(ctx)
	for result.State == loop.StateAwaitingConfirmation {
		granted, promptErr := promptConfirmation(result.Pending)
		if promptErr != nil {
			fatal(promptErr)
		}
		result, err = controller.Resume(ctx, granted)
	}
	if err != nil {
		fatal(err)
	}

	state := controller.DerivedState()
	fmt.Printf("state: %s\niterations: %d\ninvocations: %d (%d ok, %d failed, %d rejected)\n",
		result.State, result.Iterations, state.Invocations, state.Successes, state.Failures, state.Rejections)
	if result.Output != "" {
		fmt.Println("result:", result.Output)
	}
}

func loadTask(path string) (*core.Task, decision.Source, []core.ActionSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read task file: %w", err)
	}
	var tf taskFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, nil, nil, fmt.Errorf("parse task file: %w", err)
	}
	if tf.Goal == "" {
		return nil, nil, nil, fmt.Errorf("task file must set a goal")
	}
	if len(tf.Script) == 0 {
		return nil, nil, nil, fmt.Errorf("task file must provide a script (no live decision source configured)")
	}

	catalog := make([]core.ActionSpec, 0, len(tf.Catalog))
	for _, entry := range tf.Catalog {
		catalog = append(catalog, core.ActionSpec{Name: entry.Name, Description: entry.Description})
	}

	var decisions []decision.Decision
	for _, step := range tf.Script {
		d := decision.Decision{Done: step.Done, Result: step.Result}
		if step.Action != nil {
			d.Action = &core.Action{
				Type:       step.Action.Type,
				Target:     step.Action.Target,
				Parameters: step.Action.Parameters,
			}
		}
		decisions = append(decisions, d)
	}

	return core.NewTask(tf.Goal), decision.NewScriptedSource(decisions...), catalog, nil
}

func buildController(cfg *config.Config, task *core.Task, source decision.Source, catalog []core.ActionSpec) (*loop.Controller, func(), error) {
	budget := core.NewBudget(cfg.Session.MaxTokens, cfg.Session.MaxAPICalls, cfg.Session.MaxDuration)

	storeOpts := []eventlog.StoreOption{}
	cleanup := func() {}
	if cfg.Journal.Path != "" {
		journal, err := eventlog.OpenJournal(cfg.Journal.Path)
		if err != nil {
			return nil, nil, err
		}
		storeOpts = append(storeOpts, eventlog.WithSink(journal))
		cleanup = func() { _ = journal.Close() }
	}
	if cfg.Journal.SQLitePath != "" {
		mirror, err := eventlog.OpenSQLiteMirror(cfg.Journal.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		storeOpts = append(storeOpts, eventlog.WithSink(mirror))
		prev := cleanup
		cleanup = func() { prev(); _ = mirror.Close() }
	}
	store := eventlog.NewStore(storeOpts...)

	rules := make([]guard.Rule, 0, len(cfg.Policy.Rules))
	for _, r := range cfg.Policy.Rules {
		rules = append(rules, guard.Rule{
			ID:         r.ID,
			Effect:     r.Effect,
			Type:       r.Type,
			Target:     r.Target,
			ArgPattern: r.ArgPattern,
			Reason:     r.Reason,
		})
	}
	pipeline := guard.NewPipeline(
		guard.Structural(),
		guard.Safety(),
		guard.BudgetGuard(budget),
		guard.Policy(guard.NewRuleSet(rules)),
	)

	retry := resilience.RetryConfig{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		Jitter:      cfg.Retry.Jitter,
		IsRetryable: resilience.Retryable,
	}
	breakerCfg := resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		OpenDuration:     cfg.Breaker.OpenDuration,
	}
	decideBreaker := resilience.NewCircuitBreaker(breakerCfg)
	execBreaker := resilience.NewCircuitBreaker(breakerCfg)

	metrics, err := telemetry.NewSessionMetrics()
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	loopCfg := loop.DefaultConfig()
	loopCfg.MaxIterations = cfg.Session.MaxIterations
	loopCfg.DecideRetry = retry
	loopCfg.ExecRetry = retry
	loopCfg.ExecTimeout = cfg.Session.ExecTimeout
	loopCfg.TerminateOnDependencyDown = cfg.Session.TerminateOnDependencyDown
	loopCfg.Prune.KeepLast = cfg.Session.KeepLast
	loopCfg.Prune.MaxAge = cfg.Session.MaxMessageAge

	controller, err := loop.New(task.ID, source,
		loop.WithGoal(task.Description),
		loop.WithExecutor(loop.ExecutorFunc(echoExecutor)),
		loop.WithCatalog(catalog),
		loop.WithBudget(budget),
		loop.WithEventStore(store),
		loop.WithGuards(pipeline),
		loop.WithDecideBreaker(decideBreaker),
		loop.WithExecBreaker(execBreaker),
		loop.WithMetrics(metrics),
		loop.WithConfig(loopCfg),
	)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return controller, cleanup, nil
}

// echoExecutor stands in for real capability backends, which live outside
// the runtime. It reports what would have been executed.
func echoExecutor(_ context.Context, action core.Action) (core.ExecResult, error) {
	out := fmt.Sprintf("executed %s", action.Type)
	if action.Target != "" {
		out += " on " + action.Target
	}
	return core.ExecResult{Output: out}, nil
}

func promptConfirmation(pending *core.Action) (bool, error) {
	if pending == nil {
		return false, fmt.Errorf("session suspended without a pending action")
	}
	fmt.Printf("\nConfirmation required for %s", pending.Type)
	if pending.Target != "" {
		fmt.Printf(" on %s", pending.Target)
	}
	fmt.Print("\nApprove? [y/N]: ")
	var answer string
	if _, err := fmt.Scanln(&answer); err != nil {
		return false, nil
	}
	return answer == "y" || answer == "Y" || answer == "yes", nil
}
