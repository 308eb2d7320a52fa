// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"helmsman/pkg/core"
	"helmsman/pkg/decision"
	"helmsman/pkg/loop"
	"helmsman/pkg/memory"
	"helmsman/pkg/resilience"
)

func workerConfig() loop.Config {
	retry := resilience.RetryConfig{
		MaxAttempts: 1,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		IsRetryable: resilience.Retryable,
	}
	return loop.Config{
		MaxIterations: 10,
		DecideRetry:   retry,
		ExecRetry:     retry,
		ExecTimeout:   time.Second,
		Prune:         memory.PruneConfig{KeepLast: 20},
	}
}

// scriptedFactory builds a worker whose outcome depends on its subtask
// description: "fail" workers end without completing.
func scriptedFactory(st core.Subtask) (*loop.Controller, error) {
	var source *decision.ScriptedSource
	if strings.Contains(st.Description, "fail") {
		cfg := workerConfig()
		cfg.MaxIterations = 1
		source = decision.NewScriptedSource(
			decision.Decision{Action: &core.Action{Type: "noop"}},
		)
		source.Repeat = true
		return loop.New(st.ID, source,
			loop.WithExecutor(echoExec()),
			loop.WithConfig(cfg),
		)
	}
	source = decision.NewScriptedSource(
		decision.Decision{Done: true, Result: "completed " + st.Description, TokensUsed: 7},
	)
	return loop.New(st.ID, source,
		loop.WithExecutor(echoExec()),
		loop.WithConfig(workerConfig()),
	)
}

func echoExec() loop.Executor {
	return loop.ExecutorFunc(func(_ context.Context, action core.Action) (core.ExecResult, error) {
		return core.ExecResult{Output: "ran " + action.Type}, nil
	})
}

func TestExecuteAggregatesAcrossPhases(t *testing.T) {
	task := core.NewTask("ship the feature")
	subtasks := []core.Subtask{
		core.NewSubtask(task.ID, "analysis", "scope the work"),
		core.NewSubtask(task.ID, "analysis", "this one will fail"),
		core.NewSubtask(task.ID, "implementation", "build it"),
	}

	o, err := New(scriptedFactory, WithAnalyzer(func(_ context.Context, _ *core.Task) ([]core.Subtask, error) {
		return subtasks, nil
	}))
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	result, err := o.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	// Default policy proceeds past the failure in phase 1, so the phase 2
	// worker still runs and every subtask has a result. The failing
	// analysis subtask also never aborts its phase sibling.
	if result.Success {
		t.Errorf("expected overall failure with one failed subtask")
	}
	if len(result.SubtaskResults) != 3 {
		t.Fatalf("expected 3 results, got %d", len(result.SubtaskResults))
	}

	failed := 0
	for _, r := range result.SubtaskResults {
		if !r.Success {
			failed++
			if r.SubtaskID != subtasks[1].ID {
				t.Errorf("unexpected failed subtask %s", r.SubtaskID)
			}
		}
	}
	if failed != 1 {
		t.Errorf("expected exactly 1 failure, got %d", failed)
	}
	if result.Summary != "2/3 subtasks succeeded" {
		t.Errorf("summary = %q", result.Summary)
	}
}

func TestAbortOnPhaseFailureCancelsLaterPhases(t *testing.T) {
	task := core.NewTask("risky change")
	subtasks := []core.Subtask{
		core.NewSubtask(task.ID, "analysis", "this one will fail"),
		core.NewSubtask(task.ID, "implementation", "build it"),
		core.NewSubtask(task.ID, "review", "check it"),
	}

	o, err := New(scriptedFactory,
		WithConfig(Config{
			PhaseOrder:          []string{"analysis", "implementation", "review"},
			AbortOnPhaseFailure: true,
		}),
		WithAnalyzer(func(_ context.Context, _ *core.Task) ([]core.Subtask, error) {
			return subtasks, nil
		}),
	)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	result, err := o.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(result.SubtaskResults) != 3 {
		t.Fatalf("cancelled subtasks must still report results, got %d", len(result.SubtaskResults))
	}
	cancelled := 0
	for _, r := range result.SubtaskResults {
		if strings.HasPrefix(r.Output, "cancelled:") {
			cancelled++
		}
	}
	if cancelled != 2 {
		t.Errorf("expected 2 cancelled results, got %d", cancelled)
	}
}

func TestPhasesRunInDeclaredOrder(t *testing.T) {
	task := core.NewTask("ordered work")
	var order []string
	factory := func(st core.Subtask) (*loop.Controller, error) {
		order = append(order, st.Type)
		source := decision.NewScriptedSource(decision.Decision{Done: true, Result: "ok"})
		return loop.New(st.ID, source,
			loop.WithExecutor(echoExec()),
			loop.WithConfig(workerConfig()),
		)
	}

	subtasks := []core.Subtask{
		core.NewSubtask(task.ID, "review", "last"),
		core.NewSubtask(task.ID, "analysis", "first"),
		core.NewSubtask(task.ID, "implementation", "middle"),
	}

	o, err := New(factory, WithAnalyzer(func(_ context.Context, _ *core.Task) ([]core.Subtask, error) {
		return subtasks, nil
	}))
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	if _, err := o.Execute(context.Background(), task); err != nil {
		t.Fatalf("execute: %v", err)
	}

	want := []string{"analysis", "implementation", "review"}
	for i, phase := range want {
		if order[i] != phase {
			t.Fatalf("phase order %v, want %v", order, want)
		}
	}
}

func TestUnknownTypesRunAfterDeclaredPhases(t *testing.T) {
	o, err := New(scriptedFactory)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	subtasks := []core.Subtask{
		{ID: "1", Type: "cleanup"},
		{ID: "2", Type: "analysis"},
		{ID: "3", Type: "cleanup"},
	}
	phases := o.groupPhases(subtasks)
	if len(phases) != 2 {
		t.Fatalf("expected 2 phases, got %d", len(phases))
	}
	if phases[0][0].Type != "analysis" {
		t.Errorf("declared type must run first, got %s", phases[0][0].Type)
	}
	if len(phases[1]) != 2 || phases[1][0].ID != "1" {
		t.Errorf("unknown types must keep first-seen order: %+v", phases[1])
	}
}

func TestWorkersGetIndependentState(t *testing.T) {
	task := core.NewTask("parallel work")
	var mu sync.Mutex
	workers := make(map[string]*loop.Controller)
	factory := func(st core.Subtask) (*loop.Controller, error) {
		source := decision.NewScriptedSource(
			decision.Decision{Action: &core.Action{Type: "noop"}, TokensUsed: 3},
			decision.Decision{Done: true, Result: "ok", TokensUsed: 2},
		)
		c, err := loop.New(st.ID, source,
			loop.WithExecutor(echoExec()),
			loop.WithConfig(workerConfig()),
			loop.WithBudget(core.NewBudget(1000, 10, 0)),
		)
		if err == nil {
			mu.Lock()
			workers[st.ID] = c
			mu.Unlock()
		}
		return c, err
	}

	subtasks := []core.Subtask{
		core.NewSubtask(task.ID, "implementation", "a"),
		core.NewSubtask(task.ID, "implementation", "b"),
	}

	o, err := New(factory, WithAnalyzer(func(_ context.Context, _ *core.Task) ([]core.Subtask, error) {
		return subtasks, nil
	}))
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	result, err := o.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success: %+v", result.SubtaskResults)
	}

	// Each worker charged its own ledger and logged its own events; nothing
	// leaked between siblings.
	for id, w := range workers {
		if w.Budget().UsedTokens != 5 {
			t.Errorf("worker %s tokens = %d, want 5", id, w.Budget().UsedTokens)
		}
		if w.Events().Len() == 0 {
			t.Errorf("worker %s has no events", id)
		}
	}
	for _, r := range result.SubtaskResults {
		if r.Metrics.Tokens != 5 || r.Metrics.Iterations != 2 {
			t.Errorf("metrics for %s = %+v", r.SubtaskID, r.Metrics)
		}
	}
}

func TestStripDelegation(t *testing.T) {
	catalog := []core.ActionSpec{
		{Name: "file.read"},
		{Name: CapabilityDelegate},
		{Name: "file.write"},
	}

	stripped := StripDelegation(catalog)
	if len(stripped) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(stripped))
	}
	for _, spec := range stripped {
		if spec.Name == CapabilityDelegate {
			t.Fatalf("delegation capability survived stripping")
		}
	}
}

func TestSingleSubtaskDefault(t *testing.T) {
	o, err := New(scriptedFactory)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	task := core.NewTask("small job")
	subtasks, err := o.Analyze(context.Background(), task)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(subtasks) != 1 || subtasks[0].Type != "implementation" {
		t.Errorf("default decomposition = %+v", subtasks)
	}
	if subtasks[0].ParentID != task.ID {
		t.Errorf("subtask not bound to parent")
	}
}

func TestExecuteRejectsEmptyDecomposition(t *testing.T) {
	o, err := New(scriptedFactory, WithAnalyzer(func(_ context.Context, _ *core.Task) ([]core.Subtask, error) {
		return nil, nil
	}))
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	if _, err := o.Execute(context.Background(), core.NewTask("empty")); err == nil {
		t.Errorf("expected error for empty decomposition")
	}
}
