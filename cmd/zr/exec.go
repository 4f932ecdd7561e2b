package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/zr-build/zr/internal/core"
	"github.com/zr-build/zr/internal/dag"
	"github.com/zr-build/zr/internal/history"
	"github.com/zr-build/zr/internal/zrerrors"
)

// closureGraph builds the subgraph reachable from targets via their
// declared dependencies, using dag.GraphBuilder so duplicate edges across
// multiple targets collapse for free.
func closureGraph(cfg map[string]core.Task, targets []string) (*dag.TaskGraph, error) {
	b := dag.NewGraphBuilder()
	seen := make(map[string]bool)
	var walk func(name string) error
	walk = func(name string) error {
		if seen[name] {
			return nil
		}
		task, ok := cfg[name]
		if !ok {
			return zrerrors.New(zrerrors.TaskNotFound, "cli", fmt.Sprintf("unknown task %q", name), nil)
		}
		seen[name] = true
		b.AddNode(task)
		for _, dep := range task.Dependencies() {
			if err := walk(dep); err != nil {
				return err
			}
			b.AddEdge(dep, name)
		}
		return nil
	}
	for _, t := range targets {
		if err := walk(t); err != nil {
			return nil, err
		}
	}
	return b.Build()
}

// timingRunner decorates a dag.TaskRunner to record per-task wall-clock
// duration, since dag.GraphResult does not track timing itself (it is a
// deterministic state/order record, not a profiling one). Durations are
// only used for the CLI's human/JSON summaries.
type timingRunner struct {
	dag.TaskRunner
	durations map[string]time.Duration
}

func newTimingRunner(r dag.TaskRunner) *timingRunner {
	return &timingRunner{TaskRunner: r, durations: make(map[string]time.Duration)}
}

func (t *timingRunner) Probe(ctx context.Context, task core.Task) (*dag.NodeResult, bool, error) {
	start := time.Now()
	res, cached, err := t.TaskRunner.Probe(ctx, task)
	t.durations[task.Name] = time.Since(start)
	return res, cached, err
}

func (t *timingRunner) Run(ctx context.Context, task core.Task) (*dag.NodeResult, error) {
	start := time.Now()
	res, err := t.TaskRunner.Run(ctx, task)
	t.durations[task.Name] = time.Since(start)
	return res, err
}

// runResult is the CLI-facing summary of one graph execution, matching
// spec.md's "--format json" run-result schema.
type runResult struct {
	Success   bool           `json:"success"`
	ElapsedMS int64          `json:"elapsed_ms"`
	Tasks     []taskResult   `json:"tasks"`
	graph     *dag.GraphResult
}

type taskResult struct {
	Name       string `json:"name"`
	Success    bool   `json:"success"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	Skipped    bool   `json:"skipped"`
}

// runGraph executes g to completion (or dry-run plans it) using the
// admission-pool scheduler, and summarizes the outcome. label identifies
// the invocation (the target task or workflow stage name) for the history
// log; history is not recorded for --dry-run.
func runGraph(ctx context.Context, a *app, g *dag.TaskGraph, failFast bool, label string) (runResult, error) {
	if a.DryRun {
		levels := dag.PlanDryRun(g)
		names := make([]string, 0)
		for _, lvl := range levels {
			names = append(names, lvl...)
		}
		tasks := make([]taskResult, 0, len(names))
		for _, n := range names {
			tasks = append(tasks, taskResult{Name: n, Success: true, Skipped: true})
		}
		return runResult{Success: true, Tasks: tasks}, nil
	}

	cache, err := a.cache()
	if err != nil {
		return runResult{}, err
	}
	runner := core.NewRunner(a.WorkDir, cache)
	cacheRunner, err := dag.NewCacheAwareRunner(runner)
	if err != nil {
		return runResult{}, err
	}
	timed := newTimingRunner(cacheRunner)

	exec, err := dag.NewExecutor(g, timed)
	if err != nil {
		return runResult{}, err
	}

	start := time.Now()
	gr, err := exec.RunParallelWithOptions(ctx, a.schedulerOptions(failFast))
	elapsed := time.Since(start)
	if err != nil {
		return runResult{}, err
	}

	names := make([]string, 0, len(gr.FinalState))
	for n := range gr.FinalState {
		names = append(names, n)
	}
	sort.Strings(names)

	success := true
	tasks := make([]taskResult, 0, len(names))
	for _, n := range names {
		st := gr.FinalState[n]
		skipped := st == dag.TaskSkipped
		ok := st == dag.TaskCompleted || st == dag.TaskCached || skipped
		if !ok {
			task, _ := g.Node(n)
			if task != nil && task.Task.AllowFailure {
				ok = true
			}
		}
		if !ok {
			success = false
		}
		tasks = append(tasks, taskResult{
			Name:       n,
			Success:    ok,
			ExitCode:   gr.ExitCode[n],
			DurationMS: timed.durations[n].Milliseconds(),
			Skipped:    skipped,
		})
	}

	result := runResult{Success: success, ElapsedMS: elapsed.Milliseconds(), Tasks: tasks, graph: gr}

	if sd, serr := a.stateDir(); serr == nil {
		_ = history.Append(sd.HistoryPath, history.Record{
			Timestamp:  time.Now().UTC(),
			TaskName:   label,
			Success:    success,
			DurationMS: result.ElapsedMS,
			TaskCount:  len(tasks),
		})
	}

	return result, nil
}
