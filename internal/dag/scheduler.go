package dag

import (
	"sort"
)

// ExecutionState maps task name to its current TaskState.
//
// It is intentionally a plain map so the scheduler can remain a pure function
// without coupling to an executor implementation.
type ExecutionState map[string]TaskState

// GetReadyTasks returns the deterministically ordered list of task names that are
// eligible to run.
//
// Policy:
//   - A task is ready iff it is PENDING and all its dependencies are COMPLETED or CACHED.
//   - The returned list is sorted by (topological depth asc, task name asc).
//
// This function is pure: it does not mutate graph or state.
func GetReadyTasks(g *TaskGraph, state ExecutionState) []string {
	if g == nil {
		return nil
	}

	ready := make([]string, 0)
	for _, node := range g.nodes {
		st, ok := state[node.Name]
		if !ok || st != TaskPending {
			continue
		}

		idx := node.canonicalIndex
		depsOK := true
		for _, parentIdx := range g.incoming[idx] {
			parent := g.nodes[parentIdx]
			pst, ok := state[parent.Name]
			if !ok {
				depsOK = false
				break
			}
			if dependencySatisfied(parent, pst) {
				continue
			}
			depsOK = false
			break
		}
		if depsOK {
			ready = append(ready, node.Name)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		ad, _ := g.Depth(a)
		bd, _ := g.Depth(b)
		if ad != bd {
			return ad < bd
		}
		return a < b
	})

	return ready
}

// PlanDryRun computes the level-by-level admission order an unbounded
// (max_jobs >= |tasks|) run would produce, assuming every task and condition
// succeeds. It performs no side effects and does not execute anything: each
// level is the GetReadyTasks frontier at that point, simulating every task in
// the previous level completing instantly.
//
// Idempotent and side-effect-free, per the admission pool's plan_dry_run
// contract: calling it twice on the same graph returns identical levels.
func PlanDryRun(g *TaskGraph) [][]string {
	if g == nil {
		return nil
	}

	state := make(ExecutionState, len(g.nodes))
	for _, n := range g.nodes {
		state[n.Name] = TaskPending
	}

	levels := make([][]string, 0)
	for {
		ready := GetReadyTasks(g, state)
		if len(ready) == 0 {
			break
		}
		level := append([]string(nil), ready...)
		levels = append(levels, level)
		for _, name := range ready {
			state[name] = TaskCompleted
		}
	}
	return levels
}

// dependencySatisfied reports whether a parent in state pst lets a dependent
// proceed. A normal completion satisfies it outright; a parent that failed
// (or timed out/was cancelled) only satisfies it when that parent declared
// allow_failure, since such a parent "counts as successful for poisoning
// purposes" per the admission pool's failure semantics.
func dependencySatisfied(parent *TaskNode, pst TaskState) bool {
	switch pst {
	case TaskCompleted, TaskCached, TaskSkipped:
		return true
	case TaskFailed, TaskTimedOut, TaskCancelled:
		return parent.Task.AllowFailure
	default:
		return false
	}
}
