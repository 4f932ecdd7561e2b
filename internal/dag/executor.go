package dag

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/zr-build/zr/internal/core"
	"github.com/zr-build/zr/internal/incremental"
	"github.com/zr-build/zr/internal/plugin"
	"github.com/zr-build/zr/internal/trace"

	"container/heap"
)

// downstreamReachable returns all downstream dependent task names reachable from start (excluding start).
//
// Determinism:
// The traversal is ordered by node canonical index using a min-heap.
// This makes the returned list independent of map iteration and execution timing.
func downstreamReachable(g *TaskGraph, start string) ([]string, error) {
	if g == nil {
		return nil, fmt.Errorf("nil graph")
	}
	n, ok := g.nodesByName[start]
	if !ok {
		return nil, fmt.Errorf("unknown task: %q", start)
	}

	startIdx := n.canonicalIndex
	visited := make([]bool, len(g.nodes))
	visited[startIdx] = true

	hq := &intMinHeap{}
	heap.Init(hq)
	for _, d := range g.outgoing[startIdx] {
		heap.Push(hq, d)
	}

	out := make([]string, 0)
	for hq.Len() > 0 {
		u := heap.Pop(hq).(int)
		if visited[u] {
			continue
		}
		visited[u] = true
		out = append(out, g.nodes[u].Name)
		for _, v := range g.outgoing[u] {
			if !visited[v] {
				heap.Push(hq, v)
			}
		}
	}

	return out, nil
}

// TaskRunner executes a single task.
//
// The executor treats non-zero exit codes as failures via the returned exitCode.
// A non-nil error indicates an infrastructure/runtime error (e.g. inability to start a process).
//
// Probe reports whether a task can be served from cache; Run executes it.
type TaskRunner interface {
	// Probe checks whether the task can be satisfied from cache.
	// If cached is true, result must be non-nil and FromCache must be true.
	Probe(ctx context.Context, task core.Task) (result *NodeResult, cached bool, err error)

	Run(ctx context.Context, task core.Task) (*NodeResult, error)
}

// Executor executes a TaskGraph deterministically, either serially
// (RunSerial) or through the admission pool (RunParallel and
// RunParallelWithOptions), sharing the same state/scheduling logic.
type Executor struct {
	Graph  *TaskGraph
	Runner TaskRunner

	// Plan overlays the static graph with deterministic incremental decisions.
	// If nil, the executor uses Runner.Probe to decide cache reuse.
	Plan *incremental.IncrementalPlan

	// Observer is an optional hook invoked when a task reaches a successful terminal state.
	//
	// This enables durable checkpoint persistence during execution, which is required for
	// crash recovery semantics (system failure resumable if checkpoints exist).
	// Only RunSerial invokes it; RunParallelWithOptions does not.
	Observer NodeObserver

	// Host is an optional plugin host notified at init and around each task's
	// execution. A nil Host is a no-op; there is no global plugin registry.
	Host plugin.Host

	mu       sync.Mutex
	state    ExecutionState
	hostInit bool
}

func (e *Executor) ensureHostInit(ctx context.Context) {
	if e.Host == nil || e.hostInit {
		return
	}
	e.hostInit = true
	e.Host.OnInit(ctx)
}

// NodeObserver is an optional execution observer.
//
// OnTaskTerminal is invoked after a task reaches a successful terminal state
// (COMPLETED or CACHED) with exit code 0.
//
// The traceEvents are a point-in-time snapshot of the trace recorder.
// Implementations must be deterministic and should avoid heavy IO.
type NodeObserver interface {
	OnTaskTerminal(task core.Task, result *NodeResult, traceEvents []trace.TraceEvent) error
}

// NewExecutor creates an executor with all nodes initialized to PENDING.
func NewExecutor(g *TaskGraph, runner TaskRunner) (*Executor, error) {
	if g == nil {
		return nil, fmt.Errorf("nil graph")
	}
	if runner == nil {
		return nil, fmt.Errorf("nil runner")
	}

	state := make(ExecutionState, len(g.nodes))
	for _, n := range g.nodes {
		state[n.Name] = TaskPending
	}

	return &Executor{Graph: g, Runner: runner, state: state}, nil
}

// StateSnapshot returns a copy of the current execution state.
func (e *Executor) StateSnapshot() ExecutionState {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp := make(ExecutionState, len(e.state))
	for k, v := range e.state {
		cp[k] = v
	}
	return cp
}

// RunSerial executes the graph in serial mode.
//
// Determinism:
//   - All state mutations are guarded by a single mutex.
//   - The scheduler is polled deterministically.
//   - The next task chosen is always the first element of the scheduler's ordered list.
func (e *Executor) RunSerial(ctx context.Context) (*GraphResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	e.ensureHostInit(ctx)

	rec := trace.NewRecorder()
	skipCause := make(map[string]string)

	order := make([]string, 0, len(e.Graph.nodes))
	taskHashes := make(map[string]core.TaskHash, len(e.Graph.nodes))
	stdout := make(map[string][]byte, len(e.Graph.nodes))
	stderr := make(map[string][]byte, len(e.Graph.nodes))
	exitCodes := make(map[string]int, len(e.Graph.nodes))

	// noteSkipped updates the stable skip cause for all currently-skipped downstream nodes.
	// This is crucial for the "race to failure" case: if multiple upstream failures can skip the same node,
	// we choose a deterministic cause independent of completion ordering.
	noteSkipped := func(cause string) error {
		downstream, err := downstreamReachable(e.Graph, cause)
		if err != nil {
			return err
		}
		for _, name := range downstream {
			if e.state[name] != TaskSkipped {
				continue
			}
			prev, ok := skipCause[name]
			if !ok || cause < prev {
				skipCause[name] = cause
			}
		}
		return nil
	}

	// failTask records a RUNNING task's failure. An allow_failure task still
	// transitions to FAILED (so history/exit-code logic sees it ran and
	// failed) but never poisons its dependents.
	failTask := func(name string, task core.Task) error {
		if task.AllowFailure {
			return Transition(e.state, name, TaskRunning, TaskFailed)
		}
		if err := FailAndPropagate(e.Graph, e.state, name); err != nil {
			return err
		}
		return noteSkipped(name)
	}

	for {
		// 1) Lock state + 2) poll scheduler
		e.mu.Lock()
		ready := GetReadyTasks(e.Graph, e.state)

		if len(ready) == 0 {
			// No runnable tasks: either we are finished, or deadlocked due to inconsistent state.
			allTerminal := true
			for _, st := range e.state {
				if !IsTerminal(st) {
					allTerminal = false
					break
				}
			}
			e.mu.Unlock()

			if allTerminal {
				graphHash := e.Graph.Hash().String()
				// Emit deferred TaskSkipped events in deterministic order.
				skippedNames := make([]string, 0, len(skipCause))
				for name := range skipCause {
					skippedNames = append(skippedNames, name)
				}
				sort.Strings(skippedNames)
				for _, name := range skippedNames {
					trace.SafeRecord(rec, trace.TraceEvent{Kind: trace.EventTaskSkipped, TaskID: name, Reason: "UpstreamFailed", CauseTaskID: skipCause[name]})
				}

				execTrace := rec.Trace(graphHash)
				traceBytes, _ := execTrace.CanonicalJSON()
				traceHash := trace.ComputeTraceHash(traceBytes)

				final := e.StateSnapshot()
				return &GraphResult{
					GraphHash:      e.Graph.Hash(),
					TraceHash:     traceHash,
					TraceBytes:    traceBytes,
					FinalState:     final,
					ExecutionOrder: order,
					TaskHashes:     taskHashes,
					Stdout:         stdout,
					Stderr:         stderr,
					ExitCode:       exitCodes,
				}, nil
			}
			return nil, fmt.Errorf("no ready tasks but graph not finished")
		}

		next := ready[0]
		task := e.Graph.nodesByName[next].Task

		// Incremental plan mode: obey the precomputed decision overlay.
		if e.Plan != nil {
			decision := e.Plan.Decisions[next]
			if decision == incremental.DecisionReuseCache {
				// Logical decision: cache reuse (explicitly records why the task was not executed).
				trace.SafeRecord(rec, trace.TraceEvent{Kind: trace.EventTaskCached, TaskID: next, Reason: "PlannedReuseCache"})

				// Treat restoration as a deterministic "run" step so failures propagate via Sprint-01 rules.
				if err := Transition(e.state, next, TaskPending, TaskRunning); err != nil {
					e.mu.Unlock()
					return nil, err
				}
				e.mu.Unlock()

				restoreRunner, ok := e.Runner.(interface {
					Restore(ctx context.Context, task core.Task) (*NodeResult, error)
				})
				if !ok {
					return nil, fmt.Errorf("runner does not support Restore for incremental plan execution")
				}

				if e.Host != nil {
					e.Host.OnBeforeTask(ctx, next)
				}
				res, err := restoreRunner.Restore(ctx, task)
				if e.Host != nil {
					ec := 0
					if res != nil {
						ec = res.ExitCode
					}
					if err != nil {
						ec = 1
					}
					e.Host.OnAfterTask(ctx, next, ec)
				}
				if err != nil {
					// Cached restoration failure is treated as a task failure (not an executor fatal error).
					e.mu.Lock()
					order = append(order, next)
					stderr[next] = []byte(err.Error())
					exitCodes[next] = 1
					trace.SafeRecord(rec, trace.TraceEvent{Kind: trace.EventTaskFailed, TaskID: next})
					ferr := failTask(next, task)
					if ferr != nil {
						e.mu.Unlock()
						return nil, ferr
					}
					e.mu.Unlock()
					continue
				}
				if res == nil {
					e.mu.Lock()
					order = append(order, next)
					stderr[next] = []byte("nil restore result")
					exitCodes[next] = 1
					trace.SafeRecord(rec, trace.TraceEvent{Kind: trace.EventTaskFailed, TaskID: next})
					ferr := failTask(next, task)
					if ferr != nil {
						e.mu.Unlock()
						return nil, ferr
					}
					e.mu.Unlock()
					continue
				}

				e.mu.Lock()
				order = append(order, next)
				taskHashes[next] = res.Hash
				stdout[next] = res.Stdout
				stderr[next] = res.Stderr
				exitCodes[next] = res.ExitCode

				if res.ExitCode == 0 {
					trace.SafeRecord(rec, trace.TraceEvent{Kind: trace.EventTaskArtifactsRestored, TaskID: next, Reason: "CacheRestore"})
					if err := Transition(e.state, next, TaskRunning, TaskCompleted); err != nil {
						e.mu.Unlock()
						return nil, err
					}
					obs := e.Observer
					traceSnap := rec.Snapshot()
					e.mu.Unlock()
					if obs != nil {
						if err := obs.OnTaskTerminal(task, res, traceSnap); err != nil {
							return nil, err
						}
					}
					continue
				}
				trace.SafeRecord(rec, trace.TraceEvent{Kind: trace.EventTaskFailed, TaskID: next})
				if ferr := failTask(next, task); ferr != nil {
					e.mu.Unlock()
					return nil, ferr
				}
				e.mu.Unlock()
				continue
			}

			// DecisionExecute: do not probe cache. Always execute.
			if decision == incremental.DecisionExecute {
				if err := Transition(e.state, next, TaskPending, TaskRunning); err != nil {
					e.mu.Unlock()
					return nil, err
				}
				e.mu.Unlock()

				if e.Host != nil {
					e.Host.OnBeforeTask(ctx, next)
				}
				runRes, err := e.Runner.Run(ctx, task)
				if e.Host != nil && runRes != nil {
					e.Host.OnAfterTask(ctx, next, runRes.ExitCode)
				}
				if err != nil {
					return nil, fmt.Errorf("executing %q: %w", next, err)
				}
				if runRes == nil {
					return nil, fmt.Errorf("executing %q: nil result", next)
				}

				e.mu.Lock()
				order = append(order, next)
				taskHashes[next] = runRes.Hash
				stdout[next] = runRes.Stdout
				stderr[next] = runRes.Stderr
				exitCodes[next] = runRes.ExitCode

				if runRes.ExitCode == 0 {
					trace.SafeRecord(rec, trace.TraceEvent{Kind: trace.EventTaskExecuted, TaskID: next, Reason: "PlannedExecute"})
					if err := Transition(e.state, next, TaskRunning, TaskCompleted); err != nil {
						e.mu.Unlock()
						return nil, err
					}
					obs := e.Observer
					traceSnap := rec.Snapshot()
					e.mu.Unlock()
					if obs != nil {
						if err := obs.OnTaskTerminal(task, runRes, traceSnap); err != nil {
							return nil, err
						}
					}
					continue
				}
				trace.SafeRecord(rec, trace.TraceEvent{Kind: trace.EventTaskFailed, TaskID: next})
				if ferr := failTask(next, task); ferr != nil {
					e.mu.Unlock()
					return nil, ferr
				}
				e.mu.Unlock()
				continue
			}
		}

		// Default mode: probe cache on-the-fly.
		if e.Host != nil {
			e.Host.OnBeforeTask(ctx, next)
		}
		probeRes, cached, err := e.Runner.Probe(ctx, task)
		if err != nil {
			e.mu.Unlock()
			return nil, fmt.Errorf("probing cache for %q: %w", next, err)
		}
		if cached {
			if probeRes == nil {
				e.mu.Unlock()
				return nil, fmt.Errorf("probing cache for %q: nil result", next)
			}
			if err := Transition(e.state, next, TaskPending, TaskCached); err != nil {
				e.mu.Unlock()
				return nil, err
			}
			trace.SafeRecord(rec, trace.TraceEvent{Kind: trace.EventTaskCached, TaskID: next, Reason: "CacheHit"})
			trace.SafeRecord(rec, trace.TraceEvent{Kind: trace.EventTaskArtifactsRestored, TaskID: next, Reason: "CacheReplay"})
			taskHashes[next] = probeRes.Hash
			stdout[next] = probeRes.Stdout
			stderr[next] = probeRes.Stderr
			exitCodes[next] = probeRes.ExitCode
			obs := e.Observer
			traceSnap := rec.Snapshot()
			e.mu.Unlock()
			if e.Host != nil {
				e.Host.OnAfterTask(ctx, next, probeRes.ExitCode)
			}
			if obs != nil && probeRes.ExitCode == 0 {
				if err := obs.OnTaskTerminal(task, probeRes, traceSnap); err != nil {
					return nil, err
				}
			}
			continue
		}

		if err := Transition(e.state, next, TaskPending, TaskRunning); err != nil {
			e.mu.Unlock()
			return nil, err
		}
		e.mu.Unlock()

		// 3) execute task (outside lock)
		runRes, err := e.Runner.Run(ctx, task)
		if e.Host != nil && runRes != nil {
			e.Host.OnAfterTask(ctx, next, runRes.ExitCode)
		}
		if err != nil {
			return nil, fmt.Errorf("executing %q: %w", next, err)
		}
		if runRes == nil {
			return nil, fmt.Errorf("executing %q: nil result", next)
		}

		// 4) update state (under lock)
		e.mu.Lock()
		order = append(order, next)
		taskHashes[next] = runRes.Hash
		stdout[next] = runRes.Stdout
		stderr[next] = runRes.Stderr
		exitCodes[next] = runRes.ExitCode

		if runRes.ExitCode == 0 {
			trace.SafeRecord(rec, trace.TraceEvent{Kind: trace.EventTaskExecuted, TaskID: next, Reason: "FreshWork"})
			if err := Transition(e.state, next, TaskRunning, TaskCompleted); err != nil {
				e.mu.Unlock()
				return nil, err
			}
			obs := e.Observer
			traceSnap := rec.Snapshot()
			e.mu.Unlock()
			if obs != nil {
				if err := obs.OnTaskTerminal(task, runRes, traceSnap); err != nil {
					return nil, err
				}
			}
			continue
		}

		// Failure: mark failed/timed-out/cancelled and propagate skipped.
		terminalState := TaskFailed
		reason := ""
		switch {
		case runRes.TimedOut:
			terminalState = TaskTimedOut
			reason = "TimedOut"
		case runRes.Cancelled:
			terminalState = TaskCancelled
			reason = "Cancelled"
		}
		trace.SafeRecord(rec, trace.TraceEvent{Kind: trace.EventTaskFailed, TaskID: next, Reason: reason})
		if err := failTaskAs(e.state, e.Graph, noteSkipped, next, task, terminalState); err != nil {
			e.mu.Unlock()
			return nil, err
		}
		e.mu.Unlock()
	}
}

// failTaskAs transitions a RUNNING task into terminalState (FAILED, TIMED_OUT,
// or CANCELLED) and, unless the task declares allow_failure, propagates the
// failure to its dependents.
func failTaskAs(state ExecutionState, g *TaskGraph, noteSkipped func(string) error, name string, task core.Task, terminalState TaskState) error {
	if terminalState == TaskFailed {
		if task.AllowFailure {
			return Transition(state, name, TaskRunning, TaskFailed)
		}
		if err := FailAndPropagate(g, state, name); err != nil {
			return err
		}
		return noteSkipped(name)
	}

	if task.AllowFailure {
		return Transition(state, name, TaskRunning, terminalState)
	}
	if err := Transition(state, name, TaskRunning, terminalState); err != nil {
		return err
	}
	return propagateSkip(g, state, name, noteSkipped)
}

// propagateSkip marks PENDING downstream dependents of name as SKIPPED. It
// mirrors FailAndPropagate's downstream traversal for terminal states
// (TIMED_OUT, CANCELLED) that are not reached via the RUNNING->FAILED
// transition FailAndPropagate itself performs.
func propagateSkip(g *TaskGraph, state ExecutionState, name string, noteSkipped func(string) error) error {
	downstream, err := downstreamReachable(g, name)
	if err != nil {
		return err
	}
	for _, d := range downstream {
		if state[d] == TaskPending {
			state[d] = TaskSkipped
		}
	}
	return noteSkipped(name)
}

// noteSkippedFunc returns a closure that, given the task that just failed,
// records the deterministic skip cause for every node it reaches — shared by
// RunSerial and the admission pool so both pick the same cause on races.
func (e *Executor) noteSkippedFunc(skipCause map[string]string) func(cause string) error {
	return func(cause string) error {
		downstream, err := downstreamReachable(e.Graph, cause)
		if err != nil {
			return err
		}
		for _, name := range downstream {
			if e.state[name] != TaskSkipped {
				continue
			}
			prev, ok := skipCause[name]
			if !ok || cause < prev {
				skipCause[name] = cause
			}
		}
		return nil
	}
}

func emitSkippedEvents(rec *trace.Recorder, skipCause map[string]string) {
	names := make([]string, 0, len(skipCause))
	for name := range skipCause {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		trace.SafeRecord(rec, trace.TraceEvent{Kind: trace.EventTaskSkipped, TaskID: name, Reason: "UpstreamFailed", CauseTaskID: skipCause[name]})
	}
}
