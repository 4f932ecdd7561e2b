package dag

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/zr-build/zr/internal/core"
	"github.com/zr-build/zr/internal/incremental"
	"github.com/zr-build/zr/internal/trace"

	"golang.org/x/sync/errgroup"
)

// SchedulerOptions configures the admission pool driving RunParallelWithOptions.
type SchedulerOptions struct {
	// MaxJobs caps the number of tasks admitted (dispatched) at once. Zero
	// or negative means "no cap" (bounded only by dependency order).
	MaxJobs int

	// MaxTotalMemoryBytes and MaxTotalCPUPercent, when positive, bound the
	// sum of currently-running tasks' declared ResourceLimits. A task whose
	// own declared limit alone would exceed the ceiling is admitted anyway
	// once nothing else is running, so a single large task is never starved
	// forever.
	MaxTotalMemoryBytes int64
	MaxTotalCPUPercent  float64

	// FailFast, when true, cancels every currently-running task and blocks
	// further admission on the first non-allow_failure failure.
	FailFast bool
}

type poolTaskResult struct {
	name   string
	result *NodeResult
	err    error
}

// RunParallel executes the graph through a bounded admission pool with
// max_jobs concurrency and no resource ceiling or fail-fast; per-task
// conditions, retries and max_concurrent_instances still apply. It is a thin
// convenience wrapper over
// RunParallelWithOptions for callers that only need a concurrency bound.
func (e *Executor) RunParallel(ctx context.Context, concurrency int) (*GraphResult, error) {
	if concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be > 0")
	}
	return e.RunParallelWithOptions(ctx, SchedulerOptions{MaxJobs: concurrency})
}

// RunParallelWithOptions drives the graph to completion through a continuous
// admission pool: one supervising loop plus one goroutine per admitted task,
// as opposed to a fixed worker pool consuming a work queue. At any instant
// the pool tracks three logical sets — ready (computed fresh from
// GetReadyTasks each iteration), running (admitted, in-flight goroutines),
// and finished (terminal states already recorded in e.state) — and loops
// until ready and running are both empty.
//
// Within that loop it additionally applies:
//   - condition pruning (a false task.Condition marks the task SKIPPED
//     without ever admitting it; a skipped task still satisfies dependents)
//   - per-task max_concurrent_instances and a global resource ceiling as
//     extra admission gates beyond MaxJobs
//   - retries with retry_delay_ms backoff (doubled per attempt when
//     RetryExponentialBackoff is set) before a failed/timed-out task is
//     re-admitted
//   - allow_failure poisoning suppression (a failing allow_failure task
//     never propagates failure to its dependents)
//   - fail-fast cancellation: the first non-allow_failure failure, when
//     FailFast is set, cancels every running task's context and stops
//     further admission
//
// Ordering is inherited directly from GetReadyTasks (depth, then name) so
// the admitted order matches RunSerial's whenever concurrency does not
// change what can run at once.
func (e *Executor) RunParallelWithOptions(ctx context.Context, opts SchedulerOptions) (*GraphResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	e.ensureHostInit(ctx)

	rec := trace.NewRecorder()
	skipCause := make(map[string]string)
	noteSkipped := e.noteSkippedFunc(skipCause)

	order := make([]string, 0, len(e.Graph.nodes))
	taskHashes := make(map[string]core.TaskHash, len(e.Graph.nodes))
	stdout := make(map[string][]byte, len(e.Graph.nodes))
	stderr := make(map[string][]byte, len(e.Graph.nodes))
	exitCodes := make(map[string]int, len(e.Graph.nodes))

	attempts := make(map[string]int)
	nextEligible := make(map[string]time.Time)
	runningInstances := make(map[string]int)
	cancelFuncs := make(map[string]context.CancelFunc)

	var runningMem int64
	var runningCPU float64
	var group errgroup.Group
	doneCh := make(chan poolTaskResult)

	blockAdmission := false
	failFastReason := ""

	// stopCtx gates the result-send side of launch(): whenever this function
	// returns early it cancels stopCtx first so a goroutine whose task was
	// killed (but whose result nobody will read anymore) doesn't block
	// forever trying to write to doneCh.
	stopCtx, stopSending := context.WithCancel(ctx)
	defer stopSending()

	cancelAllRunning := func() {
		for _, cancel := range cancelFuncs {
			cancel()
		}
	}
	// abortAndWait is for true early-return paths: it kills every in-flight
	// task, stops accepting further doneCh sends (so a killed goroutine
	// racing the return never blocks forever trying to report in), and
	// waits for every launched goroutine to actually exit.
	abortAndWait := func() {
		cancelAllRunning()
		stopSending()
		_ = group.Wait()
	}

	launch := func(name string, task core.Task, reuseCache bool) {
		taskCtx, cancel := context.WithCancel(ctx)
		cancelFuncs[name] = cancel
		group.Go(func() error {
			var res *NodeResult
			var err error
			if reuseCache {
				restoreRunner, ok := e.Runner.(interface {
					Restore(ctx context.Context, task core.Task) (*NodeResult, error)
				})
				if !ok {
					res, err = &NodeResult{ExitCode: 1, Stderr: []byte("runner does not support Restore")}, nil
				} else {
					res, err = restoreRunner.Restore(taskCtx, task)
					if err != nil {
						res, err = &NodeResult{ExitCode: 1, Stderr: []byte(err.Error())}, nil
					}
				}
			} else {
				res, err = e.Runner.Run(taskCtx, task)
			}
			select {
			case doneCh <- poolTaskResult{name: name, result: res, err: err}:
			case <-stopCtx.Done():
			}
			return nil
		})
	}

	for {
		e.mu.Lock()

		ready := GetReadyTasks(e.Graph, e.state)
		admittedThisRound := false
		var earliestWait time.Duration

		for _, name := range ready {
			if blockAdmission {
				break
			}
			if opts.MaxJobs > 0 && len(cancelFuncs) >= opts.MaxJobs {
				break
			}

			node := e.Graph.nodesByName[name]
			task := node.Task

			if wait, ok := nextEligible[name]; ok {
				remaining := time.Until(wait)
				if remaining > 0 {
					if earliestWait == 0 || remaining < earliestWait {
						earliestWait = remaining
					}
					continue
				}
			}

			condOK, cerr := EvaluateCondition(task.Condition, task.Env)
			if cerr != nil {
				e.mu.Unlock()
				abortAndWait()
				return nil, fmt.Errorf("evaluating condition for %q: %w", name, cerr)
			}
			if !condOK {
				if err := Transition(e.state, name, TaskPending, TaskSkipped); err != nil {
					e.mu.Unlock()
					abortAndWait()
					return nil, err
				}
				trace.SafeRecord(rec, trace.TraceEvent{Kind: trace.EventTaskSkipped, TaskID: name, Reason: "ConditionFalse"})
				continue
			}

			if task.MaxConcurrentInstances > 0 && runningInstances[name] >= task.MaxConcurrentInstances {
				continue
			}
			if opts.MaxTotalMemoryBytes > 0 && len(cancelFuncs) > 0 && runningMem+task.ResourceLimits.MaxMemoryBytes > opts.MaxTotalMemoryBytes {
				continue
			}
			if opts.MaxTotalCPUPercent > 0 && len(cancelFuncs) > 0 && runningCPU+task.ResourceLimits.MaxCPUPercent > opts.MaxTotalCPUPercent {
				continue
			}

			reuseCache := false
			if e.Plan != nil {
				reuseCache = e.Plan.Decisions[name] == incremental.DecisionReuseCache
				if reuseCache {
					trace.SafeRecord(rec, trace.TraceEvent{Kind: trace.EventTaskCached, TaskID: name, Reason: "PlannedReuseCache"})
				}
			} else {
				probeRes, cached, err := e.Runner.Probe(ctx, task)
				if err != nil {
					e.mu.Unlock()
					abortAndWait()
					return nil, fmt.Errorf("probing cache for %q: %w", name, err)
				}
				if cached {
					if probeRes == nil {
						e.mu.Unlock()
						abortAndWait()
						return nil, fmt.Errorf("probing cache for %q: nil result", name)
					}
					if err := Transition(e.state, name, TaskPending, TaskCached); err != nil {
						e.mu.Unlock()
						abortAndWait()
						return nil, err
					}
					trace.SafeRecord(rec, trace.TraceEvent{Kind: trace.EventTaskCached, TaskID: name, Reason: "CacheHit"})
					trace.SafeRecord(rec, trace.TraceEvent{Kind: trace.EventTaskArtifactsRestored, TaskID: name, Reason: "CacheReplay"})
					taskHashes[name] = probeRes.Hash
					stdout[name] = probeRes.Stdout
					stderr[name] = probeRes.Stderr
					exitCodes[name] = probeRes.ExitCode
					if e.Host != nil {
						e.Host.OnBeforeTask(ctx, name)
						e.Host.OnAfterTask(ctx, name, probeRes.ExitCode)
					}
					continue
				}
			}

			if err := Transition(e.state, name, TaskPending, TaskRunning); err != nil {
				e.mu.Unlock()
				abortAndWait()
				return nil, err
			}
			order = append(order, name)
			runningInstances[name]++
			runningMem += task.ResourceLimits.MaxMemoryBytes
			runningCPU += task.ResourceLimits.MaxCPUPercent
			admittedThisRound = true
			if e.Host != nil {
				e.Host.OnBeforeTask(ctx, name)
			}
			launch(name, task, reuseCache)
		}

		allTerminal := true
		for _, st := range e.state {
			if !IsTerminal(st) {
				allTerminal = false
				break
			}
		}
		nothingInFlight := len(cancelFuncs) == 0
		e.mu.Unlock()

		if nothingInFlight && allTerminal {
			break
		}
		if nothingInFlight && !admittedThisRound && earliestWait == 0 && !blockAdmission {
			// Nothing running, nothing admitted, and nothing waiting on a
			// backoff timer: the graph cannot make further progress.
			return nil, fmt.Errorf("no ready tasks but graph not finished")
		}

		var wakeCh <-chan time.Time
		var wakeTimer *time.Timer
		if earliestWait > 0 {
			wakeTimer = time.NewTimer(earliestWait)
			wakeCh = wakeTimer.C
		}

		select {
		case <-ctx.Done():
			abortAndWait()
			return nil, fmt.Errorf("execution cancelled: %w", ctx.Err())
		case <-wakeCh:
			// Backoff elapsed for at least one task; loop to re-evaluate readiness.
		case r := <-doneCh:
			if err := e.handlePoolResult(ctx, r, rec, skipCause, noteSkipped, opts, attempts, nextEligible, runningInstances, &runningMem, &runningCPU, cancelFuncs, taskHashes, stdout, stderr, exitCodes, &blockAdmission, &failFastReason); err != nil {
				abortAndWait()
				return nil, err
			}
			if blockAdmission {
				// Fail-fast: stop every in-flight task immediately rather
				// than waiting for it to finish on its own.
				cancelAllRunning()
			}
		}

		if wakeTimer != nil {
			wakeTimer.Stop()
		}

		if blockAdmission && len(cancelFuncs) == 0 {
			if err := e.cancelRemainingPending(rec); err != nil {
				abortAndWait()
				return nil, err
			}
		}
	}

	_ = group.Wait()

	final := e.StateSnapshot()
	graphHash := e.Graph.Hash().String()
	emitSkippedEvents(rec, skipCause)

	execTrace := rec.Trace(graphHash)
	traceBytes, _ := execTrace.CanonicalJSON()
	traceHash := trace.ComputeTraceHash(traceBytes)
	return &GraphResult{
		GraphHash:      e.Graph.Hash(),
		TraceHash:      traceHash,
		TraceBytes:     traceBytes,
		FinalState:     final,
		ExecutionOrder: order,
		TaskHashes:     taskHashes,
		Stdout:         stdout,
		Stderr:         stderr,
		ExitCode:       exitCodes,
		FailFastReason: failFastReason,
	}, nil
}

// cancelRemainingPending marks every still-PENDING task CANCELLED once
// fail-fast has blocked further admission and no task is in flight. Order is
// sorted for determinism since it walks the state map.
func (e *Executor) cancelRemainingPending(rec *trace.Recorder) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	names := make([]string, 0)
	for name, st := range e.state {
		if st == TaskPending {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if err := Transition(e.state, name, TaskPending, TaskCancelled); err != nil {
			return err
		}
		trace.SafeRecord(rec, trace.TraceEvent{Kind: trace.EventTaskSkipped, TaskID: name, Reason: "FailFastCancelled"})
	}
	return nil
}

// handlePoolResult processes one completed task's result: recording output,
// transitioning its state to a terminal or retry-pending state, and applying
// failure poisoning / fail-fast when applicable. It is split out of
// RunParallelWithOptions purely to keep the admission loop readable.
func (e *Executor) handlePoolResult(
	ctx context.Context,
	r poolTaskResult,
	rec *trace.Recorder,
	skipCause map[string]string,
	noteSkipped func(string) error,
	opts SchedulerOptions,
	attempts map[string]int,
	nextEligible map[string]time.Time,
	runningInstances map[string]int,
	runningMem *int64,
	runningCPU *float64,
	cancelFuncs map[string]context.CancelFunc,
	taskHashes map[string]core.TaskHash,
	stdout, stderr map[string][]byte,
	exitCodes map[string]int,
	blockAdmission *bool,
	failFastReason *string,
) error {
	if r.err != nil {
		return fmt.Errorf("executing %q: %w", r.name, r.err)
	}
	if r.result == nil {
		return fmt.Errorf("executing %q: nil result", r.name)
	}
	if e.Host != nil {
		e.Host.OnAfterTask(ctx, r.name, r.result.ExitCode)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	node, ok := e.Graph.nodesByName[r.name]
	if !ok {
		return fmt.Errorf("unknown task: %q", r.name)
	}
	task := node.Task

	cur := e.state[r.name]
	if cur != TaskRunning {
		return fmt.Errorf("completion for %q but state is %s", r.name, cur)
	}

	delete(cancelFuncs, r.name)
	runningInstances[r.name]--
	*runningMem -= task.ResourceLimits.MaxMemoryBytes
	*runningCPU -= task.ResourceLimits.MaxCPUPercent

	taskHashes[r.name] = r.result.Hash
	stdout[r.name] = r.result.Stdout
	stderr[r.name] = r.result.Stderr
	exitCodes[r.name] = r.result.ExitCode

	switch {
	case r.result.ExitCode == 0 && !r.result.TimedOut && !r.result.Cancelled:
		if e.Plan != nil && e.Plan.Decisions[r.name] == incremental.DecisionReuseCache {
			trace.SafeRecord(rec, trace.TraceEvent{Kind: trace.EventTaskArtifactsRestored, TaskID: r.name, Reason: "CacheRestore"})
		} else {
			trace.SafeRecord(rec, trace.TraceEvent{Kind: trace.EventTaskExecuted, TaskID: r.name, Reason: "FreshWork"})
		}
		return Transition(e.state, r.name, TaskRunning, TaskCompleted)
	case r.result.Cancelled:
		trace.SafeRecord(rec, trace.TraceEvent{Kind: trace.EventTaskFailed, TaskID: r.name, Reason: "Cancelled"})
		return Transition(e.state, r.name, TaskRunning, TaskCancelled)
	default:
		return e.handlePoolFailure(r, rec, skipCause, noteSkipped, opts, task, attempts, nextEligible, blockAdmission, failFastReason)
	}
}

// handlePoolFailure applies retry-with-backoff, allow_failure poisoning
// suppression, and fail-fast cancellation for a failed or timed-out task.
// Caller holds e.mu.
func (e *Executor) handlePoolFailure(
	r poolTaskResult,
	rec *trace.Recorder,
	skipCause map[string]string,
	noteSkipped func(string) error,
	opts SchedulerOptions,
	task core.Task,
	attempts map[string]int,
	nextEligible map[string]time.Time,
	blockAdmission *bool,
	failFastReason *string,
) error {
	terminalState := TaskFailed
	if r.result.TimedOut {
		terminalState = TaskTimedOut
	}

	attempts[r.name]++
	if attempts[r.name] <= task.RetryMax {
		delay := time.Duration(task.RetryDelayMS) * time.Millisecond
		if task.RetryExponentialBackoff && attempts[r.name] > 1 {
			delay = delay * time.Duration(1<<uint(attempts[r.name]-1))
		}
		nextEligible[r.name] = time.Now().Add(delay)
		trace.SafeRecord(rec, trace.TraceEvent{Kind: trace.EventTaskFailed, TaskID: r.name, Reason: "RetryScheduled"})
		return Transition(e.state, r.name, TaskRunning, TaskPending)
	}

	if terminalState == TaskTimedOut {
		trace.SafeRecord(rec, trace.TraceEvent{Kind: trace.EventTaskFailed, TaskID: r.name, Reason: "TimedOut"})
	} else {
		trace.SafeRecord(rec, trace.TraceEvent{Kind: trace.EventTaskFailed, TaskID: r.name})
	}
	if err := Transition(e.state, r.name, TaskRunning, terminalState); err != nil {
		return err
	}

	if task.AllowFailure {
		// Counts as successful for poisoning purposes: no propagation, no fail-fast.
		return nil
	}

	if err := FailAndPropagate(e.Graph, e.state, r.name); err != nil {
		return err
	}
	if err := noteSkipped(r.name); err != nil {
		return err
	}

	if opts.FailFast && !*blockAdmission {
		*blockAdmission = true
		*failFastReason = fmt.Sprintf("%q failed", r.name)
	}
	return nil
}
