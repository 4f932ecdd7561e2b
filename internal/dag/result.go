package dag

import "github.com/zr-build/zr/internal/core"

// GraphResult is the deterministic summary of a graph execution attempt.
//
// This intentionally includes:
//   - Final per-node states
//   - The observed execution order (useful for determinism proofs/tests)
//
// It also carries each node's captured stdout, stderr and exit code, and its task hash.
type GraphResult struct {
	GraphHash GraphHash

	// TraceHash/TraceBytes are the canonical execution trace for this run,
	// recorded regardless of whether tracing is persisted to disk by the caller.
	TraceHash  string
	TraceBytes []byte

	// FinalState is the terminal state of each node by name.
	FinalState ExecutionState

	// ExecutionOrder is the ordered list of tasks that were started (transitioned to RUNNING).
	ExecutionOrder []string

	// TaskHashes records the deterministic per-node TaskHash.
	TaskHashes map[string]core.TaskHash

	// Stdout/Stderr/ExitCode capture the node results (executed or replayed).
	Stdout   map[string][]byte
	Stderr   map[string][]byte
	ExitCode map[string]int

	// FailFastReason is set when RunParallelWithOptions aborted admission
	// early because a non-allow_failure task failed under FailFast. Empty
	// when the run completed without triggering fail-fast.
	FailFastReason string
}
