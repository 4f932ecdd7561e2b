package dag

// TaskState is the runtime execution state of a node.
//
// This is intentionally separated from TaskGraph, which is immutable.
//
// The base states are PENDING, RUNNING, COMPLETED, FAILED, SKIPPED, CACHED;
// TaskTimedOut and TaskCancelled below round out the terminal set.
type TaskState string

const (
	TaskPending   TaskState = "PENDING"
	TaskRunning   TaskState = "RUNNING"
	TaskCompleted TaskState = "COMPLETED"
	TaskFailed    TaskState = "FAILED"
	TaskSkipped   TaskState = "SKIPPED"
	TaskCached    TaskState = "CACHED"

	// TaskTimedOut and TaskCancelled are terminal states produced when the
	// Process Supervisor reports ExecutionResult.TimedOut/.Cancelled instead
	// of a normal exit code. They are distinct from TaskFailed so callers
	// (history, --format json) can distinguish "ran and failed" from "never
	// got to finish".
	TaskTimedOut  TaskState = "TIMED_OUT"
	TaskCancelled TaskState = "CANCELLED"
)

// GraphState is the mutable runtime status for a specific execution attempt.
//
// It is designed so that the same TaskGraph can be executed multiple times
// without mutating the graph definition.
type GraphState struct {
	// Status holds per-node state keyed by task name.
	Status map[string]TaskState
}
