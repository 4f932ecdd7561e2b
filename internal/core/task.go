// Package core defines the domain models for deterministic task execution.
//
// Design constraints:
//   - No implied fields (e.g., creation_date) that could affect determinism
//   - All fields are explicit and observable
//   - Structures support exact serialization for hash computation
package core

import "sort"

// CachePolicy controls whether a task's result is eligible for content-addressed reuse.
type CachePolicy string

const (
	CachePolicyNone        CachePolicy = "none"
	CachePolicyFingerprint CachePolicy = "fingerprint"
)

// EnvVar is a single ordered (key, value) environment entry.
//
// It is the element type of Task.EnvOrdered. The fingerprint and the
// executor read Task.Env (hashed sorted by key), not EnvOrdered.
type EnvVar struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// ResourceLimits bounds the resources a single task execution may consume.
// Both fields are optional (zero value means unbounded) and best-effort:
// the Process Supervisor enforces them where the host platform allows and
// otherwise records the limit as advisory-only.
type ResourceLimits struct {
	MaxCPUPercent  float64 `json:"max_cpu_percent,omitempty" yaml:"max_cpu_percent,omitempty"`
	MaxMemoryBytes int64   `json:"max_memory_bytes,omitempty" yaml:"max_memory_bytes,omitempty"`
}

// Task represents a declarative definition of work to be executed deterministically.
//
// Includes: command, working directory, declared environment, declared
// inputs/outputs, dependency declarations, and scheduling policy.
// Excludes: implicit dependencies, external side effects, creation timestamps.
type Task struct {
	// Name is the logical identifier for the task. Unique within a configuration.
	Name string `json:"name" yaml:"name"`

	// Inputs is a list of file paths or glob patterns contributing to the
	// task's fingerprint. Expansion is deterministic and strictly sorted;
	// directories are recursed depth-first in sorted order.
	Inputs []string `json:"inputs" yaml:"inputs"`

	// Run is the shell command string to execute. An empty Run is not run as
	// pure orchestration over its dependencies: core.Runner, core.Executor
	// and dag.CacheAwareRunner.Probe return an error for it.
	Run string `json:"run" yaml:"run"`

	// WorkingDirectory is the directory the command runs in.
	// Defaults to the configuration's directory when empty.
	WorkingDirectory string `json:"working_directory,omitempty" yaml:"working_directory,omitempty"`

	// Env is a map of environment variables explicitly provided to the task.
	// Only variables listed here (plus the inherited process environment the
	// caller chooses to pass through) are visible to the task.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// EnvOrdered is an ordered form of Env. It is decoded and carried on the
	// task, but fingerprinting and execution read only Env.
	EnvOrdered []EnvVar `json:"env_ordered,omitempty" yaml:"env_ordered,omitempty"`

	// Outputs is a list of file paths or directories expected to be produced.
	// Only declared outputs are eligible for artifact capture and caching.
	Outputs []string `json:"outputs,omitempty" yaml:"outputs,omitempty"`

	// ParallelDependencies is an order-insensitive set of task names this
	// task depends on, with no ordering constraint between them.
	ParallelDependencies []string `json:"parallel_dependencies,omitempty" yaml:"parallel_dependencies,omitempty"`

	// SerialDependencies is an ordered sequence of task names this task
	// depends on, expressing a required relative completion order upstream.
	SerialDependencies []string `json:"serial_dependencies,omitempty" yaml:"serial_dependencies,omitempty"`

	// Tags is a set of free-form labels used by constraint checks and filters.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// TimeoutMS bounds execution wall-time; 0 disables the timeout.
	TimeoutMS int64 `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`

	// RetryMax is the number of re-admissions allowed after a failure or timeout.
	RetryMax int `json:"retry_max,omitempty" yaml:"retry_max,omitempty"`

	// RetryDelayMS is the base delay between retry attempts.
	RetryDelayMS int64 `json:"retry_delay_ms,omitempty" yaml:"retry_delay_ms,omitempty"`

	// RetryExponentialBackoff multiplies RetryDelayMS by 2^(attempt-1) when true.
	RetryExponentialBackoff bool `json:"retry_exponential_backoff,omitempty" yaml:"retry_exponential_backoff,omitempty"`

	// MaxConcurrentInstances limits the number of simultaneous in-flight
	// executions of this task. 0 means unbounded.
	MaxConcurrentInstances int `json:"max_concurrent_instances,omitempty" yaml:"max_concurrent_instances,omitempty"`

	// AllowFailure, when true, means a failing task does not poison its
	// dependents or the overall run outcome.
	AllowFailure bool `json:"allow_failure,omitempty" yaml:"allow_failure,omitempty"`

	// Condition is an optional expression over platform/environment,
	// evaluated before dispatch. A false result skips the task without
	// failing it or its dependents.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	// CachePolicy selects whether this task's result may be served from or
	// committed to the content-addressed cache.
	CachePolicy CachePolicy `json:"cache_policy,omitempty" yaml:"cache_policy,omitempty"`

	// ResourceLimits bounds CPU/memory for this task's execution.
	ResourceLimits ResourceLimits `json:"resource_limits,omitempty" yaml:"resource_limits,omitempty"`
}

// Dependencies returns the union of ParallelDependencies and
// SerialDependencies, deduplicated, in the fixed order
// (serial first, preserving declaration order, then parallel sorted).
// This is the set consumed when building the task DAG's edges.
func (t Task) Dependencies() []string {
	seen := make(map[string]struct{}, len(t.SerialDependencies)+len(t.ParallelDependencies))
	out := make([]string, 0, len(t.SerialDependencies)+len(t.ParallelDependencies))
	for _, d := range t.SerialDependencies {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	parallel := append([]string(nil), t.ParallelDependencies...)
	sort.Strings(parallel)
	for _, d := range parallel {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

// EffectiveCachePolicy returns the task's cache policy, defaulting to
// CachePolicyNone when unset.
func (t Task) EffectiveCachePolicy() CachePolicy {
	if t.CachePolicy == "" {
		return CachePolicyNone
	}
	return t.CachePolicy
}
