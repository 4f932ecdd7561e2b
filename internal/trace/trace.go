// Package trace records the logical decisions a run makes — which tasks
// were invalidated, restored from cache, executed, failed, or skipped — as
// a deterministic, replayable record independent of wall-clock timing or
// goroutine scheduling. internal/cli writes it to the file named by the
// `--trace` option.
package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ExecutionTrace is the full record of one run's task-level decisions.
//
// It is built to the same byte sequence regardless of how many workers ran
// concurrently or in what order the scheduler happened to observe
// completions: Canonicalize imposes a total order before anything is
// hashed or serialized, so two runs over the same graph with the same
// inputs produce identical trace bytes even if their wall-clock execution
// order differed.
//
// A trace never carries timestamps, error strings, or anything derived
// from pointer identity or map iteration — only the task IDs, reasons, and
// cache/artifact identifiers needed to reconstruct what the scheduler
// decided and why.
type ExecutionTrace struct {
	GraphHash string
	Events    []TraceEvent
}

// TraceEventKind discriminates the kinds of task-level decisions a run
// emits. The string values are part of the trace's canonical bytes and
// must stay stable once recorded anywhere persistent (history, cache
// manifests).
type TraceEventKind string

const (
	EventTaskInvalidated       TraceEventKind = "TaskInvalidated"
	EventTaskArtifactsRestored TraceEventKind = "TaskArtifactsRestored"
	EventTaskCached            TraceEventKind = "TaskCached"
	EventTaskExecuted          TraceEventKind = "TaskExecuted"
	EventTaskFailed            TraceEventKind = "TaskFailed"
	EventTaskSkipped           TraceEventKind = "TaskSkipped"
)

// TraceEvent is a single task-level decision. Reason carries a stable
// logical code (e.g. "InputChanged", "UpstreamFailed", "TimedOut",
// "Cancelled") rather than a free-form error string, so the same run
// replayed twice yields byte-identical events.
type TraceEvent struct {
	Kind TraceEventKind

	// TaskID names the task this event concerns. Required for every kind
	// this package currently defines.
	TaskID string

	// Reason is a stable logical reason code.
	Reason string

	// CauseTaskID names a related upstream task, e.g. the failed
	// dependency that caused this task to be skipped.
	CauseTaskID string

	// Artifacts lists the cache-restored artifact identifiers for a
	// TaskArtifactsRestored event. Always recorded sorted.
	Artifacts []string
}

// Validate checks that t is well-formed: every event has a Kind, every
// task-level event names its TaskID, and no Artifacts entry is empty.
func (t *ExecutionTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.GraphHash == "" {
		return errors.New("graphHash is required")
	}
	for i := range t.Events {
		e := t.Events[i]
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if e.TaskID == "" {
			return fmt.Errorf("events[%d].taskId is required for kind %q", i, e.Kind)
		}
		for j, a := range e.Artifacts {
			if a == "" {
				return fmt.Errorf("events[%d].artifacts[%d] is empty", i, j)
			}
		}
	}
	return nil
}

// Canonicalize sorts Events into their total order — (taskId, kind,
// reason, causeTaskId, artifacts) — and normalizes empty Artifacts slices
// to nil, so that Hash and CanonicalJSON are independent of recording
// order.
func (t *ExecutionTrace) Canonicalize() {
	if t == nil {
		return
	}
	for i := range t.Events {
		if len(t.Events[i].Artifacts) == 0 {
			t.Events[i].Artifacts = nil
			continue
		}
		art := make([]string, len(t.Events[i].Artifacts))
		copy(art, t.Events[i].Artifacts)
		sort.Strings(art)
		t.Events[i].Artifacts = art
	}

	sort.SliceStable(t.Events, func(i, j int) bool {
		a := t.Events[i]
		b := t.Events[j]

		if a.TaskID != b.TaskID {
			return a.TaskID < b.TaskID
		}
		if kindOrder(a.Kind) != kindOrder(b.Kind) {
			return kindOrder(a.Kind) < kindOrder(b.Kind)
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		if a.CauseTaskID != b.CauseTaskID {
			return a.CauseTaskID < b.CauseTaskID
		}
		return lessStringSlice(a.Artifacts, b.Artifacts)
	})
}

func kindOrder(k TraceEventKind) int {
	switch k {
	case EventTaskInvalidated:
		return 10
	case EventTaskArtifactsRestored:
		return 20
	case EventTaskCached:
		return 30
	case EventTaskExecuted:
		return 40
	case EventTaskFailed:
		return 50
	case EventTaskSkipped:
		return 60
	default:
		return 1000
	}
}

// lessStringSlice orders two slices lexicographically by element, treating
// a shorter common prefix as smaller (nil and empty sort identically since
// Canonicalize normalizes empties to nil beforehand).
func lessStringSlice(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// CanonicalJSON canonicalizes a copy of t (the receiver's slices are left
// untouched) and marshals it.
func (t ExecutionTrace) CanonicalJSON() ([]byte, error) {
	cp := ExecutionTrace{GraphHash: t.GraphHash, Events: append([]TraceEvent(nil), t.Events...)}
	cp.Canonicalize()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&cp)
}

// Hash returns the sha256 hex digest of the trace's canonical JSON.
func (t ExecutionTrace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeTraceHash(b), nil
}

// MarshalJSON fixes field order (graphHash, then events) regardless of Go's
// struct-field encoding order.
func (t ExecutionTrace) MarshalJSON() ([]byte, error) {
	if t.GraphHash == "" {
		return nil, errors.New("graphHash is required")
	}
	var buf bytes.Buffer
	buf.WriteByte('{')

	buf.WriteString(`"graphHash":`)
	gh, _ := json.Marshal(t.GraphHash)
	buf.Write(gh)
	buf.WriteByte(',')

	buf.WriteString(`"events":[`)
	for i := range t.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(t.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteByte(']')
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON emits kind first and omits empty optional fields, so a
// TaskExecuted event with no reason doesn't carry a stray `"reason":""`.
func (e TraceEvent) MarshalJSON() ([]byte, error) {
	if e.Kind == "" {
		return nil, errors.New("kind is required")
	}
	var artifacts []string
	if len(e.Artifacts) > 0 {
		artifacts = make([]string, len(e.Artifacts))
		copy(artifacts, e.Artifacts)
		sort.Strings(artifacts)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')

	buf.WriteString(`"kind":`)
	kb, _ := json.Marshal(string(e.Kind))
	buf.Write(kb)

	if e.TaskID != "" {
		buf.WriteString(`,"taskId":`)
		tb, _ := json.Marshal(e.TaskID)
		buf.Write(tb)
	}
	if e.Reason != "" {
		buf.WriteString(`,"reason":`)
		rb, _ := json.Marshal(e.Reason)
		buf.Write(rb)
	}
	if e.CauseTaskID != "" {
		buf.WriteString(`,"causeTaskId":`)
		cb, _ := json.Marshal(e.CauseTaskID)
		buf.Write(cb)
	}
	if len(artifacts) > 0 {
		buf.WriteString(`,"artifacts":[`)
		for i := range artifacts {
			if i > 0 {
				buf.WriteByte(',')
			}
			ab, _ := json.Marshal(artifacts[i])
			buf.Write(ab)
		}
		buf.WriteByte(']')
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}
