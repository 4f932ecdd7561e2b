package dag

import "github.com/zr-build/zr/internal/core"

// GraphBuilder accumulates tasks and edges incrementally before finalizing
// them into an immutable TaskGraph. It exists so configuration loading can
// add nodes and edges one task/dependency at a time — mirroring how a
// config file is walked — without needing the whole task set collected
// up front the way NewTaskGraph requires.
//
// AddNode and AddEdge are idempotent: adding the same node or edge twice is
// a no-op rather than an error, so a loader can call AddEdge once per
// declared dependency without first checking whether the edge already
// exists from the reverse direction of another task's declaration.
type GraphBuilder struct {
	tasks    []core.Task
	taskSeen map[string]int // name -> index into tasks

	edges    []Edge
	edgeSeen map[Edge]struct{}
}

// NewGraphBuilder returns an empty builder.
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{
		taskSeen: make(map[string]int),
		edgeSeen: make(map[Edge]struct{}),
	}
}

// AddNode registers task, keyed by its Name. A later AddNode call for the
// same name replaces the earlier task definition rather than duplicating
// the node.
func (b *GraphBuilder) AddNode(task core.Task) *GraphBuilder {
	if idx, ok := b.taskSeen[task.Name]; ok {
		b.tasks[idx] = task
		return b
	}
	b.taskSeen[task.Name] = len(b.tasks)
	b.tasks = append(b.tasks, task)
	return b
}

// AddEdge registers a From -> To dependency edge. Both endpoints must be
// added via AddNode before Build; AddEdge itself does no validation, since
// that is NewTaskGraph's job.
func (b *GraphBuilder) AddEdge(from, to string) *GraphBuilder {
	e := Edge{From: from, To: to}
	if _, ok := b.edgeSeen[e]; ok {
		return b
	}
	b.edgeSeen[e] = struct{}{}
	b.edges = append(b.edges, e)
	return b
}

// Build finalizes the accumulated tasks and edges into a validated
// TaskGraph. If no edges were added explicitly, edges are derived from
// each task's declared dependencies via EdgesFromTasks.
func (b *GraphBuilder) Build() (*TaskGraph, error) {
	edges := b.edges
	if len(edges) == 0 {
		edges = EdgesFromTasks(b.tasks)
	}
	return NewTaskGraph(b.tasks, edges)
}
