package dag

import "github.com/zr-build/zr/internal/core"

// EdgesFromTasks derives the dependency edge set from each task's declared
// ParallelDependencies/SerialDependencies (core.Task.Dependencies), for
// configurations that express dependencies on the task rather than as a
// separate edge list. A dependency named D on task T produces Edge{From: D, To: T}.
//
// Duplicate edges are not removed here; NewTaskGraph deduplicates during
// canonicalization.
func EdgesFromTasks(tasks []core.Task) []Edge {
	edges := make([]Edge, 0, len(tasks))
	for _, t := range tasks {
		for _, dep := range t.Dependencies() {
			edges = append(edges, Edge{From: dep, To: t.Name})
		}
	}
	return edges
}
