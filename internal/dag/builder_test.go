package dag

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zr-build/zr/internal/core"
)

func TestGraphBuilder_IdempotentAddNodeAndEdge(t *testing.T) {
	b := NewGraphBuilder()
	b.AddNode(core.Task{Name: "a", Run: "true"})
	b.AddNode(core.Task{Name: "b", Run: "true"})
	b.AddEdge("a", "b")
	b.AddEdge("a", "b") // duplicate, no-op

	g, err := b.Build()
	require.NoError(t, err)
	require.Len(t, g.Edges(), 1)
	require.Equal(t, []string{"a", "b"}, g.TopologicalOrder())
}

func TestGraphBuilder_ReplacesNodeOnSecondAdd(t *testing.T) {
	b := NewGraphBuilder()
	b.AddNode(core.Task{Name: "a", Run: "false"})
	b.AddNode(core.Task{Name: "a", Run: "true"})

	g, err := b.Build()
	require.NoError(t, err)
	n, ok := g.Node("a")
	require.True(t, ok)
	require.Equal(t, "true", n.Task.Run)
}

func TestGraphBuilder_DerivesEdgesFromDependenciesWhenNoneAdded(t *testing.T) {
	b := NewGraphBuilder()
	b.AddNode(core.Task{Name: "a", Run: "true"})
	b.AddNode(core.Task{Name: "b", Run: "true", ParallelDependencies: []string{"a"}})

	g, err := b.Build()
	require.NoError(t, err)
	require.Equal(t, []Edge{{From: "a", To: "b"}}, g.Edges())
}

func TestGraphBuilder_RejectsCycle(t *testing.T) {
	b := NewGraphBuilder()
	b.AddNode(core.Task{Name: "a", Run: "true"})
	b.AddNode(core.Task{Name: "b", Run: "true"})
	b.AddEdge("a", "b")
	b.AddEdge("b", "a")

	_, err := b.Build()
	require.Error(t, err)
}
