package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/zr-build/zr/internal/dag"
	"github.com/zr-build/zr/internal/incremental"
)

func newGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Inspect the task dependency graph",
	}
	cmd.AddCommand(newGraphShowCmd(), newGraphDiffCmd())
	return cmd
}

func newGraphShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the full task graph's topological order (and, with --format json, its edges)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp()
			if err := a.load(); err != nil {
				return err
			}
			g, err := a.Config.BuildGraph()
			if err != nil {
				return err
			}
			if a.Format == "json" {
				enc := json.NewEncoder(os.Stdout)
				return enc.Encode(struct {
					Hash  string      `json:"hash"`
					Order []string    `json:"order"`
					Edges []dag.Edge  `json:"edges"`
				}{Hash: g.Hash().String(), Order: g.TopologicalOrder(), Edges: g.Edges()})
			}
			fmt.Printf("graph %s\n", g.Hash().String())
			for _, n := range g.TopologicalOrder() {
				fmt.Println(" ", n)
			}
			return nil
		},
	}
}

// graphSnapshotPath is where `graph diff` persists the current graph's
// snapshot (unless --record=false), so a later `graph diff` has something to
// compare against.
func graphSnapshotPath(a *app) (string, error) {
	sd, err := a.stateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(sd.Dir, "graph-snapshot.json"), nil
}

func snapshotGraph(g *dag.TaskGraph) *incremental.GraphSnapshot {
	upstream := make(map[string][]string)
	for _, e := range g.Edges() {
		upstream[e.To] = append(upstream[e.To], e.From)
	}
	nodes := make(map[string]incremental.NodeSnapshot, len(g.Nodes()))
	for _, n := range g.Nodes() {
		up := append([]string(nil), upstream[n.Name]...)
		sort.Strings(up)
		nodes[n.Name] = incremental.NodeSnapshot{
			Name:           n.Name,
			TaskHash:       string(n.DefinitionHash),
			DeclaredInputs: n.Task.Inputs,
			Env:            n.Task.Env,
			Command:        n.Task.Run,
			Outputs:        n.Task.Outputs,
			Upstream:       up,
		}
	}
	return &incremental.GraphSnapshot{Nodes: nodes}
}

func loadSnapshot(path string) (*incremental.GraphSnapshot, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &incremental.GraphSnapshot{Nodes: map[string]incremental.NodeSnapshot{}}, nil
	}
	if err != nil {
		return nil, err
	}
	var snap incremental.GraphSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("parse graph snapshot %s: %w", path, err)
	}
	return &snap, nil
}

func saveSnapshot(path string, snap *incremental.GraphSnapshot) error {
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

func newGraphDiffCmd() *cobra.Command {
	var record bool
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Compare the current graph against the graph recorded by a previous `graph diff`",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp()
			if err := a.load(); err != nil {
				return err
			}
			g, err := a.Config.BuildGraph()
			if err != nil {
				return err
			}
			path, err := graphSnapshotPath(a)
			if err != nil {
				return err
			}
			prev, err := loadSnapshot(path)
			if err != nil {
				return err
			}
			current := snapshotGraph(g)
			delta := incremental.CalculateGraphDelta(prev, current)

			if a.Format == "json" {
				enc := json.NewEncoder(os.Stdout)
				if err := enc.Encode(delta); err != nil {
					return err
				}
			} else {
				fmt.Println("added:", delta.AddedNodes)
				fmt.Println("removed:", delta.RemovedNodes)
				fmt.Println("modified:", delta.ModifiedNodes)
			}

			if record {
				return saveSnapshot(path, current)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&record, "record", true, "persist the current graph as the new comparison baseline")
	return cmd
}
