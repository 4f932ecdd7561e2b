// Package workspace resolves `[workspace] members = ["pattern", ...]` glob
// patterns into a deterministic member_dependencies DAG.
//
// This is distinct from internal/statedir's reserved per-project state
// directory: that package owns zr's own cache/run/log layout, while this
// package owns the user's workspace — the set of project directories a
// multi-member configuration spans and how those projects depend on each
// other.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/zr-build/zr/internal/core"
	"github.com/zr-build/zr/internal/dag"
)

// Member is a single resolved workspace member: a directory containing the
// project's configuration file, plus the dependency names it declares on
// other members.
type Member struct {
	// Name is the member's stable identity. It is the member directory's
	// path relative to the workspace root, using forward slashes.
	Name string

	// Dir is the member directory's path relative to the workspace root.
	// Currently always equal to Name; kept distinct so a future member
	// naming scheme (e.g. package.json "name" field) doesn't require an
	// API change.
	Dir string

	// Dependencies lists the names of other members this member declares
	// member_dependencies on.
	Dependencies []string
}

// ResolveMembers enumerates directories under root that match one of
// patterns (glob segments support * and ?) and contain configFile.
// Non-matching directories, and matching directories missing configFile,
// are silently ignored. The returned members are sorted by Name.
func ResolveMembers(root string, patterns []string, configFile string) ([]Member, error) {
	seen := make(map[string]struct{})
	names := make([]string, 0)

	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(root, pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid workspace member pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || !info.IsDir() {
				continue
			}
			if _, err := os.Stat(filepath.Join(m, configFile)); err != nil {
				continue
			}
			rel, err := filepath.Rel(root, m)
			if err != nil {
				return nil, fmt.Errorf("resolving member path %q: %w", m, err)
			}
			rel = filepath.ToSlash(rel)
			if _, dup := seen[rel]; dup {
				continue
			}
			seen[rel] = struct{}{}
			names = append(names, rel)
		}
	}
	sort.Strings(names)

	members := make([]Member, 0, len(names))
	for _, name := range names {
		deps, err := loadMemberDependencies(filepath.Join(root, filepath.FromSlash(name), configFile))
		if err != nil {
			return nil, fmt.Errorf("reading member dependencies for %q: %w", name, err)
		}
		members = append(members, Member{Name: name, Dir: name, Dependencies: deps})
	}
	return members, nil
}

// loadMemberDependencies returns no dependencies for any member: this
// package does not import internal/config and does not read member
// configuration files, so members from ResolveMembers have no Dependencies.
// Callers with a parsed Configuration build Members themselves and pass them
// to BuildGraph.
var loadMemberDependencies = func(path string) ([]string, error) {
	return nil, nil
}

// Graph is the resolved workspace member dependency DAG.
type Graph struct {
	Members []Member

	byName   map[string]Member
	outgoing map[string][]string // member -> members that depend on it
	incoming map[string][]string // member -> members it depends on
}

// BuildGraph validates members' declared dependencies (rejecting unknown
// members and cycles, reusing internal/dag's cycle detector) and builds the
// reverse-reachability index expand_with_dependents needs.
func BuildGraph(members []Member) (*Graph, error) {
	tasks := make([]core.Task, 0, len(members))
	byName := make(map[string]Member, len(members))
	for _, m := range members {
		tasks = append(tasks, core.Task{Name: m.Name})
		byName[m.Name] = m
	}

	edges := make([]dag.Edge, 0)
	incoming := make(map[string][]string, len(members))
	outgoing := make(map[string][]string, len(members))
	for _, m := range members {
		for _, dep := range m.Dependencies {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("member %q declares dependency on unknown member %q", m.Name, dep)
			}
			edges = append(edges, dag.Edge{From: dep, To: m.Name})
			incoming[m.Name] = append(incoming[m.Name], dep)
			outgoing[dep] = append(outgoing[dep], m.Name)
		}
	}

	if len(tasks) > 0 {
		if _, err := dag.NewTaskGraph(tasks, edges); err != nil {
			return nil, fmt.Errorf("building workspace graph: %w", err)
		}
	}

	for k := range incoming {
		sort.Strings(incoming[k])
	}
	for k := range outgoing {
		sort.Strings(outgoing[k])
	}

	return &Graph{Members: members, byName: byName, outgoing: outgoing, incoming: incoming}, nil
}

// Dependents returns the members that directly declare a dependency on
// name, sorted.
func (g *Graph) Dependents(name string) []string {
	return append([]string(nil), g.outgoing[name]...)
}

// TransitiveDependents returns every member whose transitive
// member_dependencies chain reaches name (reverse reachability), sorted and
// excluding name itself.
func (g *Graph) TransitiveDependents(name string) []string {
	visited := map[string]struct{}{name: {}}
	queue := append([]string(nil), g.outgoing[name]...)
	out := make([]string, 0)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, ok := visited[cur]; ok {
			continue
		}
		visited[cur] = struct{}{}
		out = append(out, cur)
		queue = append(queue, g.outgoing[cur]...)
	}
	sort.Strings(out)
	return out
}

// Member looks up a resolved member by name.
func (g *Graph) Member(name string) (Member, bool) {
	m, ok := g.byName[name]
	return m, ok
}
