// Package affected implements the Affected Detector: restricting a
// workspace's task graph to the members touched by a change, by diffing
// against the local source-control tool and expanding through the
// workspace's member_dependencies graph.
package affected

import (
	"context"
	"os/exec"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/zr-build/zr/internal/workspace"
)

// ChangedPaths shells out to `git diff --name-only <baseRef>...HEAD` in
// repoRoot, returning the changed paths relative to repoRoot.
//
// Grounded on the teacher fork's graphdelta/invalidation machinery's
// "diff two snapshots, derive a deterministic changed set" shape, adapted
// here to diff the working tree via the local source-control tool instead
// of two in-memory graph snapshots.
func ChangedPaths(ctx context.Context, repoRoot, baseRef string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "diff", "--name-only", baseRef+"...HEAD")
	cmd.Dir = repoRoot
	out, err := cmd.Output()
	if err != nil {
		return nil, errors.Wrapf(err, "git diff --name-only %s...HEAD", baseRef)
	}

	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	paths := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			paths = append(paths, l)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Detect maps changedPaths to the workspace members they directly touch:
// for each changed path, the member whose directory is the longest
// matching prefix is marked affected. A path outside every member
// directory contributes nothing.
func Detect(changedPaths []string, members []workspace.Member) []string {
	affected := make(map[string]struct{})
	for _, path := range changedPaths {
		best := ""
		for _, m := range members {
			prefix := m.Dir + "/"
			if path == m.Dir || strings.HasPrefix(path, prefix) {
				if len(m.Dir) > len(best) {
					best = m.Dir
				}
			}
		}
		if best != "" {
			affected[best] = struct{}{}
		}
	}

	out := make([]string, 0, len(affected))
	for name := range affected {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ExpandWithDependents includes every member whose transitive
// member_dependencies chain reaches a member already in set (reverse
// reachability over the workspace graph), per spec scenario: a change to a
// dependency also affects everything that depends on it.
func ExpandWithDependents(set []string, graph *workspace.Graph) []string {
	expanded := make(map[string]struct{}, len(set))
	for _, name := range set {
		expanded[name] = struct{}{}
		for _, dependent := range graph.TransitiveDependents(name) {
			expanded[dependent] = struct{}{}
		}
	}

	out := make([]string, 0, len(expanded))
	for name := range expanded {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
