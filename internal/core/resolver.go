// Package core defines the domain models for deterministic task execution.
package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// InputResolver resolves declared input patterns to a deterministic InputSet.
//
// Input files are read by content. Glob expansion is strictly sorted, and
// file ordering is stable across runs and machines. When a pattern names a
// directory, it is recursed depth-first in sorted order; symlinks are not
// followed.
type InputResolver struct {
	// BaseDir is the working directory for resolving relative paths.
	// All paths are resolved relative to this directory.
	BaseDir string
}

// NewInputResolver creates a new InputResolver with the given base directory.
func NewInputResolver(baseDir string) *InputResolver {
	return &InputResolver{BaseDir: baseDir}
}

// Resolve expands all input patterns and returns a deterministic InputSet.
//
// The resolution process:
//  1. Each pattern is expanded using filepath.Glob; non-glob patterns that
//     don't match anything are treated as literal paths (possibly missing).
//  2. Matched directories are recursed depth-first in sorted order.
//  3. Paths are normalized to forward slashes, deduplicated, and sorted.
//  4. File contents are read; a declared-but-absent path is recorded as a
//     Missing input rather than causing resolution to fail.
func (r *InputResolver) Resolve(patterns []string) (*InputSet, error) {
	if len(patterns) == 0 {
		return &InputSet{Inputs: []Input{}}, nil
	}

	pathSet := make(map[string]struct{})
	missingSet := make(map[string]struct{})

	for _, pattern := range patterns {
		expanded, missing, err := r.expandPattern(pattern)
		if err != nil {
			return nil, fmt.Errorf("expanding pattern %q: %w", pattern, err)
		}
		for _, p := range expanded {
			pathSet[p] = struct{}{}
		}
		for _, p := range missing {
			missingSet[p] = struct{}{}
		}
	}

	paths := make([]string, 0, len(pathSet)+len(missingSet))
	for p := range pathSet {
		paths = append(paths, p)
	}
	for p := range missingSet {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	inputs := make([]Input, 0, len(paths))
	for _, path := range paths {
		if _, ok := missingSet[path]; ok {
			inputs = append(inputs, Input{Path: path, Missing: true})
			continue
		}
		content, err := r.readFileContent(path)
		if err != nil {
			return nil, fmt.Errorf("reading input %q: %w", path, err)
		}
		inputs = append(inputs, Input{Path: path, Content: content})
	}

	return &InputSet{Inputs: inputs}, nil
}

// expandPattern expands a single glob pattern into a sorted list of file
// paths, recursing into any matched directory. If the pattern contains no
// glob characters and names nothing on disk, it is returned as a missing
// literal path rather than an error.
func (r *InputResolver) expandPattern(pattern string) (found []string, missing []string, err error) {
	fullPattern := pattern
	if !filepath.IsAbs(pattern) {
		fullPattern = filepath.Join(r.BaseDir, pattern)
	}

	matches, err := filepath.Glob(fullPattern)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid glob pattern: %w", err)
	}

	if len(matches) == 0 && !containsGlobChar(pattern) {
		if _, statErr := os.Lstat(fullPattern); statErr == nil {
			matches = []string{fullPattern}
		} else {
			return nil, []string{filepath.ToSlash(fullPattern)}, nil
		}
	}

	for _, match := range matches {
		info, statErr := os.Lstat(match)
		if statErr != nil {
			return nil, nil, fmt.Errorf("stat %q: %w", match, statErr)
		}
		if info.IsDir() {
			entries, walkErr := r.walkDirSorted(match)
			if walkErr != nil {
				return nil, nil, walkErr
			}
			found = append(found, entries...)
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			continue
		}
		found = append(found, filepath.ToSlash(match))
	}

	return found, nil, nil
}

// walkDirSorted recurses into dir depth-first, visiting entries in sorted
// order at each level and skipping symlinks.
func (r *InputResolver) walkDirSorted(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	byName := make(map[string]os.DirEntry, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
		byName[e.Name()] = e
	}
	sort.Strings(names)

	var out []string
	for _, name := range names {
		entry := byName[name]
		full := filepath.Join(dir, name)
		if entry.Type()&os.ModeSymlink != 0 {
			continue
		}
		if entry.IsDir() {
			nested, err := r.walkDirSorted(full)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
			continue
		}
		out = append(out, filepath.ToSlash(full))
	}
	return out, nil
}

// readFileContent reads the content of a file.
// Only content is read; metadata (mtime, permissions) is ignored for determinism.
func (r *InputResolver) readFileContent(path string) ([]byte, error) {
	osPath := filepath.FromSlash(path)
	content, err := os.ReadFile(osPath)
	if err != nil {
		return nil, err
	}
	return content, nil
}

// containsGlobChar returns true if the pattern contains glob special characters.
func containsGlobChar(pattern string) bool {
	for _, c := range pattern {
		switch c {
		case '*', '?', '[', ']':
			return true
		}
	}
	return false
}
