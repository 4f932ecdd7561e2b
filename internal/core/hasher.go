// Package core defines the domain models for deterministic task execution.
package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"runtime"
	"sort"
)

// TaskHash represents a deterministic identifier for a task execution.
//
// It is derived from the command, the working directory identity, the
// declared environment variables, the resolved inputs and the platform tag
// (see TaskHasher.ComputeHash). Declared outputs and timestamps do not
// contribute.
//
// From spec.md Cache Key Definition:
//
//	Any change to these components MUST produce a different Task Hash.
type TaskHash string

// TaskHasher computes deterministic hashes for task executions.
//
// The hash computation is designed to be:
//   - Deterministic: identical inputs always produce identical hashes
//   - Content-based: uses file contents, not metadata
//   - Ordered: all components are sorted before hashing
type TaskHasher struct{}

// NewTaskHasher creates a new TaskHasher.
func NewTaskHasher() *TaskHasher {
	return &TaskHasher{}
}

// HashInput contains the fingerprint sources for computing a Task Hash.
//
// Outputs is retained on the struct for callers that want to carry it
// alongside a hash computation, but it does not contribute to the digest
// (see ComputeHash).
type HashInput struct {
	// Inputs is the resolved InputSet (already sorted by InputResolver).
	Inputs *InputSet

	// Command is the task's run command string.
	Command string

	// Env is the map of explicit environment variables.
	// Only these variables are visible to the task.
	Env map[string]string

	// Outputs is the list of declared output paths. Not hashed.
	Outputs []string

	// WorkingDir is the working directory identity.
	// This is included to ensure tasks with different working directories
	// produce different hashes even with identical other inputs.
	WorkingDir string
}

// ComputeHash computes a deterministic TaskHash (the Fingerprinter digest)
// from the given inputs.
//
// Components are concatenated, length-prefixed, in this fixed order to
// prevent collisions:
//  1. Command string.
//  2. Working directory (canonicalized identity).
//  3. Each (key, value) of the declared environment, sorted by key.
//  4. Each resolved input: path, length, and content hash — or, for a
//     declared-but-missing input, a distinguished "<missing:path>" marker
//     in place of the content hash, so lookups deterministically miss
//     until the file appears.
//  5. The platform tag (runtime.GOOS-runtime.GOARCH).
//
// Declared outputs do not contribute to the fingerprint: two tasks with
// identical fingerprint sources and different declared outputs are the
// same unit of work for cache purposes.
func (h *TaskHasher) ComputeHash(input HashInput) TaskHash {
	hasher := sha256.New()

	writeField := func(data []byte) {
		length := uint64(len(data))
		lengthBytes := []byte{
			byte(length >> 56),
			byte(length >> 48),
			byte(length >> 40),
			byte(length >> 32),
			byte(length >> 24),
			byte(length >> 16),
			byte(length >> 8),
			byte(length),
		}
		hasher.Write(lengthBytes)
		hasher.Write(data)
	}

	// 1. Command string.
	writeField([]byte(input.Command))

	// 2. Working directory identity.
	writeField([]byte(input.WorkingDir))

	// 3. Environment variables - MUST be sorted for determinism.
	envKeys := make([]string, 0, len(input.Env))
	for k := range input.Env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)

	writeField([]byte{byte(len(envKeys))})
	for _, k := range envKeys {
		writeField([]byte(k))
		writeField([]byte(input.Env[k]))
	}

	// 4. Inputs - path and content digest for each (already sorted by InputResolver).
	inputCount := 0
	if input.Inputs != nil {
		inputCount = len(input.Inputs.Inputs)
	}
	writeField([]byte{byte(inputCount)})

	if input.Inputs != nil {
		for _, inp := range input.Inputs.Inputs {
			writeField([]byte(inp.Path))
			if inp.Missing {
				writeField([]byte(fmt.Sprintf("<missing:%s>", inp.Path)))
				continue
			}
			sum := sha256.Sum256(inp.Content)
			writeField(sum[:])
		}
	}

	// 5. Platform tag.
	writeField([]byte(runtime.GOOS + "-" + runtime.GOARCH))

	sum := hasher.Sum(nil)
	return TaskHash(hex.EncodeToString(sum))
}

// String returns the string representation of the TaskHash.
func (t TaskHash) String() string {
	return string(t)
}
