// Package config decodes the on-disk project configuration into the
// Configuration value the rest of zr consumes.
//
// This package owns only decoding and structural validation of the
// document: it never imports cobra or viper (those live in cmd/zr), and it
// makes no assumption about how the caller discovered the configuration
// file's path or which profile/flags override it.
package config

import (
	"bytes"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/zr-build/zr/internal/core"
	"github.com/zr-build/zr/internal/dag"
)

// Stage is a named set of tasks run together as one scheduler invocation,
// with its own fail-fast policy.
type Stage struct {
	Name     string   `yaml:"name"`
	Tasks    []string `yaml:"tasks"`
	FailFast bool     `yaml:"fail_fast,omitempty"`
}

// Workflow is an ordered sequence of Stages.
type Workflow struct {
	Stages []Stage `yaml:"stages"`
}

// Workspace declares the glob patterns used to resolve member directories
// and the file that marks a directory as a member.
type Workspace struct {
	Members    []string `yaml:"members"`
	ConfigFile string   `yaml:"config_file,omitempty"`
}

// Profile overrides scheduling defaults for a named `--profile`.
type Profile struct {
	MaxJobs        int                 `yaml:"max_jobs,omitempty"`
	ResourceLimits core.ResourceLimits `yaml:"resource_limits,omitempty"`
}

// Configuration is the fully decoded project configuration: tasks,
// workflows, an optional workspace, optional global resource limits, and
// optional named profiles.
type Configuration struct {
	Tasks          map[string]core.Task `yaml:"tasks"`
	Workflows      map[string]Workflow  `yaml:"workflows,omitempty"`
	Workspace      *Workspace           `yaml:"workspace,omitempty"`
	ResourceLimits core.ResourceLimits  `yaml:"resource_limits,omitempty"`
	Profiles       map[string]Profile   `yaml:"profiles,omitempty"`
}

// Load decodes raw YAML bytes into a Configuration, rejecting unknown
// fields (the same determinism stance internal/cli's JSON graph loader
// takes) and validating basic structural invariants that don't require a
// DAG build (name consistency, non-empty stage task lists).
func Load(raw []byte) (Configuration, error) {
	var cfg Configuration
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Configuration{}, fmt.Errorf("parse configuration: %w", err)
	}

	for name, task := range cfg.Tasks {
		if task.Name == "" {
			task.Name = name
			cfg.Tasks[name] = task
		} else if task.Name != name {
			return Configuration{}, fmt.Errorf("task %q declares conflicting name %q", name, task.Name)
		}
	}

	for name, wf := range cfg.Workflows {
		if len(wf.Stages) == 0 {
			return Configuration{}, fmt.Errorf("workflow %q has no stages", name)
		}
		for i, s := range wf.Stages {
			if len(s.Tasks) == 0 {
				return Configuration{}, fmt.Errorf("workflow %q stage %d (%q) has no tasks", name, i, s.Name)
			}
			for _, t := range s.Tasks {
				if _, ok := cfg.Tasks[t]; !ok {
					return Configuration{}, fmt.Errorf("workflow %q stage %d references unknown task %q", name, i, t)
				}
			}
		}
	}

	if cfg.Workspace != nil && len(cfg.Workspace.Members) == 0 {
		return Configuration{}, fmt.Errorf("workspace declared with no members patterns")
	}

	return cfg, nil
}

// TaskNames returns the configuration's task names, sorted.
func (c Configuration) TaskNames() []string {
	names := make([]string, 0, len(c.Tasks))
	for n := range c.Tasks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// WorkflowNames returns the configuration's workflow names, sorted.
func (c Configuration) WorkflowNames() []string {
	names := make([]string, 0, len(c.Workflows))
	for n := range c.Workflows {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// BuildGraph assembles the full task DAG from c's declared tasks and their
// dependency declarations, via dag.GraphBuilder.
func (c Configuration) BuildGraph() (*dag.TaskGraph, error) {
	b := dag.NewGraphBuilder()
	for _, name := range c.TaskNames() {
		b.AddNode(c.Tasks[name])
	}
	return b.Build()
}

