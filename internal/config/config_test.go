package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_TasksAndWorkflow(t *testing.T) {
	raw := []byte(`
tasks:
  build:
    inputs: ["src/**"]
    run: "go build ./..."
  test:
    inputs: ["src/**"]
    run: "go test ./..."
    parallel_dependencies: ["build"]
workflows:
  ci:
    stages:
      - name: verify
        tasks: ["build", "test"]
        fail_fast: true
`)
	cfg, err := Load(raw)
	require.NoError(t, err)
	require.Equal(t, []string{"build", "test"}, cfg.TaskNames())
	require.Equal(t, "build", cfg.Tasks["build"].Name)
	require.Equal(t, []string{"ci"}, cfg.WorkflowNames())
	require.True(t, cfg.Workflows["ci"].Stages[0].FailFast)
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	raw := []byte(`
tasks:
  build:
    run: "true"
    bogus_field: 1
`)
	_, err := Load(raw)
	require.Error(t, err)
}

func TestLoad_RejectsWorkflowReferencingUnknownTask(t *testing.T) {
	raw := []byte(`
tasks:
  build:
    run: "true"
workflows:
  ci:
    stages:
      - name: verify
        tasks: ["missing"]
`)
	_, err := Load(raw)
	require.Error(t, err)
}

func TestLoad_RejectsWorkspaceWithNoMembers(t *testing.T) {
	raw := []byte(`
tasks:
  build:
    run: "true"
workspace:
  members: []
`)
	_, err := Load(raw)
	require.Error(t, err)
}

func TestConfiguration_BuildGraph(t *testing.T) {
	raw := []byte(`
tasks:
  a:
    run: "true"
  b:
    run: "true"
    parallel_dependencies: ["a"]
`)
	cfg, err := Load(raw)
	require.NoError(t, err)
	g, err := cfg.BuildGraph()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, g.TopologicalOrder())
}
