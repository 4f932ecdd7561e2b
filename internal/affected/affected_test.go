package affected

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zr-build/zr/internal/workspace"
)

func TestDetect_LongestPrefixWins(t *testing.T) {
	members := []workspace.Member{
		{Name: "apps/web", Dir: "apps/web"},
		{Name: "apps/api", Dir: "apps/api"},
		{Name: "libs/core", Dir: "libs/core"},
	}

	got := Detect([]string{"libs/core/src/x.go", "apps/web/main.go"}, members)
	require.Equal(t, []string{"apps/web", "libs/core"}, got)
}

func TestDetect_IgnoresPathsOutsideMembers(t *testing.T) {
	members := []workspace.Member{{Name: "apps/web", Dir: "apps/web"}}
	got := Detect([]string{"README.md"}, members)
	require.Empty(t, got)
}

func TestExpandWithDependents_Scenario(t *testing.T) {
	members := []workspace.Member{
		{Name: "apps/web", Dependencies: []string{"libs/core"}},
		{Name: "apps/api", Dependencies: nil},
		{Name: "libs/core", Dependencies: nil},
	}
	g, err := workspace.BuildGraph(members)
	require.NoError(t, err)

	got := ExpandWithDependents([]string{"libs/core"}, g)
	require.Equal(t, []string{"apps/web", "libs/core"}, got)
	require.NotContains(t, got, "apps/api")
}
