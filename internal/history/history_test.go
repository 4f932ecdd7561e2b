package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppendAndReadAll_PreservesOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.log")

	r1 := Record{Timestamp: time.Unix(1, 0).UTC(), TaskName: "build", Success: true, DurationMS: 120, TaskCount: 3, RetryCount: 0}
	r2 := Record{Timestamp: time.Unix(2, 0).UTC(), TaskName: "test", Success: false, DurationMS: 80, TaskCount: 1, RetryCount: 1}

	require.NoError(t, Append(path, r1))
	require.NoError(t, Append(path, r2))

	records, err := ReadAll(path)
	require.NoError(t, err)
	require.Equal(t, []Record{r1, r2}, records)
}

func TestReadAll_MissingFileReturnsEmpty(t *testing.T) {
	records, err := ReadAll(filepath.Join(t.TempDir(), "missing.log"))
	require.NoError(t, err)
	require.Empty(t, records)
}
