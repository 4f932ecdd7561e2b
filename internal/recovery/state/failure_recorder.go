package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FailureRecorder writes failure.json artifacts for runs: callers provide
// Run metadata and the triggering error, and it classifies the error into
// the four-class failure taxonomy (graph/workspace/execution/system) and
// persists it via Store.
type FailureRecorder struct {
	Store *Store
}

// NewRunID returns a fresh run identifier. Run IDs are purely operational —
// nothing downstream parses their structure — so a random UUIDv4 is enough.
func (r *FailureRecorder) NewRunID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (r *FailureRecorder) StartRun(run Run) error {
	if r == nil || r.Store == nil {
		return errors.New("Store is required")
	}
	if run.StartTime.IsZero() {
		run.StartTime = time.Now().UTC()
	}
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	return r.Store.SaveRun(run)
}

func (r *FailureRecorder) RecordFailure(runID string, err error) error {
	if r == nil || r.Store == nil {
		return errors.New("Store is required")
	}
	f, ferr := failureFromError(err)
	if ferr != nil {
		return ferr
	}
	return r.Store.SaveFailure(runID, f)
}
