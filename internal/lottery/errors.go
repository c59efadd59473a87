package lottery

import (
	"fmt"

	"github.com/jswmusik/jobbeli/internal/store"
)

var (
	// ErrNotFound is returned when a group or run does not exist.
	ErrNotFound = store.ErrNotFound
	// ErrRunInProgress is returned when the group already has a RUNNING run.
	// No run is created in that case.
	ErrRunInProgress = store.ErrRunInProgress
)

// ValidationError wraps a user-facing validation message.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

// RunFailedError is returned by RunLottery when a run was started but ended
// FAILED. The run record exists and carries Err as its error message.
type RunFailedError struct {
	RunID string
	Err   error
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("lottery run %s failed: %v", e.RunID, e.Err)
}

func (e *RunFailedError) Unwrap() error { return e.Err }
