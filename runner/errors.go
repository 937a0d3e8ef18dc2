package runner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ridoystarlord/schemadeploy/diff"
	"github.com/ridoystarlord/schemadeploy/introspect"
)

var (
	ErrAlreadyApplied = errors.New("AlreadyApplied: migration has already been applied")
	// ErrAlreadyRecorded is returned for a migration id that ended unsuccessfully.
	ErrAlreadyRecorded = errors.New("migration id already recorded")
	ErrStaleBaseline   = errors.New("StaleBaseline: project schema changed since the migration was planned")
)

// ExecutionError is a failure while applying the steps. StepIndex is -1 when
// the failure is not attributable to one step.
type ExecutionError struct {
	StepIndex int
	Step      diff.Step
	Statement string
	Err       error
}

func (e *ExecutionError) Error() string {
	if e.StepIndex < 0 {
		return fmt.Sprintf("ExecutionError: %v", e.Err)
	}
	return fmt.Sprintf("ExecutionError: step %d (%s) failed: %v", e.StepIndex+1, e.Step, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// ConsistencyError reports that the database does not match the desired
// schema after the steps were applied.
type ConsistencyError struct {
	Mismatches []introspect.Mismatch
}

func (e *ConsistencyError) Error() string {
	parts := make([]string, len(e.Mismatches))
	for i, m := range e.Mismatches {
		parts[i] = m.String()
	}
	return "ConsistencyError: " + strings.Join(parts, "; ")
}
