package deploy

import (
	"errors"

	"github.com/ridoystarlord/schemadeploy/diff"
	"github.com/ridoystarlord/schemadeploy/lock"
	"github.com/ridoystarlord/schemadeploy/runner"
	"github.com/ridoystarlord/schemadeploy/validator"
)

type FailureKind string

const (
	KindUnsupportedCapability FailureKind = "UnsupportedCapability"
	KindDataConflict          FailureKind = "DataConflict"
	KindLockTimeout           FailureKind = "LockTimeout"
	KindExecution             FailureKind = "ExecutionError"
	KindConsistency           FailureKind = "ConsistencyError"
	KindAlreadyApplied        FailureKind = "AlreadyApplied"
	KindStaleBaseline         FailureKind = "StaleBaseline"
	KindInternal              FailureKind = "InternalError"
)

// Failure is one typed error of a deploy. Kind is a FailureKind or one of
// the diff error kinds; Violation details DataConflict failures.
type Failure struct {
	Kind      FailureKind `json:"kind"`
	Violation string      `json:"violation,omitempty"`
	Model     string      `json:"model,omitempty"`
	Field     string      `json:"field,omitempty"`
	Relation  string      `json:"relation,omitempty"`
	Enum      string      `json:"enum,omitempty"`
	Step      *int        `json:"step,omitempty"`
	Message   string      `json:"message"`
}

// Failures flattens err into typed failures, one per reported problem.
func Failures(err error) []Failure {
	if err == nil {
		return nil
	}

	var diffErr *diff.Error
	var capErr *diff.CapabilityError
	var conflicts validator.Conflicts
	var execErr *runner.ExecutionError
	var consistency *runner.ConsistencyError

	switch {
	case errors.As(err, &diffErr):
		out := make([]Failure, len(diffErr.Problems))
		for i, p := range diffErr.Problems {
			out[i] = Failure{
				Kind:     FailureKind(diffErr.Kind),
				Model:    p.Model,
				Field:    p.Field,
				Relation: p.Relation,
				Enum:     p.Enum,
				Message:  p.Message,
			}
		}
		return out
	case errors.As(err, &capErr):
		out := make([]Failure, len(capErr.Missing))
		for i, m := range capErr.Missing {
			out[i] = Failure{
				Kind:    KindUnsupportedCapability,
				Model:   m.Model,
				Message: "id type " + string(m.IDType) + " requires capability " + string(m.Capability),
			}
		}
		return out
	case errors.As(err, &conflicts):
		out := make([]Failure, len(conflicts))
		for i, c := range conflicts {
			step := c.Step
			out[i] = Failure{
				Kind:      KindDataConflict,
				Violation: string(c.Kind),
				Model:     c.Model,
				Field:     c.Field,
				Relation:  c.Relation,
				Enum:      c.Enum,
				Step:      &step,
				Message:   c.Message,
			}
		}
		return out
	case errors.As(err, &execErr):
		f := Failure{
			Kind:     KindExecution,
			Model:    execErr.Step.Model,
			Field:    execErr.Step.Field,
			Relation: execErr.Step.Relation,
			Enum:     execErr.Step.Enum,
			Message:  execErr.Error(),
		}
		if execErr.StepIndex >= 0 {
			step := execErr.StepIndex
			f.Step = &step
		}
		return []Failure{f}
	case errors.As(err, &consistency):
		out := make([]Failure, len(consistency.Mismatches))
		for i, m := range consistency.Mismatches {
			out[i] = Failure{Kind: KindConsistency, Model: m.Table, Field: m.Column, Message: m.Message}
		}
		return out
	case errors.Is(err, lock.ErrTimeout):
		return []Failure{{Kind: KindLockTimeout, Message: err.Error()}}
	case errors.Is(err, runner.ErrAlreadyApplied):
		return []Failure{{Kind: KindAlreadyApplied, Message: err.Error()}}
	case errors.Is(err, runner.ErrStaleBaseline):
		return []Failure{{Kind: KindStaleBaseline, Message: err.Error()}}
	}
	return []Failure{{Kind: KindInternal, Message: err.Error()}}
}
