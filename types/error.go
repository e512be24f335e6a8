package types

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/juju/errors"
)

var (
	_ error = &StructuralError{}
	_ error = &ActivationError{}
	_ error = &UnresolvedInputError{}
	_ error = &ExecutionError{}
	_ error = &TimeoutError{}
	_ error = &CancellationError{}
)

// Error codes attached to node failures. ExecutionError carries an
// arbitrary runner-supplied code; these are the engine's own.
const (
	CodeInternal        = "internal"
	CodeUnresolvedInput = "unresolved_input"
	CodeTimeout         = "timeout"
	CodeCancelled       = "cancelled"
	CodeNoTransition    = "no_transition"
	CodeSubprocess      = "subprocess_failed"
)

func newBaseErr(otherErr error) *baseError {
	return &baseError{unwrapErr(otherErr)}
}

func unwrapErr(err error) error {
	if err == nil {
		return nil
	}
	if ue, ok := err.(wrappedErr); ok {
		return unwrapErr(ue.UnwrapLocal())
	}
	return err
}

// Unwrap strips annotation layers down to the typed engine error, or
// nil when the chain carries none.
func Unwrap(err error) error {
	for err != nil {
		switch err.(type) {
		case *StructuralError, *ActivationError, *UnresolvedInputError,
			*ExecutionError, *TimeoutError, *CancellationError:
			return err
		}
		err = errors.Unwrap(err)
	}
	return nil
}

type wrappedErr interface {
	UnwrapLocal() error
}

type baseError struct {
	BaseErr error
}

func (e *baseError) Error() string {
	return e.BaseErr.Error()
}

func (e *baseError) UnwrapLocal() error {
	return e.BaseErr
}

/**
 * StructuralError rejects a malformed graph at create/update time. The
 * offending node/transition ids are listed so callers can point at them.
 */
type StructuralError struct {
	*baseError
	IDs []string
}

func NewStructuralError(ids []string, format string, args ...interface{}) error {
	return &StructuralError{baseError: newBaseErr(errors.Errorf(format, args...)), IDs: ids}
}

// ActivationError rejects DRAFT -> ACTIVE. Unreachable lists nodes no
// path from START visits; MissingDefault lists DECISION nodes without a
// condition-less outgoing transition.
type ActivationError struct {
	*baseError
	Unreachable    []string
	MissingDefault []string
}

func NewActivationError(unreachable, missingDefault []string) error {
	parts := make([]string, 0, 2)
	if len(unreachable) > 0 {
		parts = append(parts, "unreachable nodes: "+strings.Join(unreachable, ", "))
	}
	if len(missingDefault) > 0 {
		parts = append(parts, "decision nodes without default transition: "+strings.Join(missingDefault, ", "))
	}
	return &ActivationError{
		baseError:      newBaseErr(errors.New(strings.Join(parts, "; "))),
		Unreachable:    unreachable,
		MissingDefault: missingDefault,
	}
}

// UnresolvedInputError marks an input mapping whose source node has not
// produced the named output yet. Always a retryable node failure.
type UnresolvedInputError struct {
	*baseError
	NodeID       string
	Target       string
	SourceNode   string
	SourceOutput string
}

func NewUnresolvedInputError(nodeID string, m InputMapping) error {
	return &UnresolvedInputError{
		baseError: newBaseErr(errors.Errorf(
			"node %s input %q: output %q of node %s not available",
			nodeID, m.Target, m.SourceOutput, m.SourceNode)),
		NodeID:       nodeID,
		Target:       m.Target,
		SourceNode:   m.SourceNode,
		SourceOutput: m.SourceOutput,
	}
}

// ExecutionError is a task runner or node-internal failure. Retryable
// iff Code is in the node's retry allowlist.
type ExecutionError struct {
	*baseError
	Code string
}

func NewExecutionError(code string, otherErr error) error {
	return &ExecutionError{baseError: newBaseErr(otherErr), Code: code}
}

func NewExecutionErrorf(code string, format string, args ...interface{}) error {
	return NewExecutionError(code, errors.Errorf(format, args...))
}

// TimeoutError is a node- or sequence-level deadline overrun. Node
// scoped timeouts retry only when the policy opts in; sequence scoped
// ones are always terminal.
type TimeoutError struct {
	*baseError
	NodeID string
	// Sequence marks a sequence-level timeout overriding node states.
	Sequence bool
}

func NewNodeTimeoutError(nodeID string) error {
	return &TimeoutError{baseError: newBaseErr(errors.Errorf("node %s timed out", nodeID)), NodeID: nodeID}
}

func NewSequenceTimeoutError() error {
	return &TimeoutError{baseError: newBaseErr(errors.New("sequence timed out")), Sequence: true}
}

// CancellationError is operator initiated, always terminal.
type CancellationError struct {
	*baseError
}

func NewCancellationError() error {
	return &CancellationError{baseError: newBaseErr(errors.New("execution cancelled"))}
}

// ErrorCode maps an error to the code retry allowlists match against.
func ErrorCode(err error) string {
	switch e := Unwrap(err).(type) {
	case *ExecutionError:
		return e.Code
	case *UnresolvedInputError:
		return CodeUnresolvedInput
	case *TimeoutError:
		return CodeTimeout
	case *CancellationError:
		return CodeCancelled
	default:
		// a task runner that honors its context deadline typically
		// surfaces the overrun as the raw context error
		if stderrors.Is(err, context.DeadlineExceeded) {
			return CodeTimeout
		}
		return CodeInternal
	}
}
