package types

import (
	"context"
)

// SequenceStatus is the lifecycle state of a TaskSequence definition.
type SequenceStatus int32

const (
	SequenceDraft      SequenceStatus = 1
	SequenceActive     SequenceStatus = 2
	SequenceDeprecated SequenceStatus = 3
	SequenceArchived   SequenceStatus = 4
)

func (s SequenceStatus) String() string {
	switch s {
	case SequenceDraft:
		return "DRAFT"
	case SequenceActive:
		return "ACTIVE"
	case SequenceDeprecated:
		return "DEPRECATED"
	case SequenceArchived:
		return "ARCHIVED"
	}
	return "UNKNOWN"
}

// ExecutionStatus is the state of one SequenceExecution instance.
type ExecutionStatus int32

const (
	ExecutionNone      ExecutionStatus = 0
	ExecutionPending   ExecutionStatus = 1
	ExecutionRunning   ExecutionStatus = 2
	ExecutionWaiting   ExecutionStatus = 3
	ExecutionSucceeded ExecutionStatus = 10
	ExecutionFailed    ExecutionStatus = 11
	ExecutionCancelled ExecutionStatus = 12
	ExecutionTimedOut  ExecutionStatus = 13
)

func (s ExecutionStatus) String() string {
	switch s {
	case ExecutionPending:
		return "PENDING"
	case ExecutionRunning:
		return "RUNNING"
	case ExecutionWaiting:
		return "WAITING"
	case ExecutionSucceeded:
		return "SUCCEEDED"
	case ExecutionFailed:
		return "FAILED"
	case ExecutionCancelled:
		return "CANCELLED"
	case ExecutionTimedOut:
		return "TIMED_OUT"
	}
	return "UNKNOWN"
}

// Terminal reports whether the execution can never change status again.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionSucceeded || s == ExecutionFailed ||
		s == ExecutionCancelled || s == ExecutionTimedOut
}

// NodeStatus is the state of one node within one execution.
type NodeStatus int32

const (
	NodeNone      NodeStatus = 0
	NodePending   NodeStatus = 1
	NodeRunning   NodeStatus = 2
	NodeRetryWait NodeStatus = 3
	NodeSucceeded NodeStatus = 10
	NodeFailed    NodeStatus = 11
	NodeTimedOut  NodeStatus = 12
	NodeCancelled NodeStatus = 13
)

func (s NodeStatus) String() string {
	switch s {
	case NodePending:
		return "PENDING"
	case NodeRunning:
		return "RUNNING"
	case NodeRetryWait:
		return "RETRY_WAIT"
	case NodeSucceeded:
		return "SUCCEEDED"
	case NodeFailed:
		return "FAILED"
	case NodeTimedOut:
		return "TIMED_OUT"
	case NodeCancelled:
		return "CANCELLED"
	}
	return "UNKNOWN"
}

func (s NodeStatus) Terminal() bool {
	return s == NodeSucceeded || s == NodeFailed ||
		s == NodeTimedOut || s == NodeCancelled
}

// NodeKind selects the per-node behavior in the executor.
type NodeKind string

const (
	KindStart      NodeKind = "START"
	KindEnd        NodeKind = "END"
	KindTask       NodeKind = "TASK"
	KindDecision   NodeKind = "DECISION"
	KindFork       NodeKind = "FORK"
	KindJoin       NodeKind = "JOIN"
	KindWait       NodeKind = "WAIT"
	KindTimer      NodeKind = "TIMER"
	KindSignal     NodeKind = "SIGNAL"
	KindSubprocess NodeKind = "SUBPROCESS"
)

// VariableScope qualifies where a declared variable is visible.
type VariableScope string

const (
	ScopeSequence VariableScope = "sequence"
	ScopeNode     VariableScope = "node"
	ScopeGlobal   VariableScope = "global"
)

/**
 * Context is handed to external task runners. It carries the standard
 * context plus the identity of the invocation it belongs to.
 */
type Context interface {
	context.Context

	GetExecutionID() string
	GetNodeID() string
}
