package types

import (
	"time"
)

// NodeExecution records one node's progress inside one execution. The
// record is created when the node first enters the frontier and reused
// across retry attempts.
type NodeExecution struct {
	NodeID  string     `json:"nodeId"`
	Status  NodeStatus `json:"status"`
	Attempt int        `json:"attempt"`

	Inputs  Data `json:"inputs,omitempty"`
	Outputs Data `json:"outputs,omitempty"`

	StartTime time.Time `json:"startTime,omitempty"`
	EndTime   time.Time `json:"endTime,omitempty"`
	// ResumeAt is the retry or TIMER deadline the node is parked on.
	ResumeAt time.Time `json:"resumeAt,omitempty"`

	LastError string `json:"lastError,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`

	// Arrived is the JOIN barrier ledger: source node ids that have
	// posted completion into this node for this execution.
	Arrived []string `json:"arrived,omitempty"`
}

// HasArrived reports whether source has posted into the barrier.
func (ne *NodeExecution) HasArrived(source string) bool {
	for _, s := range ne.Arrived {
		if s == source {
			return true
		}
	}
	return false
}

// ErrorRecord is one error accumulated against an execution, kept for
// audit even after the execution is final.
type ErrorRecord struct {
	NodeID  string    `json:"nodeId,omitempty"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// SequenceExecution is one run of a TaskSequence. It is created PENDING
// by ExecuteSequence and mutated only by the scheduler worker that owns
// its tick; once Status is terminal it never changes again.
type SequenceExecution struct {
	ID         string `json:"id"`
	SequenceID string `json:"sequenceId"`
	ProjectID  string `json:"projectId,omitempty"`

	// ParentID/ParentNodeID are set on SUBPROCESS child executions so
	// terminal states can be posted back to the calling branch.
	ParentID     string `json:"parentId,omitempty"`
	ParentNodeID string `json:"parentNodeId,omitempty"`
	// ParentAttempt is the parent node attempt this child belongs to,
	// so a retried SUBPROCESS node ignores results of earlier children.
	ParentAttempt int `json:"parentAttempt,omitempty"`

	Status    ExecutionStatus `json:"status"`
	StartTime time.Time       `json:"startTime,omitempty"`
	EndTime   time.Time       `json:"endTime,omitempty"`

	// Frontier is the set of currently active node ids.
	Frontier  []string                  `json:"frontier,omitempty"`
	Variables Data                      `json:"variables,omitempty"`
	Nodes     map[string]*NodeExecution `json:"nodes,omitempty"`
	Errors    []*ErrorRecord            `json:"errors,omitempty"`
}

// NodeExec returns the NodeExecution for id, creating it PENDING on
// first use.
func (e *SequenceExecution) NodeExec(id string) *NodeExecution {
	if e.Nodes == nil {
		e.Nodes = make(map[string]*NodeExecution)
	}
	ne, exists := e.Nodes[id]
	if !exists {
		ne = &NodeExecution{NodeID: id, Status: NodePending}
		e.Nodes[id] = ne
	}
	return ne
}

// InFrontier reports whether node id is currently active.
func (e *SequenceExecution) InFrontier(id string) bool {
	for _, f := range e.Frontier {
		if f == id {
			return true
		}
	}
	return false
}

// RecordError appends to the accumulated error list.
func (e *SequenceExecution) RecordError(nodeID, code, message string) {
	e.Errors = append(e.Errors, &ErrorRecord{
		NodeID:  nodeID,
		Code:    code,
		Message: message,
		Time:    time.Now(),
	})
}
