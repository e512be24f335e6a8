package types

import (
	"time"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

// InputMapping binds one named output of an upstream node to an input
// name of the owning node. Transform, when set, is an expression over
// `value` (the source output) plus the execution variables.
type InputMapping struct {
	Target       string `json:"target" yaml:"target"`
	SourceNode   string `json:"sourceNode" yaml:"sourceNode"`
	SourceOutput string `json:"sourceOutput" yaml:"sourceOutput"`
	Transform    string `json:"transform,omitempty" yaml:"transform,omitempty"`
}

// OutputMapping publishes one named output of the owning node into the
// execution's variable bindings.
type OutputMapping struct {
	Source    string `json:"source" yaml:"source"`
	Target    string `json:"target" yaml:"target"`
	Transform string `json:"transform,omitempty" yaml:"transform,omitempty"`
}

// RetryPolicy controls re-attempts of a failed node.
type RetryPolicy struct {
	MaxRetries        int           `json:"maxRetries" yaml:"maxRetries"`
	InitialInterval   time.Duration `json:"initialInterval" yaml:"initialInterval"`
	BackoffMultiplier float64       `json:"backoffMultiplier" yaml:"backoffMultiplier"`
	MaxInterval       time.Duration `json:"maxInterval" yaml:"maxInterval"`
	// RetryableCodes is the allowlist of error codes that may be retried.
	RetryableCodes []string `json:"retryableCodes,omitempty" yaml:"retryableCodes,omitempty"`
	// RetryOnTimeout opts node-level timeouts into the retry loop. Off by
	// default: a timeout is a permanent failure.
	RetryOnTimeout bool `json:"retryOnTimeout,omitempty" yaml:"retryOnTimeout,omitempty"`
}

// UnmarshalYAML accepts the intervals in time.ParseDuration notation
// ("1s", "250ms"), which yaml.v3 does not do for time.Duration itself.
func (p *RetryPolicy) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxRetries        int      `yaml:"maxRetries"`
		InitialInterval   string   `yaml:"initialInterval"`
		BackoffMultiplier float64  `yaml:"backoffMultiplier"`
		MaxInterval       string   `yaml:"maxInterval"`
		RetryableCodes    []string `yaml:"retryableCodes"`
		RetryOnTimeout    bool     `yaml:"retryOnTimeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return errors.Trace(err)
	}

	p.MaxRetries = raw.MaxRetries
	p.BackoffMultiplier = raw.BackoffMultiplier
	p.RetryableCodes = raw.RetryableCodes
	p.RetryOnTimeout = raw.RetryOnTimeout
	if raw.InitialInterval != "" {
		d, err := time.ParseDuration(raw.InitialInterval)
		if err != nil {
			return errors.Annotatef(err, "initialInterval")
		}
		p.InitialInterval = d
	}
	if raw.MaxInterval != "" {
		d, err := time.ParseDuration(raw.MaxInterval)
		if err != nil {
			return errors.Annotatef(err, "maxInterval")
		}
		p.MaxInterval = d
	}
	return nil
}

// Retryable reports whether code may be retried under this policy.
func (p *RetryPolicy) Retryable(code string) bool {
	if p == nil {
		return false
	}
	for _, c := range p.RetryableCodes {
		if c == code {
			return true
		}
	}
	return false
}

// TaskNode is one vertex of a TaskSequence. Owned exclusively by its
// sequence; ids are unique within it.
type TaskNode struct {
	ID   string   `json:"id" yaml:"id"`
	Name string   `json:"name,omitempty" yaml:"name,omitempty"`
	Kind NodeKind `json:"kind" yaml:"kind"`

	// TaskDefinitionID addresses the external runner's task. TASK only.
	TaskDefinitionID string `json:"taskDefinitionId,omitempty" yaml:"taskDefinitionId,omitempty"`
	// SubSequenceID names the TaskSequence a SUBPROCESS node delegates to.
	SubSequenceID string `json:"subSequenceId,omitempty" yaml:"subSequenceId,omitempty"`
	// Signal is the event a WAIT node resumes on, or a SIGNAL node emits.
	Signal string `json:"signal,omitempty" yaml:"signal,omitempty"`
	// DelaySeconds is the TIMER suspension period.
	DelaySeconds int64 `json:"delaySeconds,omitempty" yaml:"delaySeconds,omitempty"`

	Parameters Data            `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Inputs     []InputMapping  `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs    []OutputMapping `json:"outputs,omitempty" yaml:"outputs,omitempty"`

	TimeoutSeconds int64        `json:"timeoutSeconds,omitempty" yaml:"timeoutSeconds,omitempty"`
	Retry          *RetryPolicy `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// Transition is one directed edge of a TaskSequence. Condition is an
// expression evaluated against the execution variables; empty means
// unconditioned (the default path out of a DECISION). Lower Priority is
// evaluated first.
type Transition struct {
	ID        string `json:"id" yaml:"id"`
	From      string `json:"from" yaml:"from"`
	To        string `json:"to" yaml:"to"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
	Priority  int    `json:"priority,omitempty" yaml:"priority,omitempty"`
	Metadata  Data   `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// VariableDecl declares a named, typed sequence variable with an
// optional default. Names are unique within a sequence.
type VariableDecl struct {
	Name    string        `json:"name" yaml:"name"`
	Type    string        `json:"type,omitempty" yaml:"type,omitempty"`
	Scope   VariableScope `json:"scope,omitempty" yaml:"scope,omitempty"`
	Default any           `json:"default,omitempty" yaml:"default,omitempty"`
}

// TaskSequence is a workflow definition: a directed graph of nodes and
// transitions plus variable declarations. Cycles are tolerated; the
// validator reports them at activation without rejecting.
type TaskSequence struct {
	ID      string         `json:"id" yaml:"id"`
	Name    string         `json:"name,omitempty" yaml:"name,omitempty"`
	Version int            `json:"version" yaml:"version"`
	Status  SequenceStatus `json:"status" yaml:"-"`

	Nodes       []*TaskNode     `json:"nodes" yaml:"nodes"`
	Transitions []*Transition   `json:"transitions" yaml:"transitions"`
	Variables   []*VariableDecl `json:"variables,omitempty" yaml:"variables,omitempty"`

	// TimeoutSeconds bounds the wall-clock lifetime of one execution.
	// Zero means unbounded.
	TimeoutSeconds int64 `json:"timeoutSeconds,omitempty" yaml:"timeoutSeconds,omitempty"`
}

// Node returns the node with the given id, or nil.
func (s *TaskSequence) Node(id string) *TaskNode {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// StartNode returns the sequence's START node. Valid sequences have
// exactly one.
func (s *TaskSequence) StartNode() *TaskNode {
	for _, n := range s.Nodes {
		if n.Kind == KindStart {
			return n
		}
	}
	return nil
}

// Outgoing returns the transitions leaving node id.
func (s *TaskSequence) Outgoing(id string) []*Transition {
	var out []*Transition
	for _, t := range s.Transitions {
		if t.From == id {
			out = append(out, t)
		}
	}
	return out
}

// Incoming returns the transitions arriving at node id.
func (s *TaskSequence) Incoming(id string) []*Transition {
	var in []*Transition
	for _, t := range s.Transitions {
		if t.To == id {
			in = append(in, t)
		}
	}
	return in
}

func (s *TaskSequence) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

func (n *TaskNode) Timeout() time.Duration {
	return time.Duration(n.TimeoutSeconds) * time.Second
}
