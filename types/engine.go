package types

import "context"

// TaskRunner executes TASK nodes. The engine only defines the contract:
// Invoke receives the node's task definition id and resolved parameters
// and blocks until the task produced outputs or failed. Failures should
// be ExecutionError values so their code can be matched against the
// node's retry allowlist; any other error is treated as code "internal".
type TaskRunner interface {
	Invoke(ctx Context, taskDefinitionID string, params Data) (Data, error)
}

// Publisher receives SIGNAL node emissions and terminal-state events.
// Fire and forget; the engine ignores delivery outcomes.
type Publisher interface {
	Publish(eventType string, payload Data)
}

// Event types handed to the Publisher.
const (
	EventNodeSignal         = "node.signal"
	EventExecutionSucceeded = "execution.succeeded"
	EventExecutionFailed    = "execution.failed"
	EventExecutionCancelled = "execution.cancelled"
	EventExecutionTimedOut  = "execution.timed_out"
)

type Engine interface {
	/**
	 * CreateSequence validates seq structurally and persists it as DRAFT.
	 * A missing id is generated. Returns the sequence id.
	 */
	CreateSequence(ctx context.Context, seq *TaskSequence) (string, error)
	/**
	 * UpdateSequence replaces the definition. ARCHIVED sequences reject
	 * all updates; the replacement is re-validated structurally and the
	 * version is bumped.
	 */
	UpdateSequence(ctx context.Context, id string, seq *TaskSequence) error
	/**
	 * ActivateSequence transitions DRAFT -> ACTIVE iff activation
	 * validation passes. Detected cycles are returned (and logged), not
	 * rejected.
	 */
	ActivateSequence(ctx context.Context, id string) ([][]string, error)
	DeprecateSequence(ctx context.Context, id string) error
	ArchiveSequence(ctx context.Context, id string) error

	GetSequence(ctx context.Context, id string) (*TaskSequence, error)
	ListSequences(ctx context.Context) ([]string, error)
	/**
	 * RenderSequence returns the DOT string generated from the sequence
	 * graph. RenderExecution colours it with one execution's node states.
	 */
	RenderSequence(id string) (string, error)
	RenderExecution(ctx context.Context, executionID string) (string, error)

	/**
	 * ExecuteSequence creates a PENDING execution of an ACTIVE sequence
	 * and schedules it. Runtime failures surface through the execution's
	 * status and error list, never through this call.
	 */
	ExecuteSequence(ctx context.Context, sequenceID string, initial Data) (string, error)
	CancelExecution(ctx context.Context, executionID string) error
	GetExecution(ctx context.Context, executionID string) (*SequenceExecution, error)
	/**
	 * SignalExecution resumes WAIT nodes parked on the named signal.
	 * The payload is merged into the execution variables.
	 */
	SignalExecution(ctx context.Context, executionID, signal string, payload Data) error

	/**
	 * ReloadExecutions loads persisted non-terminal executions from the
	 * store after a restart. Already-scheduled ids are reported as errors.
	 */
	ReloadExecutions(ctx context.Context) (map[string]error, error)

	/**
	 * caller self invoking RunOnce, EngineOptions.AutoStart should be false.
	 */
	RunOnce() error
	/**
	 * Close the engine; ongoing executions stay as persisted at their
	 * last tick boundary and can be reloaded later.
	 */
	Close(ctx context.Context) error
}
