package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/oabdelmaksoud/taskflow/types"
)

func flakySequence(retry *types.RetryPolicy) *types.TaskSequence {
	return &types.TaskSequence{
		Name: "flaky",
		Nodes: []*types.TaskNode{
			startNode("start"),
			{ID: "task1", Kind: types.KindTask, TaskDefinitionID: "flaky", Retry: retry},
			endNode("end"),
		},
		Transitions: []*types.Transition{
			edge("start", "task1"),
			edge("task1", "end"),
		},
	}
}

func TestRetryThenSucceed(t *testing.T) {
	runner := newStubRunner()
	eng := newTestEngine(runner, nil)

	runner.handle("flaky", func(ctx types.Context, params types.Data) (types.Data, error) {
		if runner.count("flaky") < 3 {
			return nil, types.NewExecutionErrorf("upstream_unavailable", "service not ready")
		}
		return types.Data{"ok": true}, nil
	})

	seqID := mustActivate(t, eng, flakySequence(&types.RetryPolicy{
		MaxRetries:        2,
		InitialInterval:   time.Millisecond,
		BackoffMultiplier: 2,
		RetryableCodes:    []string{"upstream_unavailable"},
	}))

	execID, err := eng.ExecuteSequence(context.Background(), seqID, nil)
	assert.Nil(t, err)

	exec := stepUntilStatus(t, eng, execID, types.ExecutionSucceeded)
	assert.Equal(t, 3, runner.count("flaky"))
	ne := exec.Nodes["task1"]
	assert.Equal(t, types.NodeSucceeded, ne.Status)
	assert.Equal(t, 3, ne.Attempt)
	// the two failed attempts stay on the audit trail
	assert.Equal(t, 2, len(exec.Errors))
	for _, rec := range exec.Errors {
		assert.Equal(t, "task1", rec.NodeID)
		assert.Equal(t, "upstream_unavailable", rec.Code)
	}
}

func TestRetryExhausted(t *testing.T) {
	runner := newStubRunner()
	publisher := &recordingPublisher{}
	eng := newTestEngine(runner, publisher)

	runner.handle("flaky", func(ctx types.Context, params types.Data) (types.Data, error) {
		return nil, types.NewExecutionErrorf("upstream_unavailable", "service not ready")
	})

	seqID := mustActivate(t, eng, flakySequence(&types.RetryPolicy{
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		RetryableCodes:  []string{"upstream_unavailable"},
	}))

	execID, err := eng.ExecuteSequence(context.Background(), seqID, nil)
	assert.Nil(t, err)

	exec := stepUntilStatus(t, eng, execID, types.ExecutionFailed)
	assert.Equal(t, 3, runner.count("flaky"))
	ne := exec.Nodes["task1"]
	assert.Equal(t, types.NodeFailed, ne.Status)
	assert.Equal(t, 3, ne.Attempt)
	assert.Equal(t, "upstream_unavailable", ne.ErrorCode)
	assert.NotEmpty(t, ne.LastError)
	assert.Equal(t, 1, len(publisher.byType(types.EventExecutionFailed)))
}

func TestNonRetryableCode(t *testing.T) {
	runner := newStubRunner()
	eng := newTestEngine(runner, nil)

	runner.handle("flaky", func(ctx types.Context, params types.Data) (types.Data, error) {
		return nil, types.NewExecutionErrorf("bad_input", "rejected")
	})

	// the allowlist names a different code, so no retry happens
	seqID := mustActivate(t, eng, flakySequence(&types.RetryPolicy{
		MaxRetries:      5,
		InitialInterval: time.Millisecond,
		RetryableCodes:  []string{"upstream_unavailable"},
	}))

	execID, err := eng.ExecuteSequence(context.Background(), seqID, nil)
	assert.Nil(t, err)

	exec := stepUntilStatus(t, eng, execID, types.ExecutionFailed)
	assert.Equal(t, 1, runner.count("flaky"))
	assert.Equal(t, types.NodeFailed, exec.Nodes["task1"].Status)
}

func TestNoRetryPolicy(t *testing.T) {
	runner := newStubRunner()
	eng := newTestEngine(runner, nil)

	runner.handle("flaky", func(ctx types.Context, params types.Data) (types.Data, error) {
		return nil, types.NewExecutionErrorf("upstream_unavailable", "service not ready")
	})

	seqID := mustActivate(t, eng, flakySequence(nil))

	execID, err := eng.ExecuteSequence(context.Background(), seqID, nil)
	assert.Nil(t, err)

	exec := stepUntilStatus(t, eng, execID, types.ExecutionFailed)
	assert.Equal(t, 1, runner.count("flaky"))
	assert.Equal(t, types.NodeFailed, exec.Nodes["task1"].Status)
}

func TestNodeTimeout(t *testing.T) {
	runner := newStubRunner()
	eng := newTestEngine(runner, nil)

	runner.handle("slow", func(ctx types.Context, params types.Data) (types.Data, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	seq := &types.TaskSequence{
		Name: "slow",
		Nodes: []*types.TaskNode{
			startNode("start"),
			{ID: "task1", Kind: types.KindTask, TaskDefinitionID: "slow", TimeoutSeconds: 1},
			endNode("end"),
		},
		Transitions: []*types.Transition{
			edge("start", "task1"),
			edge("task1", "end"),
		},
	}
	seqID := mustActivate(t, eng, seq)

	execID, err := eng.ExecuteSequence(context.Background(), seqID, nil)
	assert.Nil(t, err)

	exec := stepUntilStatus(t, eng, execID, types.ExecutionFailed)
	ne := exec.Nodes["task1"]
	assert.Equal(t, types.NodeTimedOut, ne.Status)
	assert.Equal(t, types.CodeTimeout, ne.ErrorCode)
}

func TestNodeTimeoutRetried(t *testing.T) {
	runner := newStubRunner()
	eng := newTestEngine(runner, nil)

	runner.handle("slow", func(ctx types.Context, params types.Data) (types.Data, error) {
		if runner.count("slow") == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return types.Data{"ok": true}, nil
	})

	seq := &types.TaskSequence{
		Name: "slow-retry",
		Nodes: []*types.TaskNode{
			startNode("start"),
			{
				ID: "task1", Kind: types.KindTask, TaskDefinitionID: "slow",
				TimeoutSeconds: 1,
				Retry: &types.RetryPolicy{
					MaxRetries:      1,
					InitialInterval: time.Millisecond,
					RetryOnTimeout:  true,
				},
			},
			endNode("end"),
		},
		Transitions: []*types.Transition{
			edge("start", "task1"),
			edge("task1", "end"),
		},
	}
	seqID := mustActivate(t, eng, seq)

	execID, err := eng.ExecuteSequence(context.Background(), seqID, nil)
	assert.Nil(t, err)

	exec := stepUntilStatus(t, eng, execID, types.ExecutionSucceeded)
	assert.Equal(t, 2, runner.count("slow"))
	assert.Equal(t, types.NodeSucceeded, exec.Nodes["task1"].Status)
}

func TestSequenceTimeout(t *testing.T) {
	publisher := &recordingPublisher{}
	eng := newTestEngine(newStubRunner(), publisher)

	seq := &types.TaskSequence{
		Name: "stuck",
		Nodes: []*types.TaskNode{
			startNode("start"),
			{ID: "wait1", Kind: types.KindWait, Signal: "never"},
			endNode("end"),
		},
		Transitions: []*types.Transition{
			edge("start", "wait1"),
			edge("wait1", "end"),
		},
		TimeoutSeconds: 1,
	}
	seqID := mustActivate(t, eng, seq)

	execID, err := eng.ExecuteSequence(context.Background(), seqID, nil)
	assert.Nil(t, err)

	exec := stepUntilStatus(t, eng, execID, types.ExecutionTimedOut)
	assert.False(t, exec.EndTime.IsZero())
	// the parked WAIT can never finish and is closed out
	assert.Equal(t, types.NodeCancelled, exec.Nodes["wait1"].Status)
	assert.Equal(t, 1, len(publisher.byType(types.EventExecutionTimedOut)))
}

func TestCancellation(t *testing.T) {
	publisher := &recordingPublisher{}
	eng := newTestEngine(newStubRunner(), publisher)

	seq := &types.TaskSequence{
		Name: "cancellable",
		Nodes: []*types.TaskNode{
			startNode("start"),
			{ID: "wait1", Kind: types.KindWait, Signal: "approval"},
			endNode("end"),
		},
		Transitions: []*types.Transition{
			edge("start", "wait1"),
			edge("wait1", "end"),
		},
	}
	seqID := mustActivate(t, eng, seq)
	ctx := context.Background()

	execID, err := eng.ExecuteSequence(ctx, seqID, nil)
	assert.Nil(t, err)

	stepUntilStatus(t, eng, execID, types.ExecutionWaiting)
	assert.Nil(t, eng.CancelExecution(ctx, execID))

	exec := stepUntilStatus(t, eng, execID, types.ExecutionCancelled)
	endTime := exec.EndTime
	assert.False(t, endTime.IsZero())
	assert.Equal(t, types.NodeCancelled, exec.Nodes["wait1"].Status)
	assert.Equal(t, 1, len(publisher.byType(types.EventExecutionCancelled)))

	// terminal state is frozen: nothing moves it and signals bounce
	assert.Nil(t, eng.RunOnce())
	again, err := eng.GetExecution(ctx, execID)
	assert.Nil(t, err)
	assert.Equal(t, types.ExecutionCancelled, again.Status)
	assert.True(t, endTime.Equal(again.EndTime))
	assert.NotNil(t, eng.SignalExecution(ctx, execID, "approval", nil))
	assert.NotNil(t, eng.CancelExecution(ctx, execID))
}

func TestNoMatchingTransition(t *testing.T) {
	runner := newStubRunner()
	eng := newTestEngine(runner, nil)

	seq := &types.TaskSequence{
		Name: "dead-end",
		Nodes: []*types.TaskNode{
			startNode("start"),
			taskNode("task1", "noop"),
			endNode("end"),
		},
		Transitions: []*types.Transition{
			edge("start", "task1"),
			// only conditioned paths out, none will match
			condEdge("task1", "end", "approved == true", 1),
		},
	}
	seqID := mustActivate(t, eng, seq)

	execID, err := eng.ExecuteSequence(context.Background(), seqID, types.Data{"approved": false})
	assert.Nil(t, err)

	exec := stepUntilStatus(t, eng, execID, types.ExecutionFailed)
	assert.Equal(t, 1, runner.count("noop"))
	ne := exec.Nodes["task1"]
	assert.Equal(t, types.NodeFailed, ne.Status)
	assert.Equal(t, types.CodeNoTransition, ne.ErrorCode)
}

func TestUnresolvedInputRetries(t *testing.T) {
	runner := newStubRunner()
	eng := newTestEngine(runner, nil)

	release := make(chan struct{})
	defer close(release)
	runner.handle("ghost", func(ctx types.Context, params types.Data) (types.Data, error) {
		<-release
		return types.Data{"out": 1}, nil
	})

	seq := &types.TaskSequence{
		Name: "unresolved",
		Nodes: []*types.TaskNode{
			startNode("start"),
			{ID: "fork", Kind: types.KindFork},
			taskNode("ghost", "ghost"),
			{
				ID: "task1", Kind: types.KindTask, TaskDefinitionID: "consumer",
				Inputs: []types.InputMapping{
					{Target: "v", SourceNode: "ghost", SourceOutput: "out"},
				},
			},
			{ID: "join", Kind: types.KindJoin},
			endNode("end"),
		},
		Transitions: []*types.Transition{
			edge("start", "fork"),
			edge("fork", "ghost"),
			edge("fork", "task1"),
			edge("ghost", "join"),
			edge("task1", "join"),
			edge("join", "end"),
		},
	}
	seqID := mustActivate(t, eng, seq)

	execID, err := eng.ExecuteSequence(context.Background(), seqID, nil)
	assert.Nil(t, err)

	// task1 dispatches before ghost finished: unresolved input, no retry
	// policy, the branch fails permanently
	exec := stepUntilStatus(t, eng, execID, types.ExecutionFailed)
	assert.Equal(t, 0, runner.count("consumer"))
	ne := exec.Nodes["task1"]
	assert.Equal(t, types.NodeFailed, ne.Status)
	assert.Equal(t, types.CodeUnresolvedInput, ne.ErrorCode)
}
