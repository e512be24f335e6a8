package runtime

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oabdelmaksoud/taskflow/types"
)

func TestRenderSequence(t *testing.T) {
	eng := newTestEngine(newStubRunner(), nil)

	seq := &types.TaskSequence{
		Name: "render me",
		Nodes: []*types.TaskNode{
			startNode("start"),
			{ID: "route", Kind: types.KindDecision},
			taskNode("task1", "noop"),
			{ID: "wait1", Kind: types.KindWait, Signal: "go"},
			endNode("end"),
		},
		Transitions: []*types.Transition{
			edge("start", "route"),
			condEdge("route", "task1", "amount > 10", 1),
			{ID: "route-default", From: "route", To: "wait1", Priority: 2},
			edge("task1", "end"),
			edge("wait1", "end"),
		},
	}
	seqID, err := eng.CreateSequence(context.Background(), seq)
	assert.Nil(t, err)

	dot, err := eng.RenderSequence(seqID)
	assert.Nil(t, err)
	fmt.Printf("%s\n", dot)

	assert.True(t, strings.HasPrefix(dot, "digraph D {"))
	assert.Contains(t, dot, "label=\"render me\"")
	assert.Contains(t, dot, "start [label=\"start\" shape=\"circle\"]")
	assert.Contains(t, dot, "route [label=\"route\" shape=\"diamond\"]")
	assert.Contains(t, dot, "wait1 [label=\"wait1\" shape=\"ellipse\"]")
	assert.Contains(t, dot, "route -> task1 [label=\"amount > 10\"]")
	assert.Contains(t, dot, "route -> wait1 [label=\"p2\"]")
	assert.Contains(t, dot, "start -> route\n")

	_, err = eng.RenderSequence("no-such-sequence")
	assert.NotNil(t, err)
}

func TestRenderExecution(t *testing.T) {
	runner := newStubRunner()
	eng := newTestEngine(runner, nil)
	ctx := context.Background()

	seq := &types.TaskSequence{
		Name: "colored",
		Nodes: []*types.TaskNode{
			startNode("start"),
			taskNode("task1", "noop"),
			{ID: "wait1", Kind: types.KindWait, Signal: "go"},
			endNode("end"),
		},
		Transitions: []*types.Transition{
			edge("start", "task1"),
			edge("task1", "wait1"),
			edge("wait1", "end"),
		},
	}
	seqID := mustActivate(t, eng, seq)

	execID, err := eng.ExecuteSequence(ctx, seqID, nil)
	assert.Nil(t, err)
	stepUntilStatus(t, eng, execID, types.ExecutionWaiting)

	dot, err := eng.RenderExecution(ctx, execID)
	assert.Nil(t, err)
	fmt.Printf("%s\n", dot)

	// finished nodes green, the parked WAIT yellow, END untouched so far
	assert.Contains(t, dot, "start [label=\"start\" shape=\"circle\" style=\"filled\" color=\"green\"]")
	assert.Contains(t, dot, "task1 [label=\"task1\" shape=\"record\" style=\"filled\" color=\"green\"]")
	assert.Contains(t, dot, "wait1 [label=\"wait1\" shape=\"ellipse\" style=\"filled\" color=\"yellow\"]")
	assert.Contains(t, dot, "end [label=\"end\" shape=\"circle\"]")
}
