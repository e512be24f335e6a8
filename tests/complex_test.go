package tests

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	taskflow "github.com/oabdelmaksoud/taskflow"
	"github.com/oabdelmaksoud/taskflow/types"
)

const fulfillmentYAML = `
name: Order fulfillment
variables:
  - name: amount
    type: number
    default: 0
nodes:
  - id: start
    kind: START
  - id: reserve
    kind: TASK
    taskDefinitionId: inventory.reserve
    outputs:
      - source: reservationId
        target: reservationId
  - id: route
    kind: DECISION
  - id: approval
    kind: WAIT
    signal: manager.approval
    outputs:
      - source: decision
        target: approvalDecision
  - id: fork
    kind: FORK
  - id: ship
    kind: TASK
    taskDefinitionId: logistics.ship
  - id: bill
    kind: TASK
    taskDefinitionId: billing.charge
  - id: join
    kind: JOIN
  - id: notify
    kind: SIGNAL
    signal: order.completed
  - id: end
    kind: END
transitions:
  - id: t1
    from: start
    to: reserve
  - id: t2
    from: reserve
    to: route
  - id: t3
    from: route
    to: approval
    condition: amount > 100
    priority: 1
  - id: t4
    from: route
    to: fork
    priority: 2
  - id: t5
    from: approval
    to: fork
  - id: t6
    from: fork
    to: ship
  - id: t7
    from: fork
    to: bill
  - id: t8
    from: ship
    to: join
  - id: t9
    from: bill
    to: join
  - id: t10
    from: join
    to: notify
  - id: t11
    from: notify
    to: end
`

type orderRunner struct {
	mu    sync.Mutex
	calls map[string]int
}

func (r *orderRunner) Invoke(ctx types.Context, taskDefinitionID string, params types.Data) (types.Data, error) {
	r.mu.Lock()
	r.calls[taskDefinitionID]++
	r.mu.Unlock()

	switch taskDefinitionID {
	case "inventory.reserve":
		return types.Data{"reservationId": "rsv-" + ctx.GetExecutionID()[:8]}, nil
	default:
		return params, nil
	}
}

func (r *orderRunner) count(taskDefinitionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.calls[taskDefinitionID]
}

type eventSink struct {
	mu     sync.Mutex
	events map[string][]types.Data
}

func (s *eventSink) Publish(eventType string, payload types.Data) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.events == nil {
		s.events = make(map[string][]types.Data)
	}
	s.events[eventType] = append(s.events[eventType], payload)
}

func (s *eventSink) count(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.events[eventType])
}

func await(t *testing.T, eng types.Engine, executionID string, status types.ExecutionStatus) *types.SequenceExecution {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		assert.Nil(t, eng.RunOnce())
		exec, err := eng.GetExecution(context.Background(), executionID)
		assert.Nil(t, err)
		if exec.Status == status {
			return exec
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("execution %s never reached %s", executionID, status)
	return nil
}

func TestOrderFulfillment(t *testing.T) {
	runner := &orderRunner{calls: make(map[string]int)}
	sink := &eventSink{}

	eng, err := taskflow.NewEngine(runner, sink,
		types.EnableMemStore(),
		types.DisableAutoStart(),
		types.DisableTickAsync(),
	)
	assert.Nil(t, err)
	ctx := context.Background()

	seq, err := types.ParseSequenceYAML([]byte(fulfillmentYAML))
	assert.Nil(t, err)
	seqID, err := eng.CreateSequence(ctx, seq)
	assert.Nil(t, err)
	cycles, err := eng.ActivateSequence(ctx, seqID)
	assert.Nil(t, err)
	assert.Empty(t, cycles)

	// a large order pauses for manual approval before shipping
	execID, err := eng.ExecuteSequence(ctx, seqID, types.Data{"amount": 500})
	assert.Nil(t, err)

	exec := await(t, eng, execID, types.ExecutionWaiting)
	assert.Equal(t, 1, runner.count("inventory.reserve"))
	assert.Equal(t, 0, runner.count("logistics.ship"))
	assert.Contains(t, exec.Variables, "reservationId")

	dot, err := eng.RenderExecution(ctx, execID)
	assert.Nil(t, err)
	fmt.Printf("%s\n", dot)

	assert.Nil(t, eng.SignalExecution(ctx, execID, "manager.approval", types.Data{"decision": "approved"}))
	exec = await(t, eng, execID, types.ExecutionSucceeded)
	assert.Equal(t, "approved", exec.Variables["approvalDecision"])
	assert.Equal(t, 1, runner.count("logistics.ship"))
	assert.Equal(t, 1, runner.count("billing.charge"))
	assert.Equal(t, types.NodeSucceeded, exec.Nodes["join"].Status)
	assert.Equal(t, 1, sink.count(types.EventNodeSignal))
	assert.Equal(t, 1, sink.count(types.EventExecutionSucceeded))

	// a small order skips the approval entirely
	execID, err = eng.ExecuteSequence(ctx, seqID, types.Data{"amount": 50})
	assert.Nil(t, err)
	exec = await(t, eng, execID, types.ExecutionSucceeded)
	_, waited := exec.Nodes["approval"]
	assert.False(t, waited)
	assert.Equal(t, 2, runner.count("logistics.ship"))
	assert.Equal(t, 2, sink.count(types.EventNodeSignal))

	assert.Nil(t, eng.Close(ctx))
}
