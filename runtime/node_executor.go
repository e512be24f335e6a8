package runtime

import (
	"context"
	"time"

	"github.com/oabdelmaksoud/taskflow/types"
	"github.com/oabdelmaksoud/taskflow/utils"
)

// nodeOutcome is one frontier node's contribution to the next frontier.
type nodeOutcome struct {
	// keep leaves the node in the frontier: it is suspended, in flight,
	// parked on a deadline or waiting on a barrier.
	keep bool
	// next holds the ids the node advanced to.
	next []string
	// failed marks a permanent node failure that escalates the execution.
	failed bool
}

var keepOutcome = nodeOutcome{keep: true}

/**
 * executeNode advances one frontier node by at most one step of its
 * state machine. TASK and SUBPROCESS dispatch asynchronously and stay
 * in the frontier until their completion arrives through the mailbox;
 * WAIT/TIMER park until their stimulus; JOIN parks until its barrier is
 * satisfied.
 */
func (r *executionRunner) executeNode(id string, now time.Time) nodeOutcome {
	node := r.seq.Node(id)
	if node == nil {
		r.logger().Errorf("frontier references unknown node %s", id)
		return nodeOutcome{}
	}
	ne := r.exec.NodeExec(id)

	switch ne.Status {
	case types.NodePending:
		return r.dispatchNode(node, ne, now)

	case types.NodeRetryWait:
		if now.Before(ne.ResumeAt) {
			return keepOutcome
		}
		ne.Status = types.NodePending
		ne.ResumeAt = time.Time{}
		return r.dispatchNode(node, ne, now)

	case types.NodeRunning:
		return r.pollRunningNode(node, ne, now)

	case types.NodeSucceeded:
		// settled by a completion this tick; drops out of the frontier
		return nodeOutcome{}
	}
	return nodeOutcome{}
}

func (r *executionRunner) dispatchNode(node *types.TaskNode, ne *types.NodeExecution, now time.Time) nodeOutcome {
	switch node.Kind {
	case types.KindStart:
		ne.StartTime = now
		return r.advanceOutcome(node, ne, nil)

	case types.KindEnd:
		ne.StartTime = now
		ne.Status = types.NodeSucceeded
		ne.EndTime = now
		return nodeOutcome{}

	case types.KindDecision:
		// the chosen branch, not the decision logic, may later fail
		ne.StartTime = now
		return r.advanceOutcome(node, ne, nil)

	case types.KindFork:
		ne.StartTime = now
		return r.advanceOutcome(node, ne, nil)

	case types.KindJoin:
		if !r.barrierSatisfied(node, ne) {
			return keepOutcome
		}
		ne.StartTime = now
		return r.advanceOutcome(node, ne, nil)

	case types.KindSignal:
		return r.dispatchSignal(node, ne, now)

	case types.KindTimer:
		ne.Status = types.NodeRunning
		ne.Attempt++
		ne.StartTime = now
		ne.ResumeAt = now.Add(time.Duration(node.DelaySeconds) * time.Second)
		return keepOutcome

	case types.KindWait:
		ne.Status = types.NodeRunning
		ne.Attempt++
		ne.StartTime = now
		if payload, ok := r.received[node.Signal]; ok {
			delete(r.received, node.Signal)
			return r.advanceOutcome(node, ne, payload)
		}
		return keepOutcome

	case types.KindTask:
		return r.dispatchTask(node, ne, now)

	case types.KindSubprocess:
		return r.dispatchSubprocess(node, ne, now)
	}

	return r.failureOutcome(node, ne,
		types.NewExecutionErrorf(types.CodeInternal, "node %s has unexecutable kind %q", node.ID, node.Kind))
}

// pollRunningNode checks an in-flight or suspended node: timers and
// waits may resume, tasks and subprocesses may overrun their deadline.
func (r *executionRunner) pollRunningNode(node *types.TaskNode, ne *types.NodeExecution, now time.Time) nodeOutcome {
	switch node.Kind {
	case types.KindTimer:
		if now.Before(ne.ResumeAt) {
			return keepOutcome
		}
		ne.ResumeAt = time.Time{}
		return r.advanceOutcome(node, ne, nil)

	case types.KindWait:
		if payload, ok := r.received[node.Signal]; ok {
			delete(r.received, node.Signal)
			return r.advanceOutcome(node, ne, payload)
		}
		return keepOutcome

	case types.KindTask, types.KindSubprocess:
		if t := node.Timeout(); t > 0 && now.Sub(ne.StartTime) > t {
			// the late result, if any, will be discarded as stale
			return r.failureOutcome(node, ne, types.NewNodeTimeoutError(node.ID))
		}
		return keepOutcome
	}
	return keepOutcome
}

func (r *executionRunner) dispatchSignal(node *types.TaskNode, ne *types.NodeExecution, now time.Time) nodeOutcome {
	ne.Attempt++
	ne.StartTime = now
	params, err := ResolveInputs(node, r.exec)
	if err != nil {
		return r.failureOutcome(node, ne, err)
	}
	ne.Inputs = params

	payload := types.Data{
		"executionId": r.exec.ID,
		"sequenceId":  r.exec.SequenceID,
		"nodeId":      node.ID,
		"signal":      node.Signal,
		"data":        map[string]any(params),
	}
	r.eng.publish(types.EventNodeSignal, payload)
	return r.advanceOutcome(node, ne, nil)
}

func (r *executionRunner) dispatchTask(node *types.TaskNode, ne *types.NodeExecution, now time.Time) nodeOutcome {
	ne.Attempt++
	ne.StartTime = now
	params, err := ResolveInputs(node, r.exec)
	if err != nil {
		return r.failureOutcome(node, ne, err)
	}
	ne.Inputs = params
	ne.Status = types.NodeRunning

	if r.eng.taskRunner == nil {
		return r.failureOutcome(node, ne,
			types.NewExecutionErrorf(types.CodeInternal, "no task runner configured"))
	}

	r.invokeAsync(node, ne.Attempt, params)
	return keepOutcome
}

// invokeAsync hands the task to the external runner on its own
// goroutine so the worker driving this tick is released; the result
// comes back through the mailbox.
func (r *executionRunner) invokeAsync(node *types.TaskNode, attempt int, params types.Data) {
	var (
		invokeCtx context.Context
		cancel    context.CancelFunc
	)
	if t := node.Timeout(); t > 0 {
		invokeCtx, cancel = context.WithTimeout(r.eng.ctx, t)
	} else {
		invokeCtx, cancel = context.WithCancel(r.eng.ctx)
	}

	ec := &execContext{Context: invokeCtx, executionID: r.exec.ID, nodeID: node.ID}
	taskDefinitionID := node.TaskDefinitionID
	runner := r.eng.taskRunner

	go func() {
		defer cancel()
		outputs, err := runner.Invoke(ec, taskDefinitionID, params)
		r.postCompletion(completion{
			nodeID:  node.ID,
			attempt: attempt,
			outputs: outputs,
			err:     err,
		})
	}()
}

func (r *executionRunner) dispatchSubprocess(node *types.TaskNode, ne *types.NodeExecution, now time.Time) nodeOutcome {
	ne.Attempt++
	ne.StartTime = now
	params, err := ResolveInputs(node, r.exec)
	if err != nil {
		return r.failureOutcome(node, ne, err)
	}
	ne.Inputs = params
	ne.Status = types.NodeRunning

	if err := r.eng.launchSubprocess(r.exec, node, ne.Attempt, params); err != nil {
		return r.failureOutcome(node, ne, err)
	}
	return keepOutcome
}

// barrierSatisfied reports whether every incoming transition's source
// has posted its completion into the JOIN for this execution.
func (r *executionRunner) barrierSatisfied(node *types.TaskNode, ne *types.NodeExecution) bool {
	var required []string
	for _, t := range r.seq.Incoming(node.ID) {
		required = append(required, t.From)
	}
	required = utils.UniqueSlice(required)
	return utils.ContainsAll(ne.Arrived, required)
}

func (r *executionRunner) advanceOutcome(node *types.TaskNode, ne *types.NodeExecution, outputs types.Data) nodeOutcome {
	next := r.succeedNode(node, ne, outputs)
	if ne.Status != types.NodeSucceeded {
		// advancement failed; succeedNode already ran the retry policy
		return nodeOutcome{keep: ne.Status == types.NodeRetryWait, failed: ne.Status.Terminal()}
	}
	return nodeOutcome{next: next}
}

func (r *executionRunner) failureOutcome(node *types.TaskNode, ne *types.NodeExecution, err error) nodeOutcome {
	if r.handleNodeFailure(node, ne, err) {
		return keepOutcome
	}
	return nodeOutcome{failed: true}
}
