package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/oabdelmaksoud/taskflow/types"
	"github.com/oabdelmaksoud/taskflow/utils"
)

var (
	_ types.Context = &execContext{}
)

// execContext is what external task runners receive: the invocation
// deadline plus the identity of the node being run.
type execContext struct {
	context.Context

	executionID string
	nodeID      string
}

func (c *execContext) GetExecutionID() string {
	return c.executionID
}

func (c *execContext) GetNodeID() string {
	return c.nodeID
}

// completion is a mailbox entry: an asynchronous node result (task
// runner return or subprocess terminal state) posted back to the
// execution that owns the node.
type completion struct {
	nodeID  string
	attempt int
	outputs types.Data
	err     error
}

type signalDelivery struct {
	name    string
	payload types.Data
}

/**
 * executionRunner drives one SequenceExecution. The execution state
 * (frontier, node map, variables) is owned exclusively by the worker
 * holding mu for the current tick; everything arriving from outside
 * (task completions, signals, cancel requests) goes through the
 * mailbox and is consumed at the next tick boundary.
 */
type executionRunner struct {
	mu sync.Mutex

	errMu sync.Mutex
	errCh chan error

	eng  *engine
	seq  *types.TaskSequence
	exec *types.SequenceExecution

	mailMu      sync.Mutex
	completions []completion
	signals     []signalDelivery
	cancelReq   bool

	// received holds delivered-but-unconsumed signal payloads by name.
	received map[string]types.Data

	// needsTick marks dispatchable frontier work; nextDeadline is the
	// earliest retry/timer/timeout wakeup. Both guide canRun.
	needsTick    bool
	nextDeadline time.Time

	createTime time.Time
}

func newExecutionRunner(eng *engine, seq *types.TaskSequence, exec *types.SequenceExecution) *executionRunner {
	return &executionRunner{
		eng:        eng,
		seq:        seq,
		exec:       exec,
		received:   make(map[string]types.Data),
		needsTick:  true,
		createTime: time.Now(),
	}
}

func (r *executionRunner) logger() log.FieldLogger {
	return r.eng.logger.WithField("execution", r.exec.ID)
}

func (r *executionRunner) postCompletion(c completion) {
	r.mailMu.Lock()
	defer r.mailMu.Unlock()

	r.completions = append(r.completions, c)
}

func (r *executionRunner) postSignal(name string, payload types.Data) {
	r.mailMu.Lock()
	defer r.mailMu.Unlock()

	r.signals = append(r.signals, signalDelivery{name: name, payload: payload})
}

func (r *executionRunner) requestCancel() {
	r.mailMu.Lock()
	defer r.mailMu.Unlock()

	r.cancelReq = true
}

func (r *executionRunner) drainMailbox() (completions []completion, signals []signalDelivery, cancelReq bool) {
	r.mailMu.Lock()
	defer r.mailMu.Unlock()

	completions, r.completions = r.completions, nil
	signals, r.signals = r.signals, nil
	cancelReq = r.cancelReq
	return completions, signals, cancelReq
}

func (r *executionRunner) hasMail() bool {
	r.mailMu.Lock()
	defer r.mailMu.Unlock()

	return r.cancelReq || len(r.completions) > 0 || len(r.signals) > 0
}

func (r *executionRunner) isTerminal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.exec.Status.Terminal()
}

// snapshot returns a deep copy callers may inspect without racing the
// ticking worker.
func (r *executionRunner) snapshot() (*types.SequenceExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, err := utils.Serialize(r.exec)
	if err != nil {
		return nil, errors.Trace(err)
	}
	copied := &types.SequenceExecution{}
	if err := utils.Unserialize(b, copied); err != nil {
		return nil, errors.Trace(err)
	}
	return copied, nil
}

func (r *executionRunner) canRun() bool {
	if !r.mu.TryLock() {
		return false
	}
	defer r.mu.Unlock()

	if r.exec.Status.Terminal() {
		return false
	}
	if r.hasMail() || r.needsTick {
		return true
	}
	return !r.nextDeadline.IsZero() && time.Now().After(r.nextDeadline)
}

func (r *executionRunner) tryCheckCanRemove() bool {
	if !r.mu.TryLock() {
		return false
	}
	defer r.mu.Unlock()

	return r.exec.Status.Terminal()
}

func (r *executionRunner) tryAsyncRunOnce(ctx context.Context, submit func(func())) error {
	r.errMu.Lock()
	defer r.errMu.Unlock()

	if r.errCh == nil {
		r.errCh = make(chan error, 1)
		submit(func() {
			r.errCh <- r.runOnce(ctx)
		})
	}

	select {
	case err := <-r.errCh:
		close(r.errCh)
		r.errCh = nil
		return errors.Trace(err)
	default:
		return nil
	}
}

func (r *executionRunner) runOnce(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return errors.Trace(r.tick(ctx))
}

/**
 * tick advances the execution by one round: adopt pending cancel,
 * enforce the sequence deadline, consume the mailbox, then snapshot the
 * frontier, run every frontier node through the node executor, merge the
 * produced next-frontier ids and persist the whole execution once.
 */
func (r *executionRunner) tick(ctx context.Context) error {
	if r.exec.Status.Terminal() {
		return nil
	}

	now := time.Now()
	completions, signals, cancelReq := r.drainMailbox()
	for _, sig := range signals {
		payload := sig.payload
		if payload == nil {
			payload = types.Data{}
		}
		r.received[sig.name] = payload
	}

	if cancelReq {
		r.auditLateCompletions(completions, "cancelled")
		return errors.Trace(r.finalize(ctx, types.ExecutionCancelled, types.NewCancellationError()))
	}

	if r.exec.Status == types.ExecutionPending {
		r.exec.Status = types.ExecutionRunning
		r.exec.StartTime = now
		start := r.seq.StartNode()
		r.exec.Frontier = []string{start.ID}
		r.exec.NodeExec(start.ID)
	}

	if t := r.seq.Timeout(); t > 0 && now.Sub(r.exec.StartTime) > t {
		r.auditLateCompletions(completions, "timed out")
		return errors.Trace(r.finalize(ctx, types.ExecutionTimedOut, types.NewSequenceTimeoutError()))
	}

	var (
		advanced  []string
		permanent bool
	)
	for _, c := range completions {
		next, failed := r.applyCompletion(c)
		advanced = append(advanced, next...)
		permanent = permanent || failed
	}

	if !permanent {
		snapshot := r.exec.Frontier
		newFrontier := make([]string, 0, len(snapshot)+len(advanced))
		for _, id := range snapshot {
			out := r.executeNode(id, now)
			permanent = permanent || out.failed
			if out.keep {
				newFrontier = append(newFrontier, id)
			}
			newFrontier = append(newFrontier, out.next...)
		}
		newFrontier = append(newFrontier, advanced...)
		r.exec.Frontier = utils.UniqueSlice(newFrontier)
	}

	if permanent {
		return errors.Trace(r.finalize(ctx, types.ExecutionFailed, nil))
	}

	if r.completed() {
		final := types.ExecutionSucceeded
		for _, ne := range r.exec.Nodes {
			if ne.Status == types.NodeFailed || ne.Status == types.NodeTimedOut {
				final = types.ExecutionFailed
			}
		}
		return errors.Trace(r.finalize(ctx, final, nil))
	}

	r.exec.Status = r.liveStatus()
	r.recomputeWake()
	return errors.Trace(r.eng.saveExecution(ctx, r.exec))
}

// completed reports whether every branch has settled: nothing active in
// the frontier and no node record still in flight.
func (r *executionRunner) completed() bool {
	if len(r.exec.Frontier) > 0 {
		return false
	}
	for _, ne := range r.exec.Nodes {
		if !ne.Status.Terminal() {
			return false
		}
	}
	return true
}

func (r *executionRunner) liveStatus() types.ExecutionStatus {
	if len(r.exec.Frontier) == 0 {
		return types.ExecutionRunning
	}
	for _, id := range r.exec.Frontier {
		ne := r.exec.Nodes[id]
		node := r.seq.Node(id)
		if ne == nil || node == nil {
			return types.ExecutionRunning
		}
		suspended := false
		switch {
		case ne.Status == types.NodeRunning &&
			(node.Kind == types.KindWait || node.Kind == types.KindTimer):
			suspended = true
		case ne.Status == types.NodePending && node.Kind == types.KindJoin &&
			!r.barrierSatisfied(node, ne):
			suspended = true
		}
		if !suspended {
			return types.ExecutionRunning
		}
	}
	return types.ExecutionWaiting
}

func (r *executionRunner) recomputeWake() {
	needs := false
	var deadline time.Time
	earlier := func(t time.Time) {
		if !t.IsZero() && (deadline.IsZero() || t.Before(deadline)) {
			deadline = t
		}
	}
	if t := r.seq.Timeout(); t > 0 && !r.exec.StartTime.IsZero() {
		earlier(r.exec.StartTime.Add(t))
	}

	for _, id := range r.exec.Frontier {
		ne := r.exec.Nodes[id]
		node := r.seq.Node(id)
		if ne == nil || node == nil {
			continue
		}
		switch ne.Status {
		case types.NodePending:
			if node.Kind == types.KindJoin && !r.barrierSatisfied(node, ne) {
				continue
			}
			needs = true

		case types.NodeRetryWait:
			earlier(ne.ResumeAt)

		case types.NodeRunning:
			switch node.Kind {
			case types.KindTimer:
				earlier(ne.ResumeAt)
			case types.KindTask, types.KindSubprocess:
				if t := node.Timeout(); t > 0 {
					earlier(ne.StartTime.Add(t))
				}
			}
		}
	}
	r.needsTick = needs
	r.nextDeadline = deadline
}

// applyCompletion folds one asynchronous result into the execution.
// Stale attempts and results for settled nodes are recorded for audit
// only. Returns next-frontier ids and whether the node failed for good.
func (r *executionRunner) applyCompletion(c completion) (next []string, failed bool) {
	node := r.seq.Node(c.nodeID)
	ne := r.exec.Nodes[c.nodeID]
	if node == nil || ne == nil {
		r.logger().Warnf("completion for unknown node %s discarded", c.nodeID)
		return nil, false
	}
	if ne.Status != types.NodeRunning || ne.Attempt != c.attempt {
		r.exec.RecordError(c.nodeID, "stale_result",
			"late result for attempt discarded")
		r.logger().Debugf("stale completion for node %s attempt %d discarded", c.nodeID, c.attempt)
		return nil, false
	}

	if c.err != nil {
		return nil, !r.handleNodeFailure(node, ne, c.err)
	}
	next = r.succeedNode(node, ne, c.outputs)
	// advancement after the result may itself have failed permanently
	failed = ne.Status == types.NodeFailed || ne.Status == types.NodeTimedOut
	return next, failed
}

// auditLateCompletions records in-flight results that arrived in the
// same mailbox round as a cancel or sequence timeout. They no longer
// influence the final status.
func (r *executionRunner) auditLateCompletions(completions []completion, reason string) {
	for _, c := range completions {
		if c.err != nil {
			r.exec.RecordError(c.nodeID, types.ErrorCode(c.err), c.err.Error())
			continue
		}
		if ne := r.exec.Nodes[c.nodeID]; ne != nil && ne.Attempt == c.attempt && ne.Status == types.NodeRunning {
			ne.Outputs = c.outputs
		}
		r.exec.RecordError(c.nodeID, "late_result", "result arrived while execution "+reason)
	}
}

// succeedNode settles a node and returns the frontier ids it advances
// to. END nodes advance nowhere: the branch is complete.
func (r *executionRunner) succeedNode(node *types.TaskNode, ne *types.NodeExecution, outputs types.Data) []string {
	ne.Status = types.NodeSucceeded
	ne.EndTime = time.Now()
	ne.Outputs = outputs
	ne.LastError = ""
	ne.ErrorCode = ""
	if outputs != nil {
		ApplyOutputs(r.logger(), node, r.exec, outputs)
	}

	if node.Kind == types.KindEnd {
		return nil
	}
	targets, err := r.nextTargets(node)
	if err != nil {
		// selection failed after the node itself succeeded; the error
		// belongs to the node's advancement, handled like a node error
		r.handleNodeFailure(node, ne, err)
		return nil
	}
	return targets
}

// nextTargets picks where a finished node advances: every outgoing
// target for FORK, exactly one selected transition otherwise. Arrivals
// into JOIN targets are recorded on the barrier ledger.
func (r *executionRunner) nextTargets(node *types.TaskNode) ([]string, error) {
	var targets []string
	if node.Kind == types.KindFork {
		for _, t := range r.seq.Outgoing(node.ID) {
			targets = append(targets, t.To)
		}
	} else {
		t, err := SelectTransition(r.logger(), r.seq, node.ID, r.exec.Variables)
		if err != nil {
			return nil, errors.Trace(err)
		}
		targets = []string{t.To}
	}

	for _, target := range targets {
		targetNode := r.seq.Node(target)
		ne := r.exec.NodeExec(target)
		if targetNode != nil && targetNode.Kind == types.KindJoin && !ne.HasArrived(node.ID) {
			ne.Arrived = append(ne.Arrived, node.ID)
		}
		// a node re-entered by a cycle starts a fresh round
		if ne.Status.Terminal() {
			*ne = types.NodeExecution{NodeID: target, Status: types.NodePending}
		}
	}
	return targets, nil
}

/**
 * handleNodeFailure runs the retry policy: a retryable error with
 * attempts left parks the node in RETRY_WAIT until its backoff deadline
 * and returns true; otherwise the node fails permanently (TIMED_OUT for
 * deadline overruns) and the failure escalates to the execution.
 */
func (r *executionRunner) handleNodeFailure(node *types.TaskNode, ne *types.NodeExecution, err error) (retrying bool) {
	code := types.ErrorCode(err)
	ne.LastError = err.Error()
	ne.ErrorCode = code
	r.exec.RecordError(node.ID, code, err.Error())

	isTimeout := false
	retryable := false
	switch e := types.Unwrap(err).(type) {
	case *types.UnresolvedInputError:
		retryable = true
	case *types.TimeoutError:
		isTimeout = true
		retryable = node.Retry != nil && node.Retry.RetryOnTimeout
	case *types.ExecutionError:
		retryable = node.Retry.Retryable(e.Code)
	case *types.CancellationError:
		retryable = false
	default:
		if code == types.CodeTimeout {
			isTimeout = true
			retryable = node.Retry != nil && node.Retry.RetryOnTimeout
		} else {
			retryable = node.Retry.Retryable(code)
		}
	}

	if retryable && node.Retry != nil && ne.Attempt-1 < node.Retry.MaxRetries {
		backoff := utils.Backoff{
			Initial:    node.Retry.InitialInterval,
			Multiplier: node.Retry.BackoffMultiplier,
			Max:        node.Retry.MaxInterval,
		}
		delay := backoff.Next(ne.Attempt)
		ne.Status = types.NodeRetryWait
		ne.ResumeAt = time.Now().Add(delay)
		r.logger().WithField("node", node.ID).
			Infof("attempt %d failed (%s), retrying in %v", ne.Attempt, code, delay)
		return true
	}

	if isTimeout {
		ne.Status = types.NodeTimedOut
	} else {
		ne.Status = types.NodeFailed
	}
	ne.EndTime = time.Now()
	r.logger().WithField("node", node.ID).
		Errorf("failed permanently after %d attempts: %v", ne.Attempt, err)
	return false
}

// finalize settles the execution's terminal status, closes out node
// records that can no longer complete, persists and publishes.
func (r *executionRunner) finalize(ctx context.Context, status types.ExecutionStatus, cause error) error {
	now := time.Now()
	r.exec.Status = status
	r.exec.EndTime = now
	if cause != nil {
		r.exec.RecordError("", types.ErrorCode(cause), cause.Error())
	}

	for _, ne := range r.exec.Nodes {
		if !ne.Status.Terminal() {
			ne.Status = types.NodeCancelled
			ne.EndTime = now
		}
	}
	r.exec.Frontier = nil
	r.needsTick = false
	r.nextDeadline = time.Time{}

	r.eng.cancelChildrenOf(r.exec.ID)
	r.eng.publishTerminal(r.exec)
	if r.exec.ParentID != "" {
		r.eng.postSubprocessResult(r.exec)
	}

	r.logger().Infof("execution finished with status %s", status)
	return errors.Trace(r.eng.saveExecution(ctx, r.exec))
}
