package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/oabdelmaksoud/taskflow/store"
	"github.com/oabdelmaksoud/taskflow/types"
)

var (
	_ types.Engine = &engine{}
)

// NewEngine assembles the execution engine on top of the given store
// and external collaborators. runner executes TASK nodes; publisher
// receives SIGNAL emissions and terminal events, nil disables both.
func NewEngine(s store.Store, runner types.TaskRunner, publisher types.Publisher, opts *types.EngineOptions) types.Engine {
	e := &engine{
		store:      s,
		taskRunner: runner,
		publisher:  publisher,
		logger:     opts.Logger,
		opts:       opts,
		sequences:  make(map[string]*types.TaskSequence),
	}
	if e.logger == nil {
		e.logger = log.StandardLogger()
	}
	e.ctx, e.cancel = context.WithCancel(opts.Ctx)
	e.running = true
	e.sched = newBatchScheduler(opts.MaxConcurrentExecutions, opts.TickAsync)

	if opts.AutoStart {
		e.asyncRun()
	}
	return e
}

type engine struct {
	ctx    context.Context
	cancel context.CancelFunc

	exitCh  chan struct{}
	running bool

	opts       *types.EngineOptions
	logger     log.FieldLogger
	store      store.Store
	taskRunner types.TaskRunner
	publisher  types.Publisher

	seqMu     sync.Mutex
	sequences map[string]*types.TaskSequence

	sched *batchScheduler
}

func (e *engine) asyncRun() {
	readyCh := make(chan struct{}, 1)

	go func() {
		e.exitCh = make(chan struct{})
		close(readyCh)

		for e.running {
			if err := e.runOnce(); err != nil {
				e.logger.Errorf("scheduler round failed: %v", err)
			}
			time.Sleep(e.opts.PollInterval)
		}
		close(e.exitCh)
	}()
	<-readyCh
}

func (e *engine) runOnce() error {
	return e.sched.runOnce(e.ctx, e.opts.MaxConcurrentExecutions)
}

func (e *engine) RunOnce() error {
	return e.runOnce()
}

func (e *engine) Close(ctx context.Context) error {
	if !e.running {
		return nil
	}

	e.cancel()
	e.running = false

	if e.exitCh != nil {
		<-e.exitCh
	}

	return e.sched.stopWait(ctx)
}

func (e *engine) CreateSequence(ctx context.Context, seq *types.TaskSequence) (string, error) {
	if !e.running {
		return "", errors.MethodNotAllowedf("not running")
	}
	if seq == nil {
		return "", errors.BadRequestf("sequence is nil")
	}
	if seq.ID == "" {
		seq.ID = uuid.NewString()
	}
	for _, t := range seq.Transitions {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
	}
	if err := ValidateStructure(seq); err != nil {
		return "", errors.Trace(err)
	}

	e.seqMu.Lock()
	defer e.seqMu.Unlock()

	if _, exists := e.sequences[seq.ID]; exists {
		return "", errors.AlreadyExistsf("sequence id: %s", seq.ID)
	}
	seq.Status = types.SequenceDraft
	if seq.Version == 0 {
		seq.Version = 1
	}
	if err := e.saveSequence(ctx, seq); err != nil {
		return "", errors.Trace(err)
	}
	e.sequences[seq.ID] = seq
	return seq.ID, nil
}

func (e *engine) UpdateSequence(ctx context.Context, id string, seq *types.TaskSequence) error {
	if seq == nil {
		return errors.BadRequestf("sequence is nil")
	}

	e.seqMu.Lock()
	defer e.seqMu.Unlock()

	existing, exists := e.sequences[id]
	if !exists {
		return errors.NotFoundf("sequence: %s", id)
	}
	if existing.Status == types.SequenceArchived {
		return errors.Forbiddenf("sequence %s is archived and rejects updates", id)
	}

	seq.ID = id
	for _, t := range seq.Transitions {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
	}
	if err := ValidateStructure(seq); err != nil {
		return errors.Trace(err)
	}

	seq.Status = existing.Status
	seq.Version = existing.Version + 1
	if err := e.saveSequence(ctx, seq); err != nil {
		return errors.Trace(err)
	}
	e.sequences[id] = seq
	return nil
}

func (e *engine) ActivateSequence(ctx context.Context, id string) ([][]string, error) {
	e.seqMu.Lock()
	defer e.seqMu.Unlock()

	seq, exists := e.sequences[id]
	if !exists {
		return nil, errors.NotFoundf("sequence: %s", id)
	}
	if seq.Status != types.SequenceDraft {
		return nil, errors.Forbiddenf("sequence %s is %s, only DRAFT can be activated", id, seq.Status)
	}

	cycles, err := ValidateForActivation(e.logger, seq)
	if err != nil {
		return nil, errors.Trace(err)
	}

	seq.Status = types.SequenceActive
	if err := e.saveSequence(ctx, seq); err != nil {
		seq.Status = types.SequenceDraft
		return nil, errors.Trace(err)
	}
	return cycles, nil
}

func (e *engine) DeprecateSequence(ctx context.Context, id string) error {
	return e.setSequenceStatus(ctx, id, types.SequenceActive, types.SequenceDeprecated)
}

func (e *engine) ArchiveSequence(ctx context.Context, id string) error {
	e.seqMu.Lock()
	defer e.seqMu.Unlock()

	seq, exists := e.sequences[id]
	if !exists {
		return errors.NotFoundf("sequence: %s", id)
	}
	if seq.Status == types.SequenceArchived {
		return nil
	}
	seq.Status = types.SequenceArchived
	return errors.Trace(e.saveSequence(ctx, seq))
}

func (e *engine) setSequenceStatus(ctx context.Context, id string, from, to types.SequenceStatus) error {
	e.seqMu.Lock()
	defer e.seqMu.Unlock()

	seq, exists := e.sequences[id]
	if !exists {
		return errors.NotFoundf("sequence: %s", id)
	}
	if seq.Status != from {
		return errors.Forbiddenf("sequence %s is %s, expected %s", id, seq.Status, from)
	}
	seq.Status = to
	return errors.Trace(e.saveSequence(ctx, seq))
}

func (e *engine) GetSequence(ctx context.Context, id string) (*types.TaskSequence, error) {
	if seq, exists := e.getSequence(id); exists {
		return seq, nil
	}
	seq, err := e.loadSequence(ctx, id)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return seq, nil
}

func (e *engine) getSequence(id string) (*types.TaskSequence, bool) {
	e.seqMu.Lock()
	defer e.seqMu.Unlock()

	seq, exists := e.sequences[id]
	return seq, exists
}

func (e *engine) ListSequences(ctx context.Context) ([]string, error) {
	e.seqMu.Lock()
	defer e.seqMu.Unlock()

	ids := make([]string, 0, len(e.sequences))
	for id := range e.sequences {
		ids = append(ids, id)
	}
	return ids, nil
}

func (e *engine) ExecuteSequence(ctx context.Context, sequenceID string, initial types.Data) (string, error) {
	if !e.running {
		return "", errors.MethodNotAllowedf("not running")
	}
	seq, exists := e.getSequence(sequenceID)
	if !exists {
		return "", errors.NotFoundf("sequence: %s", sequenceID)
	}
	if seq.Status != types.SequenceActive {
		return "", errors.Forbiddenf("sequence %s is %s, only ACTIVE sequences execute", sequenceID, seq.Status)
	}

	exec := &types.SequenceExecution{
		ID:         uuid.NewString(),
		SequenceID: sequenceID,
		Status:     types.ExecutionPending,
		Variables:  SeedVariables(seq, initial),
	}
	if err := e.saveExecution(ctx, exec); err != nil {
		return "", errors.Trace(err)
	}
	if err := e.sched.add(exec.ID, newExecutionRunner(e, seq, exec)); err != nil {
		if lerr := e.removeExecution(context.Background(), exec.ID); lerr != nil {
			err = errors.Wrapf(err, lerr, "remove execution %s failed after schedule", exec.ID)
		}
		return "", errors.Trace(err)
	}
	return exec.ID, nil
}

func (e *engine) CancelExecution(ctx context.Context, executionID string) error {
	r := e.sched.get(executionID)
	if r == nil {
		return errors.NotFoundf("execution: %s", executionID)
	}
	if r.isTerminal() {
		return errors.Forbiddenf("execution %s is already terminal", executionID)
	}
	r.requestCancel()
	return nil
}

func (e *engine) GetExecution(ctx context.Context, executionID string) (*types.SequenceExecution, error) {
	if r := e.sched.get(executionID); r != nil {
		return r.snapshot()
	}
	exec, err := e.loadExecution(ctx, executionID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return exec, nil
}

func (e *engine) SignalExecution(ctx context.Context, executionID, signal string, payload types.Data) error {
	r := e.sched.get(executionID)
	if r == nil {
		return errors.NotFoundf("execution: %s", executionID)
	}
	if r.isTerminal() {
		return errors.Forbiddenf("execution %s is already terminal", executionID)
	}
	r.postSignal(signal, payload)
	return nil
}

func (e *engine) ReloadExecutions(ctx context.Context) (map[string]error, error) {
	errs := make(map[string]error)
	err := e.store.List(ctx, ExecutionPath, func(executionID string) bool {
		rerr := e.reloadExecution(ctx, executionID)
		if rerr != nil {
			errs[executionID] = errors.Trace(rerr)
		} else {
			errs[executionID] = nil
		}
		return true
	})
	if len(errs) == 0 {
		errs = nil
	}
	return errs, errors.Trace(err)
}

func (e *engine) reloadExecution(ctx context.Context, executionID string) error {
	if e.sched.exists(executionID) {
		return errors.AlreadyExistsf("execution already scheduled: %s", executionID)
	}
	exec, err := e.loadExecution(ctx, executionID)
	if err != nil {
		return errors.Trace(err)
	}
	if exec.Status.Terminal() {
		return nil
	}

	seq, err := e.GetSequence(ctx, exec.SequenceID)
	if err != nil {
		return errors.Annotatef(err, "sequence of execution %s", executionID)
	}
	e.seqMu.Lock()
	if _, exists := e.sequences[seq.ID]; !exists {
		e.sequences[seq.ID] = seq
	}
	e.seqMu.Unlock()

	// a TASK or SUBPROCESS caught in flight by the previous process has
	// no goroutine behind it anymore; reset it so the next tick
	// re-dispatches. The attempt guard drops any ghost result the old
	// process might still deliver.
	for id, ne := range exec.Nodes {
		if ne.Status != types.NodeRunning {
			continue
		}
		node := seq.Node(id)
		if node == nil {
			continue
		}
		if node.Kind == types.KindTask || node.Kind == types.KindSubprocess {
			ne.Status = types.NodePending
		}
	}

	return errors.Trace(e.sched.add(executionID, newExecutionRunner(e, seq, exec)))
}

// launchSubprocess starts the nested execution a SUBPROCESS node
// delegates to; its terminal state flows back to the parent through
// postSubprocessResult.
func (e *engine) launchSubprocess(parent *types.SequenceExecution, node *types.TaskNode, attempt int, params types.Data) error {
	seq, exists := e.getSequence(node.SubSequenceID)
	if !exists {
		return types.NewExecutionErrorf(types.CodeInternal,
			"subprocess sequence %s not found", node.SubSequenceID)
	}
	if seq.Status != types.SequenceActive {
		return types.NewExecutionErrorf(types.CodeInternal,
			"subprocess sequence %s is %s, not ACTIVE", node.SubSequenceID, seq.Status)
	}

	child := &types.SequenceExecution{
		ID:            uuid.NewString(),
		SequenceID:    seq.ID,
		ParentID:      parent.ID,
		ParentNodeID:  node.ID,
		ParentAttempt: attempt,
		Status:        types.ExecutionPending,
		Variables:     SeedVariables(seq, params),
	}
	if err := e.saveExecution(e.ctx, child); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(e.sched.add(child.ID, newExecutionRunner(e, seq, child)))
}

// postSubprocessResult hands a child execution's terminal state back to
// the branch that launched it. The child's final variables become the
// subprocess node's outputs.
func (e *engine) postSubprocessResult(child *types.SequenceExecution) {
	parent := e.sched.get(child.ParentID)
	if parent == nil {
		e.logger.Warnf("parent execution %s of subprocess %s is gone", child.ParentID, child.ID)
		return
	}

	c := completion{
		nodeID:  child.ParentNodeID,
		attempt: child.ParentAttempt,
		outputs: child.Variables,
	}
	if child.Status != types.ExecutionSucceeded {
		c.err = types.NewExecutionErrorf(types.CodeSubprocess,
			"subprocess execution %s finished %s", child.ID, child.Status)
	}
	parent.postCompletion(c)
}

// cancelChildrenOf requests cancellation of live nested executions of a
// finished parent. The children are collected first so no runner is
// touched while the scheduler's set lock is held.
func (e *engine) cancelChildrenOf(executionID string) {
	var children []*executionRunner
	e.sched.forEach(func(key string, r *executionRunner) {
		if r.exec.ParentID == executionID {
			children = append(children, r)
		}
	})
	for _, child := range children {
		child.requestCancel()
	}
}

func (e *engine) publish(eventType string, payload types.Data) {
	if e.publisher == nil {
		return
	}
	e.publisher.Publish(eventType, payload)
}

func (e *engine) publishTerminal(exec *types.SequenceExecution) {
	var eventType string
	switch exec.Status {
	case types.ExecutionSucceeded:
		eventType = types.EventExecutionSucceeded
	case types.ExecutionFailed:
		eventType = types.EventExecutionFailed
	case types.ExecutionCancelled:
		eventType = types.EventExecutionCancelled
	case types.ExecutionTimedOut:
		eventType = types.EventExecutionTimedOut
	default:
		return
	}
	e.publish(eventType, types.Data{
		"executionId": exec.ID,
		"sequenceId":  exec.SequenceID,
		"status":      exec.Status.String(),
	})
}
