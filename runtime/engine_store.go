package runtime

import (
	"context"

	"github.com/juju/errors"

	"github.com/oabdelmaksoud/taskflow/types"
	"github.com/oabdelmaksoud/taskflow/utils"
)

const (
	SequencePath  = "/sequence/"
	ExecutionPath = "/execution/"
)

func (e *engine) saveSequence(ctx context.Context, seq *types.TaskSequence) error {
	b, err := utils.Serialize(seq)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(e.store.Set(ctx, SequencePath, seq.ID, b))
}

func (e *engine) loadSequence(ctx context.Context, id string) (*types.TaskSequence, error) {
	b, err := e.store.Get(ctx, SequencePath, id)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if b == nil {
		return nil, errors.NotFoundf("sequence: %s", id)
	}

	seq := &types.TaskSequence{}
	if err := utils.Unserialize(b, seq); err != nil {
		return nil, errors.Trace(err)
	}
	return seq, nil
}

// saveExecution is the tick commit: the whole execution snapshot in a
// single Set, so one tick is persisted atomically per execution id.
func (e *engine) saveExecution(ctx context.Context, exec *types.SequenceExecution) error {
	b, err := utils.Serialize(exec)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(e.store.Set(ctx, ExecutionPath, exec.ID, b))
}

func (e *engine) loadExecution(ctx context.Context, id string) (*types.SequenceExecution, error) {
	b, err := e.store.Get(ctx, ExecutionPath, id)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if b == nil {
		return nil, errors.NotFoundf("execution: %s", id)
	}

	exec := &types.SequenceExecution{}
	if err := utils.Unserialize(b, exec); err != nil {
		return nil, errors.Trace(err)
	}
	return exec, nil
}

func (e *engine) removeExecution(ctx context.Context, id string) error {
	return errors.Trace(e.store.Remove(ctx, ExecutionPath, id))
}
