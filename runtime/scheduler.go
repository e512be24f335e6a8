package runtime

import (
	"context"
	"sync"

	"github.com/gammazero/workerpool"
	"github.com/juju/errors"

	"github.com/oabdelmaksoud/taskflow/utils"
)

func newBatchScheduler(concurrency int, asyncFlag bool) *batchScheduler {
	return &batchScheduler{
		wp:        workerpool.New(concurrency),
		asyncFlag: asyncFlag,
	}
}

/**
 * batchScheduler owns the live set of execution runners and fans their
 * ticks out over a bounded worker pool. No two workers ever tick the
 * same execution: each runner is single-flight (errCh) in async mode
 * and the loop is sequential in sync mode.
 */
type batchScheduler struct {
	mu sync.Mutex

	wp        *workerpool.WorkerPool
	asyncFlag bool
	runners   map[string]*executionRunner
}

func (b *batchScheduler) exists(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, exists := b.runners[key]
	return exists
}

func (b *batchScheduler) get(key string) *executionRunner {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.runners[key]
}

func (b *batchScheduler) add(key string, r *executionRunner) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.runners == nil {
		b.runners = make(map[string]*executionRunner)
	}
	if _, exists := b.runners[key]; exists {
		return errors.AlreadyExistsf("execution: %s", key)
	}
	b.runners[key] = r
	return nil
}

func (b *batchScheduler) forEach(visit func(key string, r *executionRunner)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, r := range b.runners {
		visit(key, r)
	}
}

func (b *batchScheduler) stopWait(ctx context.Context) error {
	// drain in-flight ticks before touching the runner set; a ticking
	// worker may be adding a subprocess child under our lock
	b.wp.StopWait()

	b.mu.Lock()
	runners := utils.CloneMap(b.runners)
	b.mu.Unlock()

	// persist outside the set lock: a finishing sync-mode tick holds
	// its runner lock and calls back into the scheduler, so taking the
	// runner locks under b.mu can deadlock against it
	var retErr error
	for key, r := range runners {
		r.mu.Lock()
		err := r.eng.saveExecution(ctx, r.exec)
		r.mu.Unlock()
		if err != nil {
			retErr = errors.Wrapf(retErr, err, "failed to persist %s", key)
		}
	}
	return retErr
}

func (b *batchScheduler) runOnce(ctx context.Context, maxRunAmount int) error {
	// pick runnables under the lock, tick them outside it: a tick may
	// add subprocess children to the runner set
	b.mu.Lock()
	if len(b.runners) == 0 {
		b.mu.Unlock()
		return nil
	}
	runnables := make([]*executionRunner, 0, len(b.runners))
	for _, r := range b.runners {
		if !r.canRun() {
			continue
		}
		if len(runnables) >= maxRunAmount {
			break
		}
		runnables = append(runnables, r)
	}
	b.mu.Unlock()

	for _, r := range runnables {
		var err error
		if b.asyncFlag {
			err = errors.Trace(r.tryAsyncRunOnce(ctx, b.wp.Submit))
		} else {
			err = errors.Trace(r.runOnce(ctx))
		}
		if err != nil {
			return errors.Trace(err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	keyToRemoved := make([]string, 0, len(b.runners))
	for key, r := range b.runners {
		if r.tryCheckCanRemove() {
			keyToRemoved = append(keyToRemoved, key)
		}
	}
	for _, key := range keyToRemoved {
		delete(b.runners, key)
	}
	return nil
}
