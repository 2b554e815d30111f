package operation

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

// ErrAttemptsExhausted is returned by WaitForSuccess when the attempt budget runs out before the
// test function reports success.
var ErrAttemptsExhausted = errors.New("attempts exhausted")

// SingleOperationManager ensures only 1 operation is happening a time
// An operation can be nested, so if there is already an operation in progress,
// it can have sub-operations without an issue.
type SingleOperationManager struct {
	mu        sync.Mutex
	currentOp *anOp
	clock     clock.Clock
}

// NewSingleOperationManager returns a manager whose waits are driven by clk.
func NewSingleOperationManager(clk clock.Clock) *SingleOperationManager {
	return &SingleOperationManager{clock: clk}
}

// CancelRunning cancel's a current operation unless it's mine.
func (sm *SingleOperationManager) CancelRunning(ctx context.Context) {
	if ctx.Value(somCtxKeySingleOp) != nil {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.cancelInLock(ctx)
}

type somCtxKey byte

const somCtxKeySingleOp = somCtxKey(iota)

// New creates a new operation, cancels previous, returns a new context and function to call when done.
func (sm *SingleOperationManager) New(ctx context.Context) (context.Context, func()) {
	// handle nested ops
	if ctx.Value(somCtxKeySingleOp) != nil {
		return ctx, func() {}
	}

	sm.mu.Lock()

	// first cancel any old operation
	sm.cancelInLock(ctx)

	theOp := &anOp{}

	ctx = context.WithValue(ctx, somCtxKeySingleOp, theOp)

	theOp.ctx, theOp.cancelFunc = context.WithCancel(ctx)
	sm.currentOp = theOp
	sm.mu.Unlock()

	return theOp.ctx, func() {
		theOp.cancelFunc()
		sm.mu.Lock()
		if theOp == sm.currentOp {
			sm.currentOp = nil
		}
		sm.mu.Unlock()
	}
}

// WaitForSuccess will call testFunc every pollTime until it returns true or an error. A positive
// maxAttempts bounds the number of calls; once spent ErrAttemptsExhausted is returned. The wait
// between calls is measured on the manager's clock.
func (sm *SingleOperationManager) WaitForSuccess(
	ctx context.Context,
	pollTime time.Duration,
	maxAttempts int,
	testFunc func(ctx context.Context) (bool, error),
) error {
	ctx, finish := sm.New(ctx)
	defer finish()

	for attempt := 1; ; attempt++ {
		res, err := testFunc(ctx)
		if err != nil {
			return err
		}
		if res {
			return nil
		}
		if maxAttempts > 0 && attempt >= maxAttempts {
			return errors.Wrapf(ErrAttemptsExhausted, "after %d attempts", attempt)
		}

		if !sm.wait(ctx, pollTime) {
			return ctx.Err()
		}
	}
}

// wait blocks for dur on the manager's clock. It returns false if ctx finished first.
func (sm *SingleOperationManager) wait(ctx context.Context, dur time.Duration) bool {
	if dur <= 0 {
		return ctx.Err() == nil
	}
	timer := sm.clock.Timer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (sm *SingleOperationManager) cancelInLock(ctx context.Context) {
	myOp := ctx.Value(somCtxKeySingleOp)
	op := sm.currentOp

	if op == nil || myOp == op {
		return
	}

	op.cancelFunc()

	sm.currentOp = nil
}

type anOp struct {
	ctx        context.Context
	cancelFunc context.CancelFunc
}
