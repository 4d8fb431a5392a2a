package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/yungbote/shifu-backend/internal/data/aggregates"
	"github.com/yungbote/shifu-backend/internal/platform/dbctx"
)

var errInjectedRollback = errors.New("injected rollback")

// FailingTxRunner wraps a real runner and can force the Nth transaction to roll back
// after its body ran, simulating a failed commit.
type FailingTxRunner struct {
	Inner aggregates.TxRunner

	mu       sync.Mutex
	failOn   int
	failErr  error
	calls    int
	rollback int
}

var _ aggregates.TxRunner = (*FailingTxRunner)(nil)

// FailNth arms the runner so the nth call (1-based, counted from now) fails with err.
func (r *FailingTxRunner) FailNth(n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failOn = r.calls + n
	r.failErr = err
}

func (r *FailingTxRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *FailingTxRunner) Rollbacks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rollback
}

func (r *FailingTxRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	r.mu.Lock()
	r.calls++
	fail := r.failOn != 0 && r.calls == r.failOn
	failErr := r.failErr
	r.mu.Unlock()

	err := r.Inner.InTx(ctx, func(dbc dbctx.Context) error {
		if err := fn(dbc); err != nil {
			return err
		}
		if fail {
			return errInjectedRollback
		}
		return nil
	})
	if err != nil {
		r.mu.Lock()
		r.rollback++
		r.mu.Unlock()
	}
	if errors.Is(err, errInjectedRollback) && failErr != nil {
		return failErr
	}
	return err
}
