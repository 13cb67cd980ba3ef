package hostboot

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

var (
	// ErrSetupPanicked is recorded by a Gate whose setup function panicked.
	ErrSetupPanicked = errors.New("setup panicked")
	// ErrSetupInProgress is returned to callers arriving while setup runs.
	ErrSetupInProgress = errors.New("setup in progress")
)

// Gate runs a setup function at most once per process.
//
// Do never blocks on a running setup: a module initializer calling back into setup while its own
// load is in progress must return. Callers that need the outcome use Wait.
type Gate struct {
	done atomic.Bool

	mu       sync.Mutex
	running  bool
	finished chan struct{}
	err      error
}

type gateKey struct{ g *Gate }

// Done reports whether setup has completed.
func (g *Gate) Done() bool {
	return g.done.Load()
}

// Err is the result of the completed setup, nil while it has not completed.
func (g *Gate) Err() error {
	if !g.done.Load() {
		return nil
	}
	return g.err
}

func (g *Gate) reentrant(ctx context.Context) bool {
	return ctx.Value(gateKey{g}) != nil
}

// finishedLocked returns the channel closed on completion. g.mu must be held.
func (g *Gate) finishedLocked() chan struct{} {
	if g.finished == nil {
		g.finished = make(chan struct{})
	}
	return g.finished
}

// Do runs fn unless it ran or is running. ran is true only for the caller that ran fn.
//
// A caller arriving while fn runs gets ErrSetupInProgress, or nil when its context is the one
// handed to fn. Once fn returned every caller gets its result: a failed setup is never retried.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) (ran bool, err error) {
	if g.done.Load() {
		return false, g.err
	}
	g.mu.Lock()
	if g.done.Load() {
		g.mu.Unlock()
		return false, g.err
	}
	if g.running {
		g.mu.Unlock()
		if g.reentrant(ctx) {
			return false, nil
		}
		return false, ErrSetupInProgress
	}
	g.running = true
	g.finishedLocked()
	g.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			g.finish(errors.Wrapf(ErrSetupPanicked, "%v", r))
			panic(r)
		}
	}()
	err = fn(context.WithValue(ctx, gateKey{g}, true))
	g.finish(err)
	return true, err
}

// Wait blocks until setup completed and returns its result, or until ctx is done.
// Called from inside the setup function it returns ErrSetupInProgress at once.
func (g *Gate) Wait(ctx context.Context) error {
	if g.done.Load() {
		return g.err
	}
	if g.reentrant(ctx) {
		return ErrSetupInProgress
	}
	g.mu.Lock()
	finished := g.finishedLocked()
	g.mu.Unlock()
	select {
	case <-finished:
		return g.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gate) finish(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
	g.running = false
	g.done.Store(true)
	close(g.finishedLocked())
}
