// Package event implements the cross-session wait/notify primitive used
// to wake sessions blocked in IDLE/NOOP when a mailbox changes (spec
// §4.4, §5, §9).
package event

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// errFired is returned internally by Or's legs to signal "this side woke
// up normally"; errgroup treats any non-nil return as cause to cancel
// the group, which is exactly the fan-in behavior Or needs.
var errFired = errors.New("event fired")

// Event is an auto-reset signal: Set wakes every goroutine currently in
// Wait and also latches, so the next Wait call returns at once and
// clears the latch. This matches "Update-event coalescence" in spec §9:
// multiple Set calls between waits must not lose a wakeup (they
// coalesce into one), so Set broadcasts to a channel that is swapped
// out atomically under lock. A Wait that follows a Set which already
// woke other waiters also returns at once.
type Event struct {
	mu      sync.Mutex
	ch      chan struct{}
	pending bool // a Set that no Wait call has consumed yet
}

// New returns a ready-to-use Event.
func New() *Event {
	return &Event{ch: make(chan struct{})}
}

// Set wakes every goroutine currently blocked in Wait and latches until
// the next Wait call consumes it.
func (e *Event) Set() {
	e.mu.Lock()
	old := e.ch
	e.ch = make(chan struct{})
	e.pending = true
	e.mu.Unlock()
	close(old)
}

// chanSnapshot returns the channel waiters should select on, read under
// lock so a concurrent Set cannot be missed between the read and the
// select; fired reports (and consumes) a latched Set instead.
func (e *Event) chanSnapshot() (ch chan struct{}, fired bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending {
		e.pending = false
		return nil, true
	}
	return e.ch, false
}

// Wait blocks until Set is called, ctx is done, or timeout elapses,
// whichever comes first. A timeout is reported as context.DeadlineExceeded.
func (e *Event) Wait(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ch, fired := e.chanSnapshot()
	if fired {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Or returns a context that is canceled as soon as either e or other
// fires, implementing the "or-event" combinator of spec §9: it must not
// leak either input's subscribers once one side completes, which here
// falls out of errgroup's context cancellation propagating to both
// legs and the caller cancelling the returned context when done.
func Or(parent context.Context, e, other *Event) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	g, gctx := errgroup.WithContext(ctx)
	wait := func(ev *Event) error {
		if err := ev.Wait(gctx, 0); err != nil {
			return err
		}
		return errFired
	}
	g.Go(func() error { return wait(e) })
	g.Go(func() error { return wait(other) })
	go func() {
		_ = g.Wait()
		cancel()
	}()
	return ctx, cancel
}
