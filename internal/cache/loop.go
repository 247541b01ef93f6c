package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrLoopStopped is returned by Do once the loop has exited.
var ErrLoopStopped = errors.New("mutator loop stopped")

// Loop is the single mutator context. Functions submitted through Do or
// Post run one at a time on the goroutine that called Run, so state they
// touch needs no locking.
type Loop struct {
	mailbox chan func()
	done    chan struct{}
}

// NewLoop creates a Loop whose mailbox buffers size pending functions.
func NewLoop(size int) *Loop {
	if size <= 0 {
		size = 256
	}
	return &Loop{
		mailbox: make(chan func(), size),
		done:    make(chan struct{}),
	}
}

// Run drains the mailbox until ctx is cancelled. It must be called once.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-l.mailbox:
			l.run(fn)
		}
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("mutator loop: recovered panic", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

// Do runs fn on the loop and waits for it to finish. It must not be called
// from inside the loop.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}

	select {
	case l.mailbox <- wrapped:
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		// The loop may have run fn just before exiting.
		select {
		case <-finished:
			return nil
		default:
			return ErrLoopStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post queues fn without waiting. It reports false when the mailbox is
// full or the loop has stopped, in which case fn is dropped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.mailbox <- fn:
		return true
	default:
		slog.Warn("mutator loop: mailbox full; dropping task")
		return false
	}
}
