// Package worker runs long-lived background tasks with restart-on-failure.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/daap14/teamsync/internal/clock"
)

// Task is a long-running function. Returning nil means the task is done;
// returning an error asks the supervisor to restart it after the backoff.
type Task func(ctx context.Context) error

// Supervisor owns a group of tasks sharing one lifecycle. Tasks observe
// cancellation through their context; Stop cancels and waits.
type Supervisor struct {
	clock   clock.Clock
	backoff time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSupervisor creates a Supervisor whose tasks stop when parent is done
// or Stop is called.
func NewSupervisor(parent context.Context, backoff time.Duration, c clock.Clock) *Supervisor {
	if c == nil {
		c = clock.Real()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{
		clock:   c,
		backoff: backoff,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Go starts task in its own goroutine and keeps restarting it after a
// fixed backoff while it fails and the supervisor is running.
func (s *Supervisor) Go(name string, task Task) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			err := s.run(task)
			if s.ctx.Err() != nil {
				return
			}
			if err == nil {
				slog.Debug("worker: task finished", "task", name)
				return
			}

			slog.Warn("worker: task failed; restarting",
				"task", name,
				"backoff", s.backoff.String(),
				"error", err,
			)
			select {
			case <-s.ctx.Done():
				return
			case <-s.clock.After(s.backoff):
			}
		}
	}()
}

func (s *Supervisor) run(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task(s.ctx)
}

// Stop cancels every task and waits for them to return.
func (s *Supervisor) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Done is closed once the supervisor is stopping.
func (s *Supervisor) Done() <-chan struct{} {
	return s.ctx.Done()
}
