// Package bus carries protocol packets between processes over a shared
// broker. Delivery is at-most-once and best-effort: publishes are queued
// and sent from a background worker, and inbound packets that fail to
// decode or that this process produced itself are discarded.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/daap14/teamsync/internal/broker"
	"github.com/daap14/teamsync/internal/clock"
	"github.com/daap14/teamsync/internal/protocol"
	"github.com/daap14/teamsync/internal/worker"
)

// ErrAlreadyStarted is returned by Start on a running bus.
var ErrAlreadyStarted = errors.New("bus already started")

// Handler receives every accepted inbound packet. It runs on a background
// subscriber goroutine and must not mutate main-loop state directly.
type Handler func(ctx context.Context, p protocol.Packet)

// Options tunes the bus. Zero values fall back to defaults.
type Options struct {
	Prefix         string
	QueueSize      int
	PublishTimeout time.Duration
	Backoff        time.Duration
	Clock          clock.Clock
}

// Bus is the process's endpoint on the fleet event bus.
type Bus struct {
	broker broker.Broker
	origin string
	opts   Options
	queue  chan protocol.Packet

	mu  sync.Mutex
	sup *worker.Supervisor

	dropped atomic.Uint64
}

// New creates a Bus that stamps nothing itself but treats packets whose
// origin equals origin as self-echo.
func New(b broker.Broker, origin string, opts Options) *Bus {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 3 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 2 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Bus{
		broker: b,
		origin: origin,
		opts:   opts,
		queue:  make(chan protocol.Packet, opts.QueueSize),
	}
}

// Start launches one subscriber loop per packet kind and the publish
// worker. Loops reconnect after the configured backoff until Stop.
func (b *Bus) Start(ctx context.Context, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sup != nil {
		return ErrAlreadyStarted
	}

	b.sup = worker.NewSupervisor(ctx, b.opts.Backoff, b.opts.Clock)
	for _, kind := range protocol.Kinds() {
		b.sup.Go("bus-subscribe-"+string(kind), func(ctx context.Context) error {
			return b.subscribe(ctx, kind, handler)
		})
	}
	b.sup.Go("bus-publish", b.drain)

	slog.Info("bus started", "origin", b.origin, "prefix", b.opts.Prefix)
	return nil
}

// Stop terminates the subscriber loops and the publish worker. Packets
// still queued are dropped.
func (b *Bus) Stop() {
	b.mu.Lock()
	sup := b.sup
	b.sup = nil
	b.mu.Unlock()

	if sup != nil {
		sup.Stop()
		slog.Info("bus stopped", "origin", b.origin)
	}
}

// Publish queues p for asynchronous delivery and never blocks. It reports
// false when the queue is full and the packet was dropped.
func (b *Bus) Publish(p protocol.Packet) bool {
	select {
	case b.queue <- p:
		return true
	default:
		b.dropped.Add(1)
		slog.Warn("bus: publish queue full; dropping packet", "kind", p.Kind())
		return false
	}
}

// Dropped returns how many outbound packets were discarded because the
// queue was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *Bus) subscribe(ctx context.Context, kind protocol.Kind, handler Handler) error {
	channel := protocol.Channel(b.opts.Prefix, kind)

	sub, err := b.broker.Subscribe(ctx, channel)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", channel, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = sub.Close() })
	defer func() {
		stop()
		_ = sub.Close()
	}()

	slog.Debug("bus: subscribed", "channel", channel)

	for {
		msg, err := sub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receiving on %s: %w", channel, err)
		}

		p, ok := protocol.Decode(kind, msg.Payload)
		if !ok {
			slog.Debug("bus: dropped malformed packet", "channel", channel)
			continue
		}
		if p.Source() == b.origin {
			continue
		}
		handler(ctx, p)
	}
}

func (b *Bus) drain(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-b.queue:
			b.send(ctx, p)
		}
	}
}

func (b *Bus) send(ctx context.Context, p protocol.Packet) {
	ctx, cancel := context.WithTimeout(ctx, b.opts.PublishTimeout)
	defer cancel()

	channel := protocol.Channel(b.opts.Prefix, p.Kind())
	if err := b.broker.Publish(ctx, channel, p.Encode()); err != nil {
		slog.Warn("bus: publish failed; packet dropped", "channel", channel, "error", err)
	}
}
