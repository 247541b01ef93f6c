package broker

import (
	"context"
	"sync"
	"time"

	"github.com/daap14/teamsync/internal/clock"
)

const memorySubscriptionBuffer = 256

// Memory is an in-process Broker. Several components in one process (or
// several simulated processes in a test) can share one instance. Key
// expiry follows the injected clock.
type Memory struct {
	clock clock.Clock

	mu     sync.Mutex
	keys   map[string]memoryEntry
	subs   map[*memorySubscription]struct{}
	closed bool
	down   bool
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemory creates an empty in-process broker.
func NewMemory(c clock.Clock) *Memory {
	if c == nil {
		c = clock.Real()
	}
	return &Memory{
		clock: c,
		keys:  make(map[string]memoryEntry),
		subs:  make(map[*memorySubscription]struct{}),
	}
}

// SetDown simulates a broker outage: while down every call fails and
// open subscriptions are terminated.
func (m *Memory) SetDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
	if down {
		for s := range m.subs {
			s.terminate()
		}
		m.subs = make(map[*memorySubscription]struct{})
	}
}

func (m *Memory) check() error {
	if m.closed {
		return ErrClosed
	}
	if m.down {
		return ErrUnavailable
	}
	return nil
}

func (m *Memory) Publish(ctx context.Context, channel, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	msg := Message{Channel: channel, Payload: payload}
	for s := range m.subs {
		if _, ok := s.channels[channel]; !ok {
			continue
		}
		select {
		case s.ch <- msg:
		default:
			// Slow subscriber; pub/sub is at-most-once.
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	s := &memorySubscription{
		broker:   m,
		channels: make(map[string]struct{}, len(channels)),
		ch:       make(chan Message, memorySubscriptionBuffer),
		done:     make(chan struct{}),
	}
	for _, c := range channels {
		s.channels[c] = struct{}{}
	}
	m.subs[s] = struct{}{}
	return s, nil
}

// SubscriberCount reports how many open subscriptions include channel.
func (m *Memory) SubscriberCount(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for s := range m.subs {
		if _, ok := s.channels[channel]; ok {
			n++
		}
	}
	return n
}

func (m *Memory) live(key string) (memoryEntry, bool) {
	e, ok := m.keys[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !m.clock.Now().Before(e.expiresAt) {
		delete(m.keys, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (m *Memory) entry(value string, ttl time.Duration) memoryEntry {
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.clock.Now().Add(ttl)
	}
	return e
}

func (m *Memory) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return false, err
	}
	if _, ok := m.live(key); ok {
		return false, nil
	}
	m.keys[key] = m.entry(value, ttl)
	return true, nil
}

func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.keys[key] = m.entry(value, ttl)
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return "", false, err
	}
	e, ok := m.live(key)
	return e.value, ok, nil
}

func (m *Memory) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return false, err
	}
	e, ok := m.live(key)
	if !ok || e.value != value {
		return false, nil
	}
	delete(m.keys, key)
	return true, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.check()
}

// Close terminates every subscription. Further calls return ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for s := range m.subs {
		s.terminate()
	}
	m.subs = nil
	return nil
}

type memorySubscription struct {
	broker   *Memory
	channels map[string]struct{}
	ch       chan Message
	done     chan struct{}
	once     sync.Once
}

// terminate must be called with broker.mu held.
func (s *memorySubscription) terminate() {
	s.once.Do(func() { close(s.done) })
}

func (s *memorySubscription) Receive(ctx context.Context) (Message, error) {
	select {
	case msg := <-s.ch:
		return msg, nil
	case <-s.done:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (s *memorySubscription) Close() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	if s.broker.subs != nil {
		delete(s.broker.subs, s)
	}
	s.terminate()
	return nil
}
