// Package broker abstracts the shared key/channel store the fleet uses for
// pub/sub fan-out and TTL-bounded presence keys.
package broker

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed broker or subscription.
var ErrClosed = errors.New("broker closed")

// ErrUnavailable is returned while the broker cannot be reached.
var ErrUnavailable = errors.New("broker unavailable")

// Message is a payload received on a subscribed channel.
type Message struct {
	Channel string
	Payload string
}

// Subscription delivers messages for the channels it was opened with.
type Subscription interface {
	// Receive blocks until a message arrives, ctx is done, or the
	// connection fails. Any error ends the subscription.
	Receive(ctx context.Context) (Message, error)
	Close() error
}

// Broker is the contract both the Redis and in-process implementations satisfy.
type Broker interface {
	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)

	// SetNX stores value under key with ttl only if key is absent and
	// reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Set stores value under key with ttl unconditionally.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns the value under key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// CompareAndDelete removes key only if it currently holds value.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}
