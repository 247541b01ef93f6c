package redisbroker_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daap14/teamsync/internal/broker/redisbroker"
)

func setupBroker(t *testing.T) (*redisbroker.Broker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	b, err := redisbroker.New(redisbroker.Options{
		URL:         "redis://" + mr.Addr(),
		DialTimeout: time.Second,
		ReadTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b, mr
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := redisbroker.New(redisbroker.Options{URL: "://nope"})
	assert.Error(t, err)
}

func TestSetNX_OnlyFirstClaimWins(t *testing.T) {
	b, _ := setupBroker(t)
	ctx := context.Background()

	ok, err := b.SetNX(ctx, "presence:p", "proc-1", 25*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.SetNX(ctx, "presence:p", "proc-2", 25*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	v, found, err := b.Get(ctx, "presence:p")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "proc-1", v)
}

func TestGet_ExpiredKeyIsAbsent(t *testing.T) {
	b, mr := setupBroker(t)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "presence:p", "proc-1", 25*time.Second))
	mr.FastForward(26 * time.Second)

	_, found, err := b.Get(ctx, "presence:p")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCompareAndDelete(t *testing.T) {
	b, mr := setupBroker(t)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "presence:p", "proc-2", time.Minute))

	deleted, err := b.CompareAndDelete(ctx, "presence:p", "proc-1")
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.True(t, mr.Exists("presence:p"))

	deleted, err = b.CompareAndDelete(ctx, "presence:p", "proc-2")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, mr.Exists("presence:p"))
}

func TestPublishSubscribe(t *testing.T) {
	b, _ := setupBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := b.Subscribe(ctx, "teams:chat", "teams:presence")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Publish(ctx, "teams:presence", "v1|x"))

	msg, err := sub.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "teams:presence", msg.Channel)
	assert.Equal(t, "v1|x", msg.Payload)
}

func TestPing_FailsWhenServerGone(t *testing.T) {
	b, mr := setupBroker(t)
	ctx := context.Background()

	require.NoError(t, b.Ping(ctx))
	mr.Close()
	assert.Error(t, b.Ping(ctx))
}
