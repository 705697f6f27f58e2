package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/agentvault/internal/domain"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("AGENTVAULT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("AGENTVAULT_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLockManager_ExclusiveUntilReleased(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	lm := NewLockManager(c)
	key := "test:" + uuid.NewString()

	l, err := lm.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, key, time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	require.NoError(t, l.Refresh(ctx, time.Minute))
	l.Release()
	l.Release()
	require.ErrorIs(t, l.Refresh(ctx, time.Minute), domain.ErrLockHeld)

	l2, err := lm.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	l2.Release()
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(c)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }
	key := "test:" + uuid.NewString()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
		now = now.Add(time.Second)
	}
	ok, err := rl.Allow(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(time.Minute)
	ok, err = rl.Allow(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeduper(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	d := NewDeduper(c)
	key := "test:" + uuid.NewString()

	seen, err := d.Seen(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, seen)
	seen, err = d.Seen(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestSignalBus_Stream(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	bus := NewSignalBus(c)
	stream := "test:stream:" + uuid.NewString()

	require.NoError(t, bus.StreamAppend(ctx, stream, []byte(`{"seq":1}`)))
	require.NoError(t, bus.StreamAppend(ctx, stream, []byte(`{"seq":2}`)))

	msgs, err := bus.StreamRead(ctx, stream, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, `{"seq":2}`, string(msgs[1].Payload))

	msgs, err = bus.StreamRead(ctx, stream, msgs[1].ID, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSignalBus_PublishSubscribe(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewSignalBus(c)
	channel := "test:events:" + uuid.NewString()

	sub, err := bus.Subscribe(ctx, channel)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, channel, []byte(`{"name":"Minted"}`)))

	select {
	case msg := <-sub:
		assert.JSONEq(t, `{"name":"Minted"}`, string(msg))
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	for range sub {
	}
}

func TestClientKey_Namespaced(t *testing.T) {
	c := &Client{ns: DefaultNamespace}
	assert.Equal(t, "agentvault:lock:sequencer", c.Key("lock", "sequencer"))
}
