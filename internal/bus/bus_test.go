package bus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	frames []string
}

func (c *collector) add(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, string(frame))
}

func (c *collector) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...)
}

func TestPublishReachesSessionSubscribersInOrder(t *testing.T) {
	b := NewInProcess()
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var a, other collector
	require.NoError(t, b.Subscribe(ctx, "sess_a", a.add))
	require.NoError(t, b.Subscribe(ctx, "sess_b", other.add))

	var want []string
	for i := 0; i < 20; i++ {
		frame := fmt.Sprintf(`{"n":%d}`, i)
		want = append(want, frame)
		require.NoError(t, b.Publish("sess_a", []byte(frame)))
	}

	require.Eventually(t, func() bool { return len(a.all()) == 20 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, a.all())
	assert.Empty(t, other.all())
}

func TestUnsubscribeOnCancel(t *testing.T) {
	b := NewInProcess()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var c collector
	require.NoError(t, b.Subscribe(ctx, "sess_x", c.add))
	require.NoError(t, b.Publish("sess_x", []byte("one")))
	require.Eventually(t, func() bool { return len(c.all()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Publish("sess_x", []byte("two")))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"one"}, c.all())
}

func TestPublishWithoutSubscribersIsDropped(t *testing.T) {
	b := NewInProcess()
	require.NoError(t, b.Publish("nobody", []byte("x")))
	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Publish("nobody", []byte("x")), ErrClosed)
	assert.ErrorIs(t, b.Subscribe(context.Background(), "nobody", func([]byte) {}), ErrClosed)
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "session.sess_1", Topic("sess_1"))
}
