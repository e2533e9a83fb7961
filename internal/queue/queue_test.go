package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/speedgate/internal/monitoring"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func TestBounded_DropsNewestWhenFull(t *testing.T) {
	q := NewBounded[int]("transit", 2)

	assert.True(t, q.TryPut(1))
	assert.True(t, q.TryPut(2))
	assert.False(t, q.TryPut(3))
	assert.Equal(t, uint64(1), q.Dropped())
	assert.Equal(t, 2, q.Len())

	v, ok := q.TryGet()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	v, ok = q.TryGet()
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = q.TryGet()
	assert.False(t, ok)
}

func TestBounded_MinimumCapacity(t *testing.T) {
	q := NewBounded[string]("display", 0)
	assert.Equal(t, 1, q.Cap())
}

func TestBounded_Get(t *testing.T) {
	q := NewBounded[int]("transit", 1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.TryPut(7)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := q.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	cancelled, cancel2 := context.WithCancel(context.Background())
	cancel2()
	_, err = q.Get(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTopic_FanOut(t *testing.T) {
	topic := NewTopic[string]("trigger")

	id1, ch1, err := topic.Subscribe(1)
	require.NoError(t, err)
	_, ch2, err := topic.Subscribe(1)
	require.NoError(t, err)
	assert.NotEqual(t, "", id1)
	assert.Equal(t, 2, topic.Subscribers())

	assert.Equal(t, 2, topic.Publish("a"))
	assert.Equal(t, "a", <-ch1)
	assert.Equal(t, "a", <-ch2)

	topic.Unsubscribe(id1)
	_, open := <-ch1
	assert.False(t, open)
	assert.Equal(t, 1, topic.Publish("b"))
	assert.Equal(t, uint64(2), topic.Published())
}

func TestTopic_FullSubscriberDrops(t *testing.T) {
	topic := NewTopic[int]("result")
	_, ch, err := topic.Subscribe(1)
	require.NoError(t, err)

	assert.Equal(t, 1, topic.Publish(1))
	assert.Equal(t, 0, topic.Publish(2))
	assert.Equal(t, uint64(1), topic.Dropped())
	assert.Equal(t, 1, <-ch)
}

func TestTopic_NoSubscribersIsNotADrop(t *testing.T) {
	topic := NewTopic[int]("trigger")
	assert.Equal(t, 0, topic.Publish(1))
	assert.Zero(t, topic.Dropped())
}

func TestTopic_Close(t *testing.T) {
	topic := NewTopic[int]("trigger")
	_, ch, err := topic.Subscribe(1)
	require.NoError(t, err)

	topic.Close()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, topic.Publish(1))

	_, _, err = topic.Subscribe(1)
	assert.ErrorIs(t, err, ErrClosed)
	topic.Close()
}
