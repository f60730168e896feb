package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInMemoryEventBusDeliversInOrderPerKey(t *testing.T) {
	b := NewInMemoryEventBus(4, 16)
	defer b.Close()

	var mu sync.Mutex
	var received []int

	require.NoError(t, b.Subscribe("save", func(e *Event) error {
		mu.Lock()
		received = append(received, e.Payload.(int))
		mu.Unlock()
		return nil
	}))

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Publish(&Event{Topic: "save", Key: "episode-1", Payload: i}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 10
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, v := range received {
		require.Equal(t, i, v, "events sharing a key must be delivered in publish order")
	}
}

func TestInMemoryEventBusFullQueueReturnsError(t *testing.T) {
	b := NewInMemoryEventBus(1, 1)
	defer b.Close()

	require.NoError(t, b.Subscribe("slow", func(e *Event) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	}))

	require.NoError(t, b.Publish(&Event{Topic: "slow", Key: "a"}))
	require.NoError(t, b.Publish(&Event{Topic: "slow", Key: "a"}))
	err := b.Publish(&Event{Topic: "slow", Key: "a"})
	require.Error(t, err)
}

func TestInMemoryEventBusClosedRejectsPublish(t *testing.T) {
	b := NewInMemoryEventBus(2, 4)
	require.NoError(t, b.Close())
	require.Error(t, b.Publish(&Event{Topic: "x", Key: "y"}))
	require.NoError(t, b.Close(), "Close must be idempotent")
}

func TestLatestTopicOverwritesAndNeverBlocks(t *testing.T) {
	topic := NewLatestTopic()

	_, ok := topic.Load()
	require.False(t, ok, "unstarted topic has no data")

	topic.Publish(1)
	topic.Publish(2)
	topic.Publish(3)

	v, ok := topic.Load()
	require.True(t, ok)
	require.Equal(t, 3, v, "consumer must see only the most recent value")
}

func TestLatestBusTopicIsolation(t *testing.T) {
	b := NewLatestBus()
	b.Topic("frames.top").Publish("top-frame")
	b.Topic("frames.wrist").Publish("wrist-frame")

	v, ok := b.Topic("frames.top").Load()
	require.True(t, ok)
	require.Equal(t, "top-frame", v)

	v, ok = b.Topic("frames.wrist").Load()
	require.True(t, ok)
	require.Equal(t, "wrist-frame", v)
}
