package command

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/robotcap/agent/internal/config"
)

func TestNewEventPublisherDisabledReturnsNil(t *testing.T) {
	p, err := NewEventPublisher(config.TelemetryConfig{Enabled: false}, "robot-01")
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestNewEventPublisherRequiresBrokersAndTopic(t *testing.T) {
	_, err := NewEventPublisher(config.TelemetryConfig{Enabled: true, Topic: "episodes"}, "robot-01")
	require.Error(t, err)

	_, err = NewEventPublisher(config.TelemetryConfig{Enabled: true, Brokers: []string{"localhost:9092"}}, "robot-01")
	require.Error(t, err)
}

func TestNewEventPublisherValid(t *testing.T) {
	p, err := NewEventPublisher(config.TelemetryConfig{
		Enabled: true,
		Brokers: []string{"localhost:9092"},
		Topic:   "episodes",
	}, "robot-01")
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NoError(t, p.Close())
}

// fakeWriter captures messages instead of dialing a real broker.
type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
	err    error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublishEmitsEpisodeEvent(t *testing.T) {
	w := &fakeWriter{}
	p := &EventPublisher{hostname: "robot-01", writer: w}

	p.Publish(context.Background(), "demo-repo", 7, "saved", "")

	require.Len(t, w.msgs, 1)
	require.Equal(t, "demo-repo", string(w.msgs[0].Key))

	var evt EpisodeEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &evt))
	require.Equal(t, "robot-01", evt.Hostname)
	require.Equal(t, 7, evt.Episode)
	require.Equal(t, "saved", evt.Phase)
}

func TestPublishOnNilPublisherIsNoop(t *testing.T) {
	var p *EventPublisher
	p.Publish(context.Background(), "demo-repo", 1, "saved", "")
	require.NoError(t, p.Close())
}

func TestPublishSwallowsWriterError(t *testing.T) {
	w := &fakeWriter{err: context.DeadlineExceeded}
	p := &EventPublisher{hostname: "robot-01", writer: w}

	require.NotPanics(t, func() {
		p.Publish(context.Background(), "demo-repo", 1, "saved", "")
	})
}
