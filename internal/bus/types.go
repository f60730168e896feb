package bus

import "context"

// Event is one message published on the dataflow bus: a topic-addressed,
// partition-keyed payload: images, joint vectors, and control signals
// all travel as one Event shape, discriminated by core.Payload.Kind.
type Event struct {
	Topic   string
	Key     string
	Payload any
}

// Handler processes one delivered event.
type Handler func(event *Event) error

// partition is one FNV-hashed shard of the queued delivery mode: a
// goroutine drains its channel in order, calling whatever handler is
// currently subscribed to the event's topic.
type partition struct {
	id      int
	queue   chan *Event
	ctx     context.Context
	cancel  context.CancelFunc
	handler Handler
}
