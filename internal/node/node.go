// Package node implements the dataflow graph's node runtime: every
// adapter (camera, arm reader, arm writer, teleop mapper,
// episode recorder, IPC bridge) runs as an independent single-threaded
// event-loop node driven by a shared timer tick, with its own
// Starting -> Connecting -> Running -> Draining -> Stopped state machine.
package node

import "context"

// State is a dataflow node's lifecycle state.
type State int

const (
	StateStarting State = iota
	StateConnecting
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Node is the base interface every dataflow graph participant implements.
// Init injects static configuration; Connect acquires the node's device
// or socket handle (and may block up to the runtime's connect timeout);
// Tick runs one timer-triggered step; Disconnect releases the handle.
//
// A node that has no device to acquire (e.g. a pure in-process mapper)
// implements Connect as a no-op that returns nil immediately.
type Node interface {
	Name() string
	Init(cfg map[string]any) error
	Connect(ctx context.Context) error
	Tick(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// Status is a point-in-time snapshot of one node's runtime state.
type Status struct {
	Name  string
	State State
	Error error
}
