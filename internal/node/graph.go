package node

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Spec describes one node to assemble into a Graph: its registered
// factory name, a unique instance name, and its Init configuration.
type Spec struct {
	Factory string
	Name    string
	Config  map[string]any
}

// Graph assembles and runs the fixed set of dataflow nodes for one
// recording session. Assembly follows the same phased discipline as the
// session manager's task assembly: Resolve every factory before
// constructing anything, so a missing node fails fast before any node
// has been started.
type Graph struct {
	tickPeriod time.Duration
	runtimes   []*Runtime
}

// Assemble resolves, constructs, and initializes every node in specs, in
// order. No node is started yet.
func Assemble(specs []Spec, tickPeriod time.Duration) (*Graph, error) {
	factories := make([]Factory, len(specs))
	for i, s := range specs {
		f, err := GetFactory(s.Factory)
		if err != nil {
			return nil, fmt.Errorf("resolve %q (%s): %w", s.Name, s.Factory, err)
		}
		factories[i] = f
	}

	g := &Graph{tickPeriod: tickPeriod}
	for i, s := range specs {
		n := factories[i]()
		if err := n.Init(s.Config); err != nil {
			return nil, fmt.Errorf("init %q: %w", s.Name, err)
		}
		g.runtimes = append(g.runtimes, NewRuntime(n, RuntimeConfig{
			TickPeriod:      tickPeriod,
			ConnectTimeout:  DefaultRuntimeConfig().ConnectTimeout,
			DisconnectGrace: DefaultRuntimeConfig().DisconnectGrace,
		}))
	}
	return g, nil
}

// Start connects and runs every node, in assembly order. On the first
// failure it tears down the nodes already started, in reverse order, and
// returns the original error.
func (g *Graph) Start(ctx context.Context) error {
	for i, rt := range g.runtimes {
		if err := rt.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = g.runtimes[j].Stop(ctx)
			}
			return err
		}
	}
	return nil
}

// Stop drains and disconnects every node in reverse assembly order,
// collecting (not short-circuiting on) per-node errors so one stuck node
// doesn't prevent the others from shutting down.
func (g *Graph) Stop(ctx context.Context) error {
	var firstErr error
	for i := len(g.runtimes) - 1; i >= 0; i-- {
		if err := g.runtimes[i].Stop(ctx); err != nil {
			slog.Error("node stop failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Statuses returns a snapshot of every node's current state.
func (g *Graph) Statuses() []Status {
	out := make([]Status, len(g.runtimes))
	for i, rt := range g.runtimes {
		out[i] = rt.Status()
	}
	return out
}
