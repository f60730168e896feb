package node

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robotcap/agent/internal/core"
	"github.com/robotcap/agent/internal/metrics"
)

// RuntimeConfig controls one node's timer and timeout behavior.
type RuntimeConfig struct {
	TickPeriod      time.Duration
	ConnectTimeout  time.Duration
	DisconnectGrace time.Duration // escalation window before a disconnect is abandoned
}

// DefaultRuntimeConfig is a 33ms (~30Hz) tick period with a 2-second
// device-release escalation window.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		TickPeriod:      33 * time.Millisecond,
		ConnectTimeout:  5 * time.Second,
		DisconnectGrace: 2 * time.Second,
	}
}

// Runtime drives one Node through its state machine on a dedicated
// goroutine, dispatching Tick on every timer firing. An overrun (a Tick
// that takes longer than TickPeriod) is logged and counted but does not
// stop the node; it is treated as a warning, not fatal.
type Runtime struct {
	node Node
	cfg  RuntimeConfig

	mu    sync.RWMutex
	state State
	err   error

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewRuntime wraps a Node in a Runtime using cfg.
func NewRuntime(n Node, cfg RuntimeConfig) *Runtime {
	return &Runtime{
		node:   n,
		cfg:    cfg,
		state:  StateStarting,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start transitions Starting -> Connecting -> Running and begins the tick
// loop in a background goroutine. It returns once Connect has succeeded
// (or failed) — the tick loop continues independently after that.
func (r *Runtime) Start(ctx context.Context) error {
	r.setState(StateConnecting, nil)

	connectCtx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
	defer cancel()

	if err := r.runWithTimeout(connectCtx, r.node.Connect); err != nil {
		wrapped := fmt.Errorf("%s: %w: %v", r.node.Name(), core.ErrNodeStartupFailure, err)
		r.setState(StateStarting, wrapped)
		return wrapped
	}

	r.setState(StateRunning, nil)
	metrics.NodeState.WithLabelValues(r.node.Name()).Set(float64(metrics.NodeStateRunning))

	go r.tickLoop()
	return nil
}

func (r *Runtime) tickLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.cfg.TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case start := <-ticker.C:
			r.runTick(start)
		}
	}
}

func (r *Runtime) runTick(scheduledAt time.Time) {
	if r.State() != StateRunning {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.TickPeriod*4)
	defer cancel()

	tickStart := time.Now()
	err := r.node.Tick(ctx)
	elapsed := time.Since(tickStart)

	metrics.NodeTickLatencySeconds.WithLabelValues(r.node.Name()).Observe(elapsed.Seconds())

	if elapsed > r.cfg.TickPeriod {
		metrics.NodeOverrunsTotal.WithLabelValues(r.node.Name()).Inc()
		slog.Warn("node tick overran its period",
			"node", r.node.Name(), "period", r.cfg.TickPeriod, "elapsed", elapsed)
	}

	if err != nil {
		slog.Error("node tick failed", "node", r.node.Name(), "error", err)
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
	}
}

// Stop transitions Running -> Draining -> Stopped, calling Disconnect
// with a bounded grace period. Idempotent.
func (r *Runtime) Stop(ctx context.Context) error {
	if r.State() == StateStopped {
		return nil
	}

	r.setState(StateDraining, nil)
	close(r.stopCh)
	<-r.doneCh

	disconnectCtx, cancel := context.WithTimeout(ctx, r.cfg.DisconnectGrace)
	defer cancel()

	err := r.runWithTimeout(disconnectCtx, r.node.Disconnect)
	r.setState(StateStopped, err)
	metrics.NodeState.WithLabelValues(r.node.Name()).Set(float64(metrics.NodeStateStopped))

	if err != nil {
		return fmt.Errorf("%s: disconnect: %w", r.node.Name(), err)
	}
	return nil
}

// runWithTimeout runs fn in a goroutine and returns its error, or a
// timeout error if ctx expires first — the goroutine is abandoned rather
// than forcibly killed, matching Go's cooperative cancellation model.
func (r *Runtime) runWithTimeout(ctx context.Context, fn func(context.Context) error) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- fn(ctx)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// State returns the node's current lifecycle state.
func (r *Runtime) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Status returns a snapshot suitable for reporting.
func (r *Runtime) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Status{Name: r.node.Name(), State: r.state, Error: r.err}
}

func (r *Runtime) setState(s State, err error) {
	r.mu.Lock()
	r.state = s
	if err != nil {
		r.err = err
	}
	r.mu.Unlock()
}
