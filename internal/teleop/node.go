package teleop

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robotcap/agent/internal/adapters"
	"github.com/robotcap/agent/internal/bus"
	"github.com/robotcap/agent/internal/core"
	"github.com/robotcap/agent/internal/node"
)

// FactoryName is the node registry name for the teleop mapper node.
const FactoryName = "teleop_mapper"

func init() {
	node.Register(FactoryName, func() node.Node { return &Node{} })
}

// Node runs the Mapper as a dataflow node between the leader and follower
// arm adapters: every tick it reads the leader's latest
// joint reading, computes a follower target, writes it to the follower
// through its own ArmWriter, and publishes it to the `action/command`
// latest topic the recorder consumes.
//
// The leader ArmReader's raw units are milli-radians (its bus is declared
// RADIANS per core.JointBus.Validate); the follower ArmWriter consumes
// native milli-degrees directly.
type Node struct {
	name           string
	leaderReader   adapters.ArmReader
	followerReader adapters.ArmReader
	followerWriter adapters.ArmWriter
	latest         *bus.LatestBus
	outputTopic    string

	mapper *Mapper
}

func (n *Node) Name() string { return n.name }

// Init wires the node's adapters and output bus from cfg. Non-primitive
// dependencies (interfaces, the shared LatestBus) are injected by value
// rather than constructed here, matching the graph assembler's dependency
// style elsewhere in this package family.
func (n *Node) Init(cfg map[string]any) error {
	name, _ := cfg["name"].(string)
	if name == "" {
		name = FactoryName
	}
	n.name = name

	leaderReader, ok := cfg["leader_reader"].(adapters.ArmReader)
	if !ok {
		return fmt.Errorf("teleop node: leader_reader not provided")
	}
	followerReader, ok := cfg["follower_reader"].(adapters.ArmReader)
	if !ok {
		return fmt.Errorf("teleop node: follower_reader not provided")
	}
	followerWriter, ok := cfg["follower_writer"].(adapters.ArmWriter)
	if !ok {
		return fmt.Errorf("teleop node: follower_writer not provided")
	}
	latest, ok := cfg["bus"].(*bus.LatestBus)
	if !ok {
		return fmt.Errorf("teleop node: bus not provided")
	}
	outputTopic, _ := cfg["output_topic"].(string)
	if outputTopic == "" {
		outputTopic = "action/command"
	}

	directionSign, _ := cfg["direction_sign"].([]int8)
	thresholds, ok := cfg["thresholds"].(Thresholds)
	if !ok {
		thresholds = DefaultThresholds()
	}

	n.leaderReader = leaderReader
	n.followerReader = followerReader
	n.followerWriter = followerWriter
	n.latest = latest
	n.outputTopic = outputTopic
	n.mapper = NewMapper(directionSign, thresholds)
	return nil
}

// Connect opens the leader/follower adapters and establishes the follower
// baseline, making up to 3 read attempts.
func (n *Node) Connect(ctx context.Context) error {
	if err := n.leaderReader.Open(ctx); err != nil {
		return fmt.Errorf("teleop: open leader reader: %w", err)
	}
	if err := n.followerReader.Open(ctx); err != nil {
		return fmt.Errorf("teleop: open follower reader: %w", err)
	}
	if err := n.followerWriter.Open(ctx); err != nil {
		return fmt.Errorf("teleop: open follower writer: %w", err)
	}

	pos, err := readWithRetry(ctx, n.followerReader, 3)
	if err != nil {
		return fmt.Errorf("teleop: %w: %v", core.ErrPositionReadFailure, err)
	}
	n.mapper.SetFollowerBaseline(pos)
	return nil
}

// Tick reads the leader's latest reading, updates the follower-actual
// reading, computes a target, and emits it unless suppressed.
func (n *Node) Tick(ctx context.Context) error {
	actual, err := n.followerReader.ReadPositions(ctx)
	if err != nil {
		return fmt.Errorf("teleop: %w: %v", core.ErrPositionReadFailure, err)
	}
	n.mapper.ObserveFollowerActual(actual)
	n.latest.Topic("joint/follower").Publish(core.JointVector{Bus: "follower", Values: int32ToFloat64(actual)})

	leaderRaw, err := n.leaderReader.ReadPositions(ctx)
	if err != nil {
		return fmt.Errorf("teleop: %w: %v", core.ErrPositionReadFailure, err)
	}
	n.latest.Topic("joint/leader").Publish(core.JointVector{Bus: "leader", Values: int32ToFloat64(leaderRaw)})
	leaderRad := milliToRadians(leaderRaw)

	target, emitted, err := n.mapper.HandleLeader(leaderRad)
	switch {
	case err == core.ErrBaselineNotEstablished:
		return nil // benign, expected once per session
	case err == core.ErrEmergencyStop:
		return err // terminal to this session; caller (runtime) surfaces it
	case err != nil:
		return err
	}

	if emitted {
		if err := n.followerWriter.WritePositions(ctx, target); err != nil {
			return fmt.Errorf("teleop: write follower targets: %w", err)
		}
		n.latest.Topic(n.outputTopic).Publish(core.JointVector{Bus: "follower", Values: int32ToFloat64(target)})
	}
	return nil
}

// Disconnect releases every device this node owns.
func (n *Node) Disconnect(ctx context.Context) error {
	var firstErr error
	for _, closer := range []func() error{n.leaderReader.Close, n.followerReader.Close, n.followerWriter.Close} {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func readWithRetry(ctx context.Context, r adapters.ArmReader, attempts int) ([]int32, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		pos, err := r.ReadPositions(ctx)
		if err == nil {
			return pos, nil
		}
		lastErr = err
		slog.Warn("teleop: position read failed, retrying", "attempt", i+1, "error", err)
	}
	return nil, lastErr
}

func milliToRadians(raw []int32) []float64 {
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = float64(v) / 1000.0
	}
	return out
}

func int32ToFloat64(v []int32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
