// Package camera implements the dataflow node that captures frames from
// one physical camera and publishes them to the bus's `image/<cam>`
// latest topic.
package camera

import (
	"context"
	"fmt"

	"github.com/robotcap/agent/internal/adapters"
	"github.com/robotcap/agent/internal/bus"
	"github.com/robotcap/agent/internal/core"
	"github.com/robotcap/agent/internal/node"
)

// FactoryName is the node registry name for the camera capture node.
const FactoryName = "camera"

func init() {
	node.Register(FactoryName, func() node.Node { return &Node{} })
}

// Node owns one CameraAdapter and publishes its every capture to
// `image/<camera>` on the shared LatestBus. Like the teleop node, it holds
// exclusive access to its device handle; nothing else in the graph may
// touch it.
type Node struct {
	name   string
	camera string
	dev    adapters.CameraAdapter
	latest *bus.LatestBus
	topic  string
}

func (n *Node) Name() string { return n.name }

// Init wires the node's camera adapter, bus, and topic from cfg.
func (n *Node) Init(cfg map[string]any) error {
	name, _ := cfg["name"].(string)
	if name == "" {
		name = FactoryName
	}
	n.name = name

	camera, ok := cfg["camera"].(string)
	if !ok || camera == "" {
		return fmt.Errorf("camera node: camera name not provided")
	}
	dev, ok := cfg["device"].(adapters.CameraAdapter)
	if !ok {
		return fmt.Errorf("camera node: device not provided")
	}
	latest, ok := cfg["bus"].(*bus.LatestBus)
	if !ok {
		return fmt.Errorf("camera node: bus not provided")
	}

	n.camera = camera
	n.dev = dev
	n.latest = latest
	n.topic = "image/" + camera
	return nil
}

// Connect opens the underlying device.
func (n *Node) Connect(ctx context.Context) error {
	return n.dev.Open(ctx)
}

// Tick captures one frame and publishes it, converting from the
// adapter's raw Frame to the shared core.Image representation.
func (n *Node) Tick(ctx context.Context) error {
	f, err := n.dev.Capture(ctx)
	if err != nil {
		return fmt.Errorf("camera %s: capture: %w", n.camera, err)
	}
	n.latest.Topic(n.topic).Publish(core.Image{
		Camera: n.camera,
		Height: f.Height,
		Width:  f.Width,
		Pixels: f.Pixels,
	})
	return nil
}

// Disconnect releases the camera device.
func (n *Node) Disconnect(ctx context.Context) error {
	return n.dev.Close()
}
