package camera

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotcap/agent/internal/adapters"
	"github.com/robotcap/agent/internal/bus"
	"github.com/robotcap/agent/internal/core"
)

func TestNodeCaptureAndPublish(t *testing.T) {
	latest := bus.NewLatestBus()
	mock := &adapters.MockCamera{Name: "top", Height: 2, Width: 2}

	n := &Node{}
	require.NoError(t, n.Init(map[string]any{
		"camera": "top",
		"device": adapters.CameraAdapter(mock),
		"bus":    latest,
	}))
	require.Equal(t, FactoryName, n.Name())

	ctx := context.Background()
	require.NoError(t, n.Connect(ctx))
	require.NoError(t, n.Tick(ctx))

	v, ok := latest.Topic("image/top").Load()
	require.True(t, ok)
	img, ok := v.(core.Image)
	require.True(t, ok)
	require.Equal(t, "top", img.Camera)
	require.Equal(t, 2, img.Height)
	require.Equal(t, 2, img.Width)
	require.Len(t, img.Pixels, 12)

	require.NoError(t, n.Disconnect(ctx))
}

func TestInitRequiresCameraDeviceAndBus(t *testing.T) {
	n := &Node{}
	require.Error(t, n.Init(map[string]any{}))

	n2 := &Node{}
	require.Error(t, n2.Init(map[string]any{"camera": "top"}))
}
