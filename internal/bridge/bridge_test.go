package bridge

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/robotcap/agent/internal/bus"
	"github.com/robotcap/agent/internal/core"
	"github.com/stretchr/testify/require"
)

func TestBridgeServesLatestValueOverGet(t *testing.T) {
	dir := t.TempDir()
	latest := bus.NewLatestBus()
	latest.Topic("joint/follower").Publish(core.JointVector{Values: []float64{1, 2, 3}})

	b := New(filepath.Join(dir, "images.sock"), filepath.Join(dir, "joints.sock"), latest)
	require.NoError(t, b.Connect(nil))
	defer b.Disconnect(nil)

	conn, err := net.Dial("unix", b.JointsSocketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET joint/follower\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)

	var reply Reply
	require.NoError(t, json.Unmarshal([]byte(line), &reply))
	require.Equal(t, "joint/follower", reply.Topic)
}

func TestBridgeEmptyReplyWhenTopicMissing(t *testing.T) {
	dir := t.TempDir()
	latest := bus.NewLatestBus()
	b := New(filepath.Join(dir, "images.sock"), filepath.Join(dir, "joints.sock"), latest)
	require.NoError(t, b.Connect(nil))
	defer b.Disconnect(nil)

	conn, err := net.Dial("unix", b.ImagesSocketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET image/top\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)

	var reply Reply
	require.NoError(t, json.Unmarshal([]byte(line), &reply))
	require.Nil(t, reply.Payload)
}

func TestBridgePutReinjectsAction(t *testing.T) {
	dir := t.TempDir()
	latest := bus.NewLatestBus()
	b := New(filepath.Join(dir, "images.sock"), filepath.Join(dir, "joints.sock"), latest)
	require.NoError(t, b.Connect(nil))
	defer b.Disconnect(nil)

	conn, err := net.Dial("unix", b.JointsSocketPath)
	require.NoError(t, err)
	defer conn.Close()

	payload, _ := json.Marshal(core.JointVector{Values: []float64{9, 9}})
	_, err = conn.Write(append([]byte("PUT action/command "), append(payload, '\n')...))
	require.NoError(t, err)

	_, err = bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	v, ok := latest.Topic("action/command").Load()
	require.True(t, ok)
	require.Equal(t, []float64{9, 9}, v.(core.JointVector).Values)
}
