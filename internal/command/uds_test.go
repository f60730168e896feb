package command

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUDSServerClient_Integration(t *testing.T) {
	tmpDir := t.TempDir()
	socketPath := filepath.Join(tmpDir, "test.sock")

	handler := NewCommandHandler(&fakeSessionController{}, nil)
	server := NewUDSServer(socketPath, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	time.Sleep(100 * time.Millisecond)

	client := NewUDSClient(socketPath, 5*time.Second)

	t.Run("session_status", func(t *testing.T) {
		resp, err := client.SessionStatus(context.Background())
		require.NoError(t, err)
		require.Nil(t, resp.Error)

		result, ok := resp.Result.(map[string]interface{})
		require.True(t, ok)
		require.Equal(t, "no_session", result["status"])
	})

	t.Run("ping", func(t *testing.T) {
		require.NoError(t, client.Ping(context.Background()))
	})

	t.Run("unknown_method", func(t *testing.T) {
		resp, err := client.Call(context.Background(), "bogus", nil)
		require.NoError(t, err)
		require.NotNil(t, resp.Error)
		require.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
	})

	cancel()

	select {
	case err := <-errCh:
		require.True(t, err == nil || err == context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("server didn't stop in time")
	}

	_, err := os.Stat(socketPath)
	require.True(t, os.IsNotExist(err))
}

func TestUDSClient_ConnectionError(t *testing.T) {
	client := NewUDSClient("/tmp/non-existent-socket.sock", 1*time.Second)

	_, err := client.SessionStatus(context.Background())
	require.Error(t, err)
}

func TestUDSServer_MultipleConnections(t *testing.T) {
	tmpDir := t.TempDir()
	socketPath := filepath.Join(tmpDir, "test-multi.sock")

	handler := NewCommandHandler(&fakeSessionController{}, nil)
	server := NewUDSServer(socketPath, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go server.Start(ctx)
	time.Sleep(100 * time.Millisecond)

	clients := make([]*UDSClient, 5)
	for i := 0; i < 5; i++ {
		clients[i] = NewUDSClient(socketPath, 5*time.Second)
	}

	errCh := make(chan error, 5)
	for i := 0; i < 5; i++ {
		go func(client *UDSClient) {
			_, err := client.SessionStatus(context.Background())
			errCh <- err
		}(clients[i])
	}

	for i := 0; i < 5; i++ {
		require.NoError(t, <-errCh)
	}

	cancel()
}

func TestNewUDSClient_DefaultTimeout(t *testing.T) {
	client := NewUDSClient("/tmp/test.sock", 0)
	require.Equal(t, 10*time.Second, client.timeout)

	client2 := NewUDSClient("/tmp/test.sock", 5*time.Second)
	require.Equal(t, 5*time.Second, client2.timeout)
}
