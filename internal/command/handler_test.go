package command

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSessionInfo struct {
	repoID     string
	sessionDir string
	cloudMode  int
	uptimeSec  int64
}

func (f fakeSessionInfo) RepoID() string     { return f.repoID }
func (f fakeSessionInfo) SessionDir() string { return f.sessionDir }
func (f fakeSessionInfo) CloudMode() int     { return f.cloudMode }
func (f fakeSessionInfo) UptimeSec() int64   { return f.uptimeSec }

type fakeSessionController struct {
	info    SessionInfo
	running bool
	stopErr error
	stopped bool
}

func (f *fakeSessionController) Status() (SessionInfo, bool) {
	return f.info, f.running
}

func (f *fakeSessionController) Stop() error {
	f.stopped = true
	return f.stopErr
}

type mockConfigReloader struct {
	reloadFunc func() error
}

func (m *mockConfigReloader) Reload() error {
	if m.reloadFunc != nil {
		return m.reloadFunc()
	}
	return nil
}

func TestHandleSessionStatusNoSession(t *testing.T) {
	handler := NewCommandHandler(&fakeSessionController{running: false}, nil)

	resp := handler.Handle(context.Background(), Command{Method: "session_status", ID: "req-1"})
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "no_session", result["status"])
}

func TestHandleSessionStatusRunning(t *testing.T) {
	sc := &fakeSessionController{
		running: true,
		info:    fakeSessionInfo{repoID: "demo", sessionDir: "/data/demo", cloudMode: 1, uptimeSec: 42},
	}
	handler := NewCommandHandler(sc, nil)

	resp := handler.Handle(context.Background(), Command{Method: "session_status", ID: "req-2"})
	require.Nil(t, resp.Error)

	result := resp.Result.(map[string]interface{})
	require.Equal(t, "running", result["status"])
	require.Equal(t, "demo", result["repo_id"])
	require.Equal(t, 1, result["cloud_mode"])
}

func TestHandleSessionStop(t *testing.T) {
	sc := &fakeSessionController{running: true}
	handler := NewCommandHandler(sc, nil)

	resp := handler.Handle(context.Background(), Command{Method: "session_stop", ID: "req-3"})
	require.Nil(t, resp.Error)
	require.True(t, sc.stopped)
}

func TestHandleSessionStopPropagatesError(t *testing.T) {
	sc := &fakeSessionController{stopErr: errors.New("no active session")}
	handler := NewCommandHandler(sc, nil)

	resp := handler.Handle(context.Background(), Command{Method: "session_stop", ID: "req-4"})
	require.NotNil(t, resp.Error)
	require.Equal(t, ErrCodeInternalError, resp.Error.Code)
}

func TestHandleConfigReload(t *testing.T) {
	reloadCalled := false
	reloader := &mockConfigReloader{reloadFunc: func() error {
		reloadCalled = true
		return nil
	}}
	handler := NewCommandHandler(&fakeSessionController{}, reloader)

	resp := handler.Handle(context.Background(), Command{Method: "config_reload", ID: "req-5"})
	require.Nil(t, resp.Error)
	require.True(t, reloadCalled)
}

func TestHandleConfigReloadUnavailable(t *testing.T) {
	handler := NewCommandHandler(&fakeSessionController{}, nil)

	resp := handler.Handle(context.Background(), Command{Method: "config_reload", ID: "req-6"})
	require.NotNil(t, resp.Error)
}

func TestHandleUnknownMethod(t *testing.T) {
	handler := NewCommandHandler(&fakeSessionController{}, nil)

	resp := handler.Handle(context.Background(), Command{Method: "bogus", ID: "req-7"})
	require.NotNil(t, resp.Error)
	require.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
}

func TestHandleDaemonShutdownRequiresCallback(t *testing.T) {
	handler := NewCommandHandler(&fakeSessionController{}, nil)

	resp := handler.Handle(context.Background(), Command{Method: "daemon_shutdown", ID: "req-8"})
	require.NotNil(t, resp.Error)

	called := make(chan struct{})
	handler.SetShutdownFunc(func() { close(called) })
	resp = handler.Handle(context.Background(), Command{Method: "daemon_shutdown", ID: "req-9"})
	require.Nil(t, resp.Error)
	<-called
}

func TestHandleDaemonStatus(t *testing.T) {
	sc := &fakeSessionController{running: true, info: fakeSessionInfo{repoID: "demo"}}
	handler := NewCommandHandler(sc, nil)

	resp := handler.Handle(context.Background(), Command{Method: "daemon_status", Params: json.RawMessage{}, ID: "req-10"})
	require.Nil(t, resp.Error)
	result := resp.Result.(map[string]interface{})
	require.Equal(t, "demo", result["session_repo_id"])
}
