package offload

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestModeLocalOnlyRunIsNoOp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeLocalOnly
	o := New(cfg)
	require.NoError(t, o.Run(context.Background()))
	require.Equal(t, PhaseDone, o.Phase())
}

func TestModeLocalRawRunIsNoOp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeLocalRaw
	o := New(cfg)
	require.NoError(t, o.Run(context.Background()))
	require.Equal(t, PhaseDone, o.Phase())
}

func TestParseModeRejectsOutOfRange(t *testing.T) {
	_, err := ParseMode(5)
	require.Error(t, err)
	_, err = ParseMode(-1)
	require.Error(t, err)

	m, err := ParseMode(2)
	require.NoError(t, err)
	require.Equal(t, ModeEdge, m)
}

func TestAPIClientTriggerTrainingReturnsTransactionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/train/repo-42", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"transaction_id": "tx-1"})
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL)
	id, err := c.TriggerTraining(context.Background(), "repo-42")
	require.NoError(t, err)
	require.Equal(t, "tx-1", id)
}

func TestAPIClientGetStatusDecodesSSHInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":           "COMPLETED",
			"ssh_host":         "cloud.example",
			"ssh_username":     "trainer",
			"ssh_port":         2222,
			"ssh_password_b64": "cGFzcw==",
			"model_path":       "/models/repo-42",
		})
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL)
	tx, err := c.GetStatus(context.Background(), "repo-42")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, tx.Status)
	require.NotNil(t, tx.CloudSSH)
	require.Equal(t, "cloud.example", tx.CloudSSH.Host)
	require.Equal(t, 2222, tx.CloudSSH.Port)

	pw, err := decodeSSHPassword(tx.CloudSSH.PasswordB64)
	require.NoError(t, err)
	require.Equal(t, "pass", pw)
}

func TestAPIClientNotifyUploadCompleteSendsExpectedBody(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/notify-upload-complete", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL)
	err := c.NotifyUploadComplete(context.Background(), "repo-42", "alice", "secret", true, "/tmp/dataset.tar")
	require.NoError(t, err)
	require.Equal(t, "repo-42", received["repo_id"])
	require.Equal(t, true, received["tar_flag"])
	require.Equal(t, "/tmp/dataset.tar", received["tar_path"])
}
