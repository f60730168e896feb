package offload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// APIClient talks to the training service's HTTP API: upload-complete
// notification, training trigger, and status polling. The model archive
// itself is never fetched over HTTP; that path only exists to report
// credentials for the SFTP download.
type APIClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewAPIClient wires a client with the call-deadline the record-loop
// offload goroutine expects: each individual call bounded, not the whole
// polling loop.
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

type notifyUploadRequest struct {
	RepoID      string `json:"repo_id"`
	APIUsername string `json:"api_username"`
	APIPassword string `json:"api_password"`
	TarFlag     bool   `json:"tar_flag"`
	TarPath     string `json:"tar_path,omitempty"`
}

// NotifyUploadComplete tells the training service the upload for repoID
// finished, and whether it arrived as a single tar or per-file.
func (c *APIClient) NotifyUploadComplete(ctx context.Context, repoID, username, password string, tar bool, tarPath string) error {
	body, err := json.Marshal(notifyUploadRequest{
		RepoID:      repoID,
		APIUsername: username,
		APIPassword: password,
		TarFlag:     tar,
		TarPath:     tarPath,
	})
	if err != nil {
		return fmt.Errorf("offload: encode notify-upload-complete body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/notify-upload-complete", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("offload: notify-upload-complete request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("offload: notify-upload-complete returned %s", resp.Status)
	}
	return nil
}

type trainResponse struct {
	TransactionID string `json:"transaction_id"`
}

// TriggerTraining starts training for repoID, returning the service's
// assigned transaction_id.
func (c *APIClient) TriggerTraining(ctx context.Context, repoID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/train/"+repoID, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("offload: train request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("offload: train request returned %s", resp.Status)
	}

	var out trainResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("offload: decode train response: %w", err)
	}
	return out.TransactionID, nil
}

type statusResponse struct {
	Status          string  `json:"status"`
	TransactionID   string  `json:"transaction_id,omitempty"`
	ProgressPct     float64 `json:"progress_pct,omitempty"`
	SSHHost         string  `json:"ssh_host,omitempty"`
	SSHUsername     string  `json:"ssh_username,omitempty"`
	SSHPort         int     `json:"ssh_port,omitempty"`
	SSHPasswordB64  string  `json:"ssh_password_b64,omitempty"`
	ModelPath       string  `json:"model_path,omitempty"`
}

// GetStatus polls the current transaction state for repoID.
func (c *APIClient) GetStatus(ctx context.Context, repoID string) (Transaction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/status/"+repoID, nil)
	if err != nil {
		return Transaction{}, err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Transaction{}, fmt.Errorf("offload: status request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Transaction{}, fmt.Errorf("offload: status request returned %s", resp.Status)
	}

	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Transaction{}, fmt.Errorf("offload: decode status response: %w", err)
	}

	tx := Transaction{
		RepoID:        repoID,
		TransactionID: out.TransactionID,
		Status:        TransactionStatus(out.Status),
		ModelPath:     out.ModelPath,
		ProgressPct:   out.ProgressPct,
	}
	if out.SSHHost != "" {
		tx.CloudSSH = &SSHInfo{
			Host:        out.SSHHost,
			User:        out.SSHUsername,
			Port:        out.SSHPort,
			PasswordB64: out.SSHPasswordB64,
		}
	}
	return tx, nil
}
