package offload

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"

	"github.com/robotcap/agent/internal/core"
	"github.com/robotcap/agent/internal/metrics"
)

// Orchestrator runs one offload session end to end: probe, upload,
// notify, poll, download. Each session is created fresh per recording
// session and is not reused.
type Orchestrator struct {
	cfg Config
	api *APIClient

	phase Phase
}

// New builds an Orchestrator for cfg, applying DefaultConfig's timing
// fields wherever cfg left them zero.
func New(cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.TrainingTimeout == 0 {
		cfg.TrainingTimeout = def.TrainingTimeout
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	return &Orchestrator{cfg: cfg, api: NewAPIClient(cfg.APIBaseURL), phase: PhaseIdle}
}

// Phase reports the orchestrator's current state.
func (o *Orchestrator) Phase() Phase { return o.phase }

func (o *Orchestrator) setPhase(p Phase) {
	o.phase = p
	metrics.OffloadTransactionState.WithLabelValues(o.cfg.RepoID).Set(float64(phaseOrdinal(p)))
	slog.Info("offload: phase transition", "mode", o.cfg.Mode, "phase", p)
}

func phaseOrdinal(p Phase) int {
	order := []Phase{PhaseIdle, PhaseProbing, PhaseUploading, PhaseNotifying,
		PhasePollingStatus, PhaseTrainingTriggered, PhaseDownloading, PhaseDone, PhaseFailed}
	for i, v := range order {
		if v == p {
			return i
		}
	}
	return -1
}

// Run drives the whole session according to cfg.Mode and cfg.Resume.
// Modes 0 and 4 (local-only, local-raw) do nothing and return immediately.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.cfg.Mode.usesRemote() {
		o.setPhase(PhaseDone)
		return nil
	}

	if o.cfg.Resume != ResumeDownloadOnly {
		if err := o.probe(ctx); err != nil {
			return err
		}
	}

	var tarPath string
	if o.cfg.Resume != ResumeDownloadOnly && o.cfg.Resume != ResumeSkipUpload {
		var err error
		_, tarPath, err = o.upload(ctx)
		if err != nil {
			o.setPhase(PhaseFailed)
			return err
		}
	}

	if o.cfg.Resume != ResumeDownloadOnly {
		if err := o.notify(ctx, tarPath); err != nil {
			o.setPhase(PhaseFailed)
			return err
		}
	}

	tx, err := o.pollUntilComplete(ctx)
	if err != nil {
		o.setPhase(PhaseFailed)
		return err
	}

	if err := o.download(ctx, tx); err != nil {
		o.setPhase(PhaseFailed)
		return err
	}

	o.setPhase(PhaseDone)
	return nil
}

// probe confirms the remote side is reachable before committing to an
// upload; a slow failure here is unacceptable because it delays operator
// feedback, so it runs with a tight deadline.
func (o *Orchestrator) probe(ctx context.Context) error {
	o.setPhase(PhaseProbing)
	probeCtx, cancel := context.WithTimeout(ctx, o.cfg.ProbeTimeout)
	defer cancel()

	if o.cfg.Mode == ModeEdge {
		return probeSSH(probeCtx, o.cfg.EdgeHost, o.cfg.EdgePort, o.cfg.EdgeUser, o.cfg.EdgePassword, o.cfg.ProbeTimeout)
	}
	return probeHTTP(probeCtx, o.cfg.APIBaseURL, o.cfg.ProbeTimeout)
}

// upload transfers the dataset according to mode: edge mode goes over
// SFTP/SSH to a LAN server, cloud modes go over SFTP/SSH directly to the
// training service's cloud instance (the API's own HTTP surface is
// control-plane only; the data plane is always SFTP).
func (o *Orchestrator) upload(ctx context.Context) (remoteDir, tarPath string, err error) {
	o.setPhase(PhaseUploading)

	// The data plane (SFTP/SSH) target is the same configured edge/cloud
	// instance for every remote mode; the API's HTTP surface is
	// control-plane only (notify, train, status).
	sshClient, err := sshDial(ctx, o.cfg.EdgeHost, o.cfg.EdgePort, o.cfg.EdgeUser, o.cfg.EdgePassword, 10*time.Second)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", core.ErrUploadFailed, err)
	}
	defer sshClient.Close()

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return "", "", fmt.Errorf("%w: open sftp session: %v", core.ErrUploadFailed, err)
	}
	defer sftpClient.Close()

	remoteDir = path.Join(o.cfg.EdgePath, o.cfg.APIUsername, o.cfg.RepoID)
	if err := clearRemoteDir(sftpClient, remoteDir); err != nil {
		return "", "", fmt.Errorf("%w: clear remote dir: %v", core.ErrUploadFailed, err)
	}

	if o.cfg.TarUpload {
		tarPath, err = uploadTar(ctx, sftpClient, sshClient, o.cfg.LocalRoot, remoteDir)
		if err != nil {
			slog.Warn("offload: tar upload failed, falling back to per-file", "error", err)
			if ferr := uploadPerFile(ctx, sftpClient, o.cfg.LocalRoot, remoteDir); ferr != nil {
				return "", "", fmt.Errorf("%w: tar failed (%v) and per-file fallback failed: %v", core.ErrUploadFailed, err, ferr)
			}
			return remoteDir, "", nil
		}
		return remoteDir, tarPath, nil
	}

	if err := uploadPerFile(ctx, sftpClient, o.cfg.LocalRoot, remoteDir); err != nil {
		return "", "", fmt.Errorf("%w: %v", core.ErrUploadFailed, err)
	}
	return remoteDir, "", nil
}

func (o *Orchestrator) notify(ctx context.Context, tarPath string) error {
	o.setPhase(PhaseNotifying)
	return o.api.NotifyUploadComplete(ctx, o.cfg.RepoID, o.cfg.APIUsername, o.cfg.APIPassword, tarPath != "", tarPath)
}

// pollUntilComplete polls /status every PollInterval. READY triggers
// exactly one /train call per session; COMPLETED (directly, or inferred
// via the SSH directory fallback) ends the loop.
func (o *Orchestrator) pollUntilComplete(ctx context.Context) (Transaction, error) {
	o.setPhase(PhasePollingStatus)

	deadline := time.Now().Add(o.cfg.TrainingTimeout)
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	trainingTriggered := false

	for {
		select {
		case <-ctx.Done():
			return Transaction{}, ctx.Err()
		default:
		}
		if time.Now().After(deadline) {
			return Transaction{}, fmt.Errorf("%w: after %s", core.ErrTrainingTimeout, o.cfg.TrainingTimeout)
		}

		tx, err := o.api.GetStatus(ctx, o.cfg.RepoID)
		if err != nil {
			slog.Warn("offload: status poll failed, will retry", "error", err)
		} else {
			if tx.Status == StatusReady && !trainingTriggered {
				if _, terr := o.api.TriggerTraining(ctx, o.cfg.RepoID); terr != nil {
					slog.Warn("offload: train trigger failed, will retry on next READY observation", "error", terr)
				} else {
					trainingTriggered = true
					o.setPhase(PhaseTrainingTriggered)
				}
			}

			if tx.Status == StatusCompleted {
				return tx, nil
			}
			if tx.Status == StatusFailed {
				return Transaction{}, fmt.Errorf("offload: training service reported FAILED for %s", o.cfg.RepoID)
			}

			if trainingTriggered && o.cfg.Mode != ModeEdge {
				if ok, _ := o.checkModelDirFallback(ctx, tx); ok {
					tx.Status = StatusCompleted
					return tx, nil
				}
			}
		}

		<-ticker.C
	}
}

// checkModelDirFallback is the secondary completion signal: the training
// service's status flag is known to lag, so once training has plausibly
// finished an SSH `test -d` against the model directory is ground truth.
func (o *Orchestrator) checkModelDirFallback(ctx context.Context, tx Transaction) (bool, error) {
	if tx.CloudSSH == nil || tx.ModelPath == "" {
		return false, nil
	}
	password, err := decodeSSHPassword(tx.CloudSSH.PasswordB64)
	if err != nil {
		return false, err
	}
	client, err := sshDial(ctx, tx.CloudSSH.Host, tx.CloudSSH.Port, tx.CloudSSH.User, password, 10*time.Second)
	if err != nil {
		return false, err
	}
	defer client.Close()
	return remoteDirExists(ctx, client, tx.ModelPath)
}

// download opens an SFTP session directly to the cloud instance (not via
// the edge server) and recursively copies the trained model's directory
// tree into the local output directory.
func (o *Orchestrator) download(ctx context.Context, tx Transaction) error {
	o.setPhase(PhaseDownloading)
	if tx.CloudSSH == nil || tx.ModelPath == "" {
		return fmt.Errorf("%w: status response carried no ssh credentials or model path", core.ErrDownloadFailed)
	}

	password, err := decodeSSHPassword(tx.CloudSSH.PasswordB64)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrDownloadFailed, err)
	}

	sshClient, err := sshDial(ctx, tx.CloudSSH.Host, tx.CloudSSH.Port, tx.CloudSSH.User, password, 10*time.Second)
	if err != nil {
		return fmt.Errorf("%w: ssh dial: %v", core.ErrDownloadFailed, err)
	}
	defer sshClient.Close()

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return fmt.Errorf("%w: open sftp session: %v", core.ErrDownloadFailed, err)
	}
	defer sftpClient.Close()

	outDir := filepath.Join(o.cfg.LocalOutput, "model")
	if err := downloadModel(sftpClient, tx.ModelPath, outDir); err != nil {
		return fmt.Errorf("%w: %v", core.ErrDownloadFailed, err)
	}
	return nil
}
