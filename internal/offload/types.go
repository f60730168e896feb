// Package offload implements the post-episode hand-off: moving recorded
// data off the robot and, where a mode calls for it, retrieving a trained
// model back onto it.
package offload

import (
	"fmt"
	"time"
)

// Mode selects one of the five hand-off strategies, fixed for the life of
// a recording session.
type Mode int

const (
	ModeLocalOnly Mode = iota
	ModeCloudRaw
	ModeEdge
	ModeCloudEncoded
	ModeLocalRaw
)

func (m Mode) String() string {
	switch m {
	case ModeLocalOnly:
		return "local-only"
	case ModeCloudRaw:
		return "cloud-raw"
	case ModeEdge:
		return "edge"
	case ModeCloudEncoded:
		return "cloud-encoded"
	case ModeLocalRaw:
		return "local-raw"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode maps the CLOUD env var / --cloud-mode flag's integer range
// (0..4) onto Mode, rejecting anything out of range.
func ParseMode(n int) (Mode, error) {
	if n < 0 || n > 4 {
		return 0, fmt.Errorf("offload: cloud_mode must be in 0..4, got %d", n)
	}
	return Mode(n), nil
}

// usesRemote reports whether this mode uploads anything at all.
func (m Mode) usesRemote() bool {
	return m == ModeCloudRaw || m == ModeEdge || m == ModeCloudEncoded
}

// EncodesLocally reports whether the record-loop saver must produce
// encoded video before this mode's upload step, versus shipping raw
// frames for the remote side to encode.
func (m Mode) EncodesLocally() bool {
	return m == ModeLocalOnly || m == ModeCloudEncoded
}

// TransactionStatus mirrors the training service's transaction lifecycle.
type TransactionStatus string

const (
	StatusUploading TransactionStatus = "UPLOADING"
	StatusEncoding  TransactionStatus = "ENCODING"
	StatusReady     TransactionStatus = "READY"
	StatusTraining  TransactionStatus = "TRAINING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
)

func (s TransactionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Transaction is the orchestrator's view of one offload session's
// training-service record. Polling runs on the orchestrator's own
// goroutine, which returns it by value; no other goroutine holds it.
type Transaction struct {
	RepoID        string
	TransactionID string
	Status        TransactionStatus
	LastUpdated   int64 // unix seconds, stamped by the caller
	CloudSSH      *SSHInfo
	ModelPath     string
	ProgressPct   float64
}

// SSHInfo carries the cloud instance's credentials as returned by the
// status endpoint once training starts.
type SSHInfo struct {
	Host         string
	User         string
	Port         int
	PasswordB64  string
}

// Phase is the orchestrator's own state, distinct from TransactionStatus:
// Phase tracks this session's progress through upload/notify/poll/download,
// TransactionStatus tracks what the remote training service reports.
type Phase string

const (
	PhaseIdle               Phase = "Idle"
	PhaseProbing            Phase = "Probing"
	PhaseUploading          Phase = "Uploading"
	PhaseNotifying          Phase = "Notifying"
	PhasePollingStatus      Phase = "PollingStatus"
	PhaseTrainingTriggered  Phase = "TrainingTriggered"
	PhaseDownloading        Phase = "Downloading"
	PhaseDone               Phase = "Done"
	PhaseFailed             Phase = "Failed"
)

// Resume selects which of the orchestrator's independent resume points a
// session starts from.
type Resume int

const (
	ResumeFromStart Resume = iota
	ResumeSkipUpload
	ResumeDownloadOnly
)

// Config parameterizes one Run.
type Config struct {
	Mode   Mode
	Resume Resume

	RepoID      string
	APIUsername string
	APIPassword string

	EdgeHost     string
	EdgeUser     string
	EdgePassword string
	EdgePort     int
	EdgePath     string // remote_root; data-plane target for every remote mode

	APIBaseURL string

	LocalRoot   string // dataset root to upload from
	LocalOutput string // where a downloaded model lands

	TarUpload bool // edge mode: tar the dataset vs per-file

	TrainingTimeout time.Duration // default 120min
	PollInterval    time.Duration // default 10s
	ProbeTimeout    time.Duration // default 5s
}

// DefaultConfig fills in the orchestrator's fixed timing defaults; callers
// still must set Mode, RepoID, and the remote endpoints.
func DefaultConfig() Config {
	return Config{
		TrainingTimeout: 120 * time.Minute,
		PollInterval:    10 * time.Second,
		ProbeTimeout:    5 * time.Second,
	}
}
