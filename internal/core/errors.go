// Package core defines sentinel errors shared across the recording pipeline.
package core

import "errors"

// Sentinel errors for the node runtime, teleop safety core, episode
// pipeline, and offload orchestrator.
var (
	// Configuration / permission (fatal, no recovery).
	ErrConfigInvalid     = errors.New("robotcap: invalid configuration")
	ErrPermissionMissing = errors.New("robotcap: required device permission missing")

	// Dataflow node runtime.
	ErrNodeStartupFailure       = errors.New("robotcap: node startup failure")
	ErrNodeCommunicationFailure = errors.New("robotcap: node communication failure")
	ErrNodeOverrun              = errors.New("robotcap: node tick handler overran its period")

	// Teleop mapper & safety monitor.
	ErrPositionReadFailure      = errors.New("robotcap: follower position read failure")
	ErrBaselineNotEstablished   = errors.New("robotcap: mapping baseline not yet established")
	ErrEmergencyStop            = errors.New("robotcap: emergency stop")

	// Episode pipeline.
	ErrEpisodeValidation = errors.New("robotcap: episode validation failed")
	ErrImageFlushTimeout = errors.New("robotcap: image flush timed out")
	ErrEncoderFailure    = errors.New("robotcap: video encoder failed")

	// Offload orchestrator.
	ErrConnectionProbeFailed = errors.New("robotcap: offload connection probe failed")
	ErrUploadFailed          = errors.New("robotcap: offload upload failed")
	ErrTrainingTimeout       = errors.New("robotcap: training transaction poll timed out")
	ErrDownloadFailed        = errors.New("robotcap: model download failed")

	// Daemon / task plane.
	ErrTaskNotFound      = errors.New("robotcap: session not found")
	ErrTaskAlreadyExists = errors.New("robotcap: session already exists")
	ErrDaemonNotRunning  = errors.New("robotcap: daemon not running")

	// Lifecycle supervisor.
	ErrSocketNotReady = errors.New("robotcap: ipc socket did not appear before timeout")
)
