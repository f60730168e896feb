package config

import (
	"fmt"

	"github.com/robotcap/agent/internal/core"
)

// SessionConfig is the per-recording-session configuration: it is
// assembled once per `record` invocation by merging SessionDefaults with
// CLI flags and the detected device file, then handed to the dataflow
// graph assembler (internal/node).
type SessionConfig struct {
	RepoID     string
	TaskName   string
	CloudMode  int
	NPU        bool
	Show       bool
	FPS        int
	TickPeriod int // milliseconds

	LeaderBus   core.JointBus
	FollowerBus core.JointBus
	Cameras     []CameraConfig

	DataDir string
}

// CameraConfig names one camera adapter and the device path backing it.
type CameraConfig struct {
	Name string
	Path string
}

// Validate enforces the invariants a session must hold before the dataflow
// graph is assembled: both joint buses internally unit-consistent (Open
// Question 1), at least one camera, and a positive frame rate.
func (s SessionConfig) Validate() error {
	if s.RepoID == "" {
		return fmt.Errorf("session: repo_id is required")
	}
	if err := s.LeaderBus.Validate(); err != nil {
		return fmt.Errorf("session: leader bus: %w", err)
	}
	if err := s.FollowerBus.Validate(); err != nil {
		return fmt.Errorf("session: follower bus: %w", err)
	}
	if len(s.LeaderBus.Joints) != len(s.FollowerBus.Joints) {
		return fmt.Errorf("session: leader bus has %d joints, follower bus has %d — mapping requires equal cardinality",
			len(s.LeaderBus.Joints), len(s.FollowerBus.Joints))
	}
	if len(s.Cameras) == 0 {
		return fmt.Errorf("session: at least one camera is required")
	}
	if s.FPS <= 0 {
		return fmt.Errorf("session: fps must be > 0, got %d", s.FPS)
	}
	if s.CloudMode < 0 || s.CloudMode > 4 {
		return fmt.Errorf("session: cloud_mode must be in 0..4, got %d", s.CloudMode)
	}
	return nil
}

// NewSessionConfig builds a SessionConfig from global defaults, a detected
// DeviceFile, and caller overrides. Overrides of zero value fall back to
// the global default.
func NewSessionConfig(global GlobalConfig, dev DeviceFile, repoID, taskName string) SessionConfig {
	sc := SessionConfig{
		RepoID:     repoID,
		TaskName:   taskName,
		CloudMode:  global.Session.CloudMode,
		NPU:        global.Session.NPU,
		Show:       global.Session.Show,
		FPS:        global.Session.FPS,
		TickPeriod: global.Session.TickPeriodMS,
		DataDir:    global.DataDir,
		Cameras: []CameraConfig{
			{Name: "top", Path: dev.CameraTopPath},
			{Name: "wrist", Path: dev.CameraWristPath},
		},
	}
	if sc.RepoID == "" {
		sc.RepoID = global.Session.RepoID
	}
	if sc.TaskName == "" {
		sc.TaskName = global.Session.SingleTask
	}
	return sc
}
