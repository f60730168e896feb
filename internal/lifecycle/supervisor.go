// Package lifecycle implements the recording session's process
// supervisor: config/device loading, dataflow graph assembly and
// teardown, the record loop and its supporting workers, and the
// two-stage signal-driven shutdown that hands off to the offload
// orchestrator before exit.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/robotcap/agent/internal/adapters"
	"github.com/robotcap/agent/internal/bridge"
	"github.com/robotcap/agent/internal/bus"
	"github.com/robotcap/agent/internal/camera"
	"github.com/robotcap/agent/internal/config"
	"github.com/robotcap/agent/internal/core"
	"github.com/robotcap/agent/internal/episode"
	"github.com/robotcap/agent/internal/imagewriter"
	"github.com/robotcap/agent/internal/memguard"
	"github.com/robotcap/agent/internal/metrics"
	"github.com/robotcap/agent/internal/node"
	"github.com/robotcap/agent/internal/offload"
	"github.com/robotcap/agent/internal/saver"
	"github.com/robotcap/agent/internal/teleop"
)

// socketReadyTimeout bounds how long Start waits for the IPC bridge's two
// Unix sockets to appear as filesystem entries.
const socketReadyTimeout = 30 * time.Second

// Options collects everything Start needs beyond what config.Load and
// config.LoadDeviceFile already read from disk/env, i.e. the command-line
// overrides a session invocation carries.
type Options struct {
	ConfigPath     string
	DeviceFilePath string
	SettleDelay    time.Duration // default 5s

	// OnEpisodeSaved/OnEpisodeFailed let a caller (the daemon's optional
	// Kafka telemetry fan-out) observe episode lifecycle transitions
	// without this package importing the control-plane command package.
	OnEpisodeSaved  func(episodeIndex int, task string)
	OnEpisodeFailed func(episodeIndex int, task string, err error)
}

// Supervisor owns every long-lived component of one recording session:
// the dataflow graph, the IPC bridge, the record loop and its worker
// pool, the memory guard, and the offload orchestrator. Exactly one
// Supervisor exists per process; it is constructed in main and passed by
// reference, never stored in a package-level variable.
type Supervisor struct {
	opts   Options
	cfg    *config.GlobalConfig
	device config.DeviceFile

	graph         *node.Graph
	latest        *bus.LatestBus
	br            *bridge.Bridge
	metricsServer *metrics.Server
	imagePool     *imagewriter.Pool
	saver         *saver.Saver
	guard         *memguard.Guard
	recordLoop    *episode.RecordLoop
	offloadOrch   *offload.Orchestrator

	sessionDir string
	startedAt  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	sigCh  chan os.Signal

	recordDone  chan struct{}
	shutdownCh  chan struct{}
	shutdownOne sync.Once
}

// Status is a snapshot of the running session, returned to the daemon
// control-plane's status command.
type Status struct {
	RepoID     string
	SessionDir string
	CloudMode  int
	UptimeSec  int64
}

// Status reports the current session's identity and uptime. Safe to call
// concurrently with Run/Stop.
func (s *Supervisor) Status() Status {
	var uptime int64
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}
	return Status{
		RepoID:     s.cfg.Session.RepoID,
		SessionDir: s.sessionDir,
		CloudMode:  s.cfg.Session.CloudMode,
		UptimeSec:  uptime,
	}
}

// RequestShutdown triggers the same graceful stop a SIGTERM would, for use
// by a control-plane command handler. Safe to call more than once.
func (s *Supervisor) RequestShutdown() {
	s.shutdownOne.Do(func() { close(s.shutdownCh) })
}

// New loads configuration and the device file; it performs no I/O beyond
// that (no sockets, no processes) so a caller can inspect the loaded
// config before calling Start.
func New(opts Options) (*Supervisor, error) {
	if opts.SettleDelay == 0 {
		opts.SettleDelay = 5 * time.Second
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: load config: %w", err)
	}

	device, err := config.LoadDeviceFile(opts.DeviceFilePath)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: load device file: %w", err)
	}
	applyDeviceFileOverrides(cfg, device)

	s := &Supervisor{opts: opts, cfg: cfg, device: device, shutdownCh: make(chan struct{})}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// applyDeviceFileOverrides fills any devices.* field config.Load left
// empty with the device file's value — precedence is env > file >
// default, and config.Load already applied env/defaults, so a field
// still empty here was genuinely unset by either.
func applyDeviceFileOverrides(cfg *config.GlobalConfig, df config.DeviceFile) {
	if cfg.Devices.ArmLeaderPort == "" {
		cfg.Devices.ArmLeaderPort = df.ArmLeaderPort
	}
	if cfg.Devices.ArmFollowerPort == "" {
		cfg.Devices.ArmFollowerPort = df.ArmFollowerPort
	}
	if cfg.Devices.CameraTopPath == "" {
		cfg.Devices.CameraTopPath = df.CameraTopPath
	}
	if cfg.Devices.CameraWristPath == "" {
		cfg.Devices.CameraWristPath = df.CameraWristPath
	}
}

// Start runs the full startup sequence: device permission enforcement,
// environment export, stale-state cleanup, graph assembly and start,
// socket-readiness wait, settle delay, a second permission check, then
// the record loop and its supporting workers.
func (s *Supervisor) Start(ctx context.Context) error {
	slog.Info("lifecycle: starting session",
		"repo_id", s.cfg.Session.RepoID, "cloud_mode", s.cfg.Session.CloudMode)

	// 1. Config already loaded in New. config.Load resolves each field
	// through viper's layering but does not log which layer supplied it;
	// only the resolved device set is logged here.
	slog.Info("lifecycle: resolved devices",
		"arm_leader_port", s.cfg.Devices.ArmLeaderPort,
		"arm_follower_port", s.cfg.Devices.ArmFollowerPort,
		"camera_top_path", s.cfg.Devices.CameraTopPath,
		"camera_wrist_path", s.cfg.Devices.CameraWristPath,
	)

	// 2. Enforce device-file permissions.
	if err := s.checkDevicePermissions(); err != nil {
		return err
	}

	// 3. Export device identifiers to the node runtime environment.
	s.exportDeviceEnv()

	s.sessionDir = filepath.Join(s.cfg.DataDir, s.cfg.Session.RepoID)
	imagesSocket := filepath.Join(s.cfg.DataDir, "ipc", "images.sock")
	jointsSocket := filepath.Join(s.cfg.DataDir, "ipc", "joints.sock")
	if err := os.MkdirAll(filepath.Dir(imagesSocket), 0o755); err != nil {
		return fmt.Errorf("lifecycle: create ipc socket dir: %w", err)
	}

	// 4. Delete stale IPC socket files and kill a lingering prior instance.
	s.cleanStaleSockets(imagesSocket, jointsSocket)
	s.killLingeringInstances(ctx)

	// Metrics server, independent of the dataflow graph's lifetime.
	if s.cfg.Metrics.Enabled {
		s.metricsServer = metrics.NewServer(s.cfg.Metrics.Listen, s.cfg.Metrics.Path)
		if err := s.metricsServer.Start(s.ctx); err != nil {
			return fmt.Errorf("lifecycle: start metrics server: %w", err)
		}
	}

	s.latest = bus.NewLatestBus()
	s.br = bridge.New(imagesSocket, jointsSocket, s.latest)
	if err := s.br.Connect(s.ctx); err != nil {
		return fmt.Errorf("lifecycle: connect ipc bridge: %w", err)
	}

	// 5. Start the dataflow graph in the background.
	specs, err := s.buildGraphSpecs()
	if err != nil {
		return err
	}
	tickPeriod := time.Duration(s.cfg.Session.TickPeriodMS) * time.Millisecond
	if tickPeriod <= 0 {
		tickPeriod = 33 * time.Millisecond
	}
	g, err := node.Assemble(specs, tickPeriod)
	if err != nil {
		return fmt.Errorf("lifecycle: assemble graph: %w", err)
	}
	s.graph = g
	if err := s.graph.Start(ctx); err != nil {
		return fmt.Errorf("lifecycle: start graph: %w", err)
	}

	// 6. Wait for both IPC sockets to exist as filesystem entries.
	if err := waitForSockets(ctx, socketReadyTimeout, imagesSocket, jointsSocket); err != nil {
		_ = s.graph.Stop(ctx)
		return err
	}

	// 7. Settle delay so adapters complete device detection.
	select {
	case <-time.After(s.opts.SettleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	// 8. Re-check device permissions.
	if err := s.checkDevicePermissions(); err != nil {
		_ = s.graph.Stop(ctx)
		return err
	}

	// Supporting workers: memory guard, image writer pool, async saver.
	s.guard = memguard.New(
		memguard.LimitFromEnv(os.Getenv, s.cfg.Memory.LimitGB),
		s.cfg.Memory.SampleTicks,
		nil,
	)
	s.imagePool = imagewriter.NewPool(4)

	var encoder saver.VideoEncoder
	mode, _ := offload.ParseMode(s.cfg.Session.CloudMode)
	if !s.cfg.Session.NPU {
		if mode.EncodesLocally() {
			encoder = saver.NewSoftwareEncoder()
		}
	} else if mode.EncodesLocally() {
		encoder = saver.NewFallbackEncoder()
	}

	saverCfg := saver.DefaultConfig()
	saverCfg.OnFailure = func(episodeIndex int, task string, err error) {
		slog.Error("lifecycle: episode save permanently failed", "episode", episodeIndex, "task", task, "error", err)
		if s.opts.OnEpisodeFailed != nil {
			s.opts.OnEpisodeFailed(episodeIndex, task, err)
		}
	}
	saverCfg.OnSuccess = func(episodeIndex int, task string) {
		if s.opts.OnEpisodeSaved != nil {
			s.opts.OnEpisodeSaved(episodeIndex, task)
		}
	}
	s.saver = saver.New(saverCfg, encoder, s.imagePool.Tracker())

	loopCfg := episode.Config{
		TickPeriod:   tickPeriod,
		FPS:          s.cfg.Session.FPS,
		Cameras:      []string{"top", "wrist"},
		RootDir:      s.sessionDir,
		SkipEncoding: !mode.EncodesLocally(),
		Task:         s.cfg.Session.SingleTask,
		SessionName:  s.cfg.Session.RepoID,
		ShouldExit:   s.guard.ShouldExit,
	}
	s.recordLoop = episode.NewRecordLoop(loopCfg, s.latest, s.saver, s.imagePool)

	s.offloadOrch = offload.New(s.buildOffloadConfig(mode))

	// 9. Start the record loop.
	s.recordDone = make(chan struct{})
	go func() {
		defer close(s.recordDone)
		if err := s.recordLoop.Run(s.ctx); err != nil && err != context.Canceled {
			slog.Warn("lifecycle: record loop exited", "error", err)
		}
	}()

	s.startedAt = time.Now()
	slog.Info("lifecycle: session started", "root_dir", s.sessionDir)
	return nil
}

// Run installs the signal handler and blocks until SIGINT/SIGTERM, an
// external RequestShutdown call (e.g. the daemon control plane's
// session_stop command), or the record loop's own completion (the `e` /
// exit transition).
func (s *Supervisor) Run() error {
	s.sigCh = make(chan os.Signal, 1)
	signal.Notify(s.sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-s.sigCh:
		slog.Info("lifecycle: received signal", "signal", sig)
	case <-s.shutdownCh:
		slog.Info("lifecycle: shutdown requested via control plane")
	case <-s.recordDone:
		slog.Info("lifecycle: record loop finished")
	}
	return s.Stop(context.Background())
}

// Stop runs the shutdown sequence: stop the graph, wait for device
// release, SIGTERM any lingering instance, wait again, destroy the
// graph, clean IPC sockets, run the offload phase, then return.
func (s *Supervisor) Stop(ctx context.Context) error {
	slog.Info("lifecycle: stopping session")

	if s.sigCh != nil {
		signal.Stop(s.sigCh)
	}

	// Stop the record loop and let in-flight saves drain before anything
	// touches the devices the nodes release below.
	s.cancel()
	if s.recordDone != nil {
		<-s.recordDone
	}
	if s.saver != nil {
		s.saver.Stop(true)
	}
	if s.imagePool != nil {
		s.imagePool.Close()
	}

	// Stop graph (sends STOP to nodes); wait 3s for device release.
	if s.graph != nil {
		if err := s.graph.Stop(ctx); err != nil {
			slog.Error("lifecycle: graph stop reported errors", "error", err)
		}
	}
	time.Sleep(3 * time.Second)

	// SIGTERM any lingering instance by name; wait 2s.
	s.killLingeringInstances(ctx)
	time.Sleep(2 * time.Second)

	// Destroy the graph (already stopped above; drop the reference).
	s.graph = nil

	if s.br != nil {
		if err := s.br.Disconnect(ctx); err != nil {
			slog.Error("lifecycle: bridge disconnect failed", "error", err)
		}
	}
	if s.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("lifecycle: metrics server stop failed", "error", err)
		}
		cancel()
	}

	// Run the offload phase.
	if s.offloadOrch != nil {
		offloadCtx, cancel := context.WithTimeout(context.Background(), 150*time.Minute)
		defer cancel()
		if err := s.offloadOrch.Run(offloadCtx); err != nil {
			slog.Error("lifecycle: offload phase failed", "error", err)
			return err
		}
	}

	slog.Info("lifecycle: session stopped")
	return nil
}

// RecordLoop exposes the running record loop so a CLI front-end can wire
// single-keystroke operator controls to it.
func (s *Supervisor) RecordLoop() *episode.RecordLoop { return s.recordLoop }

func (s *Supervisor) buildOffloadConfig(mode offload.Mode) offload.Config {
	cfg := offload.DefaultConfig()
	cfg.Mode = mode
	cfg.RepoID = s.cfg.Session.RepoID
	cfg.APIUsername = s.cfg.Offload.API.Username
	cfg.APIPassword = s.cfg.Offload.API.Password
	cfg.APIBaseURL = s.cfg.Offload.API.BaseURL
	cfg.EdgeHost = s.cfg.Offload.Edge.Host
	cfg.EdgeUser = s.cfg.Offload.Edge.User
	cfg.EdgePassword = s.cfg.Offload.Edge.Password
	cfg.EdgePort = s.cfg.Offload.Edge.Port
	cfg.EdgePath = s.cfg.Offload.Edge.Path
	cfg.LocalRoot = s.sessionDir
	cfg.LocalOutput = filepath.Join(s.cfg.DataDir, "models", s.cfg.Session.RepoID)
	cfg.TarUpload = mode == offload.ModeEdge
	return cfg
}

// buildGraphSpecs constructs the node specs for one session: two camera
// nodes and the teleop mapper node. Real device drivers are out of
// scope; every adapter is the deterministic mock, identified by the
// configured device path/port so logs still show which physical port a
// session believes it is using.
func (s *Supervisor) buildGraphSpecs() ([]node.Spec, error) {
	topCam := &adapters.MockCamera{Name: "top", Height: 480, Width: 640}
	wristCam := &adapters.MockCamera{Name: "wrist", Height: 480, Width: 640}
	restPose := []int32{0, 0, 0, 0, 0, 0}
	leaderReader := &adapters.MockArmReader{Name: "leader", Script: [][]int32{restPose}, HoldLast: true}
	followerReader := &adapters.MockArmReader{Name: "follower", Script: [][]int32{restPose}, HoldLast: true}
	followerWriter := &adapters.MockArmWriter{Name: "follower"}

	return []node.Spec{
		{
			Factory: camera.FactoryName,
			Name:    "camera_top",
			Config: map[string]any{
				"name":   "camera_top",
				"camera": "top",
				"device": adapters.CameraAdapter(topCam),
				"bus":    s.latest,
			},
		},
		{
			Factory: camera.FactoryName,
			Name:    "camera_wrist",
			Config: map[string]any{
				"name":   "camera_wrist",
				"camera": "wrist",
				"device": adapters.CameraAdapter(wristCam),
				"bus":    s.latest,
			},
		},
		{
			Factory: teleop.FactoryName,
			Name:    "teleop_mapper",
			Config: map[string]any{
				"leader_reader":   adapters.ArmReader(leaderReader),
				"follower_reader": adapters.ArmReader(followerReader),
				"follower_writer": adapters.ArmWriter(followerWriter),
				"bus":             s.latest,
			},
		},
	}, nil
}

// checkDevicePermissions requires a concrete operator-writable mode on
// each arm serial device; a camera path that does not exist yet (a
// not-yet-plugged-in USB camera) is tolerated here, matching the
// detection tool's own retry posture — only the arm ports, which block
// teleop safety, fail fast.
func (s *Supervisor) checkDevicePermissions() error {
	for _, path := range []string{s.cfg.Devices.ArmLeaderPort, s.cfg.Devices.ArmFollowerPort} {
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("%w: stat %s: %v (run the device-detection tool, or check that the serial adapter is plugged in)",
				core.ErrPermissionMissing, path, err)
		}
		if info.Mode().Perm()&0o200 == 0 {
			return fmt.Errorf("%w: %s is not operator-writable (mode %o); chmod it or add the operator to its owning group",
				core.ErrPermissionMissing, path, info.Mode().Perm())
		}
	}
	return nil
}

// exportDeviceEnv sets the flat legacy environment variable names the
// node runtime and any externally-spawned helper (ffmpeg aside) expect,
// mirroring the device file's own key names.
func (s *Supervisor) exportDeviceEnv() {
	_ = os.Setenv("ARM_LEADER_PORT", s.cfg.Devices.ArmLeaderPort)
	_ = os.Setenv("ARM_FOLLOWER_PORT", s.cfg.Devices.ArmFollowerPort)
	_ = os.Setenv("CAMERA_TOP_PATH", s.cfg.Devices.CameraTopPath)
	_ = os.Setenv("CAMERA_WRIST_PATH", s.cfg.Devices.CameraWristPath)
}

func (s *Supervisor) cleanStaleSockets(paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			slog.Warn("lifecycle: failed to remove stale socket", "path", p, "error", err)
		}
	}
}

// killLingeringInstances sends SIGTERM to any other running process
// sharing this binary's name, then SIGKILL after 3s to whatever remains
// — the Go-native reinterpretation of "kill lingering adapter processes
// by name-match": this module runs every adapter as an in-process
// goroutine (see internal/node), so the only process that can be
// lingering from a prior crashed run is a whole second copy of this
// agent holding the same device handles and IPC sockets.
func (s *Supervisor) killLingeringInstances(ctx context.Context) {
	self := os.Getpid()
	selfName, err := os.Executable()
	if err != nil {
		return
	}
	selfName = filepath.Base(selfName)

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		slog.Warn("lifecycle: failed to list processes for stale-instance cleanup", "error", err)
		return
	}

	var stale []*process.Process
	for _, p := range procs {
		if int(p.Pid) == self {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil || name != selfName {
			continue
		}
		stale = append(stale, p)
	}
	if len(stale) == 0 {
		return
	}

	for _, p := range stale {
		slog.Warn("lifecycle: terminating lingering instance", "pid", p.Pid)
		_ = p.SendSignal(syscall.SIGTERM)
	}
	time.Sleep(3 * time.Second)
	for _, p := range stale {
		if running, _ := p.IsRunningWithContext(ctx); running {
			slog.Warn("lifecycle: lingering instance did not exit, sending SIGKILL", "pid", p.Pid)
			_ = p.SendSignal(syscall.SIGKILL)
		}
	}
}

// waitForSockets polls for both paths to exist, failing with
// core.ErrSocketNotReady if timeout elapses first.
func waitForSockets(ctx context.Context, timeout time.Duration, paths ...string) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		allReady := true
		for _, p := range paths {
			if _, err := os.Stat(p); err != nil {
				allReady = false
				break
			}
		}
		if allReady {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: after %s", core.ErrSocketNotReady, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
