// Package daemon implements the recording agent's daemon lifecycle
// manager: the long-running control-plane process that hosts exactly one
// active lifecycle.Supervisor and answers session_status/session_stop/
// config_reload/daemon_status/daemon_shutdown commands over a Unix
// Domain Socket.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/robotcap/agent/internal/command"
	"github.com/robotcap/agent/internal/config"
	"github.com/robotcap/agent/internal/core"
	logpkg "github.com/robotcap/agent/internal/log"
	"github.com/robotcap/agent/internal/lifecycle"
)

// Daemon manages the recording agent daemon process lifecycle: it owns
// one lifecycle.Supervisor for the session's entire record/offload run
// and exposes a control plane for remote status/stop/reload.
type Daemon struct {
	config         *config.GlobalConfig
	configPath     string
	deviceFilePath string
	socketPath     string
	pidFile        string

	supervisor *lifecycle.Supervisor
	cmdHandler *command.CommandHandler
	udsServer  *command.UDSServer
	events     *command.EventPublisher

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	sigChan      chan os.Signal
}

// New creates a new Daemon instance.
func New(configPath, deviceFilePath, socketPath, pidFile string) (*Daemon, error) {
	globalConfig, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	d := &Daemon{
		config:         globalConfig,
		configPath:     configPath,
		deviceFilePath: deviceFilePath,
		socketPath:     socketPath,
		pidFile:        pidFile,
		shutdownChan:   make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	return d, nil
}

// Start initializes and starts all daemon components, including the
// recording session's lifecycle.Supervisor.
func (d *Daemon) Start() error {
	slog.Info("starting robotcap daemon",
		"version", "0.1.0",
		"hostname", d.config.Node.Hostname,
		"config", d.configPath,
		"socket", d.socketPath,
	)

	// 1. Initialize logging system.
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	// 2. Write PID file.
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 3. Optional Kafka episode-lifecycle telemetry fan-out.
	events, err := command.NewEventPublisher(d.config.Telemetry, d.config.Node.Hostname)
	if err != nil {
		slog.Warn("failed to start telemetry publisher, continuing without it", "error", err)
	} else {
		d.events = events
	}

	// 4. Construct and start the recording session supervisor.
	sup, err := lifecycle.New(lifecycle.Options{
		ConfigPath:     d.configPath,
		DeviceFilePath: d.deviceFilePath,
		OnEpisodeSaved: func(episodeIndex int, task string) {
			d.events.Publish(d.ctx, d.config.Session.RepoID, episodeIndex, "saved", task)
		},
		OnEpisodeFailed: func(episodeIndex int, task string, saveErr error) {
			d.events.Publish(d.ctx, d.config.Session.RepoID, episodeIndex, "save_failed", saveErr.Error())
		},
	})
	if err != nil {
		return fmt.Errorf("failed to construct session supervisor: %w", err)
	}
	if err := sup.Start(d.ctx); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	d.supervisor = sup

	// 5. Create command handler wired to this daemon's single session.
	d.cmdHandler = command.NewCommandHandler(daemonSession{d: d}, d)

	// 6. Wire shutdown handler so daemon_shutdown command can trigger graceful stop.
	d.cmdHandler.SetShutdownFunc(func() {
		slog.Info("shutdown triggered via daemon_shutdown command")
		close(d.shutdownChan)
	})

	// 7. Start UDS server for CLI control.
	d.udsServer = command.NewUDSServer(d.socketPath, d.cmdHandler)
	go func() {
		if err := d.udsServer.Start(d.ctx); err != nil && err != context.Canceled {
			slog.Error("uds server failed", "error", err)
		}
	}()

	slog.Info("daemon started successfully")
	return nil
}

// Stop performs graceful shutdown of all daemon components, including
// running the session's full stop/offload sequence.
func (d *Daemon) Stop() {
	slog.Info("initiating graceful daemon shutdown")

	// 1. Stop the recording session (graph, record loop, offload phase).
	if d.supervisor != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 150*time.Minute)
		if err := d.supervisor.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping session", "error", err)
		}
		cancel()
		d.supervisor = nil
	}

	// 2. Stop UDS server (no new CLI commands).
	if d.udsServer != nil {
		slog.Info("stopping uds server")
		if err := d.udsServer.Stop(); err != nil {
			slog.Error("error stopping uds server", "error", err)
		}
	}

	// 3. Close the telemetry publisher.
	if d.events != nil {
		if err := d.events.Close(); err != nil {
			slog.Error("error closing telemetry publisher", "error", err)
		}
	}

	// 4. Cancel context to signal all goroutines.
	d.cancel()

	// 5. Unregister signal handler to prevent goroutine leak.
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 6. Remove PID file.
	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("daemon stopped gracefully")
}

// Run runs the daemon main loop, blocking until shutdown is triggered.
// Shutdown can be triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. daemon_shutdown command via UDS
//  3. SIGHUP triggers config reload
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil

			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				} else {
					slog.Info("configuration reloaded successfully")
				}
			}

		case <-d.shutdownChan:
			slog.Info("shutdown triggered by command")
			d.Stop()
			return nil

		case <-d.ctx.Done():
			slog.Info("context cancelled", "error", d.ctx.Err())
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload reloads the global configuration.
// Hot-reloadable: log level/format.
// Cold (requires restart): node.hostname, devices, metrics listen address,
// and anything else the active session already captured at Start time.
// Implements command.ConfigReloader for CommandHandler.
func (d *Daemon) Reload() error {
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	hotReloaded := []string{}

	oldLevel := d.config.Log.Level
	oldFormat := d.config.Log.Format
	oldHostname := d.config.Node.Hostname
	oldListen := d.config.Metrics.Listen
	d.config = newConfig
	if err := d.initLogging(); err != nil {
		slog.Error("failed to reinitialize logging", "error", err)
	} else if newConfig.Log.Level != oldLevel || newConfig.Log.Format != oldFormat {
		hotReloaded = append(hotReloaded, "log")
	}

	requiresRestart := []string{}
	if newConfig.Node.Hostname != oldHostname {
		requiresRestart = append(requiresRestart, "node.hostname")
	}
	if newConfig.Metrics.Listen != oldListen {
		requiresRestart = append(requiresRestart, "metrics.listen")
	}

	slog.Info("configuration reloaded",
		"hot_reloaded", hotReloaded,
		"requires_restart", requiresRestart,
	)

	return nil
}

// TriggerShutdown triggers graceful shutdown from an external caller.
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

// initLogging initializes the logging system from config.
func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return err
	}
	slog.Debug("logging initialized", "level", d.config.Log.Level, "format", d.config.Log.Format)
	return nil
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}
	slog.Debug("PID file written", "path", d.pidFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}
	slog.Debug("PID file removed", "path", d.pidFile)
	return nil
}

// sessionInfoAdapter adapts lifecycle.Status to command.SessionInfo.
type sessionInfoAdapter struct {
	st lifecycle.Status
}

func (a sessionInfoAdapter) RepoID() string     { return a.st.RepoID }
func (a sessionInfoAdapter) SessionDir() string { return a.st.SessionDir }
func (a sessionInfoAdapter) CloudMode() int     { return a.st.CloudMode }
func (a sessionInfoAdapter) UptimeSec() int64   { return a.st.UptimeSec }

// daemonSession adapts the daemon's single supervisor to
// command.SessionController, so session_stop only tears down the
// recording session (and lets the daemon keep serving the control
// plane), distinct from daemon_shutdown which stops the whole process.
type daemonSession struct{ d *Daemon }

func (s daemonSession) Status() (command.SessionInfo, bool) {
	if s.d.supervisor == nil {
		return nil, false
	}
	return sessionInfoAdapter{st: s.d.supervisor.Status()}, true
}

func (s daemonSession) Stop() error {
	if s.d.supervisor == nil {
		return core.ErrDaemonNotRunning
	}
	s.d.supervisor.RequestShutdown()
	return nil
}
