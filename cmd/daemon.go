package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/robotcap/agent/internal/daemon"
)

// daemonCmd runs the control-plane daemon: a single recording session
// wrapped in a UDS-reachable control plane (status, stop, reload), for
// production deployments managed remotely rather than from an attached
// terminal.
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the recording daemon with a control-plane socket",
	Long: `Run the recording agent as a daemon: it starts one recording session
and exposes session_status/session_stop/config_reload/daemon_status/
daemon_shutdown over a Unix Domain Socket so a separate "robotcap stop",
"robotcap status", or "robotcap reload" invocation can control it.`,
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon()
	},
}

var pidFile string

func init() {
	daemonCmd.Flags().StringVarP(&pidFile, "pidfile", "p", "/var/run/robotcap.pid",
		"PID file path")
}

func runDaemon() {
	d, err := daemon.New(configFile, deviceFile, socketPath, pidFile)
	if err != nil {
		exitWithError("failed to construct daemon", err)
	}

	if err := d.Start(); err != nil {
		exitWithError("failed to start daemon", err)
	}

	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon exited with error: %v\n", err)
		os.Exit(1)
	}
}
