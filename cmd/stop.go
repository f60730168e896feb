// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/robotcap/agent/internal/command"
)

// stopCmd requests graceful shutdown of the daemon's recording session
// (stop graph, drain the saver, then offload) without killing the daemon
// process itself — the control plane stays reachable to report progress.
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the active recording session",
	Long: `Stop the active recording session running under "robotcap daemon".

This requests a graceful shutdown: the dataflow graph stops, in-flight
episode saves drain, and the offload phase runs before the session exits.
It does not wait for the offload phase to finish — poll "robotcap status"
to observe when the session actually reports no longer running.

The daemon process itself keeps running; it stops on SIGTERM/SIGINT or
on a daemon_shutdown request sent over the same socket.`,
	Run: func(cmd *cobra.Command, args []string) {
		runStopCommand()
	},
}

func runStopCommand() {
	client := command.NewUDSClient(socketPath, 10*time.Second)
	ctx := context.Background()

	resp, err := client.SessionStop(ctx)
	if err != nil {
		exitWithError("daemon is not running or socket is inaccessible", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("session_stop failed: %s", resp.Error.Message), nil)
	}

	fmt.Println("Session stop requested. Run \"robotcap status\" to watch it drain.")
}
