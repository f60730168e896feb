// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/robotcap/agent/internal/lifecycle"
)

// recordCmd runs one recording session in the foreground, without a
// control-plane socket: directly constructs and runs a
// lifecycle.Supervisor, matching a single-invocation "start this session,
// Ctrl-C when done" usage pattern rather than a managed daemon.
var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record one teleoperation session in the foreground",
	Long: `Record one teleoperation session: assemble the camera/teleop dataflow
graph, run the record loop until SIGINT/SIGTERM, then run the configured
offload phase before exiting.

Unlike "robotcap daemon", this does not open a control socket — stop it
with Ctrl-C. Use "robotcap daemon" for a remotely-controllable session.`,
	Run: func(cmd *cobra.Command, args []string) {
		runRecordCommand()
	},
}

func runRecordCommand() {
	sup, err := lifecycle.New(lifecycle.Options{
		ConfigPath:     configFile,
		DeviceFilePath: deviceFile,
	})
	if err != nil {
		exitWithError("failed to construct session", err)
	}

	if err := sup.Start(context.Background()); err != nil {
		exitWithError("failed to start session", err)
	}

	fmt.Fprintln(os.Stderr, "recording; press Ctrl-C to stop and run the offload phase")
	if err := sup.Run(); err != nil {
		exitWithError("session exited with error", err)
	}
}
