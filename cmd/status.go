// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/robotcap/agent/internal/command"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and session status",
	Long: `Query the robotcap daemon for its overall status (version, uptime) and
the active recording session's identity (repo ID, session directory, cloud
mode, uptime), or "no_session" if none is running yet.`,
	Run: func(cmd *cobra.Command, args []string) {
		runStatusCommand()
	},
}

func runStatusCommand() {
	client := command.NewUDSClient(socketPath, 10*time.Second)
	ctx := context.Background()

	if err := client.Ping(ctx); err != nil {
		exitWithError("daemon is not running or socket is inaccessible", err)
	}

	daemonResp, err := client.DaemonStatus(ctx)
	if err != nil {
		exitWithError("failed to query daemon status", err)
	}
	if daemonResp.Error != nil {
		exitWithError(fmt.Sprintf("daemon_status failed: %s", daemonResp.Error.Message), nil)
	}

	sessionResp, err := client.SessionStatus(ctx)
	if err != nil {
		exitWithError("failed to query session status", err)
	}
	if sessionResp.Error != nil {
		exitWithError(fmt.Sprintf("session_status failed: %s", sessionResp.Error.Message), nil)
	}

	out := map[string]interface{}{
		"daemon":  daemonResp.Result,
		"session": sessionResp.Result,
	}
	resultJSON, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		exitWithError("failed to format result", err)
	}

	fmt.Println(string(resultJSON))
}
