// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/robotcap/agent/internal/command"
)

// reloadCmd represents the reload command
var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the daemon's global configuration",
	Long: `Reload the global configuration of the robotcap daemon.

This command sends a config_reload signal to the running daemon via Unix
Domain Socket. Log level/format reload hot; node hostname and the metrics
listen address are logged as requiring a restart, not applied live.

Note: the active recording session itself is not reconfigured — stop and
restart it to pick up session-level changes (repo ID, cloud mode, etc).`,
	Run: func(cmd *cobra.Command, args []string) {
		runReloadCommand()
	},
}

func runReloadCommand() {
	client := command.NewUDSClient(socketPath, 10*time.Second)
	ctx := context.Background()

	// Send reload command
	fmt.Println("Sending reload signal to daemon...")
	resp, err := client.ConfigReload(ctx)
	if err != nil {
		exitWithError("failed to send reload command", err)
	}

	if resp.Error != nil {
		exitWithError(fmt.Sprintf("config.reload failed: %s", resp.Error.Message), nil)
	}

	fmt.Println("Configuration reloaded successfully.")
}
