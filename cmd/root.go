// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	deviceFile string
	socketPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "robotcap",
	Short: "robotcap - robot teleoperation data collection agent",
	Long: `robotcap records synchronized teleoperation episodes (camera frames,
joint trajectories, and task labels) from a leader/follower arm pair, saves
them in a columnar per-episode layout, and offloads finished sessions to an
edge server or a cloud training API.

Features:
  - Deterministic dataflow graph: camera and teleop nodes ticking in lockstep
  - Episode lifecycle: record, save (async, retried), discard, re-record
  - Five offload modes spanning local-only, cloud-only, edge, and hybrid
  - Local control: CLI via Unix Domain Socket (status, stop, reload)`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/robotcap/config.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&deviceFile, "devices", "d", "/etc/robotcap/devices.yml",
		"device file path (arm ports, camera paths)")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/var/run/robotcap.sock",
		"daemon control socket path")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(offloadCmd)
	rootCmd.AddCommand(validateCmd)
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
