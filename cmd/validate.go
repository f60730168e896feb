// Package cmd implements CLI commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/robotcap/agent/internal/config"
)

var validateShowConfig bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the global config and device files",
	Long: `Validate a global configuration file and an optional device file without
starting a session. Checks that the YAML parses, required offload
credentials are present for the configured cloud_mode, and that the
device file's arm ports resolve to operator-writable paths.

Examples:
  robotcap validate -c config.yml -d devices.yml
  robotcap validate --show-config`,
	Run: func(cmd *cobra.Command, args []string) {
		runValidateCommand()
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateShowConfig, "show-config", false,
		"print the fully resolved configuration (file + env + defaults) as YAML, credentials redacted")
}

func runValidateCommand() {
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "INVALID config: %v\n", err)
		os.Exit(1)
	}

	df, err := config.LoadDeviceFile(deviceFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "INVALID device file: %v\n", err)
		os.Exit(1)
	}

	armLeader := cfg.Devices.ArmLeaderPort
	if armLeader == "" {
		armLeader = df.ArmLeaderPort
	}
	armFollower := cfg.Devices.ArmFollowerPort
	if armFollower == "" {
		armFollower = df.ArmFollowerPort
	}

	for name, path := range map[string]string{"arm_leader_port": armLeader, "arm_follower_port": armFollower} {
		if path == "" {
			fmt.Printf("WARNING: %s is unset\n", name)
			continue
		}
		info, statErr := os.Stat(path)
		if statErr != nil {
			fmt.Printf("WARNING: %s (%s): %v\n", name, path, statErr)
			continue
		}
		if info.Mode().Perm()&0o200 == 0 {
			fmt.Printf("WARNING: %s (%s) is not operator-writable (mode %o)\n", name, path, info.Mode().Perm())
		}
	}

	fmt.Printf("VALID: config %q — repo_id=%q cloud_mode=%d data_dir=%q\n",
		configFile, cfg.Session.RepoID, cfg.Session.CloudMode, cfg.DataDir)

	if validateShowConfig {
		yamlBytes, err := cfg.DumpYAML()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to render config as yaml: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("---")
		fmt.Print(string(yamlBytes))
	}
}
