// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/robotcap/agent/internal/config"
	"github.com/robotcap/agent/internal/offload"
)

// offloadCmd runs the offload orchestrator standalone against an
// already-recorded session directory, independent of any daemon — for
// manually retrying an upload/download phase that failed or was
// interrupted partway through.
var offloadCmd = &cobra.Command{
	Use:   "offload",
	Short: "Retry a session's upload/download phase standalone",
	Long: `Run the offload orchestrator for one session directory without
recording anything. Useful to retry a failed upload, resume a training
poll, or pull down a finished model after a prior "robotcap daemon" or
"robotcap record" invocation's offload phase was interrupted.`,
	Run: func(cmd *cobra.Command, args []string) {
		runOffloadCommand()
	},
}

var offloadResume string

func init() {
	offloadCmd.Flags().StringVar(&offloadResume, "resume", "start",
		"resume point: start, skip-upload, or download-only")
}

func runOffloadCommand() {
	cfg, err := config.Load(configFile)
	if err != nil {
		exitWithError("failed to load config", err)
	}

	mode, err := offload.ParseMode(cfg.Session.CloudMode)
	if err != nil {
		exitWithError("invalid session.cloud_mode", err)
	}

	oc := offload.DefaultConfig()
	oc.Mode = mode
	oc.RepoID = cfg.Session.RepoID
	oc.APIUsername = cfg.Offload.API.Username
	oc.APIPassword = cfg.Offload.API.Password
	oc.APIBaseURL = cfg.Offload.API.BaseURL
	oc.EdgeHost = cfg.Offload.Edge.Host
	oc.EdgeUser = cfg.Offload.Edge.User
	oc.EdgePassword = cfg.Offload.Edge.Password
	oc.EdgePort = cfg.Offload.Edge.Port
	oc.EdgePath = cfg.Offload.Edge.Path
	oc.LocalRoot = filepath.Join(cfg.DataDir, cfg.Session.RepoID)
	oc.LocalOutput = filepath.Join(cfg.DataDir, "models", cfg.Session.RepoID)
	oc.TarUpload = mode == offload.ModeEdge

	switch offloadResume {
	case "start":
		oc.Resume = offload.ResumeFromStart
	case "skip-upload":
		oc.Resume = offload.ResumeSkipUpload
	case "download-only":
		oc.Resume = offload.ResumeDownloadOnly
	default:
		exitWithError("invalid --resume value", nil)
	}

	orch := offload.New(oc)
	if err := orch.Run(context.Background()); err != nil {
		exitWithError("offload failed", err)
	}
}
