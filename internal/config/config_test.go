package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, 30, cfg.Session.FPS)
	require.Equal(t, 19.0, cfg.Memory.LimitGB)
	require.NotEmpty(t, cfg.Node.Hostname)
}

func TestLoadRejectsInvalidCloudMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "robotcap:\n  session:\n    cloud_mode: 9\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRequiresAPIBaseURLForCloudModes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "robotcap:\n  session:\n    cloud_mode: 1\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestDeviceFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "devices.conf")

	body := "" +
		"# detected hardware\n" +
		"ARM_LEADER_PORT=/dev/ttyUSB0\n" +
		"ARM_FOLLOWER_PORT=/dev/ttyUSB1  # second arm\n" +
		"CAMERA_TOP_PATH=\"/dev/video0\"\n" +
		"CAMERA_WRIST_PATH=/dev/video2\n" +
		"EDGE_SERVER_HOST=192.168.1.50\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	df, err := LoadDeviceFile(path)
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyUSB0", df.ArmLeaderPort)
	require.Equal(t, "/dev/ttyUSB1", df.ArmFollowerPort)
	require.Equal(t, "/dev/video0", df.CameraTopPath)
	require.Equal(t, "/dev/video2", df.CameraWristPath)
	require.Equal(t, "192.168.1.50", df.Extra["EDGE_SERVER_HOST"])

	df.CameraTopPath = "/dev/video4"
	require.NoError(t, WriteDeviceFile(path, df))

	reloaded, err := LoadDeviceFile(path)
	require.NoError(t, err)
	require.Equal(t, "/dev/video4", reloaded.CameraTopPath)
	require.Equal(t, "192.168.1.50", reloaded.Extra["EDGE_SERVER_HOST"],
		"non-hardware keys must survive regeneration")
}

func TestDumpYAMLRedactsCredentials(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "robotcap:\n  offload:\n    edge:\n      password: topsecret\n    api:\n      password: alsosecret\n      base_url: https://train.example\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	out, err := cfg.DumpYAML()
	require.NoError(t, err)
	require.NotContains(t, string(out), "topsecret")
	require.NotContains(t, string(out), "alsosecret")
	require.Contains(t, string(out), "<redacted>")
	require.Contains(t, string(out), "train.example")
}

func TestLoadDeviceFileMissingIsNotError(t *testing.T) {
	df, err := LoadDeviceFile(filepath.Join(t.TempDir(), "nope.conf"))
	require.NoError(t, err)
	require.Equal(t, "", df.ArmLeaderPort)
}
