// Package config handles global configuration loading using viper, layered
// env > config file > hard-coded default.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// GlobalConfig is the top-level static configuration for the recording
// agent. Maps to the `robotcap:` root key in YAML.
type GlobalConfig struct {
	Node      NodeConfig      `mapstructure:"node" yaml:"node"`
	Control   ControlConfig   `mapstructure:"control" yaml:"control"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	DataDir   string          `mapstructure:"data_dir" yaml:"data_dir"`
	Devices   DevicesConfig   `mapstructure:"devices" yaml:"devices"`
	Session   SessionDefaults `mapstructure:"session" yaml:"session"`
	Memory    MemoryConfig    `mapstructure:"memory" yaml:"memory"`
	Offload   OffloadConfig   `mapstructure:"offload" yaml:"offload"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

// NodeConfig contains node identification settings.
type NodeConfig struct {
	Hostname string `mapstructure:"hostname" yaml:"hostname"`
}

// ControlConfig contains the daemon control-plane socket/pid settings.
type ControlConfig struct {
	Socket  string `mapstructure:"socket" yaml:"socket"`
	PIDFile string `mapstructure:"pid_file" yaml:"pid_file"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`
	Format  string           `mapstructure:"format" yaml:"format"`
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
	Loki LokiOutputConfig `mapstructure:"loki" yaml:"loki"`
}

// FileOutputConfig configures rotating file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig mirrors lumberjack's rotation knobs.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// LokiOutputConfig configures the optional Grafana Loki log sink.
type LokiOutputConfig struct {
	Enabled       bool              `mapstructure:"enabled" yaml:"enabled"`
	Endpoint      string            `mapstructure:"endpoint" yaml:"endpoint"`
	Labels        map[string]string `mapstructure:"labels" yaml:"labels"`
	BatchSize     int               `mapstructure:"batch_size" yaml:"batch_size"`
	FlushInterval string            `mapstructure:"flush_interval" yaml:"flush_interval"`
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// DevicesConfig holds the hardware identifiers consumed by the node
// runtime's adapters — the fields the `--detect` regeneration tool
// regenerates. Non-hardware fields in the same file must survive a
// regeneration untouched.
type DevicesConfig struct {
	ArmLeaderPort   string `mapstructure:"arm_leader_port" yaml:"arm_leader_port"`
	ArmFollowerPort string `mapstructure:"arm_follower_port" yaml:"arm_follower_port"`
	CameraTopPath   string `mapstructure:"camera_top_path" yaml:"camera_top_path"`
	CameraWristPath string `mapstructure:"camera_wrist_path" yaml:"camera_wrist_path"`
}

// SessionDefaults holds the defaults a recording session is created with,
// overridable per-invocation via REPO_ID, SINGLE_TASK, CLOUD, NPU, and
// SHOW environment variables.
type SessionDefaults struct {
	RepoID       string `mapstructure:"repo_id" yaml:"repo_id"`
	SingleTask   string `mapstructure:"single_task" yaml:"single_task"`
	CloudMode    int    `mapstructure:"cloud_mode" yaml:"cloud_mode"` // 0..4, see offload.Mode
	NPU          bool   `mapstructure:"npu" yaml:"npu"`
	Show         bool   `mapstructure:"show" yaml:"show"`
	FPS          int    `mapstructure:"fps" yaml:"fps"`
	TickPeriodMS int    `mapstructure:"tick_period_ms" yaml:"tick_period_ms"`
}

// MemoryConfig controls the auto-stop RSS guard.
type MemoryConfig struct {
	LimitGB     float64 `mapstructure:"limit_gb" yaml:"limit_gb"`
	SampleTicks int     `mapstructure:"sample_ticks" yaml:"sample_ticks"`
}

// OffloadConfig carries edge/cloud credentials consumed by the offload
// orchestrator.
type OffloadConfig struct {
	Edge EdgeServerConfig `mapstructure:"edge" yaml:"edge"`
	API  APIConfig        `mapstructure:"api" yaml:"api"`
}

// EdgeServerConfig is the LAN edge transport target.
type EdgeServerConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Path     string `mapstructure:"path" yaml:"path"`
}

// APIConfig is the training service's HTTP endpoint and credentials.
type APIConfig struct {
	BaseURL  string `mapstructure:"base_url" yaml:"base_url"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// TelemetryConfig controls the optional Kafka episode-lifecycle event
// fan-out used for fleet-wide observability.
type TelemetryConfig struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled"`
	Brokers []string `mapstructure:"brokers" yaml:"brokers"`
	Topic   string   `mapstructure:"topic" yaml:"topic"`
}

// configRoot is the top-level wrapper matching the YAML structure `robotcap: ...`.
type configRoot struct {
	RobotCap GlobalConfig `mapstructure:"robotcap" yaml:"robotcap"`
}

// DumpYAML renders the fully resolved configuration (file + env + defaults
// already merged by Load) back to YAML for an operator to review, with
// credential fields redacted — used by `robotcap validate`.
func (cfg GlobalConfig) DumpYAML() ([]byte, error) {
	redacted := cfg
	if redacted.Offload.Edge.Password != "" {
		redacted.Offload.Edge.Password = "<redacted>"
	}
	if redacted.Offload.API.Password != "" {
		redacted.Offload.API.Password = "<redacted>"
	}

	out, err := yaml.Marshal(configRoot{RobotCap: redacted})
	if err != nil {
		return nil, fmt.Errorf("marshal config as yaml: %w", err)
	}
	return out, nil
}

// Load loads configuration from a file with env var overrides and defaults,
// precedence env > file > hard-coded default. Env vars use the ROBOTCAP_
// prefix (e.g. ROBOTCAP_SESSION_REPO_ID overrides robotcap.session.repo_id).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// A missing config file is not fatal: env vars and defaults still apply.
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnvAliases(v)

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.RobotCap

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// bindLegacyEnvAliases binds the flat environment variable names
// (REPO_ID, SINGLE_TASK, CLOUD, ...) onto their nested viper keys, since
// those names predate the robotcap.* key hierarchy and must keep working
// unprefixed.
func bindLegacyEnvAliases(v *viper.Viper) {
	aliases := map[string]string{
		"robotcap.session.repo_id":          "REPO_ID",
		"robotcap.session.single_task":      "SINGLE_TASK",
		"robotcap.session.cloud_mode":       "CLOUD",
		"robotcap.session.npu":              "NPU",
		"robotcap.session.show":             "SHOW",
		"robotcap.memory.limit_gb":          "MEMORY_LIMIT_GB",
		"robotcap.offload.edge.host":        "EDGE_SERVER_HOST",
		"robotcap.offload.edge.user":        "EDGE_SERVER_USER",
		"robotcap.offload.edge.password":    "EDGE_SERVER_PASSWORD",
		"robotcap.offload.edge.port":        "EDGE_SERVER_PORT",
		"robotcap.offload.edge.path":        "EDGE_SERVER_PATH",
		"robotcap.offload.api.base_url":     "API_BASE_URL",
		"robotcap.offload.api.username":     "API_USERNAME",
		"robotcap.offload.api.password":     "API_PASSWORD",
		"robotcap.devices.camera_top_path":   "CAMERA_TOP_PATH",
		"robotcap.devices.camera_wrist_path": "CAMERA_WRIST_PATH",
		"robotcap.devices.arm_leader_port":   "ARM_LEADER_PORT",
		"robotcap.devices.arm_follower_port": "ARM_FOLLOWER_PORT",
	}
	for key, env := range aliases {
		_ = v.BindEnv(key, env)
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("robotcap.control.pid_file", "/var/run/robotcap.pid")
	v.SetDefault("robotcap.control.socket", "/var/run/robotcap.sock")

	v.SetDefault("robotcap.log.level", "info")
	v.SetDefault("robotcap.log.format", "json")
	v.SetDefault("robotcap.log.outputs.file.enabled", false)
	v.SetDefault("robotcap.log.outputs.file.path", "/var/log/robotcap/robotcap.log")
	v.SetDefault("robotcap.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("robotcap.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("robotcap.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("robotcap.log.outputs.file.rotation.compress", true)
	v.SetDefault("robotcap.log.outputs.loki.enabled", false)
	v.SetDefault("robotcap.log.outputs.loki.batch_size", 100)
	v.SetDefault("robotcap.log.outputs.loki.flush_interval", "5s")

	v.SetDefault("robotcap.metrics.enabled", true)
	v.SetDefault("robotcap.metrics.listen", ":9091")
	v.SetDefault("robotcap.metrics.path", "/metrics")

	v.SetDefault("robotcap.data_dir", "/var/lib/robotcap")

	v.SetDefault("robotcap.session.cloud_mode", 0)
	v.SetDefault("robotcap.session.fps", 30)
	v.SetDefault("robotcap.session.tick_period_ms", 33)

	v.SetDefault("robotcap.memory.limit_gb", 19.0)
	v.SetDefault("robotcap.memory.sample_ticks", 100)

	v.SetDefault("robotcap.offload.edge.port", 22)
	v.SetDefault("robotcap.offload.edge.path", "/uploaded_data")
}

// ValidateAndApplyDefaults validates configuration and fills in runtime
// defaults that cannot be expressed as static viper defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}
	if cfg.Session.CloudMode < 0 || cfg.Session.CloudMode > 4 {
		return fmt.Errorf("invalid session.cloud_mode: %d (must be 0..4)", cfg.Session.CloudMode)
	}
	if cfg.Session.FPS <= 0 {
		return fmt.Errorf("invalid session.fps: %d (must be > 0)", cfg.Session.FPS)
	}

	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}

	requiresConnection := cfg.Session.CloudMode == 1 || cfg.Session.CloudMode == 2 || cfg.Session.CloudMode == 3
	if requiresConnection && cfg.Session.CloudMode != 2 {
		if cfg.Offload.API.BaseURL == "" {
			return fmt.Errorf("offload.api.base_url is required for cloud_mode=%d", cfg.Session.CloudMode)
		}
	}
	if cfg.Session.CloudMode == 2 && cfg.Offload.Edge.Host == "" {
		return fmt.Errorf("offload.edge.host is required for cloud_mode=2 (edge)")
	}

	return nil
}
