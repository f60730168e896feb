package log

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/robotcap/agent/internal/config"
)

func TestParseLevelValid(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := parseLevel(tt.input)
			if err != nil {
				t.Errorf("parseLevel(%q) returned error: %v", tt.input, err)
			}
			if level != tt.expected {
				t.Errorf("parseLevel(%q) = %v, expected %v", tt.input, level, tt.expected)
			}
		})
	}
}

func TestParseLevelInvalid(t *testing.T) {
	for _, input := range []string{"invalid", "trace", "fatal", ""} {
		t.Run(input, func(t *testing.T) {
			if _, err := parseLevel(input); err == nil {
				t.Errorf("parseLevel(%q) should return error, got nil", input)
			}
		})
	}
}

func TestInitStdoutOnly(t *testing.T) {
	cfg := config.LogConfig{Level: "info", Format: "json"}
	if err := Init(cfg); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if slog.Default() == nil {
		t.Fatal("expected default logger to be set")
	}
}

func TestInitWithFileOutput(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test.log")

	cfg := config.LogConfig{
		Level:  "debug",
		Format: "text",
		Outputs: config.LogOutputsConfig{
			File: config.FileOutputConfig{
				Enabled: true,
				Path:    logPath,
				Rotation: config.RotationConfig{
					MaxSizeMB:  10,
					MaxBackups: 3,
					MaxAgeDays: 7,
					Compress:   true,
				},
			},
		},
	}

	if err := Init(cfg); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	slog.Info("test message", "key", "value")

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		t.Errorf("log file was not created at %s", logPath)
	}
}

func TestInitWithInvalidLevel(t *testing.T) {
	err := Init(config.LogConfig{Level: "invalid", Format: "json"})
	if err == nil || !strings.Contains(err.Error(), "invalid log level") {
		t.Errorf("expected invalid log level error, got: %v", err)
	}
}

func TestInitWithInvalidFormat(t *testing.T) {
	err := Init(config.LogConfig{Level: "info", Format: "xml"})
	if err == nil || !strings.Contains(err.Error(), "unsupported log format") {
		t.Errorf("expected unsupported log format error, got: %v", err)
	}
}

func TestInitWithMissingFilePath(t *testing.T) {
	cfg := config.LogConfig{
		Level:  "info",
		Format: "json",
		Outputs: config.LogOutputsConfig{
			File: config.FileOutputConfig{Enabled: true},
		},
	}
	err := Init(cfg)
	if err == nil || !strings.Contains(err.Error(), "path") {
		t.Errorf("expected missing path error, got: %v", err)
	}
}

func TestCreateFileWriter(t *testing.T) {
	tmpDir := t.TempDir()
	fc := config.FileOutputConfig{
		Enabled: true,
		Path:    filepath.Join(tmpDir, "test.log"),
		Rotation: config.RotationConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
	}

	writer, err := createFileWriter(fc)
	if err != nil {
		t.Fatalf("createFileWriter failed: %v", err)
	}
	n, err := writer.Write([]byte("test"))
	if err != nil {
		t.Errorf("write failed: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 bytes written, got %d", n)
	}
}

func TestLogLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	output := buf.String()
	if strings.Contains(output, "debug message") || strings.Contains(output, "info message") {
		t.Error("debug/info should be filtered out at warn level")
	}
	if !strings.Contains(output, "warn message") || !strings.Contains(output, "error message") {
		t.Error("warn/error should be present")
	}
}
