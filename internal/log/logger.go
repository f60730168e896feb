// Package log implements structured logging using slog, with rotating
// file and Loki sinks layered in via io.MultiWriter.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/robotcap/agent/internal/config"
)

// Init initializes the global logger based on configuration.
func Init(cfg config.LogConfig) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	var writers []io.Writer
	writers = append(writers, os.Stdout)

	if cfg.Outputs.File.Enabled {
		fw, err := createFileWriter(cfg.Outputs.File)
		if err != nil {
			return fmt.Errorf("failed to create file output: %w", err)
		}
		writers = append(writers, fw)
	}

	if cfg.Outputs.Loki.Enabled {
		lw, err := createLokiWriter(cfg.Outputs.Loki)
		if err != nil {
			return fmt.Errorf("failed to create loki output: %w", err)
		}
		writers = append(writers, lw)
	}

	multiWriter := io.MultiWriter(writers...)

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(multiWriter, opts)
	case "text":
		handler = slog.NewTextHandler(multiWriter, opts)
	default:
		return fmt.Errorf("unsupported log format: %s (must be json or text)", cfg.Format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

func parseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level: %s", levelStr)
	}
}

func createFileWriter(fc config.FileOutputConfig) (io.Writer, error) {
	if fc.Path == "" {
		return nil, fmt.Errorf("file output requires 'path' field")
	}
	return &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.Rotation.MaxSizeMB,
		MaxBackups: fc.Rotation.MaxBackups,
		MaxAge:     fc.Rotation.MaxAgeDays,
		Compress:   fc.Rotation.Compress,
	}, nil
}

func createLokiWriter(lc config.LokiOutputConfig) (io.Writer, error) {
	if lc.Endpoint == "" {
		return nil, fmt.Errorf("loki output requires 'endpoint' field")
	}
	return NewLokiWriter(LokiConfig{
		Endpoint:      lc.Endpoint,
		Labels:        lc.Labels,
		BatchSize:     lc.BatchSize,
		FlushInterval: lc.FlushInterval,
	})
}
