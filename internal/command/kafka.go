// Package command implements control plane command handling.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/robotcap/agent/internal/config"
)

// EpisodeEvent is the wire format published to the telemetry topic for
// fleet-wide observability of recording sessions. One event per episode
// lifecycle transition; the fleet aggregator keys off RepoID+Episode.
//
// Example JSON:
//
//	{
//	  "hostname":   "robot-07",
//	  "repo_id":    "pick-and-place-v3",
//	  "episode":    42,
//	  "phase":      "saved",
//	  "timestamp":  "2026-07-31T10:30:00Z"
//	}
type EpisodeEvent struct {
	Hostname  string    `json:"hostname"`
	RepoID    string    `json:"repo_id"`
	Episode   int       `json:"episode"`
	Phase     string    `json:"phase"` // recording | saved | save_failed | offload_done | offload_failed
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

// messageWriter abstracts kafka.Writer for testability.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventPublisher fans episode lifecycle events out to Kafka for fleet
// observability. Publishing is best-effort: a broker outage must never
// block or fail a recording session, so WriteMessages errors are logged
// and swallowed.
type EventPublisher struct {
	hostname string
	writer   messageWriter
}

// NewEventPublisher creates a publisher from the telemetry config. Returns
// nil, nil if telemetry is disabled — callers should treat a nil
// *EventPublisher as a no-op publisher.
func NewEventPublisher(cfg config.TelemetryConfig, hostname string) (*EventPublisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("telemetry.brokers is required when telemetry.enabled is true")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("telemetry.topic is required when telemetry.enabled is true")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // repo_id as key → consistent partition routing
		RequiredAcks: kafka.RequireOne,
		Async:        true, // observability channel: never block the record loop
	}

	return &EventPublisher{hostname: hostname, writer: writer}, nil
}

// Publish emits one episode lifecycle event. Errors are logged, not
// returned: telemetry fan-out must never be allowed to affect recording.
func (p *EventPublisher) Publish(ctx context.Context, repoID string, episode int, phase, detail string) {
	if p == nil {
		return
	}

	evt := EpisodeEvent{
		Hostname:  p.hostname,
		RepoID:    repoID,
		Episode:   episode,
		Phase:     phase,
		Timestamp: time.Now(),
		Detail:    detail,
	}
	data, err := json.Marshal(evt)
	if err != nil {
		slog.Error("telemetry: failed to marshal episode event", "error", err)
		return
	}

	msg := kafka.Message{Key: []byte(repoID), Value: data}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		slog.Warn("telemetry: failed to publish episode event", "phase", phase, "error", err)
	}
}

// Close releases the underlying Kafka writer.
func (p *EventPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
