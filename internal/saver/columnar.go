package saver

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/robotcap/agent/internal/core"
)

// frameRow is the per-frame columnar schema written to
// <root>/data/<episode_index>.columnar.
// Image pixels are not stored here — they live under images/ and
// videos/; this file carries only the numeric state/action/timestamp
// columns a write/read round trip is checked against.
type frameRow struct {
	FrameIndex   int64     `parquet:"frame_index"`
	EpisodeIndex int64     `parquet:"episode_index"`
	Timestamp    float64   `parquet:"timestamp"`
	State        []float64 `parquet:"state"`
	Action       []float64 `parquet:"action"`
}

// WriteColumnar writes one episode's frames to a parquet file at path,
// atomically via a temp-file rename so a reader never observes a
// partially written file.
func WriteColumnar(path string, frames []core.Frame) error {
	rows := make([]frameRow, len(frames))
	for i, f := range frames {
		rows[i] = frameRow{
			FrameIndex:   int64(f.FrameIndex),
			EpisodeIndex: int64(f.EpisodeIndex),
			Timestamp:    f.Timestamp,
			State:        append([]float64(nil), f.Observation.State.Values...),
			Action:       append([]float64(nil), f.Action.Values...),
		}
	}

	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("saver: create columnar temp file: %w", err)
	}

	if err := parquet.Write(file, rows); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("saver: write columnar data: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("saver: close columnar temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("saver: rename columnar file into place: %w", err)
	}
	return nil
}

// ReadColumnar reads back an episode's timestamp/state/action columns,
// used by the write/read round-trip tests.
func ReadColumnar(path string) ([]core.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("saver: open columnar file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("saver: stat columnar file: %w", err)
	}

	rows, err := parquet.Read[frameRow](f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("saver: read columnar file: %w", err)
	}

	frames := make([]core.Frame, len(rows))
	for i, r := range rows {
		frames[i] = core.Frame{
			FrameIndex:   int(r.FrameIndex),
			EpisodeIndex: int(r.EpisodeIndex),
			Timestamp:    r.Timestamp,
			Observation:  core.Observation{State: core.JointVector{Values: r.State}},
			Action:       core.JointVector{Values: r.Action},
		}
	}
	return frames, nil
}
