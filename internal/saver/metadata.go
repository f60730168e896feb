package saver

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/robotcap/agent/internal/core"
	"github.com/robotcap/agent/internal/episode"
)

// datasetInfo is the repo-level summary at meta/info: running totals and
// the feature schema every episode in this repo conforms to. Rewritten
// atomically (temp file + rename) on every episode save, same as the
// columnar file.
type datasetInfo struct {
	TotalEpisodes int      `json:"total_episodes"`
	TotalFrames   int      `json:"total_frames"`
	FPS           int      `json:"fps"`
	StateDim      int      `json:"state_dim"`
	ActionDim     int      `json:"action_dim"`
	Cameras       []string `json:"cameras"`
}

// episodeStats is the per-episode statistics meta/episodes.jsonl records
// next to each episode's length and task label.
type episodeStats struct {
	StateMean []float64 `json:"state_mean"`
	StateStd  []float64 `json:"state_std"`
}

type episodeMetaRecord struct {
	EpisodeIndex int          `json:"episode_index"`
	Length       int          `json:"length"`
	Task         string       `json:"task"`
	Stats        episodeStats `json:"stats"`
}

type taskRecord struct {
	TaskIndex int    `json:"task_index"`
	Task      string `json:"task"`
}

// updateDatasetMetadata appends this episode's record to meta/episodes.jsonl,
// registers its task label in meta/tasks if new, and rewrites meta/info's
// running totals. Called once, as the last step of a successful save, so a
// retried attempt (which restarts saveOnce from its first step) never
// double-counts an episode already recorded here.
func updateDatasetMetadata(rootDir string, task episode.SaveTask, frames []core.Frame) error {
	metaDir := filepath.Join(rootDir, "meta")
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return fmt.Errorf("saver: mkdir meta dir: %w", err)
	}

	if err := appendTaskLabel(filepath.Join(metaDir, "tasks"), task.Task); err != nil {
		return err
	}

	stats := computeStats(frames)
	rec := episodeMetaRecord{
		EpisodeIndex: task.EpisodeIndex,
		Length:       len(frames),
		Task:         task.Task,
		Stats:        stats,
	}
	if err := appendJSONLine(filepath.Join(metaDir, "episodes.jsonl"), rec); err != nil {
		return err
	}

	actionDim := 0
	if len(frames) > 0 {
		actionDim = len(frames[0].Action.Values)
	}
	return updateInfo(filepath.Join(metaDir, "info"), task, len(frames), len(stats.StateMean), actionDim)
}

// appendTaskLabel registers taskName in the task table if it is not
// already present, assigning it the next dense task_index.
func appendTaskLabel(path, taskName string) error {
	existing, err := readTaskRecords(path)
	if err != nil {
		return err
	}
	for _, r := range existing {
		if r.Task == taskName {
			return nil
		}
	}
	return appendJSONLine(path, taskRecord{TaskIndex: len(existing), Task: taskName})
}

func readTaskRecords(path string) ([]taskRecord, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("saver: open tasks file: %w", err)
	}
	defer f.Close()

	var records []taskRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r taskRecord
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("saver: parse tasks file: %w", err)
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("saver: scan tasks file: %w", err)
	}
	return records, nil
}

func appendJSONLine(path string, v any) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("saver: open %s: %w", path, err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(v); err != nil {
		return fmt.Errorf("saver: write %s: %w", path, err)
	}
	return nil
}

func updateInfo(path string, task episode.SaveTask, numFrames, stateDim, actionDim int) error {
	info := datasetInfo{}
	if existing, err := readInfo(path); err != nil {
		return err
	} else if existing != nil {
		info = *existing
	}

	info.TotalEpisodes++
	info.TotalFrames += numFrames
	info.FPS = task.FPS
	if stateDim > 0 {
		info.StateDim = stateDim
	}
	if actionDim > 0 {
		info.ActionDim = actionDim
	}
	if len(task.Features.Cameras) > 0 {
		info.Cameras = append([]string(nil), task.Features.Cameras...)
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("saver: marshal info: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("saver: write info temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("saver: rename info file into place: %w", err)
	}
	return nil
}

func readInfo(path string) (*datasetInfo, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("saver: read info file: %w", err)
	}
	var info datasetInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("saver: parse info file: %w", err)
	}
	return &info, nil
}

// computeStats returns the per-dimension mean/std of an episode's state
// vectors — the "per-episode statistics" §3's DatasetMetadata names.
func computeStats(frames []core.Frame) episodeStats {
	if len(frames) == 0 {
		return episodeStats{}
	}
	dim := len(frames[0].Observation.State.Values)
	mean := make([]float64, dim)
	for _, f := range frames {
		v := f.Observation.State.Values
		for i := 0; i < dim && i < len(v); i++ {
			mean[i] += v[i]
		}
	}
	n := float64(len(frames))
	for i := range mean {
		mean[i] /= n
	}

	std := make([]float64, dim)
	for _, f := range frames {
		v := f.Observation.State.Values
		for i := 0; i < dim && i < len(v); i++ {
			d := v[i] - mean[i]
			std[i] += d * d
		}
	}
	for i := range std {
		std[i] = math.Sqrt(std[i] / n)
	}
	return episodeStats{StateMean: mean, StateStd: std}
}
