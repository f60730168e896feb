package saver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/robotcap/agent/internal/core"
	"github.com/robotcap/agent/internal/episode"
	"github.com/stretchr/testify/require"
)

type noopTracker struct{}

func (noopTracker) Wait(episodeIndex int, cancel <-chan struct{}) bool { return true }

type noopEncoder struct{}

func (noopEncoder) EncodeFrames(ctx context.Context, dir string, fps int, outPath string) error {
	return nil
}

func makeTask(root string, episodeIndex, n int) episode.SaveTask {
	frames := make([]core.Frame, n)
	for i := 0; i < n; i++ {
		frames[i] = core.Frame{
			FrameIndex:   i,
			EpisodeIndex: episodeIndex,
			Timestamp:    float64(i) / 30.0,
			Observation:  core.Observation{State: core.JointVector{Values: []float64{float64(i)}}},
			Action:       core.JointVector{Values: []float64{float64(i) * 2}},
		}
	}
	return episode.SaveTask{
		EpisodeIndex: episodeIndex,
		Task:         "pick",
		FPS:          30,
		Features:     episode.Features{Cameras: nil},
		RootDir:      root,
		SkipEncoding: true,
		Frames:       frames,
	}
}

func TestSaverWritesColumnarFileAndDrainsOnStop(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.ImageFlushMinWait = 10 * time.Millisecond
	s := New(cfg, noopEncoder{}, noopTracker{})

	require.NoError(t, s.Enqueue(makeTask(root, 0, 5)))
	s.Stop(true)

	dataPath := filepath.Join(root, "data", "0.columnar")
	_, err := os.Stat(dataPath)
	require.NoError(t, err)

	frames, err := ReadColumnar(dataPath)
	require.NoError(t, err)
	require.Len(t, frames, 5)
	for i, f := range frames {
		require.Equal(t, i, f.FrameIndex)
		require.InDelta(t, float64(i)/30.0, f.Timestamp, 1e-9)
	}
}

func TestSaverWritesDatasetMetadata(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.ImageFlushMinWait = 10 * time.Millisecond
	s := New(cfg, noopEncoder{}, noopTracker{})

	require.NoError(t, s.Enqueue(makeTask(root, 0, 5)))
	require.NoError(t, s.Enqueue(makeTask(root, 1, 3)))
	s.Stop(true)

	info, err := readInfo(filepath.Join(root, "meta", "info"))
	require.NoError(t, err)
	require.NotNil(t, info)
	require.Equal(t, 2, info.TotalEpisodes)
	require.Equal(t, 8, info.TotalFrames)
	require.Equal(t, 30, info.FPS)
	require.Equal(t, 1, info.StateDim)
	require.Equal(t, 1, info.ActionDim)

	tasks, err := readTaskRecords(filepath.Join(root, "meta", "tasks"))
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "pick", tasks[0].Task)
	require.Equal(t, 0, tasks[0].TaskIndex)

	data, err := os.ReadFile(filepath.Join(root, "meta", "episodes.jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var recs []episodeMetaRecord
	for _, line := range lines {
		var r episodeMetaRecord
		require.NoError(t, json.Unmarshal([]byte(line), &r))
		recs = append(recs, r)
	}
	byEpisode := map[int]episodeMetaRecord{recs[0].EpisodeIndex: recs[0], recs[1].EpisodeIndex: recs[1]}
	require.Equal(t, 5, byEpisode[0].Length)
	require.Equal(t, 3, byEpisode[1].Length)
	require.Len(t, byEpisode[0].Stats.StateMean, 1)
}

func TestSaverRecordsFailureAfterExhaustingRetries(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.MaxAttempts = 2
	cfg.BaseBackoff = time.Millisecond
	cfg.ImageFlushMinWait = time.Millisecond

	var failedEpisode int
	failed := make(chan struct{})
	cfg.OnFailure = func(episodeIndex int, task string, err error) {
		failedEpisode = episodeIndex
		close(failed)
	}

	blockedTracker := trackerFunc(func(episodeIndex int, cancel <-chan struct{}) bool {
		<-cancel
		return false
	})

	s := New(cfg, noopEncoder{}, blockedTracker)
	require.NoError(t, s.Enqueue(makeTask(root, 7, 3)))

	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected OnFailure to be called")
	}
	require.Equal(t, 7, failedEpisode)
	s.Stop(true)
}

type trackerFunc func(episodeIndex int, cancel <-chan struct{}) bool

func (f trackerFunc) Wait(episodeIndex int, cancel <-chan struct{}) bool { return f(episodeIndex, cancel) }
