// Package episode implements the episode buffer and the record loop that
// fills it at the bus tick.
package episode

import (
	"fmt"
	"sync"

	"github.com/robotcap/agent/internal/core"
)

// Features describes the schema a Buffer's frames conform to: which
// cameras and joint buses are present, used by the saver to validate a
// task before writing the columnar file.
type Features struct {
	Cameras      []string
	LeaderBus    string
	FollowerBus  string
	StateJoints  int
	ActionJoints int
}

// Buffer is the append-only container for one in-progress episode
//. Every field list's length equals Size();
// Append is the only mutator, and is O(1) amortized.
type Buffer struct {
	mu           sync.Mutex
	episodeIndex int
	task         string
	fps          int
	features     Features
	frames       []core.Frame
}

// NewBuffer creates an empty buffer for episodeIndex.
func NewBuffer(episodeIndex int, task string, fps int, features Features) *Buffer {
	return &Buffer{episodeIndex: episodeIndex, task: task, fps: fps, features: features}
}

// Append adds one frame built from obs/action at the next dense index.
// Timestamp = frame_index / fps, preserving the strictly-increasing
// invariant.
func (b *Buffer) Append(obs core.Observation, action core.JointVector) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := len(b.frames)
	frame := core.Frame{
		FrameIndex:   idx,
		EpisodeIndex: b.episodeIndex,
		Timestamp:    float64(idx) / float64(b.fps),
		Observation:  obs,
		Action:       action,
	}
	b.frames = append(b.frames, frame)
	return nil
}

// Size returns the current frame count.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// EpisodeIndex returns the episode index this buffer accumulates.
func (b *Buffer) EpisodeIndex() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.episodeIndex
}

// Snapshot deep-copies the buffer's frames into a SaveTask descriptor.
// The saver takes a second defensive copy of its own before mutating
// anything, so neither side can observe the other's in-progress writes.
func (b *Buffer) Snapshot(rootDir string, skipEncoding bool) SaveTask {
	b.mu.Lock()
	defer b.mu.Unlock()

	frames := make([]core.Frame, len(b.frames))
	for i, f := range b.frames {
		frames[i] = core.Frame{
			FrameIndex:   f.FrameIndex,
			EpisodeIndex: f.EpisodeIndex,
			Timestamp:    f.Timestamp,
			Action:       f.Action.Clone(),
			Observation: core.Observation{
				State:  f.Observation.State.Clone(),
				Images: cloneImages(f.Observation.Images),
				Extra:  cloneVectors(f.Observation.Extra),
			},
		}
	}

	return SaveTask{
		EpisodeIndex: b.episodeIndex,
		Task:         b.task,
		FPS:          b.fps,
		Features:     b.features,
		RootDir:      rootDir,
		SkipEncoding: skipEncoding,
		Frames:       frames,
	}
}

// Validate rejects an episode with 0 frames; it must never be silently
// written.
func (b *Buffer) Validate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.frames) == 0 {
		return fmt.Errorf("episode %d: 0 frames, rejected", b.episodeIndex)
	}
	return nil
}

func cloneImages(in map[string]core.Image) map[string]core.Image {
	out := make(map[string]core.Image, len(in))
	for k, v := range in {
		out[k] = v.Clone()
	}
	return out
}

func cloneVectors(in map[string]core.JointVector) map[string]core.JointVector {
	if in == nil {
		return nil
	}
	out := make(map[string]core.JointVector, len(in))
	for k, v := range in {
		out[k] = v.Clone()
	}
	return out
}
