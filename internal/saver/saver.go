// Package saver implements the async episode saver: a fixed-size worker
// pool that waits for PNG flush, writes the columnar data file, and
// invokes the video encoder, with bounded retries.
package saver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robotcap/agent/internal/core"
	"github.com/robotcap/agent/internal/episode"
	"github.com/robotcap/agent/internal/metrics"
)

// ImageTracker is the subset of imagewriter.Tracker the saver needs,
// declared locally so this package does not import imagewriter for its
// full surface — only the wait contract.
type ImageTracker interface {
	Wait(episodeIndex int, cancel <-chan struct{}) bool
}

// FailureRecorder is notified when an episode's save permanently fails,
// so the session's failure log can record it instead of the episode
// going silently missing.
type FailureRecorder func(episodeIndex int, task string, err error)

// SuccessRecorder is notified after an episode's save completes, for
// fleet telemetry fan-out.
type SuccessRecorder func(episodeIndex int, task string)

// Config controls one Saver instance.
type Config struct {
	Workers           int
	QueueSize         int // bounded; full blocks the record loop's save action
	MaxAttempts       int
	BaseBackoff       time.Duration
	ImageFlushMinWait time.Duration // floor for the dynamic image-flush timeout
	OnFailure         FailureRecorder
	OnSuccess         SuccessRecorder
}

// DefaultConfig is a single worker, 3 attempts, and a 120s image-flush
// timeout floor.
func DefaultConfig() Config {
	return Config{
		Workers:           1,
		QueueSize:         8,
		MaxAttempts:       3,
		BaseBackoff:       time.Second,
		ImageFlushMinWait: 120 * time.Second,
	}
}

// Saver consumes episode.SaveTask values from a bounded FIFO and writes
// for each episode's images, writes its columnar file, and encodes video.
type Saver struct {
	cfg     Config
	encoder VideoEncoder
	images  ImageTracker

	queue chan episode.SaveTask

	mu      sync.Mutex
	inflight map[int]bool

	// metaMu serializes meta/info's read-modify-write across concurrent
	// workers saving different episodes of the same repo.
	metaMu sync.Mutex

	wg sync.WaitGroup

	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates a Saver with workers consuming from a bounded queue.
func New(cfg Config, encoder VideoEncoder, images ImageTracker) *Saver {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 8
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	s := &Saver{
		cfg:      cfg,
		encoder:  encoder,
		images:   images,
		queue:    make(chan episode.SaveTask, cfg.QueueSize),
		inflight: make(map[int]bool),
		stopped:  make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Enqueue hands over ownership of task's deep-copied frames. The caller
// (the record loop) blocks if the queue is full — acceptable because
// save is operator-initiated.
func (s *Saver) Enqueue(task episode.SaveTask) error {
	s.mu.Lock()
	s.inflight[task.EpisodeIndex] = true
	s.mu.Unlock()
	metrics.SaverQueueDepth.Set(float64(len(s.queue) + 1))

	select {
	case s.queue <- task:
		return nil
	case <-s.stopped:
		return fmt.Errorf("saver: stopped, rejecting episode %d", task.EpisodeIndex)
	}
}

// Stop blocks until the queue is empty and no in-flight task remains,
// polling {pending, queue_size} every 500ms — a blind join on the
// underlying queue would return before the last task's retries finish.
// If wait is false it signals
// workers to finish their current task and returns once that drains too
// — this implementation always waits for in-flight completion, matching
// the contract's guarantee that save_episode is called exactly once.
func (s *Saver) Stop(wait bool) {
	s.stopOnce.Do(func() { close(s.queue) })

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		s.mu.Lock()
		n := len(s.inflight)
		s.mu.Unlock()
		if n == 0 && len(s.queue) == 0 {
			break
		}
		<-ticker.C
	}
	s.wg.Wait()
	close(s.stopped)
}

func (s *Saver) worker() {
	defer s.wg.Done()
	for task := range s.queue {
		s.save(task)
	}
}

// save runs the save procedure with bounded retries. Each retry works
// from a fresh clone of the task's frames, never from a mutated working
// copy.
func (s *Saver) save(task episode.SaveTask) {
	defer func() {
		s.mu.Lock()
		delete(s.inflight, task.EpisodeIndex)
		s.mu.Unlock()
		metrics.SaverQueueDepth.Set(float64(len(s.queue)))
	}()

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		working := cloneFrames(task.Frames) // second defensive copy, per attempt
		if err := s.saveOnce(task, working); err != nil {
			lastErr = err
			metrics.SaverRetriesTotal.WithLabelValues(fmt.Sprintf("%d", task.EpisodeIndex)).Inc()
			slog.Warn("saver: attempt failed", "episode", task.EpisodeIndex, "attempt", attempt, "error", err)
			if attempt < s.cfg.MaxAttempts {
				time.Sleep(s.cfg.BaseBackoff * time.Duration(1<<(attempt-1)))
				continue
			}
			break
		}
		slog.Info("saver: episode saved", "episode", task.EpisodeIndex, "frames", len(task.Frames))
		if s.cfg.OnSuccess != nil {
			s.cfg.OnSuccess(task.EpisodeIndex, task.Task)
		}
		return
	}

	slog.Error("saver: episode save failed after all attempts", "episode", task.EpisodeIndex, "error", lastErr)
	if s.cfg.OnFailure != nil {
		s.cfg.OnFailure(task.EpisodeIndex, task.Task, lastErr)
	}
}

func (s *Saver) saveOnce(task episode.SaveTask, frames []core.Frame) error {
	if len(frames) == 0 {
		return fmt.Errorf("saver: %w: episode %d has 0 frames", core.ErrEpisodeValidation, task.EpisodeIndex)
	}

	// Step 2: wait for this episode's images to flush, dynamic timeout.
	numCameras := len(task.Features.Cameras)
	timeout := s.cfg.ImageFlushMinWait
	if dyn := time.Duration(len(frames)*numCameras) * 500 * time.Millisecond; dyn > timeout {
		timeout = dyn
	}
	cancel := make(chan struct{})
	timer := time.AfterFunc(timeout, func() { close(cancel) })
	defer timer.Stop()
	if s.images != nil && !s.images.Wait(task.EpisodeIndex, cancel) {
		return fmt.Errorf("saver: %w: episode %d after %s", core.ErrImageFlushTimeout, task.EpisodeIndex, timeout)
	}

	// Step 3: write the columnar data file.
	dataDir := filepath.Join(task.RootDir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("saver: mkdir data dir: %w", err)
	}
	dataPath := filepath.Join(dataDir, fmt.Sprintf("%d.columnar", task.EpisodeIndex))
	if err := WriteColumnar(dataPath, frames); err != nil {
		return err
	}

	// Step 4: encode video per camera unless skipped.
	if !task.SkipEncoding && s.encoder != nil {
		videoDir := filepath.Join(task.RootDir, "videos", fmt.Sprintf("episode_%d", task.EpisodeIndex))
		if err := os.MkdirAll(videoDir, 0o755); err != nil {
			return fmt.Errorf("saver: mkdir video dir: %w", err)
		}
		for _, cam := range task.Features.Cameras {
			imgDir := filepath.Join(task.RootDir, "images", fmt.Sprintf("episode_%d", task.EpisodeIndex),
				"observation.images."+cam)
			outPath := filepath.Join(videoDir, "observation.images."+cam+".mp4")
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			err := s.encoder.EncodeFrames(ctx, imgDir, task.FPS, outPath)
			cancel()
			if err != nil {
				return fmt.Errorf("saver: %w: camera %s: %v", core.ErrEncoderFailure, cam, err)
			}
		}
	}

	// Step 5: per-episode file existence check — only the files this
	// episode was supposed to produce, never a global count.
	if _, err := os.Stat(dataPath); err != nil {
		return fmt.Errorf("saver: %w: missing %s", core.ErrEpisodeValidation, dataPath)
	}

	// Step 6: append to the dataset-level metadata (meta/info, meta/tasks,
	// meta/episodes.jsonl). Deliberately last: nothing after this step can
	// fail and trigger a retry, so a successfully saved episode is recorded
	// here exactly once.
	s.metaMu.Lock()
	err := updateDatasetMetadata(task.RootDir, task, frames)
	s.metaMu.Unlock()
	if err != nil {
		return fmt.Errorf("saver: update dataset metadata: %w", err)
	}
	return nil
}

func cloneFrames(in []core.Frame) []core.Frame {
	out := make([]core.Frame, len(in))
	for i, f := range in {
		out[i] = core.Frame{
			FrameIndex:   f.FrameIndex,
			EpisodeIndex: f.EpisodeIndex,
			Timestamp:    f.Timestamp,
			Action:       f.Action.Clone(),
			Observation: core.Observation{
				State: f.Observation.State.Clone(),
			},
		}
	}
	return out
}
