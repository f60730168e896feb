package episode

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/robotcap/agent/internal/bus"
	"github.com/robotcap/agent/internal/core"
	"github.com/robotcap/agent/internal/metrics"
)

// Command is an operator- or guard-driven transition the record loop acts
// on between ticks.
type Command int

const (
	CmdSaveAndNext Command = iota
	CmdExit
	CmdAbort
)

// Sink receives a finished episode's SaveTask, handing it to the async
// saver. Implemented by *saver.Saver in production, a recording fake in tests.
type Sink interface {
	Enqueue(task SaveTask) error
}

// ImageSink receives per-tick camera frames for background PNG encoding,
// writing under <root>/images/episode_<N>/observation.images.<cam>/.
// Implemented by *imagewriter.Pool in production; nil in tests that don't
// exercise image persistence.
type ImageSink interface {
	// Expect registers n outstanding writes for episodeIndex before they
	// are handed to Enqueue, so a tracker's Wait never races an empty count.
	Expect(episodeIndex, n int)
	Enqueue(episodeIndex int, camera string, frameIndex int, img core.Image, destDir string)
}

// Config controls one RecordLoop instance.
type Config struct {
	TickPeriod   time.Duration
	FPS          int
	Cameras      []string // camera names, matching `image/<cam>` bus topics
	StateTopic   string   // joint vector topic, default "joint/follower"
	ActionTopic  string   // joint vector topic, default "action/command"
	RootDir      string
	SkipEncoding bool
	Task         string
	SessionName  string // metrics label

	// ShouldExit is polled once per tick by the memory auto-stop guard;
	// when it returns true the loop behaves as if `e` was pressed.
	ShouldExit func() bool
}

// RecordLoop appends one frame per tick from the IPC bridge's latest
// topics into the current episode Buffer, and reacts to operator
// commands. It never blocks on save: Command delivery to the
// Sink happens synchronously at the command boundary, but the Sink itself
// (the async saver) must not block this goroutine beyond its bounded
// queue-full policy.
type RecordLoop struct {
	cfg    Config
	latest *bus.LatestBus
	sink   Sink
	images ImageSink

	commands chan Command
	done     chan struct{}

	buffer       *Buffer
	episodeIndex int
}

// NewRecordLoop creates a loop starting at episode index 0. images may be
// nil, in which case frames are buffered and saved but no PNG is ever
// written — used by tests that don't exercise image persistence.
func NewRecordLoop(cfg Config, latest *bus.LatestBus, sink Sink, images ImageSink) *RecordLoop {
	if cfg.StateTopic == "" {
		cfg.StateTopic = "joint/follower"
	}
	if cfg.ActionTopic == "" {
		cfg.ActionTopic = "action/command"
	}
	features := Features{Cameras: append([]string(nil), cfg.Cameras...)}
	return &RecordLoop{
		cfg:      cfg,
		latest:   latest,
		sink:     sink,
		images:   images,
		commands: make(chan Command, 1),
		done:     make(chan struct{}),
		buffer:   NewBuffer(0, cfg.Task, cfg.FPS, features),
	}
}

// SaveAndNext requests the `n` transition: finalize and queue the current
// episode, start a new one. Non-blocking; at most one pending command is
// buffered, matching the single-keystroke CLI contract.
func (l *RecordLoop) SaveAndNext() { l.send(CmdSaveAndNext) }

// Exit requests the `e` transition: stop the loop after draining this tick.
func (l *RecordLoop) Exit() { l.send(CmdExit) }

// Abort requests the current buffer be discarded without saving.
func (l *RecordLoop) Abort() { l.send(CmdAbort) }

func (l *RecordLoop) send(c Command) {
	select {
	case l.commands <- c:
	default:
		// A command is already pending; the operator's next keystroke
		// will be picked up once it drains. Dropping a duplicate here is
		// correct — these are level, not edge, operator intents.
	}
}

// Done is closed once Run returns.
func (l *RecordLoop) Done() <-chan struct{} { return l.done }

// Run iterates at cfg.TickPeriod until Exit is requested, the guard trips,
// or ctx is cancelled. It returns nil after Exit or a guard trip, and
// ctx.Err() when ctx is cancelled.
func (l *RecordLoop) Run(ctx context.Context) error {
	defer close(l.done)

	ticker := time.NewTicker(l.cfg.TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if l.cfg.ShouldExit != nil && l.cfg.ShouldExit() {
				l.finalizeAndSave()
				return nil
			}
			l.tick()
		case cmd := <-l.commands:
			switch cmd {
			case CmdSaveAndNext:
				l.finalizeAndSave()
			case CmdExit:
				l.finalizeAndSave()
				return nil
			case CmdAbort:
				slog.Info("episode: aborting current buffer", "episode", l.episodeIndex, "frames", l.buffer.Size())
				l.episodeIndex++
				l.buffer = NewBuffer(l.episodeIndex, l.cfg.Task, l.cfg.FPS, Features{Cameras: l.cfg.Cameras})
			}
		}
	}
}

// tick performs one append: pull the latest observation and action,
// skipping (not blocking) if a required camera has no data yet.
func (l *RecordLoop) tick() {
	images := make(map[string]core.Image, len(l.cfg.Cameras))
	for _, cam := range l.cfg.Cameras {
		v, ok := l.latest.Topic("image/" + cam).Load()
		if !ok {
			return // required camera missing this tick; do not stall
		}
		img, ok := v.(core.Image)
		if !ok {
			return
		}
		images[cam] = img
	}

	stateVal, ok := l.latest.Topic(l.cfg.StateTopic).Load()
	if !ok {
		return
	}
	state, ok := stateVal.(core.JointVector)
	if !ok {
		return
	}

	var action core.JointVector
	if actionVal, ok := l.latest.Topic(l.cfg.ActionTopic).Load(); ok {
		if a, ok := actionVal.(core.JointVector); ok {
			action = a
		}
	}

	obs := core.Observation{State: state, Images: images}
	frameIndex := l.buffer.Size()
	if err := l.buffer.Append(obs, action); err != nil {
		slog.Error("episode: append failed", "error", err)
		return
	}
	metrics.FramesRecordedTotal.WithLabelValues(l.cfg.SessionName).Inc()

	l.enqueueImages(frameIndex, images)
}

// enqueueImages hands this tick's camera frames to the background PNG
// writer pool, under the same episode/camera layout the saver later reads
// back when building a video encode job.
func (l *RecordLoop) enqueueImages(frameIndex int, images map[string]core.Image) {
	if l.images == nil || len(images) == 0 {
		return
	}
	l.images.Expect(l.episodeIndex, len(images))
	episodeDir := filepath.Join(l.cfg.RootDir, "images", fmt.Sprintf("episode_%d", l.episodeIndex))
	for cam, img := range images {
		destDir := filepath.Join(episodeDir, "observation.images."+cam)
		l.images.Enqueue(l.episodeIndex, cam, frameIndex, img, destDir)
	}
}

// finalizeAndSave atomically swaps the live buffer for a fresh one and
// hands a deep-copied SaveTask to the sink — the recording thread never
// observes a partially drained buffer.
func (l *RecordLoop) finalizeAndSave() {
	if err := l.buffer.Validate(); err != nil {
		slog.Info("episode: skipping save, empty episode", "episode", l.episodeIndex)
		return
	}

	task := l.buffer.Snapshot(l.cfg.RootDir, l.cfg.SkipEncoding)
	l.episodeIndex++
	l.buffer = NewBuffer(l.episodeIndex, l.cfg.Task, l.cfg.FPS, Features{Cameras: l.cfg.Cameras})

	if err := l.sink.Enqueue(task); err != nil {
		slog.Error("episode: failed to enqueue save task", "episode", task.EpisodeIndex, "error", err)
	}
}
