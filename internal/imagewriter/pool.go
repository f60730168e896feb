// Package imagewriter implements the background PNG writer pool
//. Its queue is deliberately UNBOUNDED: back-pressure here
// would reintroduce temporal misalignment into the recorded dataset,
// which is worse than the OOM risk the memory auto-stop guard
// (internal/memguard) already covers.
package imagewriter

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/robotcap/agent/internal/core"
	"github.com/robotcap/agent/internal/metrics"
)

// task is one pending (image, destination) write.
type task struct {
	episodeIndex int
	camera       string
	frameIndex   int
	img          core.Image
	dest         string
}

// Tracker lets the saver wait for every image of one episode to flush
// before it writes the episode's columnar file.
type Tracker struct {
	mu      sync.Mutex
	pending map[int]int // episodeIndex -> outstanding write count
	done    map[int]chan struct{}
}

func newTracker() *Tracker {
	return &Tracker{pending: make(map[int]int), done: make(map[int]chan struct{})}
}

// Expect registers n outstanding writes for an episode, called by the
// saver (or recorder) before/while handing frames to the pool.
func (t *Tracker) Expect(episodeIndex, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[episodeIndex] += n
	if _, ok := t.done[episodeIndex]; !ok {
		t.done[episodeIndex] = make(chan struct{})
	}
}

func (t *Tracker) complete(episodeIndex int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[episodeIndex]--
	if t.pending[episodeIndex] <= 0 {
		if ch, ok := t.done[episodeIndex]; ok {
			select {
			case <-ch:
			default:
				close(ch)
			}
		}
	}
}

// Wait blocks until every expected write for episodeIndex has completed,
// or cancel fires first (caller-supplied deadline channel).
func (t *Tracker) Wait(episodeIndex int, cancel <-chan struct{}) bool {
	t.mu.Lock()
	ch, ok := t.done[episodeIndex]
	if !ok || t.pending[episodeIndex] <= 0 {
		t.mu.Unlock()
		return true
	}
	t.mu.Unlock()

	select {
	case <-ch:
		return true
	case <-cancel:
		return false
	}
}

// unboundedQueue is a growable, mutex-protected FIFO with a condition
// variable wake-up — deliberately no back-pressure, in contrast to the
// saver's bounded queue.
type unboundedQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []task
	closed bool
}

func newUnboundedQueue() *unboundedQueue {
	q := &unboundedQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *unboundedQueue) push(t task) {
	q.mu.Lock()
	q.items = append(q.items, t)
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *unboundedQueue) pop() (task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return task{}, false
	}
	t := q.items[0]
	q.items = q.items[1:]
	return t, true
}

func (q *unboundedQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *unboundedQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pool is a fixed-size worker pool draining an unbounded PNG-encode queue.
type Pool struct {
	queue   *unboundedQueue
	tracker *Tracker
	wg      sync.WaitGroup
}

// NewPool starts workers PNG-encoding frames off the recording thread.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{queue: newUnboundedQueue(), tracker: newTracker()}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Tracker exposes the episode-completion tracker the saver waits on.
func (p *Pool) Tracker() *Tracker { return p.tracker }

// Expect registers n outstanding writes for episodeIndex, satisfying
// episode.ImageSink so the record loop can hand frames to the pool
// directly without depending on the saver's Tracker wiring.
func (p *Pool) Expect(episodeIndex, n int) { p.tracker.Expect(episodeIndex, n) }

// Enqueue schedules one frame's image for PNG encoding to destDir, named
// frame_<F>.png. Episode completion tracking is via Tracker.Expect,
// called by the caller before Enqueue so Wait never races an empty count.
func (p *Pool) Enqueue(episodeIndex int, camera string, frameIndex int, img core.Image, destDir string) {
	dest := filepath.Join(destDir, fmt.Sprintf("frame_%06d.png", frameIndex))
	p.queue.push(task{episodeIndex: episodeIndex, camera: camera, frameIndex: frameIndex, img: img, dest: dest})
}

// Close stops accepting work and waits for in-flight writes to finish
// draining; it does not observe cancellation because the
// unbounded queue is always finite once the record loop stops enqueuing.
func (p *Pool) Close() {
	p.queue.close()
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		t, ok := p.queue.pop()
		if !ok {
			return
		}
		if err := writePNG(t.dest, t.img); err != nil {
			// Errors are logged with full context and the frame dropped;
			// the task is still acknowledged so the queue can drain. The
			// saver discovers the gap later during its image-flush wait.
			slog.Error("imagewriter: write failed, frame dropped",
				"episode", t.episodeIndex, "camera", t.camera, "frame", t.frameIndex,
				"dest", t.dest, "error", err)
			metrics.ImageWriterErrorsTotal.WithLabelValues(t.camera).Inc()
		}
		p.tracker.complete(t.episodeIndex)
	}
}

func writePNG(dest string, img core.Image) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	rgba := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			i := (y*img.Width + x) * 3
			if i+2 >= len(img.Pixels) {
				continue
			}
			rgba.Set(x, y, color.RGBA{R: img.Pixels[i], G: img.Pixels[i+1], B: img.Pixels[i+2], A: 255})
		}
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, rgba); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return f.Sync()
}
