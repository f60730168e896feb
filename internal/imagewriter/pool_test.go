package imagewriter

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/robotcap/agent/internal/core"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, r, g, b byte) core.Image {
	pixels := make([]byte, w*h*3)
	for i := 0; i < w*h; i++ {
		pixels[i*3] = r
		pixels[i*3+1] = g
		pixels[i*3+2] = b
	}
	return core.Image{Camera: "top", Width: w, Height: h, Pixels: pixels}
}

func TestPoolWritesPNGAndCompletesTracker(t *testing.T) {
	dir := t.TempDir()
	p := NewPool(2)

	tracker := p.Tracker()
	tracker.Expect(1, 3)
	for i := 0; i < 3; i++ {
		p.Enqueue(1, "top", i, solidImage(4, 4, 10, 20, 30), dir)
	}

	done := make(chan struct{})
	go func() {
		tracker.Wait(1, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tracker did not complete in time")
	}

	p.Close()

	for i := 0; i < 3; i++ {
		name := filepath.Join(dir, fmt.Sprintf("frame_%06d.png", i))
		f, err := os.Open(name)
		require.NoError(t, err, "expected %s to exist", name)
		img, err := png.Decode(f)
		require.NoError(t, err)
		require.Equal(t, 4, img.Bounds().Dx())
		f.Close()
	}
}

func TestPoolDefaultsToOneWorker(t *testing.T) {
	p := NewPool(0)
	require.NotNil(t, p)
	p.Close()
}

func TestTrackerWaitReturnsImmediatelyWhenNothingExpected(t *testing.T) {
	tr := newTracker()
	ok := tr.Wait(99, nil)
	require.True(t, ok)
}

func TestTrackerWaitUnblocksOnCancel(t *testing.T) {
	tr := newTracker()
	tr.Expect(1, 1)

	cancel := make(chan struct{})
	done := make(chan bool)
	go func() { done <- tr.Wait(1, cancel) }()

	close(cancel)
	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not observe cancel")
	}
}

