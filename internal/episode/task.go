package episode

import "github.com/robotcap/agent/internal/core"

// SaveTask is the deep-copied buffer plus descriptor handed to the async
// saver. The saver takes ownership of Frames
// and is guaranteed to call its save procedure at most once for it.
type SaveTask struct {
	EpisodeIndex int
	Task         string
	FPS          int
	Features     Features
	RootDir      string
	SkipEncoding bool
	Frames       []core.Frame
}
