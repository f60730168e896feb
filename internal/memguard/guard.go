// Package memguard implements the memory auto-stop guard:
// it samples process RSS via gopsutil and flips a flag the record loop
// checks before its next append, avoiding an OS OOM kill at the cost of
// ending the session early but gracefully.
package memguard

import (
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/robotcap/agent/internal/metrics"
)

// DefaultLimitBytes is the default RSS ceiling of 19 GiB.
const DefaultLimitBytes = 19 << 30

// RSSReader abstracts the RSS sample source so tests can inject a fake
// without spawning a real process.
type RSSReader func() (uint64, error)

// SystemRSSReader reads the current process's resident set size via gopsutil.
func SystemRSSReader() (uint64, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	info, err := p.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}

// Guard samples RSS at a configurable cadence and exposes ShouldExit for
// the record loop to poll once per tick.
type Guard struct {
	limitBytes  uint64
	reader      RSSReader
	sampleEvery int // in record-loop ticks

	tickCount atomic.Int64
	tripped   atomic.Bool
}

// New creates a Guard with limitBytes and a sample cadence of every
// sampleEvery record-loop ticks.
func New(limitBytes uint64, sampleEvery int, reader RSSReader) *Guard {
	if limitBytes == 0 {
		limitBytes = DefaultLimitBytes
	}
	if sampleEvery <= 0 {
		sampleEvery = 100
	}
	if reader == nil {
		reader = SystemRSSReader
	}
	return &Guard{limitBytes: limitBytes, sampleEvery: sampleEvery, reader: reader}
}

// ShouldExit is called by the record loop once per tick. Every
// sampleEvery calls it samples RSS; once the limit is crossed it latches
// true forever (a session that exceeded the limit does not un-trip).
func (g *Guard) ShouldExit() bool {
	if g.tripped.Load() {
		return true
	}
	n := g.tickCount.Add(1)
	if n%int64(g.sampleEvery) != 0 {
		return false
	}

	rss, err := g.reader()
	if err != nil {
		slog.Warn("memguard: RSS sample failed", "error", err)
		return false
	}
	metrics.MemoryRSSBytes.Set(float64(rss))

	if rss > g.limitBytes {
		slog.Warn("memguard: RSS limit exceeded, triggering graceful exit",
			"rss_bytes", rss, "limit_bytes", g.limitBytes)
		g.tripped.Store(true)
		return true
	}
	return false
}

// LimitFromEnv reads MEMORY_LIMIT_GB, falling back to defaultGB if
// unset, invalid or not positive.
func LimitFromEnv(getenv func(string) string, defaultGB float64) uint64 {
	if getenv == nil {
		getenv = os.Getenv
	}
	gb := defaultGB
	if v := getenv("MEMORY_LIMIT_GB"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			gb = parsed
		}
	}
	return uint64(gb * (1 << 30))
}
