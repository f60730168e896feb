package memguard

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGuardTripsWhenRSSExceedsLimit(t *testing.T) {
	rss := uint64(0)
	g := New(100, 1, func() (uint64, error) { return rss, nil })

	require.False(t, g.ShouldExit())

	rss = 200
	require.True(t, g.ShouldExit())

	// Latches: stays tripped even if RSS later drops.
	rss = 0
	require.True(t, g.ShouldExit())
}

func TestGuardOnlySamplesEverySampleEveryTicks(t *testing.T) {
	calls := 0
	g := New(100, 5, func() (uint64, error) { calls++; return 1000, nil })

	for i := 0; i < 4; i++ {
		require.False(t, g.ShouldExit())
	}
	require.Equal(t, 0, calls)

	require.True(t, g.ShouldExit()) // 5th call samples and trips
	require.Equal(t, 1, calls)
}
