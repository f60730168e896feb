package teleop

import (
	"testing"

	"github.com/robotcap/agent/internal/core"
	"github.com/stretchr/testify/require"
)

func TestMapperFirstSampleEstablishesBaselineWithoutEmitting(t *testing.T) {
	m := NewMapper([]int8{1, 1}, DefaultThresholds())
	m.SetFollowerBaseline([]int32{0, 0})

	target, emitted, err := m.HandleLeader([]float64{0.1, 0.2})
	require.ErrorIs(t, err, core.ErrBaselineNotEstablished)
	require.False(t, emitted)
	require.Nil(t, target)
	require.Equal(t, StateBaselineEstablished, m.State())
}

func TestMapperEmitsRelativeMotionFromBaseline(t *testing.T) {
	m := NewMapper([]int8{1, -1}, DefaultThresholds())
	m.SetFollowerBaseline([]int32{1000, 2000})
	m.ObserveFollowerActual([]int32{1000, 2000})

	_, _, err := m.HandleLeader([]float64{0.0, 0.0}) // baseline
	require.ErrorIs(t, err, core.ErrBaselineNotEstablished)

	delta := 0.01 // radians
	m.ObserveFollowerActual([]int32{1000, 2000})
	target, emitted, err := m.HandleLeader([]float64{delta, delta})
	require.NoError(t, err)
	require.True(t, emitted)

	wantJ0 := 1000.0 + delta*MilliDegreesPerRadian
	wantJ1 := 2000.0 + (-delta)*MilliDegreesPerRadian
	require.InDelta(t, wantJ0, float64(target[0]), 1)
	require.InDelta(t, wantJ1, float64(target[1]), 1)
}

func TestMapperEmergencyStopSuppressesFurtherCommands(t *testing.T) {
	m := NewMapper([]int8{1}, DefaultThresholds())
	m.SetFollowerBaseline([]int32{0})
	m.ObserveFollowerActual([]int32{0})

	_, _, err := m.HandleLeader([]float64{0.0})
	require.ErrorIs(t, err, core.ErrBaselineNotEstablished)

	// 80 degrees in radians, follower frozen at 0 -> deviation 80deg > 60deg emergency threshold.
	jump := 80.0 * (3.141592653589793 / 180.0)
	m.ObserveFollowerActual([]int32{0})
	_, emitted, err := m.HandleLeader([]float64{jump})
	require.ErrorIs(t, err, core.ErrEmergencyStop)
	require.False(t, emitted)
	require.Equal(t, StateEmergency, m.State())

	detail := m.Emergency()
	require.Equal(t, 0, detail.JointIndex)

	// Subsequent calls stay suppressed — terminal state.
	_, emitted, err = m.HandleLeader([]float64{0.0})
	require.ErrorIs(t, err, core.ErrEmergencyStop)
	require.False(t, emitted)
}

func TestMapperWarningDoesNotSuppressEmission(t *testing.T) {
	m := NewMapper([]int8{1}, DefaultThresholds())
	m.SetFollowerBaseline([]int32{0})
	m.ObserveFollowerActual([]int32{0})
	_, _, _ = m.HandleLeader([]float64{0.0})

	// 40 degrees: above warning (30deg), below emergency (60deg).
	jump := 40.0 * (3.141592653589793 / 180.0)
	m.ObserveFollowerActual([]int32{0})
	target, emitted, err := m.HandleLeader([]float64{jump})
	require.NoError(t, err)
	require.True(t, emitted)
	require.NotNil(t, target)
	require.Equal(t, StateBaselineEstablished, m.State())
}
