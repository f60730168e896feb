package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJointBusValidate(t *testing.T) {
	t.Run("uniform unit system passes", func(t *testing.T) {
		bus := JointBus{
			Name: "leader",
			Joints: []JointMeta{
				{ID: "shoulder", Unit: UnitRadians},
				{ID: "elbow", Unit: UnitRadians},
			},
		}
		require.NoError(t, bus.Validate())
	})

	t.Run("mixed unit system rejected", func(t *testing.T) {
		bus := JointBus{
			Name: "leader",
			Joints: []JointMeta{
				{ID: "shoulder", Unit: UnitRadians},
				{ID: "gripper", Unit: UnitRange0To100},
			},
		}
		err := bus.Validate()
		require.Error(t, err)
	})

	t.Run("empty bus rejected", func(t *testing.T) {
		require.Error(t, JointBus{Name: "empty"}.Validate())
	})
}

func TestJointVectorClone(t *testing.T) {
	v := JointVector{Bus: "leader", Values: []float64{1, 2, 3}}
	c := v.Clone()
	c.Values[0] = 99
	require.Equal(t, 1.0, v.Values[0], "clone must not alias the original backing array")
}

func TestImageClone(t *testing.T) {
	im := Image{Camera: "top", Height: 1, Width: 1, Pixels: []byte{1, 2, 3}}
	c := im.Clone()
	c.Pixels[0] = 255
	require.Equal(t, byte(1), im.Pixels[0])
}

func TestSentinelErrors(t *testing.T) {
	wrapped := errors.Join(ErrEmergencyStop, errors.New("joint 3 deviation 80deg"))
	require.True(t, errors.Is(wrapped, ErrEmergencyStop))
}
