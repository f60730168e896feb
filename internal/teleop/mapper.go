// Package teleop implements the leader-to-follower pose mapping and the
// per-joint deviation safety monitor. The mapper captures
// only relative motion from a per-session baseline; it never forces the
// leader and follower into a common physical zero pose.
package teleop

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/robotcap/agent/internal/core"
	"github.com/robotcap/agent/internal/metrics"
)

// MilliDegreesPerRadian converts a leader delta expressed in radians into
// the follower's native milli-degree unit: 1000 * 180 / pi.
//
// Open Question 1: this constant is only correct when every
// leader joint is declared RADIANS — core.JointBus.Validate rejects a
// mixed-unit bus before it ever reaches the mapper.
const MilliDegreesPerRadian = 1000.0 * 180.0 / math.Pi

// State is the mapper's lifecycle state machine.
type State int

const (
	StateAwaitingFollower State = iota
	StateBaselineEstablished
	StateEmergency
)

func (s State) String() string {
	switch s {
	case StateAwaitingFollower:
		return "awaiting_follower"
	case StateBaselineEstablished:
		return "baseline_established"
	case StateEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Thresholds are the per-joint deviation limits, in degrees.
type Thresholds struct {
	WarningDeg   float64
	EmergencyDeg float64
}

// DefaultThresholds returns the 30-degree warning / 60-degree emergency
// deviation thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{WarningDeg: 30, EmergencyDeg: 60}
}

// Baseline is the (leader, follower) pose pair captured at the first
// leader input, and the origin of all subsequent relative commands.
type Baseline struct {
	Leader      []float64 // radians
	Follower    []float64 // milli-degrees
	Established bool
	Timestamp   time.Time
}

// EmergencyDetail records the offending joint for the terminal log.
type EmergencyDetail struct {
	JointIndex int
	TargetDeg  float64
	ActualDeg  float64
	DeviateDeg float64
}

// Mapper holds the baseline, direction-sign table, and safety thresholds
// for one teleop session. A Mapper is used by exactly one goroutine at a
// time in the node runtime's single-threaded Tick, but exposes its own
// mutex so HandleLeader and ObserveFollowerActual can be called from
// separate paths in tests without races.
type Mapper struct {
	mu             sync.Mutex
	directionSign  []int8
	thresholds     Thresholds
	baseline       Baseline
	followerActual []float64 // milli-degrees, most recent reading
	state          State
	emergency      EmergencyDetail
	lastWarnLog    time.Time
	warnLogEvery   time.Duration
}

// NewMapper creates a Mapper for a bus with the given per-joint direction
// signs. directionSign[i] is +1 or -1.
func NewMapper(directionSign []int8, thresholds Thresholds) *Mapper {
	return &Mapper{
		directionSign: append([]int8(nil), directionSign...),
		thresholds:    thresholds,
		state:         StateAwaitingFollower,
		warnLogEvery:  time.Second,
	}
}

// SetFollowerBaseline records the follower's starting position, read once
// by the node at Connect time. Values are milli-degrees.
func (m *Mapper) SetFollowerBaseline(followerMilliDeg []int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseline.Follower = make([]float64, len(followerMilliDeg))
	for i, v := range followerMilliDeg {
		m.baseline.Follower[i] = float64(v)
	}
	m.followerActual = append([]float64(nil), m.baseline.Follower...)
}

// ObserveFollowerActual records the most recent follower position
// reading, used to compute command-vs-actual deviation before emission.
func (m *Mapper) ObserveFollowerActual(followerMilliDeg []int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	actual := make([]float64, len(followerMilliDeg))
	for i, v := range followerMilliDeg {
		actual[i] = float64(v)
	}
	m.followerActual = actual
}

// State returns the mapper's current lifecycle state.
func (m *Mapper) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// HandleLeader processes one leader joint reading (radians). The first
// call after construction establishes the baseline and never emits
//; every subsequent call computes a follower
// target and emits it unless an emergency-threshold deviation suppresses
// it. Once in StateEmergency, every call returns core.ErrEmergencyStop
// and emits nothing — the state is terminal and requires a process
// restart to clear.
func (m *Mapper) HandleLeader(leader []float64) (target []int32, emitted bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateEmergency {
		return nil, false, core.ErrEmergencyStop
	}
	if len(leader) != len(m.directionSign) {
		return nil, false, fmt.Errorf("teleop: leader vector has %d joints, mapper configured for %d",
			len(leader), len(m.directionSign))
	}

	if !m.baseline.Established {
		m.baseline.Leader = append([]float64(nil), leader...)
		m.baseline.Established = true
		m.baseline.Timestamp = time.Now()
		m.state = StateBaselineEstablished
		slog.Info("teleop: mapping baseline established",
			"leader_baseline", m.baseline.Leader, "follower_baseline", m.baseline.Follower)
		return nil, false, core.ErrBaselineNotEstablished
	}

	targetMilliDeg := make([]float64, len(leader))
	targets := make([]int32, len(leader))
	for i, cur := range leader {
		delta := float64(m.directionSign[i]) * (cur - m.baseline.Leader[i])
		targetMilliDeg[i] = m.baseline.Follower[i] + delta*MilliDegreesPerRadian
		targets[i] = int32(math.Round(targetMilliDeg[i]))
	}

	worstIdx, worstDevDeg := -1, 0.0
	if m.followerActual != nil {
		for i, t := range targetMilliDeg {
			devDeg := math.Abs(t-m.followerActual[i]) / 1000.0
			if devDeg > worstDevDeg {
				worstDevDeg = devDeg
				worstIdx = i
			}
		}
	}

	if worstIdx >= 0 && worstDevDeg > m.thresholds.EmergencyDeg {
		m.state = StateEmergency
		m.emergency = EmergencyDetail{
			JointIndex: worstIdx,
			TargetDeg:  targetMilliDeg[worstIdx] / 1000.0,
			ActualDeg:  m.followerActual[worstIdx] / 1000.0,
			DeviateDeg: worstDevDeg,
		}
		metrics.EmergencyStopsTotal.WithLabelValues(fmt.Sprintf("%d", worstIdx)).Inc()
		slog.Error("teleop: EMERGENCY STOP — deviation exceeds threshold, all further commands suppressed",
			"joint", worstIdx, "target_deg", m.emergency.TargetDeg,
			"actual_deg", m.emergency.ActualDeg, "deviation_deg", worstDevDeg,
			"threshold_deg", m.thresholds.EmergencyDeg)
		return nil, false, core.ErrEmergencyStop
	}

	if worstIdx >= 0 && worstDevDeg > m.thresholds.WarningDeg {
		metrics.DeviationWarningsTotal.WithLabelValues(fmt.Sprintf("%d", worstIdx)).Inc()
		if time.Since(m.lastWarnLog) > m.warnLogEvery {
			slog.Warn("teleop: joint deviation warning",
				"joint", worstIdx, "deviation_deg", worstDevDeg, "threshold_deg", m.thresholds.WarningDeg)
			m.lastWarnLog = time.Now()
		}
	}

	return targets, true, nil
}

// Emergency returns the detail recorded when the mapper entered
// StateEmergency. Zero value if it never did.
func (m *Mapper) Emergency() EmergencyDetail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emergency
}
