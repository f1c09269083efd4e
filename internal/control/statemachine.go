package control

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"passivac/internal/metrics"
)

// Machine holds the HVAC control state for one device and decides state
// transitions from each control context. Anti-oscillation timers guard
// every power or mode change so the compressor never short-cycles.
//
// The orchestrator is the only writer; the mutex exists for API readers
// inspecting state and history concurrently.
type Machine struct {
	mu  sync.RWMutex
	tun Tunables
	log *zap.Logger

	state     State
	enteredAt time.Time

	lastOnAt         *time.Time
	lastOffAt        *time.Time
	lastModeSwitchAt *time.Time
	lastFamily       family

	history []Transition

	now func() time.Time
}

func NewMachine(tun Tunables, log *zap.Logger) *Machine {
	m := &Machine{
		tun:     tun,
		log:     log,
		state:   StateStandby,
		history: make([]Transition, 0, transitionHistorySize),
		now:     time.Now,
	}
	m.enteredAt = m.now()
	return m
}

// Evaluate runs one step: determine the desired state from the context,
// check the anti-oscillation guards, and apply the transition. The
// returned action is non-nil only when the state actually changed.
func (m *Machine) Evaluate(cc ControlContext, pred PredictionResult) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	desired, reason := m.desiredState(cc)

	if desired == m.state {
		return Decision{State: m.state, Reason: reason}
	}

	// A broken sensor overrides every dwell timer.
	if desired != StateSensorFault {
		if blocked := m.blockedBy(desired, now); blocked != "" {
			m.log.Debug("transition blocked",
				zap.String("from", string(m.state)),
				zap.String("to", string(desired)),
				zap.String("guard", blocked))
			return Decision{
				State:  m.state,
				Reason: fmt.Sprintf("Transition blocked by anti-oscillation timer (%s)", blocked),
			}
		}
	}

	m.apply(desired, reason, now)
	return Decision{State: desired, Action: ActionForState(desired, pred.Setpoint), Reason: reason}
}

// desiredState applies the decision rules in priority order and returns
// the state the machine wants to be in plus a human-readable reason.
func (m *Machine) desiredState(cc ControlContext) (State, string) {
	if cc.RoomTemp == nil {
		return StateSensorFault, "room temperature unavailable"
	}
	dev := *cc.RoomTemp - cc.UserTarget

	// Recovery path: first good reading after a fault re-engages
	// immediately if the room has drifted past the reengage band.
	if m.state == StateSensorFault {
		switch {
		case cc.Season == Winter && dev < -reengageBand:
			return StateHeatingActive, fmt.Sprintf("sensor recovered, room %.1f°C below target", -dev)
		case cc.Season == Summer && dev > reengageBand:
			return StateCoolingActive, fmt.Sprintf("sensor recovered, room %.1f°C above target", dev)
		default:
			return StateStandby, "sensor recovered"
		}
	}

	cur := familyOf(m.state)
	half := m.tun.Deadband / 2

	if cc.Season == Winter {
		if cur != familyHeat {
			if snap := DetectColdSnap(cc.ForecastTemps); snap != nil {
				return StatePreHeat, fmt.Sprintf("cold snap in %dh: %.1f°C drop to %.1f°C",
					snap.HoursUntil, snap.TempDrop, snap.MinTemp)
			}
		}
		switch {
		case dev < -m.tun.Hysteresis:
			return StateHeatingActive, fmt.Sprintf("room %.1f°C below target", -dev)
		case dev > half:
			if cur == familyHeat {
				return StateHeatingCoast, fmt.Sprintf("room %.1f°C above target, coasting", dev)
			}
			return StateStandby, fmt.Sprintf("room %.1f°C above target", dev)
		case m.state == StateHeatingCoast && dev > -reengageBand:
			return StateStandby, "coast complete"
		}
	} else {
		if cur != familyCool {
			if hw := DetectHeatwave(cc.ForecastTemps); hw != nil {
				return StatePreCool, fmt.Sprintf("heatwave in %dh: peak %.1f°C",
					hw.HoursUntil, hw.PeakTemp)
			}
		}
		switch {
		case dev > m.tun.Hysteresis:
			return StateCoolingActive, fmt.Sprintf("room %.1f°C above target", dev)
		case dev < -half:
			if cur == familyCool {
				return StateCoolingCoast, fmt.Sprintf("room %.1f°C below target, coasting", -dev)
			}
			return StateStandby, fmt.Sprintf("room %.1f°C below target", -dev)
		case m.state == StateCoolingCoast && dev < reengageBand:
			return StateStandby, "coast complete"
		}
	}

	return m.state, "within deadband"
}

// blockedBy returns the name of the guard that forbids the transition,
// or "" when it may proceed. A timer that never fired does not block.
func (m *Machine) blockedBy(to State, now time.Time) string {
	if isActive(m.state) {
		if m.lastOnAt != nil && now.Sub(*m.lastOnAt) < m.tun.MinOn {
			return "minimum on time"
		}
	}
	if !isActive(m.state) && isActive(to) {
		if m.lastOffAt != nil && now.Sub(*m.lastOffAt) < m.tun.MinOff {
			return "minimum off time"
		}
	}
	if nf := familyOf(to); nf != familyNone && m.lastFamily != familyNone && nf != m.lastFamily {
		if m.lastModeSwitchAt != nil && now.Sub(*m.lastModeSwitchAt) < m.tun.MinModeSwitch {
			return "minimum mode switch interval"
		}
	}
	return ""
}

func (m *Machine) apply(to State, reason string, now time.Time) {
	from := m.state

	if !isActive(from) && isActive(to) {
		t := now
		m.lastOnAt = &t
	}
	if isActive(from) && !isActive(to) {
		t := now
		m.lastOffAt = &t
	}
	if nf := familyOf(to); nf != familyNone {
		if m.lastFamily != familyNone && nf != m.lastFamily {
			t := now
			m.lastModeSwitchAt = &t
		}
		m.lastFamily = nf
	}
	if to == StateSensorFault {
		// Fault wipes the dwell history so recovery starts from a
		// clean inactive baseline.
		m.clearTimers()
	}

	m.state = to
	m.enteredAt = now
	m.record(Transition{From: from, To: to, Reason: reason, At: now})

	metrics.StateTransitions.WithLabelValues(string(from), string(to)).Inc()
	switch to {
	case StatePreHeat:
		metrics.DetectorTrips.WithLabelValues("cold_snap").Inc()
	case StatePreCool:
		metrics.DetectorTrips.WithLabelValues("heatwave").Inc()
	}
	m.log.Info("state transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reason", reason))
}

func (m *Machine) clearTimers() {
	m.lastOnAt = nil
	m.lastOffAt = nil
	m.lastModeSwitchAt = nil
	m.lastFamily = familyNone
}

func (m *Machine) record(t Transition) {
	m.history = append(m.history, t)
	if len(m.history) > transitionHistorySize {
		m.history = m.history[1:]
	}
}

// ActionForState maps a state to the command it implies at the given
// setpoint. SENSOR_FAULT maps to nil: a blind system keeps quiet.
func ActionForState(s State, setpoint float64) *Action {
	switch s {
	case StateHeatingActive, StatePreHeat:
		return &Action{Type: ActionSetMode, Mode: ModeHeat, Setpoint: setpoint}
	case StateCoolingActive, StatePreCool:
		return &Action{Type: ActionSetMode, Mode: ModeCool, Setpoint: setpoint}
	case StateStandby, StateHeatingCoast, StateCoolingCoast:
		return &Action{Type: ActionCoast, Setpoint: setpoint}
	default:
		return nil
	}
}

// State returns the current control state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// TimeInState reports how long the machine has been in its current state.
func (m *Machine) TimeInState() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now().Sub(m.enteredAt)
}

// History returns a copy of the recent transitions, oldest first.
func (m *Machine) History() []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Reset returns the machine to STANDBY and clears all dwell timers.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	from := m.state
	m.clearTimers()
	m.state = StateStandby
	m.enteredAt = now
	m.record(Transition{From: from, To: StateStandby, Reason: "reset", At: now})
	m.log.Info("state machine reset", zap.String("from", string(from)))
}

// Force moves the machine to the given state, bypassing all guards.
// Intended for tests and manual override.
func (m *Machine) Force(s State, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apply(s, reason, m.now())
}
