// Package control implements the predictive setpoint calculator, the
// HVAC state machine and the command executor that together decide what
// the air conditioner should be doing at any moment.
package control

import (
	"math"
	"time"
)

// Season is the resolved operating season for a single control cycle.
type Season int

const (
	Winter Season = iota
	Summer
)

func (s Season) String() string {
	if s == Summer {
		return "summer"
	}
	return "winter"
}

// SeasonSelect is the user-facing season selector. Auto resolves to a
// concrete Season from the forecast on every cycle.
type SeasonSelect int

const (
	SelectAuto SeasonSelect = iota
	SelectHeat
	SelectCool
)

func (s SeasonSelect) String() string {
	switch s {
	case SelectHeat:
		return "heat"
	case SelectCool:
		return "cool"
	default:
		return "auto"
	}
}

// State is one of the HVAC control states.
type State string

const (
	StateStandby       State = "STANDBY"
	StateHeatingActive State = "HEATING_ACTIVE"
	StateCoolingActive State = "COOLING_ACTIVE"
	StatePreHeat       State = "PRE_HEAT"
	StatePreCool       State = "PRE_COOL"
	StateHeatingCoast  State = "HEATING_COAST"
	StateCoolingCoast  State = "COOLING_COAST"
	StateSensorFault   State = "SENSOR_FAULT"
)

// AllStates lists every control state, for metric initialisation and
// API enumeration.
var AllStates = []State{
	StateStandby,
	StateHeatingActive,
	StateCoolingActive,
	StatePreHeat,
	StatePreCool,
	StateHeatingCoast,
	StateCoolingCoast,
	StateSensorFault,
}

type family int

const (
	familyNone family = iota
	familyHeat
	familyCool
)

func familyOf(s State) family {
	switch s {
	case StateHeatingActive, StatePreHeat, StateHeatingCoast:
		return familyHeat
	case StateCoolingActive, StatePreCool, StateCoolingCoast:
		return familyCool
	default:
		return familyNone
	}
}

// isActive reports whether the compressor is commanded on in this state.
func isActive(s State) bool {
	switch s {
	case StateHeatingActive, StateCoolingActive, StatePreHeat, StatePreCool:
		return true
	default:
		return false
	}
}

// Mode is the operating mode requested from the air conditioner.
type Mode string

const (
	ModeHeat Mode = "heat"
	ModeCool Mode = "cool"
)

// ActionType distinguishes a mode-and-power command from a passive
// setpoint refresh.
type ActionType string

const (
	// ActionSetMode powers the unit on in a concrete mode at a setpoint.
	ActionSetMode ActionType = "setMode"
	// ActionCoast updates only the setpoint, leaving power and mode alone.
	ActionCoast ActionType = "coast"
)

// Action is a command the executor should dispatch to the unit.
type Action struct {
	Type     ActionType
	Mode     Mode
	Setpoint float64
}

// Decision is the outcome of one state machine evaluation.
type Decision struct {
	State  State
	Action *Action
	Reason string
}

// Transition records one state change for diagnostics.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Tunables carries the control loop gains and timing constants. The
// defaults encode the behaviour tuned for a high thermal mass slab
// house; they are exposed through configuration for experimentation.
type Tunables struct {
	Deadband       float64
	Hysteresis     float64
	MinOn          time.Duration
	MinOff         time.Duration
	MinModeSwitch  time.Duration
	ActionInterval time.Duration

	Kp               float64
	OutdoorResetGain float64
	ForecastGain     float64
	// WeightingTau is the e-folding time in hours of the forecast
	// weighting curve.
	WeightingTau float64
}

// DefaultTunables returns the tuned defaults.
func DefaultTunables() Tunables {
	return Tunables{
		Deadband:         4.0,
		Hysteresis:       2.0,
		MinOn:            5 * time.Minute,
		MinOff:           3 * time.Minute,
		MinModeSwitch:    10 * time.Minute,
		ActionInterval:   time.Minute,
		Kp:               0.3,
		OutdoorResetGain: 0.4,
		ForecastGain:     0.3,
		WeightingTau:     6,
	}
}

// ControlContext is the snapshot of the world a single control cycle
// operates on. Nil pointers mark measurements that are unavailable;
// each layer degrades individually rather than failing the cycle.
type ControlContext struct {
	UserTarget    float64
	RoomTemp      *float64
	OutdoorTemp   *float64
	ForecastTemps []float64
	ForecastSolar []float64
	Season        Season
	ACPower       bool
}

// Components breaks a predicted setpoint into its constituent layers.
type Components struct {
	Base               float64 `json:"base"`
	OutdoorReset       float64 `json:"outdoorReset"`
	ForecastAdjustment float64 `json:"forecastAdjustment"`
	SolarOffset        float64 `json:"solarOffset"`
	ErrorCorrection    float64 `json:"errorCorrection"`
	ColdWeatherBoost   float64 `json:"coldWeatherBoost"`
}

// PredictionResult is the calculator output for one cycle.
type PredictionResult struct {
	Setpoint   float64    `json:"setpoint"`
	Components Components `json:"components"`
	Reason     string     `json:"reason"`
}

// ColdSnap describes a predicted sharp temperature drop.
type ColdSnap struct {
	HoursUntil int
	TempDrop   float64
	MinTemp    float64
}

// Heatwave describes a predicted extreme-heat peak.
type Heatwave struct {
	HoursUntil int
	PeakTemp   float64
}

const (
	designOutdoorWinter = 10.0
	designOutdoorSummer = 25.0

	forecastHorizon = 24

	solarWindowHours = 6
	solarThreshold   = 200.0
	solarGain        = 0.02

	boostHoursAhead = 24

	comfortBand        = 2.0
	coldComfortCeiling = 4.0
	minTarget          = 16.0
	maxTarget          = 30.0
	comfortSpan        = 3.0

	reasonThreshold = 0.3
	reengageBand    = 0.5
	driftThreshold  = 0.5

	detectorMinSamples = 24
	windowLow          = 12
	windowHigh         = 36
	coldSnapMinDrop    = 5.0
	heatwaveThreshold  = 30.0

	transitionHistorySize = 50
)

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// roundHalf rounds to the nearest half degree, the resolution the unit
// accepts.
func roundHalf(v float64) float64 {
	return math.Round(v*2) / 2
}
