package aircon

import (
	"context"
	"time"
)

// OperationMode is the AC's wire-level mode enumeration.
type OperationMode int

const (
	ModeHeat OperationMode = 1
	ModeDry  OperationMode = 2
	ModeCool OperationMode = 3
	ModeFan  OperationMode = 7
	ModeAuto OperationMode = 8

	// i-SEE sensor variants of heat/dry/cool reported by some units.
	ModeISeeHeat OperationMode = 9
	ModeISeeDry  OperationMode = 10
	ModeISeeCool OperationMode = 11
)

func (m OperationMode) String() string {
	switch m {
	case ModeHeat:
		return "heat"
	case ModeDry:
		return "dry"
	case ModeCool:
		return "cool"
	case ModeFan:
		return "fan"
	case ModeAuto:
		return "auto"
	case ModeISeeHeat:
		return "heat-isee"
	case ModeISeeDry:
		return "dry-isee"
	case ModeISeeCool:
		return "cool-isee"
	default:
		return "unknown"
	}
}

// IsHeating reports whether the mode moves heat into the room.
func (m OperationMode) IsHeating() bool {
	return m == ModeHeat || m == ModeISeeHeat
}

// IsCooling reports whether the mode moves heat out of the room.
func (m OperationMode) IsCooling() bool {
	return m == ModeCool || m == ModeISeeCool
}

// EffectiveFlags selects which fields of a device update the cloud applies.
type EffectiveFlags int64

const (
	FlagPower          EffectiveFlags = 1 << 0
	FlagOperationMode  EffectiveFlags = 1 << 1
	FlagSetTemperature EffectiveFlags = 1 << 2
	FlagProhibit       EffectiveFlags = 1 << 3

	// FlagPowerModeTemp applies power, mode and setpoint atomically in one
	// command; used when (re)starting a heating or cooling run.
	FlagPowerModeTemp = FlagPower | FlagOperationMode | FlagSetTemperature
)

// DeviceSnapshot is the AC state as last reported by the cloud. Upstream
// records are loosely typed and any observable may be absent, so every field
// is a pointer.
type DeviceSnapshot struct {
	Power          *bool
	OperationMode  *OperationMode
	SensorTemp     *float64 // the AC's built-in sensor; reads post-recuperator air on ducted installs
	SetTemperature *float64
	Prohibit       *bool
	FetchedAt      time.Time
}

// DeviceUpdate is a command payload. EffectiveFlags passed alongside select
// which of these fields the device actually applies; the rest (fan, vanes,
// swing) pass through untouched.
type DeviceUpdate struct {
	Power          bool
	OperationMode  OperationMode
	SetTemperature float64
}

// Client is the AC cloud contract the control core depends on.
type Client interface {
	// State fetches a fresh device snapshot.
	State(ctx context.Context) (DeviceSnapshot, error)
	// Send dispatches an atomic command applying the flagged fields.
	Send(ctx context.Context, update DeviceUpdate, flags EffectiveFlags) error
}
