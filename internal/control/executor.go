package control

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"passivac/internal/aircon"
	"passivac/internal/metrics"
)

// Compensator translates a room target into the setpoint the unit must
// be asked for, absorbing the bias of its internal return-air sensor.
type Compensator interface {
	Compensate(target float64) float64
}

// Executor dispatches control actions to the air conditioner. It
// enforces a global rate limit of one command per ActionInterval and
// remembers the last setpoint it managed to deliver.
type Executor struct {
	client aircon.Client
	comp   Compensator
	tun    Tunables
	log    *zap.Logger

	mu             sync.Mutex
	lastCommandAt  *time.Time
	lastDispatched *float64

	now func() time.Time
}

func NewExecutor(client aircon.Client, comp Compensator, tun Tunables, log *zap.Logger) *Executor {
	return &Executor{
		client: client,
		comp:   comp,
		tun:    tun,
		log:    log,
		now:    time.Now,
	}
}

// Execute sends the action to the unit. A nil action is a no-op. The
// rate limit stamp is taken on attempt, not on success, so a failing
// cloud API cannot be hammered once a second.
func (e *Executor) Execute(ctx context.Context, action *Action, reason string) error {
	if action == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if e.lastCommandAt != nil && now.Sub(*e.lastCommandAt) < e.tun.ActionInterval {
		e.log.Debug("command rate limited",
			zap.String("type", string(action.Type)),
			zap.Float64("setpoint", action.Setpoint))
		metrics.CommandsTotal.WithLabelValues(string(action.Type), "rate_limited").Inc()
		return nil
	}
	e.lastCommandAt = &now

	compensated := e.comp.Compensate(action.Setpoint)

	var (
		update aircon.DeviceUpdate
		flags  aircon.EffectiveFlags
	)
	switch action.Type {
	case ActionSetMode:
		update = aircon.DeviceUpdate{
			Power:          true,
			OperationMode:  operationModeFor(action.Mode),
			SetTemperature: compensated,
		}
		flags = aircon.FlagPowerModeTemp
	case ActionCoast:
		update = aircon.DeviceUpdate{SetTemperature: compensated}
		flags = aircon.FlagSetTemperature
	default:
		return nil
	}

	if err := e.client.Send(ctx, update, flags); err != nil {
		e.log.Warn("command dispatch failed",
			zap.String("type", string(action.Type)),
			zap.Float64("setpoint", compensated),
			zap.Error(err))
		metrics.CommandsTotal.WithLabelValues(string(action.Type), "failed").Inc()
		return err
	}

	e.lastDispatched = &compensated
	metrics.CommandsTotal.WithLabelValues(string(action.Type), "sent").Inc()
	metrics.DispatchedSetpoint.Set(compensated)
	e.log.Info("command dispatched",
		zap.String("type", string(action.Type)),
		zap.String("mode", string(action.Mode)),
		zap.Float64("target", action.Setpoint),
		zap.Float64("compensated", compensated),
		zap.String("reason", reason))
	return nil
}

// NeedsRedispatch reports whether the compensated setpoint for target
// has drifted far enough from the last delivered one to warrant a
// refresh. True when nothing has been dispatched yet.
func (e *Executor) NeedsRedispatch(target float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastDispatched == nil {
		return true
	}
	return math.Abs(e.comp.Compensate(target)-*e.lastDispatched) >= driftThreshold
}

// Dispatched returns the last setpoint delivered to the unit, or nil
// when nothing has been sent yet.
func (e *Executor) Dispatched() *float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastDispatched == nil {
		return nil
	}
	v := *e.lastDispatched
	return &v
}

func operationModeFor(m Mode) aircon.OperationMode {
	if m == ModeCool {
		return aircon.ModeCool
	}
	return aircon.ModeHeat
}
