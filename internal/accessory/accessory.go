// Package accessory exposes the control loop over HomeKit as a heater
// cooler accessory. Reads mirror the orchestrator status after every
// control cycle; remote writes land on the orchestrator's setters.
package accessory

import (
	"context"
	"fmt"
	"time"

	"github.com/brutella/hap"
	hapacc "github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	"go.uber.org/zap"

	"passivac/internal/control"
)

// powerTimeout bounds a direct power command triggered from the Home
// app, including the cloud client's retry budget.
const powerTimeout = 45 * time.Second

// Controller is the slice of the orchestrator the accessory drives.
type Controller interface {
	SetUserTarget(t float64)
	SetSeasonSelect(s control.SeasonSelect)
	SetPower(ctx context.Context, on bool) error
}

// Config describes the published accessory.
type Config struct {
	Name        string
	Serial      string
	Dir         string
	Pin         string
	MinSetpoint float64
	MaxSetpoint float64
}

// HeaterCooler is the HomeKit face of the controller. It implements
// control.StatusListener.
//
// The thresholds always show the user comfort target, never the
// compensated setpoint actually sent to the unit; the offset dance
// stays invisible to the Home app.
type HeaterCooler struct {
	A *hapacc.A

	svc    *service.HeaterCooler
	heatTh *characteristic.HeatingThresholdTemperature
	coolTh *characteristic.CoolingThresholdTemperature

	ctrl Controller
	dir  string
	pin  string
	log  *zap.Logger
}

func New(cfg Config, ctrl Controller, log *zap.Logger) *HeaterCooler {
	h := &HeaterCooler{
		ctrl: ctrl,
		dir:  cfg.Dir,
		pin:  cfg.Pin,
		log:  log,
	}

	h.A = hapacc.New(hapacc.Info{
		Name:         cfg.Name,
		SerialNumber: cfg.Serial,
		Manufacturer: "passivac",
		Model:        "predictive climate controller",
		Firmware:     "1.0.0",
	}, hapacc.TypeAirConditioner)

	h.svc = service.NewHeaterCooler()
	h.A.AddS(h.svc.S)

	// setpoint resolution of the unit is half a degree
	h.heatTh = characteristic.NewHeatingThresholdTemperature()
	h.heatTh.SetMinValue(cfg.MinSetpoint)
	h.heatTh.SetMaxValue(cfg.MaxSetpoint)
	h.heatTh.SetStepValue(0.5)
	h.svc.AddC(h.heatTh.C)

	h.coolTh = characteristic.NewCoolingThresholdTemperature()
	h.coolTh.SetMinValue(cfg.MinSetpoint)
	h.coolTh.SetMaxValue(cfg.MaxSetpoint)
	h.coolTh.SetStepValue(0.5)
	h.svc.AddC(h.coolTh.C)

	h.svc.Active.OnValueRemoteUpdate(h.remoteActive)
	h.svc.TargetHeaterCoolerState.OnValueRemoteUpdate(h.remoteSeason)
	h.heatTh.OnValueRemoteUpdate(h.remoteTarget)
	h.coolTh.OnValueRemoteUpdate(h.remoteTarget)

	return h
}

// ControlUpdated mirrors one control cycle outcome into the published
// characteristics. A nil room temperature keeps showing the last valid
// reading; only the state flips to inactive on a fault.
func (h *HeaterCooler) ControlUpdated(s control.Status) {
	if s.RoomTemp != nil {
		h.svc.CurrentTemperature.SetValue(*s.RoomTemp)
	}
	h.heatTh.SetValue(s.UserTarget)
	h.coolTh.SetValue(s.UserTarget)

	active := characteristic.ActiveInactive
	if s.Power {
		active = characteristic.ActiveActive
	}
	h.svc.Active.SetValue(active)
	h.svc.CurrentHeaterCoolerState.SetValue(currentStateFor(s.State))
	h.svc.TargetHeaterCoolerState.SetValue(targetStateFor(s.SeasonSelect))
}

// Serve pairs and answers HomeKit requests until ctx is cancelled.
// Pairing state persists in the configured directory across restarts.
func (h *HeaterCooler) Serve(ctx context.Context) error {
	server, err := hap.NewServer(hap.NewFsStore(h.dir), h.A)
	if err != nil {
		return fmt.Errorf("create homekit server: %w", err)
	}
	if h.pin != "" {
		server.Pin = h.pin
	}
	h.log.Info("homekit accessory published", zap.String("name", h.A.Info.Name.Value()))
	return server.ListenAndServe(ctx)
}

// remoteTarget handles threshold writes from the Home app. Both
// thresholds drive the single comfort target, so they are kept in
// lockstep; the orchestrator re-mirrors the clamped value next cycle.
func (h *HeaterCooler) remoteTarget(v float64) {
	h.log.Info("homekit target temperature", zap.Float64("target", v))
	h.ctrl.SetUserTarget(v)
	h.heatTh.SetValue(v)
	h.coolTh.SetValue(v)
}

func (h *HeaterCooler) remoteSeason(v int) {
	sel := control.SelectAuto
	switch v {
	case characteristic.TargetHeaterCoolerStateHeat:
		sel = control.SelectHeat
	case characteristic.TargetHeaterCoolerStateCool:
		sel = control.SelectCool
	}
	h.log.Info("homekit season selector", zap.String("select", sel.String()))
	h.ctrl.SetSeasonSelect(sel)
}

// remoteActive toggles the unit directly, bypassing the predictive
// path. The next control cycle sees the new power state and carries on
// from there.
func (h *HeaterCooler) remoteActive(v int) {
	on := v == characteristic.ActiveActive
	h.log.Info("homekit power toggle", zap.Bool("on", on))

	ctx, cancel := context.WithTimeout(context.Background(), powerTimeout)
	defer cancel()
	if err := h.ctrl.SetPower(ctx, on); err != nil {
		h.log.Warn("homekit power toggle failed", zap.Error(err))
	}
}

func currentStateFor(s control.State) int {
	switch s {
	case control.StateHeatingActive, control.StatePreHeat:
		return characteristic.CurrentHeaterCoolerStateHeating
	case control.StateCoolingActive, control.StatePreCool:
		return characteristic.CurrentHeaterCoolerStateCooling
	case control.StateSensorFault:
		return characteristic.CurrentHeaterCoolerStateInactive
	default:
		return characteristic.CurrentHeaterCoolerStateIdle
	}
}

func targetStateFor(sel control.SeasonSelect) int {
	switch sel {
	case control.SelectHeat:
		return characteristic.TargetHeaterCoolerStateHeat
	case control.SelectCool:
		return characteristic.TargetHeaterCoolerStateCool
	default:
		return characteristic.TargetHeaterCoolerStateAuto
	}
}
