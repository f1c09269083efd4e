package control

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"passivac/internal/aircon"
	"passivac/internal/history"
	"passivac/internal/metrics"
	"passivac/internal/sensor"
	"passivac/internal/weather"
)

// StatusListener receives the outcome of every control cycle. The
// HomeKit accessory registers itself here at composition time.
type StatusListener interface {
	ControlUpdated(Status)
}

// Status is the externally visible result of one control cycle.
type Status struct {
	Time         time.Time        `json:"time"`
	State        State            `json:"state"`
	Reason       string           `json:"reason"`
	Season       Season           `json:"-"`
	SeasonSelect SeasonSelect     `json:"-"`
	UserTarget   float64          `json:"userTarget"`
	RoomTemp     *float64         `json:"roomTemp"`
	OutdoorTemp  *float64         `json:"outdoorTemp"`
	Prediction   PredictionResult `json:"prediction"`
	Power        bool             `json:"power"`
}

// Deps wires an Orchestrator. Machine, calculator and executor are
// built internally from the tunables.
type Deps struct {
	DeviceID string
	Client   aircon.Client
	Tracker  *sensor.Tracker
	Weather  *weather.Cache
	Recorder history.Recorder
	Tunables Tunables
	// BaseTarget is the configured comfort band midpoint. User
	// adjustments are clamped to BaseTarget ± the adjustment span.
	BaseTarget float64
	Logger     *zap.Logger
}

// Orchestrator drives one device. It consumes AC snapshots as they
// arrive, runs the calculator and state machine, and dispatches the
// resulting commands. It is the single writer for the machine and the
// executor; accessory calls only touch the selector fields.
type Orchestrator struct {
	deviceID string
	client   aircon.Client
	tracker  *sensor.Tracker
	weather  *weather.Cache
	recorder history.Recorder
	machine  *Machine
	calc     *Calculator
	exec     *Executor
	log      *zap.Logger

	mu           sync.RWMutex
	baseTarget   float64
	userTarget   float64
	haveTarget   bool
	seasonSelect SeasonSelect
	listener     StatusListener
	lastStatus   *Status
}

func NewOrchestrator(d Deps) *Orchestrator {
	return &Orchestrator{
		deviceID:   d.DeviceID,
		client:     d.Client,
		tracker:    d.Tracker,
		weather:    d.Weather,
		recorder:   d.Recorder,
		machine:    NewMachine(d.Tunables, d.Logger),
		calc:       NewCalculator(d.Tunables),
		exec:       NewExecutor(d.Client, d.Tracker, d.Tunables, d.Logger),
		baseTarget: d.BaseTarget,
		userTarget: d.BaseTarget,
		log:        d.Logger,
	}
}

// Run consumes snapshots until the context is cancelled. Offset changes
// from the sensor tracker trigger a setpoint refresh between snapshots.
func (o *Orchestrator) Run(ctx context.Context, snapshots <-chan aircon.DeviceSnapshot) error {
	offsets := o.tracker.OffsetChanges()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-snapshots:
			if !ok {
				return nil
			}
			o.Tick(ctx, snap)
		case <-offsets:
			o.offsetRedispatch(ctx)
		}
	}
}

// Tick runs one control cycle against a fresh device snapshot.
func (o *Orchestrator) Tick(ctx context.Context, snap aircon.DeviceSnapshot) {
	o.tracker.UpdateOffset(snap.SensorTemp)

	target, ok := o.resolveTarget(snap)
	if !ok {
		o.log.Debug("no comfort target yet, skipping cycle")
		return
	}
	season := o.resolveSeason(target)

	cc := ControlContext{
		UserTarget:    target,
		RoomTemp:      o.tracker.RoomTemp(),
		OutdoorTemp:   o.weather.CurrentOutdoorTemp(),
		ForecastTemps: o.weather.TempsForNextHours(weather.MaxHours),
		ForecastSolar: o.weather.SolarForNextHours(weather.MaxHours),
		Season:        season,
		ACPower:       snap.Power != nil && *snap.Power,
	}

	pred := o.calc.Calculate(cc)
	dec := o.machine.Evaluate(cc, pred)

	o.log.Debug("control cycle",
		zap.String("state", string(dec.State)),
		zap.Float64("setpoint", pred.Setpoint),
		zap.String("reason", dec.Reason))

	switch {
	case dec.Action != nil:
		if err := o.exec.Execute(ctx, dec.Action, dec.Reason); err != nil {
			o.log.Warn("action failed, will retry next cycle", zap.Error(err))
		}
	case dec.State != StateSensorFault && o.exec.NeedsRedispatch(pred.Setpoint):
		// Setpoint drifted without a state change, refresh the unit.
		coast := &Action{Type: ActionCoast, Setpoint: pred.Setpoint}
		if err := o.exec.Execute(ctx, coast, "setpoint drift"); err != nil {
			o.log.Warn("drift refresh failed", zap.Error(err))
		}
	}

	status := Status{
		Time:         time.Now(),
		State:        dec.State,
		Reason:       dec.Reason,
		Season:       season,
		SeasonSelect: o.currentSelect(),
		UserTarget:   target,
		RoomTemp:     cc.RoomTemp,
		OutdoorTemp:  cc.OutdoorTemp,
		Prediction:   pred,
		Power:        cc.ACPower,
	}
	o.publish(status)
	o.recordPoint(ctx, status, snap)
	o.observe(status)
}

// resolveTarget returns the active comfort target. On the first cycle
// it adopts whatever the unit was last set to, clamped to the
// adjustment band, so a restart does not yank the setpoint around.
func (o *Orchestrator) resolveTarget(snap aircon.DeviceSnapshot) (float64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.haveTarget {
		if snap.SetTemperature == nil {
			return 0, false
		}
		o.userTarget = clamp(*snap.SetTemperature, o.baseTarget-comfortSpan, o.baseTarget+comfortSpan)
		o.haveTarget = true
		o.log.Info("comfort target initialised from unit setpoint",
			zap.Float64("unit_setpoint", *snap.SetTemperature),
			zap.Float64("target", o.userTarget))
	}
	return o.userTarget, true
}

// resolveSeason turns the user's selector into a concrete season. Auto
// compares the day-ahead average against the comfort target and falls
// back to winter when the forecast is missing.
func (o *Orchestrator) resolveSeason(target float64) Season {
	o.mu.RLock()
	sel := o.seasonSelect
	o.mu.RUnlock()

	switch sel {
	case SelectHeat:
		return Winter
	case SelectCool:
		return Summer
	}
	avg, ok := weather.Avg(o.weather.TempsForNextHours(24))
	if !ok || avg <= target {
		return Winter
	}
	return Summer
}

func (o *Orchestrator) offsetRedispatch(ctx context.Context) {
	o.mu.RLock()
	last := o.lastStatus
	o.mu.RUnlock()

	if last == nil || last.State == StateSensorFault {
		return
	}
	if !o.exec.NeedsRedispatch(last.Prediction.Setpoint) {
		return
	}
	coast := &Action{Type: ActionCoast, Setpoint: last.Prediction.Setpoint}
	if err := o.exec.Execute(ctx, coast, "sensor offset changed"); err != nil {
		o.log.Warn("offset refresh failed", zap.Error(err))
	}
}

func (o *Orchestrator) publish(s Status) {
	o.mu.Lock()
	o.lastStatus = &s
	l := o.listener
	o.mu.Unlock()
	if l != nil {
		l.ControlUpdated(s)
	}
}

func (o *Orchestrator) recordPoint(ctx context.Context, s Status, snap aircon.DeviceSnapshot) {
	if o.recorder == nil {
		return
	}
	p := history.Point{
		Time:            s.Time,
		DeviceID:        o.deviceID,
		State:           string(s.State),
		Season:          s.Season.String(),
		RoomTemp:        s.RoomTemp,
		RecuperatorTemp: snap.SensorTemp,
		OutdoorTemp:     s.OutdoorTemp,
		ACSetpoint:      snap.SetTemperature,
		SolarRadiation:  o.weather.CurrentSolar(),
		UserTarget:      s.UserTarget,
		Power:           s.Power,
	}
	if err := o.recorder.WritePoint(ctx, p); err != nil {
		o.log.Warn("history write failed", zap.Error(err))
	}
}

func (o *Orchestrator) observe(s Status) {
	if s.RoomTemp != nil {
		metrics.RoomTemperature.Set(*s.RoomTemp)
	}
	if s.OutdoorTemp != nil {
		metrics.OutdoorTemperature.Set(*s.OutdoorTemp)
	}
	metrics.PredictedSetpoint.Set(s.Prediction.Setpoint)
	metrics.UserTarget.Set(s.UserTarget)
	metrics.SensorOffset.Set(o.tracker.Offset())
	power := 0.0
	if s.Power {
		power = 1
	}
	metrics.PowerState.Set(power)
	for _, st := range AllStates {
		v := 0.0
		if st == s.State {
			v = 1
		}
		metrics.HVACState.WithLabelValues(string(st)).Set(v)
	}
}

func (o *Orchestrator) currentSelect() SeasonSelect {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.seasonSelect
}

// SetUserTarget stores a new comfort target from the accessory or API,
// clamped to the adjustment span around the configured base target.
func (o *Orchestrator) SetUserTarget(t float64) {
	o.mu.Lock()
	t = clamp(t, o.baseTarget-comfortSpan, o.baseTarget+comfortSpan)
	o.userTarget = t
	o.haveTarget = true
	o.mu.Unlock()
	o.log.Info("comfort target changed", zap.Float64("target", t))
}

// UserTarget returns the current comfort target.
func (o *Orchestrator) UserTarget() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.userTarget
}

// SetSeasonSelect stores the user's mode selection.
func (o *Orchestrator) SetSeasonSelect(s SeasonSelect) {
	o.mu.Lock()
	o.seasonSelect = s
	o.mu.Unlock()
	o.log.Info("season selector changed", zap.String("select", s.String()))
}

// SetPower toggles the unit directly, bypassing the predictive path.
func (o *Orchestrator) SetPower(ctx context.Context, on bool) error {
	o.log.Info("direct power command", zap.Bool("on", on))
	return o.client.Send(ctx, aircon.DeviceUpdate{Power: on}, aircon.FlagPower)
}

// SetListener registers the status listener. Call before Run.
func (o *Orchestrator) SetListener(l StatusListener) {
	o.mu.Lock()
	o.listener = l
	o.mu.Unlock()
}

// Status returns the outcome of the most recent cycle, or nil before
// the first one completes.
func (o *Orchestrator) Status() *Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.lastStatus == nil {
		return nil
	}
	s := *o.lastStatus
	return &s
}

// Machine exposes the state machine for diagnostics endpoints.
func (o *Orchestrator) Machine() *Machine {
	return o.machine
}

// Dispatched returns the last setpoint delivered to the unit, or nil
// when nothing has been sent yet.
func (o *Orchestrator) Dispatched() *float64 {
	return o.exec.Dispatched()
}
