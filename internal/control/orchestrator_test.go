package control

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"passivac/internal/aircon"
	"passivac/internal/history"
	"passivac/internal/sensor"
	"passivac/internal/weather"
)

type fakeSensorClient struct {
	temp float64
	err  error
}

func (f *fakeSensorClient) FetchTemperature(ctx context.Context) (sensor.Reading, error) {
	if f.err != nil {
		return sensor.Reading{}, f.err
	}
	return sensor.Reading{RoomTemp: f.temp, ObservedAt: time.Now()}, nil
}

type fakeWeatherClient struct {
	mu       sync.Mutex
	forecast *weather.Forecast
}

func (f *fakeWeatherClient) Fetch(ctx context.Context, loc weather.Location) (*weather.Forecast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.forecast == nil {
		return nil, errors.New("no forecast")
	}
	return f.forecast, nil
}

func (f *fakeWeatherClient) set(fc *weather.Forecast) {
	f.mu.Lock()
	f.forecast = fc
	f.mu.Unlock()
}

func flatOutdoor(temp float64, hours int) *weather.Forecast {
	now := time.Now()
	samples := make([]weather.HourlySample, hours)
	for i := range samples {
		t := temp
		samples[i] = weather.HourlySample{Time: now.Add(time.Duration(i) * time.Hour), OutdoorTemp: &t}
	}
	return &weather.Forecast{FetchedAt: now, Hours: samples}
}

type captureRecorder struct {
	points []history.Point
}

func (r *captureRecorder) WritePoint(ctx context.Context, p history.Point) error {
	r.points = append(r.points, p)
	return nil
}

type captureListener struct {
	statuses []Status
}

func (l *captureListener) ControlUpdated(s Status) {
	l.statuses = append(l.statuses, s)
}

type orchFixture struct {
	orch    *Orchestrator
	client  *fakeACClient
	sensorC *fakeSensorClient
	weather *fakeWeatherClient
	cache   *weather.Cache
	clk     *fakeClock
}

func newTestOrchestrator(t *testing.T, roomTemp, outdoorTemp float64) *orchFixture {
	t.Helper()

	sensorC := &fakeSensorClient{temp: roomTemp}
	tracker := sensor.NewTracker(sensorC, time.Minute, 16, 31, zap.NewNop())
	tracker.Poll(context.Background())

	weatherC := &fakeWeatherClient{forecast: flatOutdoor(outdoorTemp, 48)}
	cache := weather.NewCache(weatherC, weather.Location{}, time.Hour, zap.NewNop())
	cache.Refresh(context.Background())

	client := &fakeACClient{}
	orch := NewOrchestrator(Deps{
		DeviceID:   "ac-1",
		Client:     client,
		Tracker:    tracker,
		Weather:    cache,
		Tunables:   DefaultTunables(),
		BaseTarget: 23,
		Logger:     zap.NewNop(),
	})

	clk := &fakeClock{t: time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC)}
	orch.machine.now = clk.now
	orch.exec.now = clk.now

	return &orchFixture{orch: orch, client: client, sensorC: sensorC, weather: weatherC, cache: cache, clk: clk}
}

func snapshot(setTemp float64) aircon.DeviceSnapshot {
	on := true
	return aircon.DeviceSnapshot{Power: &on, SetTemperature: &setTemp, FetchedAt: time.Now()}
}

func TestTickInitialisesTargetFromUnit(t *testing.T) {
	f := newTestOrchestrator(t, 23, 10)

	f.orch.Tick(context.Background(), snapshot(24))
	if got := f.orch.UserTarget(); got != 24 {
		t.Errorf("UserTarget = %v, want 24 adopted from the unit", got)
	}
}

func TestTickClampsAdoptedTarget(t *testing.T) {
	f := newTestOrchestrator(t, 23, 10)

	f.orch.Tick(context.Background(), snapshot(29))
	if got := f.orch.UserTarget(); got != 26 {
		t.Errorf("UserTarget = %v, want 26 (clamped to base+3)", got)
	}
}

func TestTickSkipsWithoutTarget(t *testing.T) {
	f := newTestOrchestrator(t, 23, 10)

	on := true
	f.orch.Tick(context.Background(), aircon.DeviceSnapshot{Power: &on, FetchedAt: time.Now()})

	if f.orch.Status() != nil {
		t.Error("Status != nil, want nil when no target could be derived")
	}
	if len(f.client.calls) != 0 {
		t.Errorf("calls = %d, want 0", len(f.client.calls))
	}
}

func TestTickDispatchesHeating(t *testing.T) {
	f := newTestOrchestrator(t, 19, -6)

	f.orch.Tick(context.Background(), snapshot(23))

	if len(f.client.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(f.client.calls))
	}
	call := f.client.calls[0]
	if call.flags != aircon.FlagPowerModeTemp {
		t.Errorf("flags = %v, want power|mode|temp", call.flags)
	}
	if !call.update.Power || call.update.OperationMode != aircon.ModeHeat {
		t.Errorf("update = %+v, want heat mode powered on", call.update)
	}
	// Outdoor reset +2, error correction +1, cold boost +3, ceiling
	// raised to target+4 in severe cold.
	if call.update.SetTemperature != 27 {
		t.Errorf("SetTemperature = %v, want 27", call.update.SetTemperature)
	}

	st := f.orch.Status()
	if st == nil {
		t.Fatal("Status = nil after a cycle")
	}
	if st.State != StateHeatingActive {
		t.Errorf("State = %s, want HEATING_ACTIVE", st.State)
	}
	if st.Season != Winter {
		t.Errorf("Season = %s, want winter", st.Season)
	}
	if got := f.orch.Dispatched(); got == nil || *got != 27 {
		t.Errorf("Dispatched = %v, want 27", got)
	}
}

func TestTickDispatchesCoolingInAutoSummer(t *testing.T) {
	f := newTestOrchestrator(t, 27, 30)

	f.orch.Tick(context.Background(), snapshot(24))

	if len(f.client.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(f.client.calls))
	}
	call := f.client.calls[0]
	if call.update.OperationMode != aircon.ModeCool {
		t.Errorf("OperationMode = %v, want cool", call.update.OperationMode)
	}
	// Outdoor reset -2, error correction -0.9, floored at target-2.
	if call.update.SetTemperature != 22 {
		t.Errorf("SetTemperature = %v, want 22", call.update.SetTemperature)
	}

	st := f.orch.Status()
	if st.State != StateCoolingActive {
		t.Errorf("State = %s, want COOLING_ACTIVE", st.State)
	}
	if st.Season != Summer {
		t.Errorf("Season = %s, want summer resolved from the forecast", st.Season)
	}
}

func TestTickSeasonSelectOverridesForecast(t *testing.T) {
	f := newTestOrchestrator(t, 27, 30)
	f.orch.SetSeasonSelect(SelectHeat)

	f.orch.Tick(context.Background(), snapshot(24))

	st := f.orch.Status()
	if st == nil {
		t.Fatal("Status = nil after a cycle")
	}
	if st.Season != Winter {
		t.Errorf("Season = %s, want winter under a heat override", st.Season)
	}
	// A warm room in winter parks in standby; the cycle still refreshes
	// the coast setpoint once.
	if st.State != StateStandby {
		t.Errorf("State = %s, want STANDBY", st.State)
	}
	if len(f.client.calls) != 1 || f.client.calls[0].flags != aircon.FlagSetTemperature {
		t.Fatalf("calls = %+v, want a single temperature-only refresh", f.client.calls)
	}
}

func TestTickSensorFaultStaysQuiet(t *testing.T) {
	f := newTestOrchestrator(t, 21, 5)
	f.sensorC.err = errors.New("sensor down")
	f.orch.tracker.Poll(context.Background())

	f.orch.Tick(context.Background(), snapshot(23))

	if len(f.client.calls) != 0 {
		t.Errorf("calls = %d, want 0 while blind", len(f.client.calls))
	}
	st := f.orch.Status()
	if st == nil {
		t.Fatal("Status = nil after a cycle")
	}
	if st.State != StateSensorFault {
		t.Errorf("State = %s, want SENSOR_FAULT", st.State)
	}
	if st.RoomTemp != nil {
		t.Errorf("RoomTemp = %v, want nil", st.RoomTemp)
	}
}

func TestTickRedispatchesOnDrift(t *testing.T) {
	f := newTestOrchestrator(t, 23, 10)

	f.orch.Tick(context.Background(), snapshot(23))
	if len(f.client.calls) != 1 {
		t.Fatalf("calls = %d, want 1 initial coast", len(f.client.calls))
	}
	if got := f.client.calls[0].update.SetTemperature; got != 23 {
		t.Errorf("initial coast setpoint = %v, want 23", got)
	}

	// Same target, colder outside: the predicted setpoint climbs and
	// the unit needs a refresh even though the state never changed.
	f.weather.set(flatOutdoor(5, 48))
	f.cache.Refresh(context.Background())
	f.clk.advance(2 * time.Minute)

	f.orch.Tick(context.Background(), snapshot(23))
	if len(f.client.calls) != 2 {
		t.Fatalf("calls = %d, want 2 after drift", len(f.client.calls))
	}
	second := f.client.calls[1]
	if second.flags != aircon.FlagSetTemperature {
		t.Errorf("flags = %v, want temperature only", second.flags)
	}
	if second.update.SetTemperature != 25 {
		t.Errorf("SetTemperature = %v, want 25", second.update.SetTemperature)
	}

	// No drift and inside the rate limit window: nothing goes out.
	f.orch.Tick(context.Background(), snapshot(23))
	if len(f.client.calls) != 2 {
		t.Errorf("calls = %d, want 2 (no drift, rate limited)", len(f.client.calls))
	}
}

func TestSetUserTargetClamps(t *testing.T) {
	f := newTestOrchestrator(t, 23, 10)

	tests := []struct {
		in   float64
		want float64
	}{
		{24, 24},
		{29, 26},
		{10, 20},
	}
	for _, tt := range tests {
		f.orch.SetUserTarget(tt.in)
		if got := f.orch.UserTarget(); got != tt.want {
			t.Errorf("SetUserTarget(%v): UserTarget = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetPowerBypassesPredictivePath(t *testing.T) {
	f := newTestOrchestrator(t, 23, 10)

	if err := f.orch.SetPower(context.Background(), true); err != nil {
		t.Fatalf("SetPower: %v", err)
	}
	if len(f.client.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(f.client.calls))
	}
	call := f.client.calls[0]
	if call.flags != aircon.FlagPower {
		t.Errorf("flags = %v, want power only", call.flags)
	}
	if !call.update.Power {
		t.Error("Power = false, want true")
	}
}

func TestTickRecordsHistoryPoint(t *testing.T) {
	f := newTestOrchestrator(t, 19, -6)
	rec := &captureRecorder{}
	f.orch.recorder = rec

	f.orch.Tick(context.Background(), snapshot(23))

	if len(rec.points) != 1 {
		t.Fatalf("points = %d, want 1", len(rec.points))
	}
	p := rec.points[0]
	if p.DeviceID != "ac-1" {
		t.Errorf("DeviceID = %s, want ac-1", p.DeviceID)
	}
	if p.State != string(StateHeatingActive) {
		t.Errorf("State = %s, want HEATING_ACTIVE", p.State)
	}
	if p.Season != "winter" {
		t.Errorf("Season = %s, want winter", p.Season)
	}
	if p.RoomTemp == nil || *p.RoomTemp != 19 {
		t.Errorf("RoomTemp = %v, want 19", p.RoomTemp)
	}
	if !p.Power {
		t.Error("Power = false, want true from the snapshot")
	}
}

func TestListenerReceivesEveryCycle(t *testing.T) {
	f := newTestOrchestrator(t, 23, 10)
	l := &captureListener{}
	f.orch.SetListener(l)

	f.orch.Tick(context.Background(), snapshot(23))
	f.clk.advance(2 * time.Minute)
	f.orch.Tick(context.Background(), snapshot(23))

	if len(l.statuses) != 2 {
		t.Fatalf("statuses = %d, want 2", len(l.statuses))
	}
	if l.statuses[0].State != StateStandby {
		t.Errorf("State = %s, want STANDBY", l.statuses[0].State)
	}
	if l.statuses[0].UserTarget != 23 {
		t.Errorf("UserTarget = %v, want 23", l.statuses[0].UserTarget)
	}
}

func TestOffsetRedispatch(t *testing.T) {
	f := newTestOrchestrator(t, 23, 10)

	f.orch.Tick(context.Background(), snapshot(23))
	if len(f.client.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(f.client.calls))
	}

	// The AC's own sensor reads 3 degrees warm; compensation now shifts
	// the delivered setpoint, so the offset path refreshes the unit.
	f.clk.advance(2 * time.Minute)
	acSensor := 26.0
	f.orch.tracker.UpdateOffset(&acSensor)
	f.orch.offsetRedispatch(context.Background())

	if len(f.client.calls) != 2 {
		t.Fatalf("calls = %d, want 2 after an offset change", len(f.client.calls))
	}
	second := f.client.calls[1]
	if second.flags != aircon.FlagSetTemperature {
		t.Errorf("flags = %v, want temperature only", second.flags)
	}
	if second.update.SetTemperature != 26 {
		t.Errorf("SetTemperature = %v, want 26 (23 + offset 3)", second.update.SetTemperature)
	}
}
