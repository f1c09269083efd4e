package control

import (
	"math"
	"strings"
	"testing"
)

func ptr(v float64) *float64 { return &v }

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// coldMorningForecast descends from -5 to -10 at hour 8, then recovers.
var coldMorningForecast = []float64{
	-5, -6, -6.5, -7, -7.5, -8, -8.5, -9.5, -10, -9.5, -9, -8.5,
	-8, -7.5, -7.5, -7, -7, -6.5, -6.5, -6, -6, -6, -6, -6,
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestCalculate_ColdWinterMorning(t *testing.T) {
	calc := NewCalculator(DefaultTunables())
	res := calc.Calculate(ControlContext{
		UserTarget:    23,
		RoomTemp:      ptr(22.5),
		OutdoorTemp:   ptr(-5),
		ForecastTemps: coldMorningForecast,
		ForecastSolar: repeat(50, 24),
		Season:        Winter,
	})

	if !near(res.Components.OutdoorReset, 2) {
		t.Errorf("OutdoorReset = %v, want 2 (clamped)", res.Components.OutdoorReset)
	}
	if res.Components.ForecastAdjustment < 0.3 || res.Components.ForecastAdjustment > 1 {
		t.Errorf("ForecastAdjustment = %v, want positive pre-heating in (0.3, 1]", res.Components.ForecastAdjustment)
	}
	if !near(res.Components.SolarOffset, 0) {
		t.Errorf("SolarOffset = %v, want 0 for weak sun", res.Components.SolarOffset)
	}
	if !near(res.Components.ErrorCorrection, 0.15) {
		t.Errorf("ErrorCorrection = %v, want 0.15", res.Components.ErrorCorrection)
	}
	if !near(res.Components.ColdWeatherBoost, 2) {
		t.Errorf("ColdWeatherBoost = %v, want 2", res.Components.ColdWeatherBoost)
	}
	if res.Setpoint != 27 {
		t.Errorf("Setpoint = %v, want 27 (cold ceiling)", res.Setpoint)
	}
	if !strings.Contains(res.Reason, "cold weather boost") {
		t.Errorf("Reason = %q, want cold weather boost mentioned", res.Reason)
	}
	if !strings.Contains(res.Reason, "clamped to comfort band") {
		t.Errorf("Reason = %q, want comfort band clamp mentioned", res.Reason)
	}
}

func TestCalculate_SunnyWinterAfternoon(t *testing.T) {
	calc := NewCalculator(DefaultTunables())
	res := calc.Calculate(ControlContext{
		UserTarget:    23,
		RoomTemp:      ptr(23.5),
		OutdoorTemp:   ptr(8),
		ForecastTemps: repeat(8, 24),
		ForecastSolar: repeat(450, 24),
		Season:        Winter,
	})

	if !near(res.Components.OutdoorReset, 0.8) {
		t.Errorf("OutdoorReset = %v, want 0.8", res.Components.OutdoorReset)
	}
	if !near(res.Components.ForecastAdjustment, 0) {
		t.Errorf("ForecastAdjustment = %v, want 0 for flat forecast", res.Components.ForecastAdjustment)
	}
	if !near(res.Components.SolarOffset, -2) {
		t.Errorf("SolarOffset = %v, want -2 (clamped)", res.Components.SolarOffset)
	}
	if !near(res.Components.ErrorCorrection, -0.15) {
		t.Errorf("ErrorCorrection = %v, want -0.15", res.Components.ErrorCorrection)
	}
	if !near(res.Components.ColdWeatherBoost, 0) {
		t.Errorf("ColdWeatherBoost = %v, want 0 in mild weather", res.Components.ColdWeatherBoost)
	}
	// 23 + 0.8 - 2 - 0.15 = 21.65, inside the comfort band, rounds to 21.5.
	if res.Setpoint != 21.5 {
		t.Errorf("Setpoint = %v, want 21.5", res.Setpoint)
	}
}

func TestCalculate_SummerHeatwave(t *testing.T) {
	forecast := append([]float64{32, 33, 34, 35}, repeat(35, 20)...)
	calc := NewCalculator(DefaultTunables())
	res := calc.Calculate(ControlContext{
		UserTarget:    24,
		RoomTemp:      ptr(25),
		OutdoorTemp:   ptr(32),
		ForecastTemps: forecast,
		ForecastSolar: repeat(500, 24),
		Season:        Summer,
	})

	if !near(res.Components.OutdoorReset, -2) {
		t.Errorf("OutdoorReset = %v, want -2 (clamped)", res.Components.OutdoorReset)
	}
	if res.Components.ForecastAdjustment >= -0.3 || res.Components.ForecastAdjustment < -1 {
		t.Errorf("ForecastAdjustment = %v, want pre-cooling in [-1, -0.3)", res.Components.ForecastAdjustment)
	}
	if !near(res.Components.SolarOffset, 0) {
		t.Errorf("SolarOffset = %v, want 0 in summer", res.Components.SolarOffset)
	}
	if !near(res.Components.ErrorCorrection, -0.3) {
		t.Errorf("ErrorCorrection = %v, want -0.3", res.Components.ErrorCorrection)
	}
	if !near(res.Components.ColdWeatherBoost, 0) {
		t.Errorf("ColdWeatherBoost = %v, want 0 in summer", res.Components.ColdWeatherBoost)
	}
	if res.Setpoint != 22 {
		t.Errorf("Setpoint = %v, want 22 (comfort band floor)", res.Setpoint)
	}
}

func TestCalculate_DesignOutdoorNoReset(t *testing.T) {
	tests := []struct {
		name    string
		season  Season
		outdoor float64
	}{
		{"winter design temp", Winter, 10},
		{"summer design temp", Summer, 25},
	}

	calc := NewCalculator(DefaultTunables())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := calc.Calculate(ControlContext{
				UserTarget:  22,
				RoomTemp:    ptr(22.0),
				OutdoorTemp: ptr(tt.outdoor),
				Season:      tt.season,
			})
			if !near(res.Components.OutdoorReset, 0) {
				t.Errorf("OutdoorReset = %v, want 0 at design temperature", res.Components.OutdoorReset)
			}
		})
	}
}

func TestCalculate_SolarAtThresholdIsNeutral(t *testing.T) {
	calc := NewCalculator(DefaultTunables())
	res := calc.Calculate(ControlContext{
		UserTarget:    22,
		RoomTemp:      ptr(22.0),
		OutdoorTemp:   ptr(8.0),
		ForecastSolar: repeat(200, 6),
		Season:        Winter,
	})
	if !near(res.Components.SolarOffset, 0) {
		t.Errorf("SolarOffset = %v, want 0 at exactly 200 W/m2", res.Components.SolarOffset)
	}
}

func TestCalculate_ShortForecastDisablesLookahead(t *testing.T) {
	calc := NewCalculator(DefaultTunables())
	res := calc.Calculate(ControlContext{
		UserTarget:    22,
		RoomTemp:      ptr(22.0),
		OutdoorTemp:   ptr(0.0),
		ForecastTemps: repeat(-10, 23),
		Season:        Winter,
	})
	if !near(res.Components.ForecastAdjustment, 0) {
		t.Errorf("ForecastAdjustment = %v, want 0 with under 24 samples", res.Components.ForecastAdjustment)
	}
	if !strings.Contains(res.Reason, "forecast too short") {
		t.Errorf("Reason = %q, want short forecast noted", res.Reason)
	}
}

func TestCalculate_MissingInputsSkipLayers(t *testing.T) {
	calc := NewCalculator(DefaultTunables())

	res := calc.Calculate(ControlContext{
		UserTarget:    22,
		RoomTemp:      ptr(20.0),
		ForecastTemps: repeat(-10, 24),
		Season:        Winter,
	})
	if !near(res.Components.OutdoorReset, 0) || !near(res.Components.ForecastAdjustment, 0) || !near(res.Components.ColdWeatherBoost, 0) {
		t.Errorf("outdoor-dependent layers = %+v, want all 0 with nil outdoor", res.Components)
	}
	if !strings.Contains(res.Reason, "no outdoor temperature") {
		t.Errorf("Reason = %q, want missing outdoor temperature noted", res.Reason)
	}

	res = calc.Calculate(ControlContext{
		UserTarget:  22,
		OutdoorTemp: ptr(5.0),
		Season:      Winter,
	})
	if !near(res.Components.ErrorCorrection, 0) {
		t.Errorf("ErrorCorrection = %v, want 0 with nil room temp", res.Components.ErrorCorrection)
	}
	if !strings.Contains(res.Reason, "no room reading") {
		t.Errorf("Reason = %q, want missing room reading noted", res.Reason)
	}
}

func TestCalculate_ColdWeatherBoostTiers(t *testing.T) {
	tests := []struct {
		name     string
		outdoor  float64
		forecast []float64
		want     float64
	}{
		{"deep cold", -6, nil, 3},
		{"minus five is not deep cold", -5, nil, 2},
		{"below freezing", -0.1, nil, 2},
		{"freezing point", 0, nil, 1},
		{"chilly", 4.9, nil, 1},
		{"mild", 5, nil, 0},
		{"mild now, deep cold coming", 8, repeat(-6, 24), 2},
		{"mild now, frost coming", 8, repeat(-0.5, 24), 1},
		{"chilly now, deep cold coming", 3, repeat(-6, 24), 2},
		{"deep cold already outranks forecast", -6, repeat(-10, 24), 3},
	}

	calc := NewCalculator(DefaultTunables())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := calc.Calculate(ControlContext{
				UserTarget:    21,
				RoomTemp:      ptr(21.0),
				OutdoorTemp:   ptr(tt.outdoor),
				ForecastTemps: tt.forecast,
				Season:        Winter,
			})
			if !near(res.Components.ColdWeatherBoost, tt.want) {
				t.Errorf("ColdWeatherBoost = %v, want %v", res.Components.ColdWeatherBoost, tt.want)
			}
		})
	}
}

func TestCalculate_WinterColdCeiling(t *testing.T) {
	tests := []struct {
		name    string
		outdoor float64
		want    float64
	}{
		{"sub-zero widens ceiling to +4", -1, 24},
		{"above zero keeps +2 band", 1, 22},
	}

	calc := NewCalculator(DefaultTunables())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := calc.Calculate(ControlContext{
				UserTarget:    20,
				RoomTemp:      ptr(16.0),
				OutdoorTemp:   ptr(tt.outdoor),
				ForecastTemps: repeat(tt.outdoor, 24),
				Season:        Winter,
			})
			if res.Setpoint != tt.want {
				t.Errorf("Setpoint = %v, want %v", res.Setpoint, tt.want)
			}
		})
	}
}

// Setpoints must land on the half-degree grid inside the absolute
// limits, whatever the inputs.
func TestCalculate_SetpointAlwaysOnGrid(t *testing.T) {
	calc := NewCalculator(DefaultTunables())
	contexts := []ControlContext{
		{UserTarget: 16, RoomTemp: ptr(30.0), OutdoorTemp: ptr(40.0), Season: Summer},
		{UserTarget: 30, RoomTemp: ptr(10.0), OutdoorTemp: ptr(-15.0), ForecastTemps: repeat(-15, 48), Season: Winter},
		{UserTarget: 23.5, RoomTemp: ptr(22.8), OutdoorTemp: ptr(3.3), ForecastTemps: coldMorningForecast, ForecastSolar: repeat(333, 24), Season: Winter},
		{UserTarget: 21, Season: Winter},
	}

	for _, cc := range contexts {
		res := calc.Calculate(cc)
		if res.Setpoint < 16 || res.Setpoint > 30 {
			t.Errorf("Setpoint = %v, outside [16, 30] for target %v", res.Setpoint, cc.UserTarget)
		}
		if !near(res.Setpoint*2, math.Round(res.Setpoint*2)) {
			t.Errorf("Setpoint = %v, not a half degree multiple", res.Setpoint)
		}
	}
}

func TestBuildReason(t *testing.T) {
	tests := []struct {
		name  string
		comps Components
		cb    bool
		ab    bool
		want  string
	}{
		{
			name:  "nothing significant",
			comps: Components{OutdoorReset: 0.2, ErrorCorrection: -0.3},
			want:  "no significant adjustment",
		},
		{
			name:  "single layer",
			comps: Components{OutdoorReset: 1.2},
			want:  "outdoor reset +1.2",
		},
		{
			name:  "layers and clamps",
			comps: Components{SolarOffset: -2, ColdWeatherBoost: 2},
			cb:    true,
			ab:    true,
			want:  "solar offset -2.0, cold weather boost +2.0, clamped to comfort band, clamped to absolute limits",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildReason(tt.comps, tt.cb, tt.ab)
			if got != tt.want {
				t.Errorf("buildReason() = %q, want %q", got, tt.want)
			}
		})
	}
}
