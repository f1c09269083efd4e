package control

import (
	"fmt"
	"math"
	"strings"

	"passivac/internal/weather"
)

// Calculator derives the setpoint the unit should be asked for, layering
// predictive adjustments on top of the user's comfort target. It holds
// no state; every call works purely from the supplied context.
type Calculator struct {
	tun Tunables
}

func NewCalculator(tun Tunables) *Calculator {
	return &Calculator{tun: tun}
}

// Calculate runs all adjustment layers and combines them into a single
// setpoint, clamped to the comfort band around the user target and then
// to the absolute limits the unit accepts.
func (c *Calculator) Calculate(cc ControlContext) PredictionResult {
	comps := Components{
		Base:               cc.UserTarget,
		OutdoorReset:       c.outdoorReset(cc),
		ForecastAdjustment: c.forecastAdjustment(cc),
		SolarOffset:        c.solarOffset(cc),
		ErrorCorrection:    c.errorCorrection(cc),
		ColdWeatherBoost:   c.coldWeatherBoost(cc),
	}

	sum := comps.Base + comps.OutdoorReset + comps.ForecastAdjustment +
		comps.SolarOffset + comps.ErrorCorrection + comps.ColdWeatherBoost

	lo := cc.UserTarget - comfortBand
	hi := cc.UserTarget + comfortBand
	// Severe cold lets the heating setpoint run further above target so
	// the slab can bank extra heat.
	if cc.Season == Winter && cc.OutdoorTemp != nil && *cc.OutdoorTemp < 0 {
		hi = cc.UserTarget + coldComfortCeiling
	}

	comfortClamped := sum < lo || sum > hi
	v := clamp(sum, lo, hi)

	absClamped := v < minTarget || v > maxTarget
	v = clamp(v, minTarget, maxTarget)

	var notes []string
	if cc.OutdoorTemp == nil {
		notes = append(notes, "no outdoor temperature")
	} else if len(cc.ForecastTemps) < forecastHorizon {
		notes = append(notes, "forecast too short")
	}
	if cc.RoomTemp == nil {
		notes = append(notes, "no room reading")
	}

	return PredictionResult{
		Setpoint:   roundHalf(v),
		Components: comps,
		Reason:     buildReason(comps, comfortClamped, absClamped, notes...),
	}
}

// outdoorReset shifts the setpoint against the current outdoor
// temperature: colder outside means heat harder, hotter outside means
// cool harder.
func (c *Calculator) outdoorReset(cc ControlContext) float64 {
	if cc.OutdoorTemp == nil {
		return 0
	}
	design := designOutdoorWinter
	if cc.Season == Summer {
		design = designOutdoorSummer
	}
	adj := c.tun.OutdoorResetGain * (design - *cc.OutdoorTemp)
	return clamp(adj, -2, 2)
}

// forecastAdjustment compares the current outdoor temperature with an
// exponentially weighted view of the next day. A forecast colder than
// now raises the setpoint ahead of the drop; a warmer one lowers it.
func (c *Calculator) forecastAdjustment(cc ControlContext) float64 {
	if cc.OutdoorTemp == nil || len(cc.ForecastTemps) < forecastHorizon {
		return 0
	}
	var sum, wsum float64
	for i := 0; i < forecastHorizon; i++ {
		w := math.Exp(-float64(i) / c.tun.WeightingTau)
		sum += w * cc.ForecastTemps[i]
		wsum += w
	}
	weightedFuture := sum / wsum
	adj := c.tun.ForecastGain * (*cc.OutdoorTemp - weightedFuture)
	return clamp(adj, -1, 1)
}

// solarOffset backs the heating off when strong sun is expected over the
// next few hours. Winter only; summer solar load is handled by the
// cooling layers.
func (c *Calculator) solarOffset(cc ControlContext) float64 {
	if cc.Season != Winter || len(cc.ForecastSolar) == 0 {
		return 0
	}
	n := solarWindowHours
	if len(cc.ForecastSolar) < n {
		n = len(cc.ForecastSolar)
	}
	var sum float64
	for _, v := range cc.ForecastSolar[:n] {
		sum += v
	}
	avg := sum / float64(n)
	if avg <= solarThreshold {
		return 0
	}
	return clamp(-solarGain*(avg-solarThreshold), -2, 0)
}

// errorCorrection nudges the setpoint proportionally to the room's
// deviation from target.
func (c *Calculator) errorCorrection(cc ControlContext) float64 {
	if cc.RoomTemp == nil {
		return 0
	}
	adj := c.tun.Kp * (cc.UserTarget - *cc.RoomTemp)
	return clamp(adj, -1, 1)
}

// coldWeatherBoost adds a flat winter increase in severe cold, either
// already here or due within the next day.
func (c *Calculator) coldWeatherBoost(cc ControlContext) float64 {
	if cc.Season != Winter || cc.OutdoorTemp == nil {
		return 0
	}
	var boost float64
	switch out := *cc.OutdoorTemp; {
	case out < -5:
		boost = 3
	case out < 0:
		boost = 2
	case out < 5:
		boost = 1
	}

	window := cc.ForecastTemps
	if len(window) > boostHoursAhead {
		window = window[:boostHoursAhead]
	}
	if coming, _, ok := weather.Min(window); ok {
		if coming < -5 && boost < 2 {
			boost = 2
		}
		if coming < 0 && boost < 1 {
			boost = 1
		}
	}
	return boost
}

// buildReason renders a human-readable explanation listing every layer
// that moved the setpoint appreciably, plus any inputs that were
// missing when the layers ran.
func buildReason(comps Components, comfortClamped, absClamped bool, notes ...string) string {
	var parts []string
	add := func(name string, v float64) {
		if math.Abs(v) > reasonThreshold {
			parts = append(parts, fmt.Sprintf("%s %+.1f", name, v))
		}
	}
	add("outdoor reset", comps.OutdoorReset)
	add("forecast adjustment", comps.ForecastAdjustment)
	add("solar offset", comps.SolarOffset)
	add("error correction", comps.ErrorCorrection)
	add("cold weather boost", comps.ColdWeatherBoost)

	if comfortClamped {
		parts = append(parts, "clamped to comfort band")
	}
	if absClamped {
		parts = append(parts, "clamped to absolute limits")
	}
	parts = append(parts, notes...)
	if len(parts) == 0 {
		return "no significant adjustment"
	}
	return strings.Join(parts, ", ")
}
