package weather

import (
	"time"
)

// Location identifies the site the forecast is fetched for. Immutable per device.
type Location struct {
	Latitude  float64
	Longitude float64
}

// HourlySample is one hour of the outdoor forecast. Any observable may be
// null upstream, so every field is a pointer.
type HourlySample struct {
	Time            time.Time
	OutdoorTemp     *float64 // temperature_2m, °C
	SolarRadiation  *float64 // shortwave_radiation, W/m²
	DirectRadiation *float64 // direct_radiation, W/m²
	CloudCover      *float64 // cloud_cover, %
	WindSpeed       *float64 // wind_speed_10m, km/h
}

// Forecast is an immutable hourly outdoor forecast, index 0 = current hour.
// At most the first 48 hours are kept.
type Forecast struct {
	FetchedAt time.Time
	Hours     []HourlySample
}

// MaxHours is the longest horizon the control core looks at.
const MaxHours = 48

// CurrentOutdoorTemp returns the first hour's temperature, or nil.
func (f *Forecast) CurrentOutdoorTemp() *float64 {
	if f == nil || len(f.Hours) == 0 {
		return nil
	}
	return f.Hours[0].OutdoorTemp
}

// CurrentSolar returns the first hour's shortwave radiation, or nil.
func (f *Forecast) CurrentSolar() *float64 {
	if f == nil || len(f.Hours) == 0 {
		return nil
	}
	return f.Hours[0].SolarRadiation
}

// TempsForNextHours returns up to n hourly temperatures starting now,
// skipping null samples.
func (f *Forecast) TempsForNextHours(n int) []float64 {
	if f == nil {
		return nil
	}
	return collect(f.Hours, n, func(h HourlySample) *float64 { return h.OutdoorTemp })
}

// SolarForNextHours returns up to n hourly shortwave-radiation values
// starting now, skipping null samples.
func (f *Forecast) SolarForNextHours(n int) []float64 {
	if f == nil {
		return nil
	}
	return collect(f.Hours, n, func(h HourlySample) *float64 { return h.SolarRadiation })
}

func collect(hours []HourlySample, n int, field func(HourlySample) *float64) []float64 {
	if n > len(hours) {
		n = len(hours)
	}
	out := make([]float64, 0, n)
	for _, h := range hours[:n] {
		if v := field(h); v != nil {
			out = append(out, *v)
		}
	}
	return out
}

// Avg returns the mean of vs, or 0 with ok=false when vs is empty.
func Avg(vs []float64) (float64, bool) {
	if len(vs) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs)), true
}

// Min returns the smallest value in vs and its index, or ok=false when empty.
func Min(vs []float64) (float64, int, bool) {
	if len(vs) == 0 {
		return 0, -1, false
	}
	min, idx := vs[0], 0
	for i, v := range vs {
		if v < min {
			min, idx = v, i
		}
	}
	return min, idx, true
}

// Max returns the largest value in vs and its index, or ok=false when empty.
func Max(vs []float64) (float64, int, bool) {
	if len(vs) == 0 {
		return 0, -1, false
	}
	max, idx := vs[0], 0
	for i, v := range vs {
		if v > max {
			max, idx = v, i
		}
	}
	return max, idx, true
}
