package control

import "passivac/internal/weather"

// DetectColdSnap scans an hourly forecast for a sharp drop landing far
// enough out to justify pre-heating but near enough to matter. Returns
// nil when the forecast is too short or no qualifying drop exists.
func DetectColdSnap(temps []float64) *ColdSnap {
	if len(temps) < detectorMinSamples {
		return nil
	}
	min, idx, _ := weather.Min(temps)
	drop := temps[0] - min
	if drop < coldSnapMinDrop {
		return nil
	}
	if idx <= windowLow || idx > windowHigh {
		return nil
	}
	return &ColdSnap{
		HoursUntil: idx,
		TempDrop:   drop,
		MinTemp:    min,
	}
}

// DetectHeatwave scans an hourly forecast for an extreme-heat peak in
// the same look-ahead window the cold snap detector uses.
func DetectHeatwave(temps []float64) *Heatwave {
	if len(temps) < detectorMinSamples {
		return nil
	}
	max, idx, _ := weather.Max(temps)
	if max < heatwaveThreshold {
		return nil
	}
	if idx <= windowLow || idx > windowHigh {
		return nil
	}
	return &Heatwave{
		HoursUntil: idx,
		PeakTemp:   max,
	}
}
