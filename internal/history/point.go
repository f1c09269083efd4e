// Package history persists control cycle samples for trend analysis
// and optionally forwards them to a Prometheus remote-write endpoint.
package history

import (
	"context"
	"time"
)

// Point is one control cycle's observations. Pointer fields are null
// when the corresponding measurement was unavailable that cycle.
type Point struct {
	Time            time.Time `json:"time"`
	DeviceID        string    `json:"deviceId"`
	State           string    `json:"state"`
	Season          string    `json:"season"`
	RoomTemp        *float64  `json:"roomTemp"`
	RecuperatorTemp *float64  `json:"recuperatorTemp"`
	OutdoorTemp     *float64  `json:"outdoorTemp"`
	ACSetpoint      *float64  `json:"acSetpoint"`
	SolarRadiation  *float64  `json:"solarRadiation"`
	UserTarget      float64   `json:"userTarget"`
	Power           bool      `json:"power"`
}

// Recorder accepts control cycle points.
type Recorder interface {
	WritePoint(ctx context.Context, p Point) error
}

// MultiRecorder fans a point out to several recorders. Every recorder
// sees the point; the first error is returned.
type MultiRecorder []Recorder

func (m MultiRecorder) WritePoint(ctx context.Context, p Point) error {
	var first error
	for _, r := range m {
		if err := r.WritePoint(ctx, p); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NopRecorder discards points, standing in when no sink is configured.
type NopRecorder struct{}

func (NopRecorder) WritePoint(context.Context, Point) error { return nil }
