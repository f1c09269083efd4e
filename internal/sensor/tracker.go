package sensor

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"passivac/internal/metrics"
)

// offsetHysteresis suppresses offset churn from sensor jitter. Offsets
// smaller than this are also ignored at compensation time.
const offsetHysteresis = 0.3

// Tracker owns the latest room reading and the AC-vs-room sensor offset.
// The AC's built-in sensor often reads post-recuperator air, so the offset
// runs −3 to −6 °C in winter and +1 to +3 °C in summer.
type Tracker struct {
	client       Client
	pollInterval time.Duration
	minSetpoint  float64
	maxSetpoint  float64
	logger       *zap.Logger
	now          func() time.Time

	mu        sync.RWMutex
	reading   *Reading
	online    bool
	offset    float64
	hasOffset bool

	offsetCh chan struct{}
}

func NewTracker(client Client, pollInterval time.Duration, minSetpoint, maxSetpoint float64, logger *zap.Logger) *Tracker {
	if pollInterval < time.Second {
		pollInterval = time.Second
	}
	return &Tracker{
		client:       client,
		pollInterval: pollInterval,
		minSetpoint:  minSetpoint,
		maxSetpoint:  maxSetpoint,
		logger:       logger,
		now:          time.Now,
		offsetCh:     make(chan struct{}, 1),
	}
}

// Run polls the external sensor until ctx is cancelled. The first poll is
// immediate so the control loop does not start blind.
func (t *Tracker) Run(ctx context.Context) {
	t.logger.Info("starting sensor poll loop", zap.Duration("poll_interval", t.pollInterval))

	t.Poll(ctx)

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("stopping sensor poll loop")
			return
		case <-ticker.C:
			t.Poll(ctx)
		}
	}
}

// Poll fetches one reading immediately. Run calls it on a timer; tests
// and composition code may call it directly to prime state.
func (t *Tracker) Poll(ctx context.Context) {
	reading, err := t.client.FetchTemperature(ctx)
	if err != nil {
		metrics.SensorPolls.WithLabelValues("error").Inc()

		t.mu.Lock()
		wasOnline := t.online
		t.online = false
		t.mu.Unlock()

		if wasOnline {
			t.logger.Warn("sensor poll failed, marking offline", zap.Error(err))
		} else {
			t.logger.Debug("sensor still offline", zap.Error(err))
		}
		return
	}

	metrics.SensorPolls.WithLabelValues("ok").Inc()

	t.mu.Lock()
	wasOffline := !t.online
	t.reading = &reading
	t.online = true
	t.mu.Unlock()

	if wasOffline {
		t.logger.Info("sensor online", zap.Float64("room_temp", reading.RoomTemp))
	} else {
		t.logger.Debug("sensor reading", zap.Float64("room_temp", reading.RoomTemp))
	}
}

// Latest returns the most recent reading even when the sensor is offline,
// for display surfaces that should keep showing the last valid value.
func (t *Tracker) Latest() (Reading, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.reading == nil {
		return Reading{}, false
	}
	return *t.reading, true
}

// Online reports whether the last poll succeeded.
func (t *Tracker) Online() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online
}

// RoomTemp returns the authoritative room temperature for the control path,
// or nil when the sensor is offline. Control treats nil as a sensor fault.
func (t *Tracker) RoomTemp() *float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.online || t.reading == nil {
		return nil
	}
	v := t.reading.RoomTemp
	return &v
}

// Offset returns the current AC-vs-room sensor offset.
func (t *Tracker) Offset() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.offset
}

// OffsetChanges signals that the offset moved enough that the last command
// may be worth re-dispatching. The channel is buffered and never blocks.
func (t *Tracker) OffsetChanges() <-chan struct{} {
	return t.offsetCh
}

// UpdateOffset recomputes the sensor offset from a fresh AC snapshot
// temperature. Updates are published only when they clear the hysteresis, so
// jitter of a few tenths of a degree does not ripple into commands.
func (t *Tracker) UpdateOffset(acSensorTemp *float64) {
	if acSensorTemp == nil {
		return
	}

	t.mu.Lock()
	if !t.online || t.reading == nil || t.now().Sub(t.reading.ObservedAt) > 3*t.pollInterval {
		t.mu.Unlock()
		return
	}

	newOffset := *acSensorTemp - t.reading.RoomTemp
	if t.hasOffset && math.Abs(newOffset-t.offset) <= offsetHysteresis {
		t.mu.Unlock()
		return
	}

	old := t.offset
	t.offset = newOffset
	t.hasOffset = true
	t.mu.Unlock()

	t.logger.Info("sensor offset updated",
		zap.Float64("offset", newOffset),
		zap.Float64("previous", old),
	)

	select {
	case t.offsetCh <- struct{}{}:
	default:
	}
}

// Compensate converts a predicted room target into the setpoint the AC needs
// to see to actually reach that room temperature.
func (t *Tracker) Compensate(target float64) float64 {
	t.mu.RLock()
	offline := !t.online
	offset := t.offset
	t.mu.RUnlock()

	if offline || math.Abs(offset) < offsetHysteresis {
		return target
	}
	return clamp(roundHalf(target+offset), t.minSetpoint, t.maxSetpoint)
}

func roundHalf(v float64) float64 {
	return math.Round(v*2) / 2
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
