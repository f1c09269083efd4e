package history

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/gogo/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
	"go.uber.org/zap"

	"passivac/internal/httputil"
)

const remoteBatchSize = 500

// RemoteWriter drains the buffer on an interval and pushes the points
// to a Prometheus remote-write endpoint. Failed batches go back into
// the buffer for the next cycle.
type RemoteWriter struct {
	url      string
	username string
	password string
	interval time.Duration
	buffer   *Buffer
	client   *http.Client
	logger   *zap.Logger
}

func NewRemoteWriter(url, username, password string, interval time.Duration, buffer *Buffer, logger *zap.Logger) *RemoteWriter {
	return &RemoteWriter{
		url:      url,
		username: username,
		password: password,
		interval: interval,
		buffer:   buffer,
		client:   httputil.NewClientWithTimeout(30 * time.Second),
		logger:   logger,
	}
}

// Run pushes until the context is cancelled, then makes a final flush
// attempt so a clean shutdown loses nothing buffered.
func (w *RemoteWriter) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("remote writer started",
		zap.String("url", w.url),
		zap.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := w.Flush(flushCtx); err != nil {
				w.logger.Warn("final flush failed", zap.Error(err))
			}
			cancel()
			return
		case <-ticker.C:
			if err := w.Flush(ctx); err != nil {
				w.logger.Warn("remote push failed, points requeued",
					zap.Error(err),
					zap.Int("buffered", w.buffer.Len()))
			}
		}
	}
}

// Flush drains one batch and pushes it. Points return to the buffer on
// failure.
func (w *RemoteWriter) Flush(ctx context.Context) error {
	points := w.buffer.Drain(remoteBatchSize)
	if len(points) == 0 {
		return nil
	}

	req := buildWriteRequest(points)
	if err := w.push(ctx, req); err != nil {
		w.buffer.Requeue(points)
		return err
	}

	w.logger.Debug("pushed points", zap.Int("count", len(points)))
	return nil
}

// push sends one write request, retrying twice with 1s/2s backoff.
func (w *RemoteWriter) push(ctx context.Context, req *prompb.WriteRequest) error {
	data, err := proto.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal write request: %w", err)
	}
	compressed := snappy.Encode(nil, data)

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		lastErr = w.pushOnce(ctx, compressed)
		if lastErr == nil {
			return nil
		}
		if attempt < 3 {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("push failed after 3 attempts: %w", lastErr)
}

func (w *RemoteWriter) pushOnce(ctx context.Context, compressed []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Content-Encoding", "snappy")
	req.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	if w.username != "" && w.password != "" {
		req.SetBasicAuth(w.username, w.password)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote write returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// buildWriteRequest groups points into one time series per metric and
// label set. Series order is stable so payloads are reproducible.
func buildWriteRequest(points []Point) *prompb.WriteRequest {
	series := make(map[string]*prompb.TimeSeries)

	add := func(p Point, name string, value float64) {
		key := name + "|" + p.DeviceID + "|" + p.State + "|" + p.Season
		ts, ok := series[key]
		if !ok {
			ts = &prompb.TimeSeries{
				Labels: []prompb.Label{
					{Name: "__name__", Value: name},
					{Name: "device_id", Value: p.DeviceID},
					{Name: "hvac_state", Value: p.State},
					{Name: "season_mode", Value: p.Season},
				},
			}
			series[key] = ts
		}
		ts.Samples = append(ts.Samples, prompb.Sample{
			Value:     value,
			Timestamp: p.Time.UnixMilli(),
		})
	}

	for _, p := range points {
		if p.RoomTemp != nil {
			add(p, "passivac_indoor_temp_celsius", *p.RoomTemp)
		}
		if p.RecuperatorTemp != nil {
			add(p, "passivac_recuperator_temp_celsius", *p.RecuperatorTemp)
		}
		if p.OutdoorTemp != nil {
			add(p, "passivac_outdoor_temp_celsius", *p.OutdoorTemp)
		}
		if p.ACSetpoint != nil {
			add(p, "passivac_ac_setpoint_celsius", *p.ACSetpoint)
		}
		if p.SolarRadiation != nil {
			add(p, "passivac_solar_radiation_wm2", *p.SolarRadiation)
		}
		add(p, "passivac_user_target_celsius", p.UserTarget)
		power := 0.0
		if p.Power {
			power = 1
		}
		add(p, "passivac_power_state", power)
	}

	keys := make([]string, 0, len(series))
	for k := range series {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	req := &prompb.WriteRequest{Timeseries: make([]prompb.TimeSeries, 0, len(keys))}
	for _, k := range keys {
		req.Timeseries = append(req.Timeseries, *series[k])
	}
	return req
}
