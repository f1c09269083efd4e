package aircon

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Poller fetches device snapshots on a fixed interval and publishes them on a
// channel. The control loop ticks once per received snapshot.
type Poller struct {
	client   Client
	interval time.Duration
	logger   *zap.Logger
	out      chan DeviceSnapshot
}

func NewPoller(client Client, interval time.Duration, logger *zap.Logger) *Poller {
	if interval < time.Second {
		interval = time.Second
	}
	return &Poller{
		client:   client,
		interval: interval,
		logger:   logger,
		out:      make(chan DeviceSnapshot, 1),
	}
}

// Snapshots returns the channel the poller publishes on.
func (p *Poller) Snapshots() <-chan DeviceSnapshot {
	return p.out
}

// Run polls until the context is cancelled. The first poll happens
// immediately so the controller does not wait a full interval at startup.
func (p *Poller) Run(ctx context.Context) {
	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	snap, err := p.client.State(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn("device poll failed", zap.Error(err))
		return
	}

	select {
	case p.out <- snap:
	default:
		p.logger.Debug("dropping snapshot, consumer busy")
	}
}
