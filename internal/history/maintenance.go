package history

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// maintenanceSchedule runs well after midnight so the previous local
// day is complete.
const maintenanceSchedule = "30 3 * * *"

// Maintenance owns the nightly housekeeping: summarising yesterday's
// samples and pruning rows past the retention window.
type Maintenance struct {
	store     *Store
	deviceID  string
	retention time.Duration
	cron      *cron.Cron
	logger    *zap.Logger
}

func NewMaintenance(store *Store, deviceID string, retention time.Duration, logger *zap.Logger) *Maintenance {
	return &Maintenance{
		store:     store,
		deviceID:  deviceID,
		retention: retention,
		cron:      cron.New(),
		logger:    logger,
	}
}

func (m *Maintenance) Start() error {
	_, err := m.cron.AddFunc(maintenanceSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := m.RunDaily(ctx); err != nil {
			m.logger.Warn("nightly maintenance failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule maintenance: %w", err)
	}
	m.cron.Start()
	m.logger.Info("maintenance scheduled", zap.String("cron", maintenanceSchedule))
	return nil
}

func (m *Maintenance) Stop() {
	m.cron.Stop()
}

// RunDaily summarises yesterday and prunes expired samples.
func (m *Maintenance) RunDaily(ctx context.Context) error {
	yesterday := time.Now().In(m.store.loc).AddDate(0, 0, -1)

	summary, err := m.store.ComputeDailySummary(ctx, m.deviceID, yesterday)
	if err != nil {
		return fmt.Errorf("compute daily summary: %w", err)
	}
	if summary != nil {
		if err := m.store.UpsertDailySummary(ctx, *summary); err != nil {
			return fmt.Errorf("store daily summary: %w", err)
		}
		m.logger.Info("daily summary stored",
			zap.Time("date", summary.Date),
			zap.Int("samples", summary.Samples))
	}

	if m.retention > 0 {
		pruned, err := m.store.PruneBefore(ctx, time.Now().Add(-m.retention))
		if err != nil {
			return fmt.Errorf("prune samples: %w", err)
		}
		if pruned > 0 {
			m.logger.Info("pruned old samples", zap.Int64("rows", pruned))
		}
	}
	return nil
}
