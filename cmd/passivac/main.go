package main

import (
	"context"
	"database/sql"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"passivac/internal/accessory"
	"passivac/internal/aircon"
	"passivac/internal/api"
	"passivac/internal/config"
	"passivac/internal/control"
	"passivac/internal/history"
	"passivac/internal/sensor"
	"passivac/internal/weather"
)

func main() {
	var cfg config.Config
	kctx := kong.Parse(&cfg,
		kong.Name("passivac"),
		kong.Description("Predictive climate control for a passive house with a recuperator-coupled AC."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
		kong.UsageOnError(),
	)
	kctx.FatalIfErrorf(cfg.Validate())

	logger, err := cfg.NewLogger()
	kctx.FatalIfErrorf(err)
	defer logger.Sync()

	logger.Info("starting passivac", cfg.LogFields()...)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		store     *history.Store
		recorders history.MultiRecorder
	)
	if cfg.History.Path != "" {
		db, err := sql.Open("sqlite", cfg.History.Path)
		if err != nil {
			logger.Fatal("open history database", zap.Error(err))
		}
		defer db.Close()

		db.Exec("PRAGMA journal_mode=WAL")
		db.Exec("PRAGMA busy_timeout=5000")

		store = history.New(db, time.Local)
		if err := store.Migrate(); err != nil {
			logger.Fatal("migrate history database", zap.Error(err))
		}
		recorders = append(recorders, store)
	}

	var pushBuffer *history.Buffer
	if cfg.Push.URL != "" {
		pushBuffer = history.NewBuffer(cfg.Push.BufferSize)
		recorders = append(recorders, pushBuffer)
	}
	var recorder history.Recorder = history.NopRecorder{}
	if len(recorders) > 0 {
		recorder = recorders
	}

	tracker := sensor.NewTracker(
		sensor.NewHTTPClient(cfg.Sensor.URL, cfg.Sensor.Token),
		cfg.Sensor.PollInterval,
		cfg.AC.MinSetpoint, cfg.AC.MaxSetpoint,
		logger.Named("sensor"),
	)

	cache := weather.NewCache(
		weather.NewOpenMeteoClient(cfg.Weather.URL),
		weather.Location{Latitude: cfg.Latitude, Longitude: cfg.Longitude},
		cfg.Weather.RefreshInterval,
		logger.Named("weather"),
	)

	acClient := aircon.NewCloudClient(cfg.AC.BaseURL, cfg.AC.Email, cfg.AC.Password, cfg.AC.DeviceID, logger.Named("aircon"))
	poller := aircon.NewPoller(acClient, cfg.AC.RefreshInterval, logger.Named("aircon"))

	orch := control.NewOrchestrator(control.Deps{
		DeviceID:   cfg.AC.DeviceID,
		Client:     acClient,
		Tracker:    tracker,
		Weather:    cache,
		Recorder:   recorder,
		Tunables:   tunablesFrom(cfg.Tuning),
		BaseTarget: cfg.TargetTemperature,
		Logger:     logger.Named("control"),
	})

	server := api.NewServer(orch, tracker, cache, store, cfg.AC.DeviceID, cfg.Listen, logger.Named("api"))

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		tracker.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		cache.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		poller.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := orch.Run(ctx, poller.Snapshots()); err != nil && ctx.Err() == nil {
			logger.Error("control loop stopped", zap.Error(err))
		}
	}()

	if pushBuffer != nil {
		writer := history.NewRemoteWriter(cfg.Push.URL, cfg.Push.Username, cfg.Push.Password,
			cfg.Push.Interval, pushBuffer, logger.Named("push"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			writer.Run(ctx)
		}()
	}

	if store != nil {
		maint := history.NewMaintenance(store, cfg.AC.DeviceID, cfg.History.Retention, logger.Named("history"))
		if err := maint.Start(); err != nil {
			logger.Fatal("start maintenance", zap.Error(err))
		}
		defer maint.Stop()
	}

	if cfg.HomeKit.Pin != "" {
		hk := accessory.New(accessory.Config{
			Name:        "Passivac",
			Serial:      cfg.AC.DeviceID,
			Dir:         cfg.HomeKit.Dir,
			Pin:         cfg.HomeKit.Pin,
			MinSetpoint: cfg.AC.MinSetpoint,
			MaxSetpoint: cfg.AC.MaxSetpoint,
		}, orch, logger.Named("homekit"))
		orch.SetListener(hk)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := hk.Serve(ctx); err != nil && ctx.Err() == nil {
				logger.Error("homekit server stopped", zap.Error(err))
			}
		}()
	}

	if err := server.Run(ctx); err != nil {
		logger.Error("http server stopped", zap.Error(err))
	}

	cancel()
	wg.Wait()
	logger.Info("shutdown complete")
}

func tunablesFrom(t config.TuningConfig) control.Tunables {
	return control.Tunables{
		Deadband:         t.Deadband,
		Hysteresis:       t.Hysteresis,
		MinOn:            t.MinOn,
		MinOff:           t.MinOff,
		MinModeSwitch:    t.MinModeSwitch,
		ActionInterval:   t.ActionInterval,
		Kp:               t.Kp,
		OutdoorResetGain: t.OutdoorResetGain,
		ForecastGain:     t.ForecastGain,
		WeightingTau:     t.WeightingTimeConstant.Hours(),
	}
}
