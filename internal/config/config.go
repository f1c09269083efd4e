package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full daemon configuration. Fields are bound by kong from
// flags, PASSIVAC_* environment variables and an optional .env file.
type Config struct {
	TargetTemperature float64 `help:"Comfort band midpoint in degrees C. Users may adjust the target within ±3 of this." default:"23" env:"PASSIVAC_TARGET_TEMPERATURE"`
	Latitude          float64 `help:"Site latitude, used for the outdoor forecast." required:"" env:"PASSIVAC_LATITUDE"`
	Longitude         float64 `help:"Site longitude, used for the outdoor forecast." required:"" env:"PASSIVAC_LONGITUDE"`

	Sensor  SensorConfig  `embed:"" prefix:"sensor-" envprefix:"PASSIVAC_SENSOR_"`
	AC      ACConfig      `embed:"" prefix:"ac-" envprefix:"PASSIVAC_AC_"`
	Weather WeatherConfig `embed:"" prefix:"weather-" envprefix:"PASSIVAC_WEATHER_"`
	Tuning  TuningConfig  `embed:"" prefix:"tuning-" envprefix:"PASSIVAC_TUNING_"`
	History HistoryConfig `embed:"" prefix:"history-" envprefix:"PASSIVAC_HISTORY_"`
	Push    PushConfig    `embed:"" prefix:"push-" envprefix:"PASSIVAC_PUSH_"`
	HomeKit HomeKitConfig `embed:"" prefix:"homekit-" envprefix:"PASSIVAC_HOMEKIT_"`

	Listen    string `help:"Listen address for the status and metrics HTTP server." default:":8093" env:"PASSIVAC_LISTEN"`
	LogLevel  string `help:"Log level: debug, info, warn or error." default:"info" env:"PASSIVAC_LOG_LEVEL"`
	LogFormat string `help:"Log format: console or json." default:"console" env:"PASSIVAC_LOG_FORMAT"`
}

// SensorConfig points at the external room-temperature sensor API.
type SensorConfig struct {
	URL          string        `help:"External sensor endpoint returning {temperature, humidity} JSON." required:"" env:"URL"`
	Token        string        `help:"Bearer token for the sensor endpoint." env:"TOKEN"`
	PollInterval time.Duration `help:"How often to poll the external sensor." default:"60s" env:"POLL_INTERVAL"`
}

// ACConfig points at the AC cloud API and bounds the setpoints it accepts.
type ACConfig struct {
	BaseURL         string        `help:"AC cloud API base URL." required:"" env:"BASE_URL"`
	Email           string        `help:"AC cloud account email." required:"" env:"EMAIL"`
	Password        string        `help:"AC cloud account password." required:"" env:"PASSWORD"`
	DeviceID        string        `help:"AC device identifier." required:"" env:"DEVICE_ID"`
	RefreshInterval time.Duration `help:"How often to poll the AC for a fresh device snapshot." default:"90s" env:"REFRESH_INTERVAL"`
	MinSetpoint     float64       `help:"Lowest setpoint the AC accepts." default:"16" env:"MIN_SETPOINT"`
	MaxSetpoint     float64       `help:"Highest setpoint the AC accepts." default:"31" env:"MAX_SETPOINT"`
}

// WeatherConfig controls the hourly-forecast fetch.
type WeatherConfig struct {
	URL             string        `help:"Forecast API endpoint." default:"https://api.open-meteo.com/v1/forecast" env:"URL"`
	RefreshInterval time.Duration `help:"How often to refresh the forecast." default:"60m" env:"REFRESH_INTERVAL"`
}

// TuningConfig overrides the control-algorithm constants. The defaults are
// the documented operating values; changing them is rarely necessary.
type TuningConfig struct {
	Deadband              float64       `help:"Indoor deviation band (°C) in which no active heating/cooling is started." default:"4.0" env:"DEADBAND"`
	Hysteresis            float64       `help:"Deviation (°C) beyond which active heating/cooling starts." default:"2.0" env:"HYSTERESIS"`
	MinOn                 time.Duration `help:"Minimum time an active state must be held." default:"300s" env:"MIN_ON"`
	MinOff                time.Duration `help:"Minimum time between deactivating and reactivating." default:"180s" env:"MIN_OFF"`
	MinModeSwitch         time.Duration `help:"Minimum time between heating and cooling runs." default:"600s" env:"MIN_MODE_SWITCH"`
	ActionInterval        time.Duration `help:"Global minimum interval between AC commands." default:"60s" env:"ACTION_INTERVAL"`
	Kp                    float64       `help:"Proportional gain for room-temperature error correction." default:"0.3" env:"KP"`
	OutdoorResetGain      float64       `help:"Gain for the outdoor-reset layer." default:"0.4" env:"OUTDOOR_RESET_GAIN"`
	ForecastGain          float64       `help:"Gain for the forecast look-ahead layer." default:"0.3" env:"FORECAST_GAIN"`
	WeightingTimeConstant time.Duration `help:"Decay time constant for forecast weighting." default:"6h" env:"WEIGHTING_TIME_CONSTANT"`
}

// HistoryConfig controls the local sqlite time-series sink.
type HistoryConfig struct {
	Path      string        `help:"Path to the sqlite history database. Empty disables local history." default:"data/passivac.db" env:"PATH"`
	Retention time.Duration `help:"How long to keep history points." default:"720h" env:"RETENTION"`
}

// PushConfig controls the optional Prometheus remote-write sink.
type PushConfig struct {
	URL        string        `help:"Prometheus remote-write endpoint. Empty disables pushing." env:"URL"`
	Username   string        `help:"Remote-write basic auth username." env:"USERNAME"`
	Password   string        `help:"Remote-write basic auth password." env:"PASSWORD"`
	Interval   time.Duration `help:"How often to flush buffered points." default:"60s" env:"INTERVAL"`
	BufferSize int           `help:"Ring buffer capacity for points awaiting push." default:"1024" env:"BUFFER_SIZE"`
}

// HomeKitConfig controls the optional HomeKit accessory.
type HomeKitConfig struct {
	Dir string `help:"Directory for HomeKit pairing state." default:"data/homekit" env:"DIR"`
	Pin string `help:"HomeKit setup PIN (8 digits). Empty disables the accessory." env:"PIN"`
}

var pinRegex = regexp.MustCompile(`^\d{8}$`)

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.TargetTemperature < 16 || c.TargetTemperature > 30 {
		return fmt.Errorf("target temperature must be in [16, 30], got %.1f", c.TargetTemperature)
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude must be in [-90, 90], got %.4f", c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude must be in [-180, 180], got %.4f", c.Longitude)
	}

	if c.Sensor.PollInterval < time.Second {
		return fmt.Errorf("sensor poll interval must be at least 1s, got %s", c.Sensor.PollInterval)
	}
	if c.AC.RefreshInterval < 10*time.Second {
		return fmt.Errorf("ac refresh interval must be at least 10s, got %s", c.AC.RefreshInterval)
	}
	if c.AC.MinSetpoint >= c.AC.MaxSetpoint {
		return fmt.Errorf("ac min setpoint %.1f must be below max setpoint %.1f", c.AC.MinSetpoint, c.AC.MaxSetpoint)
	}
	if c.Weather.RefreshInterval < time.Minute {
		return fmt.Errorf("weather refresh interval must be at least 1m, got %s", c.Weather.RefreshInterval)
	}

	if err := c.Tuning.validate(); err != nil {
		return err
	}

	if c.Push.URL != "" && c.Push.BufferSize < 1 {
		return fmt.Errorf("push buffer size must be at least 1, got %d", c.Push.BufferSize)
	}
	if c.Push.URL != "" && c.Push.Interval < time.Second {
		return fmt.Errorf("push interval must be at least 1s, got %s", c.Push.Interval)
	}
	if c.HomeKit.Pin != "" && !pinRegex.MatchString(c.HomeKit.Pin) {
		return fmt.Errorf("homekit pin must be 8 digits, got %q", c.HomeKit.Pin)
	}

	c.LogFormat = strings.ToLower(c.LogFormat)
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("log format must be 'console' or 'json', got %q", c.LogFormat)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be one of debug, info, warn, error, got %q", c.LogLevel)
	}

	return nil
}

func (t *TuningConfig) validate() error {
	if t.Deadband <= 0 {
		return fmt.Errorf("deadband must be positive, got %.1f", t.Deadband)
	}
	if t.Hysteresis <= 0 {
		return fmt.Errorf("hysteresis must be positive, got %.1f", t.Hysteresis)
	}
	if t.Hysteresis > t.Deadband {
		return fmt.Errorf("hysteresis %.1f must not exceed deadband %.1f", t.Hysteresis, t.Deadband)
	}
	if t.MinOn < 0 || t.MinOff < 0 || t.MinModeSwitch < 0 {
		return fmt.Errorf("anti-oscillation timers must not be negative")
	}
	if t.ActionInterval < time.Second {
		return fmt.Errorf("action interval must be at least 1s, got %s", t.ActionInterval)
	}
	if t.Kp < 0 || t.OutdoorResetGain < 0 || t.ForecastGain < 0 {
		return fmt.Errorf("gains must not be negative")
	}
	if t.WeightingTimeConstant <= 0 {
		return fmt.Errorf("weighting time constant must be positive, got %s", t.WeightingTimeConstant)
	}
	return nil
}

// NewLogger builds a zap logger from the logging configuration.
func (c *Config) NewLogger() (*zap.Logger, error) {
	var level zapcore.Level
	switch c.LogLevel {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "ts"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if c.LogFormat == "console" {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zcfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         c.LogFormat,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// LogFields returns the non-secret configuration as zap fields for startup logging.
func (c *Config) LogFields() []zap.Field {
	return []zap.Field{
		zap.Float64("target_temperature", c.TargetTemperature),
		zap.Float64("latitude", c.Latitude),
		zap.Float64("longitude", c.Longitude),
		zap.Duration("sensor_poll_interval", c.Sensor.PollInterval),
		zap.Duration("ac_refresh_interval", c.AC.RefreshInterval),
		zap.String("ac_device_id", c.AC.DeviceID),
		zap.Duration("weather_refresh_interval", c.Weather.RefreshInterval),
		zap.String("history_path", c.History.Path),
		zap.Bool("push_enabled", c.Push.URL != ""),
		zap.Bool("homekit_enabled", c.HomeKit.Pin != ""),
		zap.String("listen", c.Listen),
	}
}
