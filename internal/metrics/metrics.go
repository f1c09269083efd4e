package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RoomTemperature = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "passivac_room_temperature_celsius",
		Help: "Latest room temperature from the external sensor",
	})

	OutdoorTemperature = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "passivac_outdoor_temperature_celsius",
		Help: "Current outdoor temperature from the forecast",
	})

	PredictedSetpoint = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "passivac_predicted_setpoint_celsius",
		Help: "Setpoint produced by the prediction layers",
	})

	DispatchedSetpoint = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "passivac_dispatched_setpoint_celsius",
		Help: "Compensated setpoint last delivered to the unit",
	})

	UserTarget = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "passivac_user_target_celsius",
		Help: "User comfort target",
	})

	SensorOffset = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "passivac_sensor_offset_celsius",
		Help: "Measured AC internal sensor minus room sensor offset",
	})

	PowerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "passivac_power_state",
		Help: "Unit power reported by the last snapshot (1 on, 0 off)",
	})

	HVACState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "passivac_hvac_state",
			Help: "Current control state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"},
	)

	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passivac_state_transitions_total",
			Help: "Total state machine transitions",
		},
		[]string{"from", "to"},
	)

	DetectorTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passivac_detector_trips_total",
			Help: "Forecast detector activations that started pre-conditioning",
		},
		[]string{"detector"},
	)

	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passivac_commands_total",
			Help: "Commands considered for dispatch to the unit",
		},
		[]string{"type", "outcome"},
	)

	SensorPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passivac_sensor_polls_total",
			Help: "External sensor poll attempts",
		},
		[]string{"status"},
	)

	WeatherRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passivac_weather_refreshes_total",
			Help: "Forecast refresh attempts",
		},
		[]string{"status"},
	)
)
