package history

import (
	"context"
	"database/sql"
	"time"
)

// Store persists samples and daily summaries in SQLite. Daily bucketing
// uses the configured location so summaries line up with local days.
type Store struct {
	db  *sql.DB
	loc *time.Location
}

func New(db *sql.DB, loc *time.Location) *Store {
	return &Store{db: db, loc: loc}
}

func (s *Store) WritePoint(ctx context.Context, p Point) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO samples (device_id, recorded_at, hvac_state, season_mode, indoor_temp, recuperator_temp, outdoor_temp, ac_setpoint, user_target, solar_radiation, power_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.DeviceID, p.Time.UTC(), p.State, p.Season, p.RoomTemp, p.RecuperatorTemp, p.OutdoorTemp, p.ACSetpoint, p.UserTarget, p.SolarRadiation, p.Power)
	return err
}

// RecentPoints returns samples recorded at or after since, oldest first.
func (s *Store) RecentPoints(ctx context.Context, deviceID string, since time.Time) ([]Point, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, recorded_at, hvac_state, season_mode, indoor_temp, recuperator_temp, outdoor_temp, ac_setpoint, user_target, solar_radiation, power_state
		FROM samples
		WHERE device_id = ? AND recorded_at >= ?
		ORDER BY recorded_at ASC
	`, deviceID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var (
			p                                   Point
			indoor, recup, outdoor, setp, solar sql.NullFloat64
		)
		if err := rows.Scan(&p.DeviceID, &p.Time, &p.State, &p.Season, &indoor, &recup, &outdoor, &setp, &solar, &p.UserTarget, &p.Power); err != nil {
			return nil, err
		}
		p.RoomTemp = nullToPtr(indoor)
		p.RecuperatorTemp = nullToPtr(recup)
		p.OutdoorTemp = nullToPtr(outdoor)
		p.ACSetpoint = nullToPtr(setp)
		p.SolarRadiation = nullToPtr(solar)
		points = append(points, p)
	}
	return points, rows.Err()
}

// PruneBefore deletes samples older than cutoff and reports how many
// rows went away.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM samples WHERE recorded_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DailySummary aggregates one local day of samples for one device.
type DailySummary struct {
	Date            time.Time `json:"date"`
	DeviceID        string    `json:"deviceId"`
	IndoorMin       *float64  `json:"indoorMin"`
	IndoorMax       *float64  `json:"indoorMax"`
	IndoorAvg       *float64  `json:"indoorAvg"`
	OutdoorMin      *float64  `json:"outdoorMin"`
	OutdoorMax      *float64  `json:"outdoorMax"`
	OutdoorAvg      *float64  `json:"outdoorAvg"`
	SetpointAvg     *float64  `json:"setpointAvg"`
	HeatingFraction *float64  `json:"heatingFraction"`
	CoolingFraction *float64  `json:"coolingFraction"`
	Samples         int       `json:"samples"`
}

// ComputeDailySummary aggregates the samples of the given local day.
// Returns nil when the day holds no samples.
func (s *Store) ComputeDailySummary(ctx context.Context, deviceID string, date time.Time) (*DailySummary, error) {
	y, m, d := date.In(s.loc).Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, s.loc).UTC()
	dayEnd := time.Date(y, m, d+1, 0, 0, 0, 0, s.loc).UTC()

	summary := DailySummary{
		Date:     time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		DeviceID: deviceID,
	}

	var (
		indoorMin, indoorMax, indoorAvg    sql.NullFloat64
		outdoorMin, outdoorMax, outdoorAvg sql.NullFloat64
		setpointAvg, heating, cooling      sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			MIN(indoor_temp), MAX(indoor_temp), AVG(indoor_temp),
			MIN(outdoor_temp), MAX(outdoor_temp), AVG(outdoor_temp),
			AVG(ac_setpoint),
			AVG(CASE WHEN hvac_state IN ('HEATING_ACTIVE', 'PRE_HEAT') THEN 1.0 ELSE 0.0 END),
			AVG(CASE WHEN hvac_state IN ('COOLING_ACTIVE', 'PRE_COOL') THEN 1.0 ELSE 0.0 END),
			COUNT(*)
		FROM samples
		WHERE device_id = ? AND recorded_at >= ? AND recorded_at < ?
	`, deviceID, dayStart, dayEnd).Scan(
		&indoorMin, &indoorMax, &indoorAvg,
		&outdoorMin, &outdoorMax, &outdoorAvg,
		&setpointAvg, &heating, &cooling,
		&summary.Samples,
	)
	if err != nil {
		return nil, err
	}
	if summary.Samples == 0 {
		return nil, nil
	}

	summary.IndoorMin = nullToPtr(indoorMin)
	summary.IndoorMax = nullToPtr(indoorMax)
	summary.IndoorAvg = nullToPtr(indoorAvg)
	summary.OutdoorMin = nullToPtr(outdoorMin)
	summary.OutdoorMax = nullToPtr(outdoorMax)
	summary.OutdoorAvg = nullToPtr(outdoorAvg)
	summary.SetpointAvg = nullToPtr(setpointAvg)
	summary.HeatingFraction = nullToPtr(heating)
	summary.CoolingFraction = nullToPtr(cooling)
	return &summary, nil
}

func (s *Store) UpsertDailySummary(ctx context.Context, ds DailySummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_summaries (date, device_id, indoor_min, indoor_max, indoor_avg, outdoor_min, outdoor_max, outdoor_avg, setpoint_avg, heating_fraction, cooling_fraction, samples)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date, device_id) DO UPDATE SET
			indoor_min = excluded.indoor_min,
			indoor_max = excluded.indoor_max,
			indoor_avg = excluded.indoor_avg,
			outdoor_min = excluded.outdoor_min,
			outdoor_max = excluded.outdoor_max,
			outdoor_avg = excluded.outdoor_avg,
			setpoint_avg = excluded.setpoint_avg,
			heating_fraction = excluded.heating_fraction,
			cooling_fraction = excluded.cooling_fraction,
			samples = excluded.samples
	`, ds.Date, ds.DeviceID, ds.IndoorMin, ds.IndoorMax, ds.IndoorAvg, ds.OutdoorMin, ds.OutdoorMax, ds.OutdoorAvg, ds.SetpointAvg, ds.HeatingFraction, ds.CoolingFraction, ds.Samples)
	return err
}

// RecentDailySummaries returns up to days summaries, newest first.
func (s *Store) RecentDailySummaries(ctx context.Context, deviceID string, days int) ([]DailySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, device_id, indoor_min, indoor_max, indoor_avg, outdoor_min, outdoor_max, outdoor_avg, setpoint_avg, heating_fraction, cooling_fraction, samples
		FROM daily_summaries
		WHERE device_id = ?
		ORDER BY date DESC
		LIMIT ?
	`, deviceID, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []DailySummary
	for rows.Next() {
		var (
			ds                                 DailySummary
			indoorMin, indoorMax, indoorAvg    sql.NullFloat64
			outdoorMin, outdoorMax, outdoorAvg sql.NullFloat64
			setpointAvg, heating, cooling      sql.NullFloat64
		)
		if err := rows.Scan(&ds.Date, &ds.DeviceID, &indoorMin, &indoorMax, &indoorAvg, &outdoorMin, &outdoorMax, &outdoorAvg, &setpointAvg, &heating, &cooling, &ds.Samples); err != nil {
			return nil, err
		}
		ds.IndoorMin = nullToPtr(indoorMin)
		ds.IndoorMax = nullToPtr(indoorMax)
		ds.IndoorAvg = nullToPtr(indoorAvg)
		ds.OutdoorMin = nullToPtr(outdoorMin)
		ds.OutdoorMax = nullToPtr(outdoorMax)
		ds.OutdoorAvg = nullToPtr(outdoorAvg)
		ds.SetpointAvg = nullToPtr(setpointAvg)
		ds.HeatingFraction = nullToPtr(heating)
		ds.CoolingFraction = nullToPtr(cooling)
		summaries = append(summaries, ds)
	}
	return summaries, rows.Err()
}

func nullToPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
