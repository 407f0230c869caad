package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lox/turfweather/internal/align"
	"github.com/lox/turfweather/internal/models"
)

const weatherColumns = `temp_max, temp_min, rain_sum, sunshine_duration, precip_probability_max,
	uv_index_max, reference_evapotranspiration, precipitation_sum, precipitation_hours,
	wind_metric, snowfall_sum`

const dailyColumns = `id, date, ` + weatherColumns + `, gdd, cumulative_gdd, growth_potential,
	dollar_spot_probability, recorded_at`

const forecastColumns = `id, date, ` + weatherColumns + `, forecast_gdd, forecast_growth_potential,
	forecast_dollar_spot_probability, fetched_at`

func weatherArgs(w models.Weather) []any {
	return []any{w.TempMax, w.TempMin, w.RainSum, w.SunshineDuration, w.PrecipProbabilityMax,
		w.UVIndexMax, w.ReferenceEvapotranspiration, w.PrecipitationSum, w.PrecipitationHours,
		w.WindMetric, w.SnowfallSum}
}

func weatherDest(w *models.Weather) []any {
	return []any{&w.TempMax, &w.TempMin, &w.RainSum, &w.SunshineDuration, &w.PrecipProbabilityMax,
		&w.UVIndexMax, &w.ReferenceEvapotranspiration, &w.PrecipitationSum, &w.PrecipitationHours,
		&w.WindMetric, &w.SnowfallSum}
}

func formatDate(t time.Time) string {
	return t.Format(time.DateOnly)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDaily(row scanner) (*models.DailyRecord, error) {
	var r models.DailyRecord
	var date string
	dest := append([]any{&r.ID, &date}, weatherDest(&r.Weather)...)
	dest = append(dest, &r.GDD, &r.CumulativeGDD, &r.GrowthPotential, &r.DollarSpotProbability, &r.RecordedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	d, err := align.ParseDate(date)
	if err != nil {
		return nil, err
	}
	r.Date = d.Time()
	return &r, nil
}

func scanForecast(row scanner) (*models.ForecastRecord, error) {
	var r models.ForecastRecord
	var date string
	dest := append([]any{&r.ID, &date}, weatherDest(&r.Weather)...)
	dest = append(dest, &r.ForecastGDD, &r.ForecastGrowthPotential, &r.ForecastDollarSpotProbability, &r.FetchedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	d, err := align.ParseDate(date)
	if err != nil {
		return nil, err
	}
	r.Date = d.Time()
	return &r, nil
}

// InsertDaily appends a historical record. There is no uniqueness on date:
// inserting the same date twice yields two rows.
func (s *Store) InsertDaily(r models.DailyRecord) (int64, error) {
	return s.insertDaily(s.db, r)
}

// InsertDay writes a historical record together with its hourly samples in
// one transaction: either every row is committed or none is.
func (s *Store) InsertDay(r models.DailyRecord, hourly []models.HourlyRecord) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin day %s: %w", formatDate(r.Date), err)
	}
	id, err := s.insertDaily(tx, r)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	for _, h := range hourly {
		if err := s.insertHourly(tx, h); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("insert hourly record %s: %w", h.Timestamp.UTC().Format(time.RFC3339), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit day %s: %w", formatDate(r.Date), err)
	}
	return id, nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

func (s *Store) insertDaily(q execer, r models.DailyRecord) (int64, error) {
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now().UTC()
	}
	args := append([]any{formatDate(r.Date)}, weatherArgs(r.Weather)...)
	args = append(args, r.GDD, r.CumulativeGDD, r.GrowthPotential, r.DollarSpotProbability, r.RecordedAt)

	var id int64
	err := q.QueryRow(s.rebind(`
		INSERT INTO daily_records (date, `+weatherColumns+`, gdd, cumulative_gdd, growth_potential,
			dollar_spot_probability, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`), args...).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert daily record %s: %w", formatDate(r.Date), err)
	}
	return id, nil
}

// LatestDaily returns the most recent historical record by date (ties broken
// by insertion order), or nil when the table is empty.
func (s *Store) LatestDaily() (*models.DailyRecord, error) {
	r, err := scanDaily(s.queryRow(`SELECT ` + dailyColumns + ` FROM daily_records ORDER BY date DESC, id DESC LIMIT 1`))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// LatestDailyBefore returns the most recent record dated strictly before date.
func (s *Store) LatestDailyBefore(date time.Time) (*models.DailyRecord, error) {
	r, err := scanDaily(s.queryRow(`SELECT `+dailyColumns+` FROM daily_records WHERE date < ? ORDER BY date DESC, id DESC LIMIT 1`,
		formatDate(date)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

func (s *Store) ListDaily() ([]models.DailyRecord, error) {
	rows, err := s.query(`SELECT ` + dailyColumns + ` FROM daily_records ORDER BY date ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.DailyRecord
	for rows.Next() {
		r, err := scanDaily(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

func (s *Store) CountDaily() (int, error) {
	var n int
	err := s.queryRow(`SELECT COUNT(*) FROM daily_records`).Scan(&n)
	return n, err
}

// ResetLatestCumulativeGDD zeroes cumulative_gdd on the latest record only.
// Earlier rows keep their totals. Returns false when there is no record.
func (s *Store) ResetLatestCumulativeGDD() (bool, error) {
	res, err := s.exec(`
		UPDATE daily_records SET cumulative_gdd = 0
		WHERE id = (SELECT id FROM daily_records ORDER BY date DESC, id DESC LIMIT 1)
	`)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpsertForecast inserts a forecast or replaces the existing one for its date.
func (s *Store) UpsertForecast(r models.ForecastRecord) error {
	if r.FetchedAt.IsZero() {
		r.FetchedAt = time.Now().UTC()
	}
	args := append([]any{formatDate(r.Date)}, weatherArgs(r.Weather)...)
	args = append(args, r.ForecastGDD, r.ForecastGrowthPotential, r.ForecastDollarSpotProbability, r.FetchedAt)

	_, err := s.exec(`
		INSERT INTO forecast_records (date, `+weatherColumns+`, forecast_gdd, forecast_growth_potential,
			forecast_dollar_spot_probability, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			temp_max = excluded.temp_max,
			temp_min = excluded.temp_min,
			rain_sum = excluded.rain_sum,
			sunshine_duration = excluded.sunshine_duration,
			precip_probability_max = excluded.precip_probability_max,
			uv_index_max = excluded.uv_index_max,
			reference_evapotranspiration = excluded.reference_evapotranspiration,
			precipitation_sum = excluded.precipitation_sum,
			precipitation_hours = excluded.precipitation_hours,
			wind_metric = excluded.wind_metric,
			snowfall_sum = excluded.snowfall_sum,
			forecast_gdd = excluded.forecast_gdd,
			forecast_growth_potential = excluded.forecast_growth_potential,
			forecast_dollar_spot_probability = excluded.forecast_dollar_spot_probability,
			fetched_at = excluded.fetched_at
	`, args...)
	if err != nil {
		return fmt.Errorf("upsert forecast %s: %w", formatDate(r.Date), err)
	}
	return nil
}

func (s *Store) ListForecasts() ([]models.ForecastRecord, error) {
	rows, err := s.query(`SELECT ` + forecastColumns + ` FROM forecast_records ORDER BY date ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.ForecastRecord
	for rows.Next() {
		r, err := scanForecast(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

func (s *Store) CountForecasts() (int, error) {
	var n int
	err := s.queryRow(`SELECT COUNT(*) FROM forecast_records`).Scan(&n)
	return n, err
}

// InsertHourly stores an hourly sample; an existing sample for the same
// instant is left untouched.
func (s *Store) InsertHourly(h models.HourlyRecord) error {
	return s.insertHourly(s.db, h)
}

func (s *Store) insertHourly(q execer, h models.HourlyRecord) error {
	if h.RecordedAt.IsZero() {
		h.RecordedAt = time.Now().UTC()
	}
	_, err := q.Exec(s.rebind(`
		INSERT INTO hourly_records (observed_at, relative_humidity, temperature, dew_point, precipitation,
			soil_temperature_0cm, soil_moisture_0_to_1cm, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(observed_at) DO NOTHING
	`), h.Timestamp.UTC(), h.RelativeHumidity, h.Temperature, h.DewPoint, h.Precipitation,
		h.SoilTemperature0cm, h.SoilMoisture0to1cm, h.RecordedAt)
	return err
}

// ListHourly returns samples with start <= timestamp < end.
func (s *Store) ListHourly(start, end time.Time) ([]models.HourlyRecord, error) {
	rows, err := s.query(`
		SELECT id, observed_at, relative_humidity, temperature, dew_point, precipitation,
			soil_temperature_0cm, soil_moisture_0_to_1cm, recorded_at
		FROM hourly_records
		WHERE observed_at >= ? AND observed_at < ?
		ORDER BY observed_at ASC
	`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.HourlyRecord
	for rows.Next() {
		var h models.HourlyRecord
		if err := rows.Scan(&h.ID, &h.Timestamp, &h.RelativeHumidity, &h.Temperature, &h.DewPoint,
			&h.Precipitation, &h.SoilTemperature0cm, &h.SoilMoisture0to1cm, &h.RecordedAt); err != nil {
			return nil, err
		}
		records = append(records, h)
	}
	return records, rows.Err()
}
