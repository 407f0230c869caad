package store

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"
)

// migration statements use portable type tokens that are expanded per
// dialect before execution: ID, REAL, TIMESTAMP, DATE, BLOB.
type migration struct {
	Version     int
	Description string
	Statements  []string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		Statements: []string{`
CREATE TABLE IF NOT EXISTS daily_records (
    id {{ID}},
    date {{DATE}} NOT NULL,
    temp_max {{REAL}},
    temp_min {{REAL}},
    rain_sum {{REAL}},
    sunshine_duration {{REAL}},
    precip_probability_max {{REAL}},
    uv_index_max {{REAL}},
    reference_evapotranspiration {{REAL}},
    precipitation_sum {{REAL}},
    precipitation_hours {{REAL}},
    wind_metric {{REAL}},
    snowfall_sum {{REAL}},
    gdd {{REAL}},
    cumulative_gdd {{REAL}} NOT NULL DEFAULT 0,
    growth_potential {{REAL}},
    dollar_spot_probability {{REAL}},
    recorded_at {{TIMESTAMP}} NOT NULL
)`, `
CREATE INDEX IF NOT EXISTS idx_daily_date ON daily_records(date)`, `
CREATE TABLE IF NOT EXISTS forecast_records (
    id {{ID}},
    date {{DATE}} NOT NULL UNIQUE,
    temp_max {{REAL}},
    temp_min {{REAL}},
    rain_sum {{REAL}},
    sunshine_duration {{REAL}},
    precip_probability_max {{REAL}},
    uv_index_max {{REAL}},
    reference_evapotranspiration {{REAL}},
    precipitation_sum {{REAL}},
    precipitation_hours {{REAL}},
    wind_metric {{REAL}},
    snowfall_sum {{REAL}},
    forecast_gdd {{REAL}},
    forecast_growth_potential {{REAL}},
    forecast_dollar_spot_probability {{REAL}},
    fetched_at {{TIMESTAMP}} NOT NULL
)`,
		},
	},
	{
		Version:     2,
		Description: "Add ingest audit tables",
		Statements: []string{`
CREATE TABLE IF NOT EXISTS ingest_runs (
    id {{ID}},
    started_at {{TIMESTAMP}} NOT NULL,
    finished_at {{TIMESTAMP}},
    source TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    location_id TEXT,
    http_status INTEGER,
    response_size_bytes INTEGER,
    records_parsed INTEGER,
    records_stored INTEGER,
    parse_errors INTEGER,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    error_message TEXT
)`, `
CREATE INDEX IF NOT EXISTS idx_ingest_runs_started ON ingest_runs(started_at)`, `
CREATE TABLE IF NOT EXISTS raw_payloads (
    id {{ID}},
    ingest_run_id INTEGER,
    fetched_at {{TIMESTAMP}} NOT NULL,
    source TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    location_id TEXT,
    payload_compressed {{BLOB}} NOT NULL,
    payload_hash TEXT NOT NULL UNIQUE,
    schema_version INTEGER NOT NULL DEFAULT 1
)`, `
CREATE INDEX IF NOT EXISTS idx_raw_payloads_fetched ON raw_payloads(fetched_at)`,
		},
	},
	{
		Version:     3,
		Description: "Add hourly records and fetch watermark",
		Statements: []string{`
CREATE TABLE IF NOT EXISTS hourly_records (
    id {{ID}},
    observed_at {{TIMESTAMP}} NOT NULL UNIQUE,
    relative_humidity {{REAL}},
    temperature {{REAL}},
    dew_point {{REAL}},
    precipitation {{REAL}},
    soil_temperature_0cm {{REAL}},
    soil_moisture_0_to_1cm {{REAL}},
    recorded_at {{TIMESTAMP}} NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS watermarks (
    name TEXT PRIMARY KEY,
    value {{TIMESTAMP}} NOT NULL
)`,
		},
	},
}

var dialectTypes = map[Dialect]*strings.Replacer{
	SQLite: strings.NewReplacer(
		"{{ID}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{{REAL}}", "REAL",
		"{{TIMESTAMP}}", "DATETIME",
		"{{DATE}}", "TEXT",
		"{{BLOB}}", "BLOB",
	),
	Postgres: strings.NewReplacer(
		"{{ID}}", "BIGSERIAL PRIMARY KEY",
		"{{REAL}}", "DOUBLE PRECISION",
		"{{TIMESTAMP}}", "TIMESTAMPTZ",
		"{{DATE}}", "DATE",
		"{{BLOB}}", "BYTEA",
	),
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	types := dialectTypes[s.dialect]
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		log.Printf("migrations: applying %d - %s (%s)", m.Version, m.Description, s.dialect)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		for _, stmt := range m.Statements {
			if _, err := tx.Exec(types.Replace(stmt)); err != nil {
				tx.Rollback()
				return fmt.Errorf("execute migration %d: %w", m.Version, err)
			}
		}

		if _, err := tx.Exec(
			s.rebind("INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)"),
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		log.Printf("migrations: completed %d", m.Version)
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(dialectTypes[s.dialect].Replace(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at {{TIMESTAMP}}
		)
	`))
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
