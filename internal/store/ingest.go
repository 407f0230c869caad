package store

import (
	"database/sql"
	"sort"
	"time"
)

// IngestRun represents a single provider fetch for auditing.
type IngestRun struct {
	ID                int64
	StartedAt         time.Time
	FinishedAt        sql.NullTime
	Source            string // "open-meteo", "openweather"
	Endpoint          string // "archive", "forecast", "current"
	LocationID        sql.NullString
	HTTPStatus        sql.NullInt64
	ResponseSizeBytes sql.NullInt64
	RecordsParsed     sql.NullInt64
	RecordsStored     sql.NullInt64
	ParseErrors       sql.NullInt64
	Success           bool
	ErrorMessage      sql.NullString
}

// StartIngestRun creates a new ingest run record and returns it.
func (s *Store) StartIngestRun(source, endpoint, locationID string) (*IngestRun, error) {
	run := &IngestRun{
		StartedAt: time.Now().UTC(),
		Source:    source,
		Endpoint:  endpoint,
	}
	if locationID != "" {
		run.LocationID = sql.NullString{String: locationID, Valid: true}
	}

	err := s.queryRow(`
		INSERT INTO ingest_runs (started_at, source, endpoint, location_id, success)
		VALUES (?, ?, ?, ?, FALSE)
		RETURNING id
	`, run.StartedAt, run.Source, run.Endpoint, run.LocationID).Scan(&run.ID)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteIngestRun updates the ingest run with results.
func (s *Store) CompleteIngestRun(run *IngestRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.exec(`
		UPDATE ingest_runs SET
			finished_at = ?,
			http_status = ?,
			response_size_bytes = ?,
			records_parsed = ?,
			records_stored = ?,
			parse_errors = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.HTTPStatus, run.ResponseSizeBytes, run.RecordsParsed,
		run.RecordsStored, run.ParseErrors, run.Success, run.ErrorMessage, run.ID)
	return err
}

// IngestHealthSummary represents a daily ingest health summary.
type IngestHealthSummary struct {
	Date             string `json:"date"`
	Source           string `json:"source"`
	Endpoint         string `json:"endpoint"`
	TotalRuns        int    `json:"total_runs"`
	SuccessRuns      int    `json:"success_runs"`
	FailedRuns       int    `json:"failed_runs"`
	TotalRecords     int64  `json:"total_records"`
	TotalParseErrors int64  `json:"total_parse_errors"`
}

// GetIngestHealth returns per-day, per-endpoint summaries for the last N days.
// Grouping happens here rather than in SQL so the same code serves both
// dialects.
func (s *Store) GetIngestHealth(days int) ([]IngestHealthSummary, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := s.query(`
		SELECT started_at, source, endpoint, success, records_stored, parse_errors
		FROM ingest_runs
		WHERE started_at > ?
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type key struct{ date, source, endpoint string }
	groups := make(map[key]*IngestHealthSummary)
	for rows.Next() {
		var (
			startedAt        time.Time
			source, endpoint string
			success          bool
			stored, parseErr sql.NullInt64
		)
		if err := rows.Scan(&startedAt, &source, &endpoint, &success, &stored, &parseErr); err != nil {
			return nil, err
		}
		k := key{startedAt.UTC().Format(time.DateOnly), source, endpoint}
		h, ok := groups[k]
		if !ok {
			h = &IngestHealthSummary{Date: k.date, Source: source, Endpoint: endpoint}
			groups[k] = h
		}
		h.TotalRuns++
		if success {
			h.SuccessRuns++
		} else {
			h.FailedRuns++
		}
		h.TotalRecords += stored.Int64
		h.TotalParseErrors += parseErr.Int64
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]IngestHealthSummary, 0, len(groups))
	for _, h := range groups {
		results = append(results, *h)
	}
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Date != b.Date {
			return a.Date > b.Date
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Endpoint < b.Endpoint
	})
	return results, nil
}

// GetRecentIngestErrors returns recent failed ingest runs.
func (s *Store) GetRecentIngestErrors(limit int) ([]IngestRun, error) {
	rows, err := s.query(`
		SELECT id, started_at, finished_at, source, endpoint, location_id,
			   http_status, response_size_bytes, records_parsed, records_stored,
			   parse_errors, success, error_message
		FROM ingest_runs
		WHERE success = FALSE
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []IngestRun
	for rows.Next() {
		var r IngestRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Source, &r.Endpoint,
			&r.LocationID, &r.HTTPStatus, &r.ResponseSizeBytes, &r.RecordsParsed,
			&r.RecordsStored, &r.ParseErrors, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
