package store

import (
	"database/sql"
	"time"
)

const lastFetchWatermark = "last_fetch"

// ReadLastFetchTime returns the stored completion time of the last successful
// daily cycle, or the zero time when none has been recorded.
func (s *Store) ReadLastFetchTime() (time.Time, error) {
	var t time.Time
	err := s.queryRow(`SELECT value FROM watermarks WHERE name = ?`, lastFetchWatermark).Scan(&t)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// WriteLastFetchTime records t as the last successful fetch.
func (s *Store) WriteLastFetchTime(t time.Time) error {
	_, err := s.exec(`
		INSERT INTO watermarks (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value
	`, lastFetchWatermark, t.UTC())
	return err
}
