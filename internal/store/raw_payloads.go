package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// RawPayload represents a stored provider response.
type RawPayload struct {
	ID                int64
	IngestRunID       sql.NullInt64
	FetchedAt         time.Time
	Source            string
	Endpoint          string
	LocationID        sql.NullString
	PayloadCompressed []byte
	PayloadHash       string
	SchemaVersion     int
}

// PayloadHash is the hex SHA-256 used to deduplicate raw payloads.
func PayloadHash(payload []byte) string {
	hash := sha256.Sum256(payload)
	return hex.EncodeToString(hash[:])
}

// StoreRawPayload stores a gzip-compressed provider response.
// Returns the payload ID, or 0 if the payload was a duplicate (same hash).
func (s *Store) StoreRawPayload(runID int64, source, endpoint, locationID string, payload []byte) (int64, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return 0, fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("close gzip: %w", err)
	}

	var ingestRunID sql.NullInt64
	if runID > 0 {
		ingestRunID = sql.NullInt64{Int64: runID, Valid: true}
	}
	var location sql.NullString
	if locationID != "" {
		location = sql.NullString{String: locationID, Valid: true}
	}

	var id int64
	err := s.queryRow(`
		INSERT INTO raw_payloads
		(ingest_run_id, fetched_at, source, endpoint, location_id,
		 payload_compressed, payload_hash, schema_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(payload_hash) DO NOTHING
		RETURNING id
	`, ingestRunID, time.Now().UTC(), source, endpoint, location,
		buf.Bytes(), PayloadHash(payload)).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("insert raw payload: %w", err)
	}
	return id, nil
}

// GetRawPayload retrieves and decompresses a stored payload by ID.
func (s *Store) GetRawPayload(id int64) ([]byte, error) {
	var compressed []byte
	err := s.queryRow(`SELECT payload_compressed FROM raw_payloads WHERE id = ?`, id).
		Scan(&compressed)
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	return io.ReadAll(gz)
}

// GetRawPayloadByHash retrieves a payload by its hash.
func (s *Store) GetRawPayloadByHash(hash string) (*RawPayload, error) {
	row := s.queryRow(`
		SELECT id, ingest_run_id, fetched_at, source, endpoint, location_id,
		       payload_compressed, payload_hash, schema_version
		FROM raw_payloads WHERE payload_hash = ?
	`, hash)

	var p RawPayload
	err := row.Scan(&p.ID, &p.IngestRunID, &p.FetchedAt, &p.Source, &p.Endpoint,
		&p.LocationID, &p.PayloadCompressed, &p.PayloadHash, &p.SchemaVersion)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// RawPayloadStats contains storage statistics for raw payloads.
type RawPayloadStats struct {
	TotalCount     int              `json:"total_count"`
	TotalSizeBytes int64            `json:"total_size_bytes"`
	CountBySource  map[string]int   `json:"count_by_source"`
	SizeBySource   map[string]int64 `json:"size_by_source"`
}

// GetRawPayloadStats returns storage statistics for raw payloads.
func (s *Store) GetRawPayloadStats() (*RawPayloadStats, error) {
	stats := &RawPayloadStats{
		CountBySource: make(map[string]int),
		SizeBySource:  make(map[string]int64),
	}

	rows, err := s.query(`
		SELECT source, COUNT(*), COALESCE(SUM(LENGTH(payload_compressed)), 0)
		FROM raw_payloads
		GROUP BY source
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var source string
		var count int
		var size int64
		if err := rows.Scan(&source, &count, &size); err != nil {
			return nil, err
		}
		stats.CountBySource[source] = count
		stats.SizeBySource[source] = size
		stats.TotalCount += count
		stats.TotalSizeBytes += size
	}

	return stats, rows.Err()
}

// CleanupOldRawPayloads deletes raw payloads older than retentionDays.
// Returns the number of deleted records.
func (s *Store) CleanupOldRawPayloads(retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	result, err := s.exec(`DELETE FROM raw_payloads WHERE fetched_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
