package ingest

import (
	"errors"
	"fmt"
)

// ErrCycleInProgress is returned when an ingestion cycle is requested while
// another is still running.
var ErrCycleInProgress = errors.New("ingestion cycle already in progress")

// TransportError is a network or HTTP failure talking to a provider that
// survived the retry budget.
type TransportError struct {
	Provider   string
	Endpoint   string
	StatusCode int // zero when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DataShapeError means a provider response lacked the expected time or
// variable arrays.
type DataShapeError struct {
	Provider string
	Detail   string
	Err      error
}

func (e *DataShapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: unexpected response shape: %s: %v", e.Provider, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: unexpected response shape: %s", e.Provider, e.Detail)
}

func (e *DataShapeError) Unwrap() error { return e.Err }

// PersistenceError wraps a storage failure during ingestion.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
