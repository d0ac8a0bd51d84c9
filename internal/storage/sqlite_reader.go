package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/roman-kulish/drone-tracker/internal/telemetry"
)

// TrackReader provides an iterator-based interface for reading a drone's
// persisted samples in time order with optional time filtering.
type TrackReader interface {
	// DroneID returns the drone whose track is read.
	DroneID() string

	// Next advances the iterator and returns true if there is another sample
	// to read, false when the iteration is complete or if an error occurred.
	Next(context.Context) bool

	// Current returns the current sample in the iteration.
	// If called after Next() returns false, the behavior is undefined.
	Current() *telemetry.Normalized

	// Error returns any error that occurred during iteration.
	// If Next() returns false, Error() should be checked to distinguish
	// between end of data and an error condition.
	Error() error

	// Close releases any resources associated with the reader.
	Close() error
}

var _ TrackReader = (*SqliteTrackReader)(nil)

// ReaderOption configures a SqliteTrackReader with filtering criteria.
type ReaderOption func(*SqliteTrackReader)

// WithStartTime excludes samples with timestamps before t.
func WithStartTime(t time.Time) ReaderOption {
	return func(r *SqliteTrackReader) {
		r.startTime = &t
	}
}

// WithEndTime excludes samples with timestamps after t.
func WithEndTime(t time.Time) ReaderOption {
	return func(r *SqliteTrackReader) {
		r.endTime = &t
	}
}

// WithTimeRange sets both start and end time filters.
func WithTimeRange(startTime, endTime time.Time) ReaderOption {
	return func(r *SqliteTrackReader) {
		r.startTime = &startTime
		r.endTime = &endTime
	}
}

func newSqliteTrackReader(ctx context.Context, db *sql.DB, droneID string, opts ...ReaderOption) (*SqliteTrackReader, error) {
	tr := &SqliteTrackReader{
		db:      db,
		droneID: droneID,
	}
	for _, opt := range opts {
		opt(tr)
	}
	if err := tr.init(ctx); err != nil {
		return nil, fmt.Errorf("initializing reader: %w", err)
	}
	return tr, nil
}

// SqliteTrackReader implements TrackReader for the SQLite backend.
type SqliteTrackReader struct {
	db      *sql.DB
	droneID string

	startTime *time.Time // Optional start of time range filter
	endTime   *time.Time // Optional end of time range filter

	current *telemetry.Normalized
	rows    *sql.Rows
	err     error
}

func (tr *SqliteTrackReader) init(ctx context.Context) (err error) {
	if tr.db == nil {
		return errors.New("database connection required")
	}
	if tr.droneID == "" {
		return errors.New("drone ID required")
	}

	from, to := int64(math.MinInt64), int64(math.MaxInt64)
	if tr.startTime != nil {
		from = tr.startTime.UnixMilli()
	}
	if tr.endTime != nil {
		to = tr.endTime.UnixMilli()
	}
	if from > to {
		return fmt.Errorf("start time %s is after end time %s", tr.startTime, tr.endTime)
	}

	if tr.rows, err = tr.db.QueryContext(ctx, selectTrackSQL, tr.droneID, from, to); err != nil {
		return fmt.Errorf("querying track: %w", err)
	}
	return nil
}

func (tr *SqliteTrackReader) DroneID() string {
	return tr.droneID
}

func (tr *SqliteTrackReader) Next(ctx context.Context) bool {
	if tr.err != nil || tr.rows == nil {
		return false
	}

	select {
	case <-ctx.Done():
		tr.err = ctx.Err()
		return false
	default:
	}

	if !tr.rows.Next() {
		tr.current = nil
		return false
	}

	if tr.current, tr.err = scanTelemetry(tr.rows); tr.err != nil {
		tr.err = fmt.Errorf("scanning sample: %w", tr.err)
		return false
	}
	return true
}

func (tr *SqliteTrackReader) Current() *telemetry.Normalized {
	return tr.current
}

func (tr *SqliteTrackReader) Error() error {
	if tr.err != nil {
		return tr.err
	}
	if tr.rows != nil {
		return tr.rows.Err()
	}
	return nil
}

func (tr *SqliteTrackReader) Close() error {
	if tr.rows != nil {
		err := tr.rows.Close()
		tr.current = nil
		tr.rows = nil
		return err
	}
	return nil
}
