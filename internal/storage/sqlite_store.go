package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roman-kulish/drone-tracker/internal/flight"
	"github.com/roman-kulish/drone-tracker/internal/telemetry"
)

const (
	// DefaultSamplesLimit is used when a non-positive limit is requested
	DefaultSamplesLimit = 100

	// DefaultSessionsLimit is used when a non-positive limit is requested
	DefaultSessionsLimit = 50
)

var _ Store = (*SqliteStore)(nil)

// SqliteStore handles database operations
type SqliteStore struct {
	dbPath string
	now    func() time.Time

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewSqliteStore creates a new store backed by the Sqlite database at dbPath.
// Connections are opened lazily; the write connection initializes the schema.
func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath, now: time.Now}
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

// Init opens the write connection and creates the schema. Read-only users
// of an existing database do not need to call it.
func (s *SqliteStore) Init() error {
	_, err := s.getWriteDB()
	return err
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}
		db.SetMaxOpenConns(1)

		if err = runSQLCommand(db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro&_busy_timeout=5000"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

func (s *SqliteStore) EnsureDrone(ctx context.Context, droneID string) (drone *flight.Drone, err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return nil, fmt.Errorf("getting write connection: %w", err)
	}

	now := s.now().UTC()
	if _, err = db.ExecContext(ctx, insertDroneIfAbsentSQL, droneID, flight.DefaultName(droneID), string(flight.StatusInFlight), now, now); err != nil {
		return nil, fmt.Errorf("inserting drone: %w", err)
	}

	if drone, err = scanDrone(db.QueryRowContext(ctx, selectDroneSQL, droneID)); err != nil {
		return nil, fmt.Errorf("scanning drone: %w", err)
	}
	return drone, nil
}

func (s *SqliteStore) UpsertDrone(ctx context.Context, droneID, name string, status flight.Status) (drone *flight.Drone, err error) {
	if err = status.Validate(); err != nil {
		return nil, err
	}

	db, err := s.getWriteDB()
	if err != nil {
		return nil, fmt.Errorf("getting write connection: %w", err)
	}

	now := s.now().UTC()
	if _, err = db.ExecContext(ctx, upsertDroneSQL, droneID, name, string(status), now, now); err != nil {
		return nil, fmt.Errorf("upserting drone: %w", err)
	}

	if drone, err = scanDrone(db.QueryRowContext(ctx, selectDroneSQL, droneID)); err != nil {
		return nil, fmt.Errorf("scanning drone: %w", err)
	}
	return drone, nil
}

func (s *SqliteStore) Drone(ctx context.Context, droneID string) (drone *flight.Drone, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	drone, err = scanDrone(db.QueryRowContext(ctx, selectDroneSQL, droneID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("drone '%s': %w", droneID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning drone: %w", err)
	}
	return drone, nil
}

func (s *SqliteStore) Drones(ctx context.Context) (drones []*flight.Drone, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectDronesSQL)
	if err != nil {
		err = fmt.Errorf("querying drones: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var drone *flight.Drone
		if drone, err = scanDrone(rows); err != nil {
			err = fmt.Errorf("scanning drone: %w", err)
			return
		}
		drones = append(drones, drone)
	}
	err = rows.Err()
	return
}

func (s *SqliteStore) AppendSample(ctx context.Context, sample *telemetry.Normalized) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, insertTelemetrySQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	data := toTelemetryData(sample)

	_, err = stmt.ExecContext(
		ctx,
		data.DroneID,
		data.Timestamp,
		data.Latitude,
		data.Longitude,
		data.Altitude,
		data.AbsoluteAltitude,
		data.RelativeAltitude,
		data.HomeAltitude,
		data.HomeLatitude,
		data.HomeLongitude,
		data.Speed,
		data.CalculatedSpeed,
		data.Heading,
		data.Battery,
	)
	if err != nil {
		return fmt.Errorf("inserting telemetry: %w", err)
	}
	return nil
}

func (s *SqliteStore) LatestSamples(ctx context.Context, droneID string, limit int) (samples []*telemetry.Normalized, err error) {
	if limit <= 0 {
		limit = DefaultSamplesLimit
	}

	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectLatestTelemetrySQL, droneID, limit)
	if err != nil {
		err = fmt.Errorf("querying telemetry: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var sample *telemetry.Normalized
		if sample, err = scanTelemetry(rows); err != nil {
			err = fmt.Errorf("scanning telemetry: %w", err)
			return
		}
		samples = append(samples, sample)
	}
	err = rows.Err()
	return
}

// ReadTrack creates a new SqliteTrackReader over a drone's persisted samples
// in time order.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - droneID: Drone whose track is read
//   - opts: Optional time filters (WithStartTime, WithEndTime, WithTimeRange)
//
// The returned reader must be closed after use to release database resources.
func (s *SqliteStore) ReadTrack(ctx context.Context, droneID string, opts ...ReaderOption) (*SqliteTrackReader, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}
	return newSqliteTrackReader(ctx, db, droneID, opts...)
}

func (s *SqliteStore) StartSession(ctx context.Context, droneID string, start time.Time) (session *flight.Session, err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return nil, fmt.Errorf("getting write connection: %w", err)
	}

	result, err := db.ExecContext(ctx, insertSessionSQL, droneID, start.UTC(), s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("inserting session: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting session ID: %w", err)
	}

	if session, err = scanSession(db.QueryRowContext(ctx, selectSessionSQL, id)); err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	return session, nil
}

func (s *SqliteStore) EndSession(ctx context.Context, id int64, end time.Time) (session *flight.Session, err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return nil, fmt.Errorf("getting write connection: %w", err)
	}

	if _, err = db.ExecContext(ctx, endSessionSQL, end.UTC(), id); err != nil {
		return nil, fmt.Errorf("ending session: %w", err)
	}

	session, err = scanSession(db.QueryRowContext(ctx, selectSessionSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	return session, nil
}

func (s *SqliteStore) Session(ctx context.Context, id int64) (session *flight.Session, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	session, err = scanSession(db.QueryRowContext(ctx, selectSessionSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	return session, nil
}

func (s *SqliteStore) Sessions(ctx context.Context, droneID string, limit int) (sessions []*flight.Session, err error) {
	if limit <= 0 {
		limit = DefaultSessionsLimit
	}

	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	var rows *sql.Rows
	if droneID != "" {
		rows, err = db.QueryContext(ctx, selectDroneSessionsSQL, droneID, limit)
	} else {
		rows, err = db.QueryContext(ctx, selectSessionsSQL, limit)
	}
	if err != nil {
		err = fmt.Errorf("querying sessions: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var sess *flight.Session
		if sess, err = scanSession(rows); err != nil {
			err = fmt.Errorf("scanning session: %w", err)
			return
		}
		sessions = append(sessions, sess)
	}
	err = rows.Err()
	return
}

func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		s.closeErr = errors.Join(writeErr, readErr)
	})

	return s.closeErr
}
