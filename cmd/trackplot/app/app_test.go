package app

import (
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/drone-tracker/internal/storage"
	"github.com/roman-kulish/drone-tracker/internal/telemetry"
)

func normalized(droneID string, ts int64, lat, lon, relAlt float64) *telemetry.Normalized {
	return &telemetry.Normalized{
		DroneID:          droneID,
		Latitude:         lat,
		Longitude:        lon,
		AbsoluteAltitude: 100 + relAlt,
		RelativeAltitude: relAlt,
		HomeAltitude:     100,
		HomeLatitude:     41.0,
		HomeLongitude:    29.0,
		CalculatedSpeed:  relAlt / 2,
		Battery:          1,
		Timestamp:        ts,
	}
}

// seedDatabase writes a square flight of drone D1 at one sample per second
// and returns the database path and the session covering its second half
func seedDatabase(t *testing.T) (string, int64) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tracker.db")
	store := storage.NewSqliteStore(path)
	require.NoError(t, store.Init())
	defer store.Close()

	ctx := t.Context()
	_, err := store.EnsureDrone(ctx, "D1")
	require.NoError(t, err)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := range 20 {
		lat := 41.0 + float64(i%10)*0.0002
		lon := 29.0 + float64(i/10)*0.0004
		ts := base.Add(time.Duration(i) * time.Second).UnixMilli()
		require.NoError(t, store.AppendSample(ctx, normalized("D1", ts, lat, lon, float64(i*5))))
	}
	require.NoError(t, store.AppendSample(ctx, normalized("D2", base.UnixMilli(), 40, 28, 0)))

	session, err := store.StartSession(ctx, "D1", base.Add(10*time.Second))
	require.NoError(t, err)
	_, err = store.EndSession(ctx, session.ID, base.Add(15*time.Second))
	require.NoError(t, err)

	return path, session.ID
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun_RendersPNG(t *testing.T) {
	dbPath, _ := seedDatabase(t)

	config := NewConfig()
	config.DBPath = dbPath
	config.DroneID = "D1"
	config.Size = minSize
	config.TimeZone = time.UTC
	config.OutputFile = filepath.Join(t.TempDir(), "track.png")

	require.NoError(t, Run(t.Context(), config, discard()))

	f, err := os.Open(config.OutputFile)
	require.NoError(t, err)
	defer f.Close()

	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, minSize+defaultLeftBorder+defaultRightBorder, img.Bounds().Dx())
	assert.Equal(t, minSize+defaultTopBorder+defaultBottomBorder, img.Bounds().Dy())
}

func TestRun_JPEG(t *testing.T) {
	dbPath, _ := seedDatabase(t)

	config := NewConfig()
	config.DBPath = dbPath
	config.DroneID = "D1"
	config.Size = minSize
	config.Format = ImageJPEG
	config.NoAnnotations = true
	config.OutputFile = filepath.Join(t.TempDir(), "track.jpeg")

	require.NoError(t, Run(t.Context(), config, discard()))

	stat, err := os.Stat(config.OutputFile)
	require.NoError(t, err)
	assert.Positive(t, stat.Size())
}

func TestReadTrack_Session(t *testing.T) {
	dbPath, sessionID := seedDatabase(t)

	store := storage.NewSqliteStore(dbPath)
	t.Cleanup(func() { _ = store.Close() })

	config := NewConfig()
	config.SessionID = sessionID

	track, err := readTrack(t.Context(), store, config, discard())
	require.NoError(t, err)
	assert.Equal(t, "D1", track.DroneID)
	assert.Equal(t, 6, track.Len()) // seconds 10 to 15 inclusive
	assert.Equal(t, 50.0, track.MinAltitude)
	assert.Equal(t, 75.0, track.MaxAltitude)

	config.DroneID = "D2"
	_, err = readTrack(t.Context(), store, config, discard())
	assert.Error(t, err)
}

func TestReadTrack_TimeRange(t *testing.T) {
	dbPath, _ := seedDatabase(t)

	store := storage.NewSqliteStore(dbPath)
	t.Cleanup(func() { _ = store.Close() })

	from := time.Date(2024, 5, 1, 12, 0, 5, 0, time.UTC)
	config := NewConfig()
	config.DroneID = "D1"
	config.MinTimestamp = &from

	track, err := readTrack(t.Context(), store, config, discard())
	require.NoError(t, err)
	assert.Equal(t, 15, track.Len())
	assert.Equal(t, from, track.TimestampStart)
}

func TestRun_Errors(t *testing.T) {
	config := NewConfig()
	config.DBPath = filepath.Join(t.TempDir(), "missing.db")
	config.DroneID = "D1"
	assert.Error(t, Run(t.Context(), config, discard()))

	dbPath, _ := seedDatabase(t)
	config.DBPath = dbPath
	config.DroneID = "nobody"
	config.OutputFile = filepath.Join(t.TempDir(), "track.png")
	assert.Error(t, Run(t.Context(), config, discard()))
}
