package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/drone-tracker/internal/storage"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	track, err := readTrack(ctx, store, config, logger)
	if err != nil {
		return err
	}
	if track.Len() == 0 {
		return fmt.Errorf("no samples found for drone '%s'", track.DroneID)
	}

	logger.Info("finished reading track",
		slog.Group("stats",
			slog.String("points", humanize.Comma(int64(track.Len()))),
			slog.String("start", track.TimestampStart.In(config.TimeZone).Format(time.DateTime)),
			slog.String("end", track.TimestampEnd.In(config.TimeZone).Format(time.DateTime)),
			slog.String("distance", formatDistance(track.Distance)),
			slog.String("maxAltitude", formatAltitude(track.MaxAltitude)),
			slog.String("maxSpeed", fmt.Sprintf("%0.1fkm/h", track.MaxSpeed)),
		))

	renderer, err := NewTrackRenderer(RenderConfig{
		Size:          config.Size,
		Location:      config.TimeZone,
		ColorTheme:    config.Theme,
		NoAnnotations: config.NoAnnotations,
	})
	if err != nil {
		return fmt.Errorf("creating track renderer: %w", err)
	}

	logger.Info("rendering track",
		slog.Group("image",
			slog.String("destination", config.OutputFile),
			slog.String("format", string(config.Format)),
			slog.String("theme", string(config.Theme)),
			slog.Int("size", config.Size),
		))

	img, err := renderer.Render(track)
	if err != nil {
		return fmt.Errorf("rendering track: %w", err)
	}

	return writeImage(config.OutputFile, config.Format, img)
}

// readTrack resolves the drone and time range, from the flight session
// when one is given, and reads the matching samples
func readTrack(ctx context.Context, store *storage.SqliteStore, config *Config, logger *slog.Logger) (*TrackData, error) {
	droneID := config.DroneID
	start, end := config.MinTimestamp, config.MaxTimestamp

	if config.SessionID > 0 {
		session, err := store.Session(ctx, config.SessionID)
		if err != nil {
			return nil, fmt.Errorf("reading flight session: %w", err)
		}
		if droneID != "" && droneID != session.DroneID {
			return nil, fmt.Errorf("flight session %d belongs to drone '%s', not '%s'", session.ID, session.DroneID, droneID)
		}

		droneID = session.DroneID
		if start == nil || start.Before(session.StartTime) {
			start = &session.StartTime
		}
		if session.EndTime != nil && (end == nil || end.After(*session.EndTime)) {
			end = session.EndTime
		}
	}

	var opts []storage.ReaderOption
	filters := []any{slog.String("drone", droneID)}
	switch {
	case start != nil && end != nil:
		opts = append(opts, storage.WithTimeRange(start.UTC(), end.UTC()))

		filters = append(filters,
			slog.String("minTimestamp", start.UTC().Format(time.DateTime)),
			slog.String("maxTimestamp", end.UTC().Format(time.DateTime)))

	case start != nil:
		opts = append(opts, storage.WithStartTime(start.UTC()))
		filters = append(filters, slog.String("minTimestamp", start.UTC().Format(time.DateTime)))

	case end != nil:
		opts = append(opts, storage.WithEndTime(end.UTC()))
		filters = append(filters, slog.String("maxTimestamp", end.UTC().Format(time.DateTime)))
	}

	logger.Info("iterator configuration", filters...)

	iter, err := store.ReadTrack(ctx, droneID, opts...)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	track := NewTrackData(droneID)
	for iter.Next(ctx) {
		track.Update(iter.Current())
	}
	if err = iter.Error(); err != nil {
		return nil, err
	}
	return track, nil
}

func writeImage(path string, format ImageFormat, img image.Image) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, out.Close())
	}()

	switch format {
	case ImageJPEG:
		return jpeg.Encode(out, img, &jpeg.Options{
			Quality: 98,
		})

	default:
		return png.Encode(out, img)
	}
}
