package app

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	ImagePNG  = "png"
	ImageJPEG = "jpeg"

	defaultSize = 1024
	minSize     = 256
)

type ImageFormat string

type Config struct {
	DBPath        string
	DroneID       string
	SessionID     int64
	OutputFile    string
	Format        ImageFormat
	Size          int
	Theme         ColorTheme
	TimeZone      *time.Location
	MinTimestamp  *time.Time
	MaxTimestamp  *time.Time
	NoAnnotations bool
}

var validImageFormats = map[ImageFormat]struct{}{
	ImagePNG:  {},
	ImageJPEG: {},
}

func NewConfig() *Config {
	return &Config{
		Format:   ImagePNG,
		Size:     defaultSize,
		Theme:    ClassicTheme,
		TimeZone: time.Local,
	}
}

// NewConfigFromCLI parses the process command line
func NewConfigFromCLI(args []string, output io.Writer) (*Config, error) {
	c := NewConfig()

	fs := flag.NewFlagSet("trackplot", flag.ContinueOnError)
	fs.SetOutput(output)

	var imageFormat, theme, timeZone, from, to string
	fs.StringVar(&c.DBPath, "db", "", "Path to the database file")
	fs.StringVar(&c.DroneID, "d", "", "Drone ID")
	fs.Int64Var(&c.SessionID, "s", 0, "Flight session ID, limits the track to the session time range")
	fs.StringVar(&c.OutputFile, "o", "", "Path to the output file, without extension")
	fs.StringVar(&imageFormat, "f", string(ImagePNG), "Output image format. [png, jpeg]")
	fs.IntVar(&c.Size, "size", defaultSize, "Width and height of the plot area in pixels")
	fs.StringVar(&theme, "theme", string(ClassicTheme), "Altitude colour theme. [classic, thermal, marine]")
	fs.StringVar(&timeZone, "tz", "Local", "Time zone of the time labels, e.g. Europe/Istanbul")
	fs.StringVar(&from, "from", "", "Exclude samples before this time (RFC3339)")
	fs.StringVar(&to, "to", "", "Exclude samples after this time (RFC3339)")
	fs.BoolVar(&c.NoAnnotations, "no-annotations", false, "Disable annotations such as the scale and the information bar")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	imageFormat = strings.ToLower(imageFormat)

	var err error
	switch {
	case c.DBPath == "":
		err = errors.New("db path is required")
	case c.DroneID == "" && c.SessionID <= 0:
		err = errors.New("drone id or session id is required")
	case c.OutputFile == "":
		err = errors.New("output file is required")
	case c.Size < minSize:
		err = fmt.Errorf("size must be at least %d pixels", minSize)
	}
	if err == nil {
		if _, ok := validImageFormats[ImageFormat(imageFormat)]; !ok {
			err = fmt.Errorf("invalid image format: %s", imageFormat)
		} else if _, ok = themes[ColorTheme(theme)]; !ok {
			err = fmt.Errorf("invalid theme: %s", theme)
		}
	}
	if err == nil {
		c.TimeZone, err = time.LoadLocation(timeZone)
	}
	if err == nil && from != "" {
		c.MinTimestamp, err = parseTime(from)
	}
	if err == nil && to != "" {
		c.MaxTimestamp, err = parseTime(to)
	}
	if err == nil && c.MinTimestamp != nil && c.MaxTimestamp != nil && c.MaxTimestamp.Before(*c.MinTimestamp) {
		err = errors.New("end time is before start time")
	}

	if err != nil {
		fs.Usage()
		return nil, err
	}

	c.Format = ImageFormat(imageFormat)
	c.Theme = ColorTheme(theme)
	c.OutputFile = fmt.Sprintf("%s.%s", c.OutputFile, c.Format)
	return c, nil
}

func parseTime(s string) (*time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid time '%s': %w", s, err)
	}
	t = t.UTC()
	return &t, nil
}
