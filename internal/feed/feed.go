// Package feed runs external telemetry producers. A producer is a process
// writing one JSON telemetry sample per line to stdout; every line is
// ingested as if it had arrived over the network.
package feed

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/roman-kulish/drone-tracker/internal/telemetry"
)

const (
	// ParseErrorsThreshold defines the number of consecutive rejected lines allowed
	ParseErrorsThreshold = 5

	maxLineLength = 1 << 20
)

var (
	// ErrTooManyParseErrors is returned when the number of consecutive rejected lines exceeds the threshold
	ErrTooManyParseErrors = errors.New("too many consecutive parse errors")

	// ErrBrokenPipe is returned when there's an error reading from stdout or stderr
	ErrBrokenPipe = errors.New("broken pipe")
)

// Ingester accepts raw telemetry payloads
type Ingester interface {
	IngestBytes(ctx context.Context, payload []byte, origin string) (*telemetry.Normalized, error)
}

// WithLogger sets the logger for the feed
func WithLogger(logger *slog.Logger) func(f *Feed) {
	return func(f *Feed) {
		f.logger = logger.With(
			slog.String("component", "feed"),
			slog.String("feed", f.name),
		)
	}
}

// WithParseErrorsThreshold sets the threshold for consecutive rejected lines
func WithParseErrorsThreshold(threshold uint8) func(f *Feed) {
	return func(f *Feed) {
		if threshold > 0 {
			f.parseErrorsThreshold = threshold
		}
	}
}

// Feed is a telemetry producer process that can be started and stopped
type Feed struct {
	name     string
	path     string
	args     []string
	ingester Ingester

	isRunning atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	ingested             atomic.Uint64
	parseErrorsThreshold uint8
	logger               *slog.Logger
}

// New creates a new Feed for the producer described by config
func New(config *Config, ingester Ingester, options ...func(f *Feed)) (*Feed, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	path, err := FindRuntime(config.Command)
	if err != nil {
		return nil, fmt.Errorf("feed '%s': %w", config.Name, err)
	}

	f := Feed{
		name:                 config.Name,
		path:                 path,
		args:                 config.Args,
		ingester:             ingester,
		logger:               slog.New(slog.NewTextHandler(io.Discard, nil)),
		parseErrorsThreshold: ParseErrorsThreshold,
	}

	for _, option := range options {
		option(&f)
	}
	if config.ParseErrorsThreshold > 0 {
		f.parseErrorsThreshold = config.ParseErrorsThreshold
	}

	return &f, nil
}

// Name returns the feed name
func (f *Feed) Name() string {
	return f.name
}

// Ingested returns the number of samples accepted from the feed so far
func (f *Feed) Ingested() uint64 {
	return f.ingested.Load()
}

// Start runs the producer and ingests its output until it exits, fails or
// ctx is cancelled. The returned channel receives the reason the feed
// stopped, if it stopped on an error, and is closed afterwards.
func (f *Feed) Start(ctx context.Context) (<-chan error, error) {
	if !f.isRunning.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("feed is already running")
	}

	ctx, f.cancel = context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, f.path, f.args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		f.isRunning.Store(false) // Reset running state on error
		return nil, fmt.Errorf("error creating stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		f.isRunning.Store(false) // Reset running state on error
		return nil, fmt.Errorf("error creating stderr pipe: %w", err)
	}

	if err = cmd.Start(); err != nil {
		f.isRunning.Store(false) // Reset running state on error
		return nil, fmt.Errorf("error starting command: %w", err)
	}

	stopped := make(chan error, 1)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer close(stopped)

		f.logger.Info("starting telemetry feed...")

		// stdout and stderr are drained before Wait closes the pipes
		done := make(chan error, 2)
		go f.handleStdout(ctx, stdout, done)
		go f.handleStderr(stderr, done)

		var errs []error
		for range cap(done) {
			if err := <-done; err != nil {
				f.cancel() // stops the process
				f.logger.Error(err.Error())
				errs = append(errs, err)
			}
		}
		if err := f.handleCmdWait(ctx, cmd); err != nil {
			f.logger.Error(err.Error())
			errs = append(errs, err)
		}

		f.logger.Info("telemetry feed stopped", slog.Uint64("ingested", f.ingested.Load()))
		f.isRunning.Store(false)

		if len(errs) > 0 {
			stopped <- errors.Join(errs...)
		}
	}()

	return stopped, nil
}

// Stop terminates the producer and waits for the feed to finish
func (f *Feed) Stop() {
	if !f.isRunning.Load() {
		return // already stopped
	}

	f.cancel()
	f.wg.Wait()
}

// IsRunning returns true if the producer is running
func (f *Feed) IsRunning() bool {
	return f.isRunning.Load()
}

// handleStdout reads from stdout and ingests every line.
func (f *Feed) handleStdout(ctx context.Context, stdout io.Reader, done chan<- error) {
	var parseErrors uint8

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineLength)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if _, err := f.ingester.IngestBytes(ctx, []byte(line), ""); err != nil {
			if !errors.Is(err, telemetry.ErrValidation) {
				f.logger.Error(fmt.Sprintf("error ingesting sample: %s", err.Error()))
				continue
			}

			parseErrors++
			f.logger.Warn(fmt.Sprintf("error parsing sample: %s", err.Error()), slog.String("line", line))

			if parseErrors >= f.parseErrorsThreshold {
				done <- ErrTooManyParseErrors
				return
			}

			continue
		}

		f.ingested.Add(1)
		parseErrors = 0 // reset counter
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, fs.ErrClosed) {
		done <- fmt.Errorf("%w: error reading stdout: %w", ErrBrokenPipe, err)
		return
	}

	done <- nil
}

// handleStderr reads from stderr and logs every line.
func (f *Feed) handleStderr(stderr io.Reader, done chan<- error) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		f.logger.Warn(fmt.Sprintf("%s >> %s", f.name, line))
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, fs.ErrClosed) {
		done <- fmt.Errorf("%w: error reading stderr: %w", ErrBrokenPipe, err)
		return
	}

	done <- nil
}

// handleCmdWait waits for the command to exit. Exits caused by cancellation
// are not errors.
func (f *Feed) handleCmdWait(ctx context.Context, cmd *exec.Cmd) error {
	if err := cmd.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("command exited with error: %w", err)
	}
	return nil
}
