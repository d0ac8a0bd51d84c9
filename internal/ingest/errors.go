package ingest

import (
	"errors"
	"fmt"
)

// ErrPersistence matches every *PersistenceError with errors.Is
var ErrPersistence = errors.New("persisting telemetry")

// PersistenceError reports a failed durable write of an already published
// sample.
type PersistenceError struct {
	DroneID   string
	Timestamp int64
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s for drone '%s' at %d: %s", ErrPersistence.Error(), e.DroneID, e.Timestamp, e.Err)
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
