package flight

import (
	"fmt"
	"time"
)

const (
	StatusIdle     Status = "idle"
	StatusInFlight Status = "in_flight"
	StatusOffline  Status = "offline"
	StatusOnline   Status = "online"
	StatusAlert    Status = "alert"
)

var validStatuses = map[Status]struct{}{
	StatusIdle:     {},
	StatusInFlight: {},
	StatusOffline:  {},
	StatusOnline:   {},
	StatusAlert:    {},
}

// Status is the operational state of a drone
type Status string

func (s Status) String() string {
	return string(s)
}

// Validate returns an error when s is not a known status
func (s Status) Validate() error {
	if _, ok := validStatuses[s]; !ok {
		return fmt.Errorf("invalid drone status: '%s'", s)
	}
	return nil
}

// Drone is a tracked unit known to the registry
type Drone struct {
	ID        string    `json:"id"`        // Unit identifier as reported in telemetry
	Name      string    `json:"name"`      // Human-readable name
	Status    Status    `json:"status"`    // Operational state
	CreatedAt time.Time `json:"createdAt"` // When the drone was first registered
	UpdatedAt time.Time `json:"updatedAt"` // When the drone record last changed
}

// DefaultName is the name given to drones registered implicitly by telemetry
func DefaultName(droneID string) string {
	return fmt.Sprintf("Drone-%s", droneID)
}

// Session is a single flight of a drone. A new session resets the drone's
// home point.
type Session struct {
	ID        int64      `json:"id"`
	DroneID   string     `json:"droneId"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"` // Nil while the flight is ongoing
	CreatedAt time.Time  `json:"createdAt"`
}

// Active reports whether the session has not ended yet
func (s *Session) Active() bool {
	return s.EndTime == nil
}
