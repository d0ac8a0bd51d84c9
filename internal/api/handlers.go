package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/roman-kulish/drone-tracker/internal/flight"
	"github.com/roman-kulish/drone-tracker/internal/telemetry"
)

const (
	defaultTelemetryLimit = 100
	maxTelemetryLimit     = 500
	defaultSessionsLimit  = 50
	maxSessionsLimit      = 200

	maxBodyLength = 1 << 20
)

// limit parses the limit query parameter. Missing, non-numeric and
// non-positive values use def, larger values are capped at upper.
func limit(r *http.Request, def, upper int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, upper)
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyLength)).Decode(v); err != nil {
		return badRequest(fmt.Sprintf("invalid request body: %s", err.Error()))
	}
	return nil
}

func (rt *Router) listDrones(w http.ResponseWriter, r *http.Request) {
	drones, err := rt.store.Drones(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if drones == nil {
		drones = []*flight.Drone{}
	}
	rt.writeJSON(w, http.StatusOK, drones)
}

type upsertDroneRequest struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Status flight.Status `json:"status"`
}

func (rt *Router) upsertDrone(w http.ResponseWriter, r *http.Request) {
	var req upsertDroneRequest
	if err := decodeBody(r, &req); err != nil {
		rt.writeError(w, r, err)
		return
	}
	if req.ID == "" || req.Name == "" {
		rt.writeError(w, r, badRequest("id and name are required"))
		return
	}
	if req.Status == "" {
		req.Status = flight.StatusIdle
	}
	if err := req.Status.Validate(); err != nil {
		rt.writeError(w, r, badRequest(err.Error()))
		return
	}

	drone, err := rt.store.UpsertDrone(r.Context(), req.ID, req.Name, req.Status)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	rt.writeJSON(w, http.StatusCreated, drone)
}

func (rt *Router) listTelemetry(w http.ResponseWriter, r *http.Request) {
	droneID := r.URL.Query().Get("droneId")
	if droneID == "" {
		rt.writeError(w, r, badRequest("droneId is required"))
		return
	}

	samples, err := rt.store.LatestSamples(r.Context(), droneID, limit(r, defaultTelemetryLimit, maxTelemetryLimit))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if samples == nil {
		samples = []*telemetry.Normalized{}
	}
	rt.writeJSON(w, http.StatusOK, samples)
}

func (rt *Router) ingestTelemetry(w http.ResponseWriter, r *http.Request) {
	raw, err := telemetry.Decode(io.LimitReader(r.Body, maxBodyLength))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	if _, err = rt.ingester.Ingest(r.Context(), raw, ""); err != nil {
		rt.writeError(w, r, err)
		return
	}
	rt.writeJSON(w, http.StatusCreated, map[string]bool{"ok": true})
}

type startSessionRequest struct {
	DroneID   string          `json:"droneId"`
	StartTime json.RawMessage `json:"startTime"`
}

// parseTime accepts epoch milliseconds or an RFC 3339 string
func parseTime(raw json.RawMessage) (time.Time, bool, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return time.Time{}, false, nil
	}

	var ms float64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(int64(ms)).UTC(), true, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return time.Time{}, false, fmt.Errorf("invalid startTime")
	}
	t, err := time.Parse(time.RFC3339Nano, text)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid startTime: %s", text)
	}
	return t.UTC(), true, nil
}

// startSession opens a flight session. The drone's derivation state is
// reset so the first sample of the flight becomes the new home point.
func (rt *Router) startSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeBody(r, &req); err != nil {
		rt.writeError(w, r, err)
		return
	}
	if req.DroneID == "" {
		rt.writeError(w, r, badRequest("droneId is required"))
		return
	}

	start, ok, err := parseTime(req.StartTime)
	if err != nil {
		rt.writeError(w, r, badRequest(err.Error()))
		return
	}
	if !ok {
		start = rt.now().UTC()
	}

	session, err := rt.store.StartSession(r.Context(), req.DroneID, start)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	rt.ingester.ResetUnit(req.DroneID)

	rt.writeJSON(w, http.StatusCreated, session)
}

func (rt *Router) endSession(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		rt.writeError(w, r, badRequest("invalid session id"))
		return
	}

	session, err := rt.store.EndSession(r.Context(), id, rt.now().UTC())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, session)
}

func (rt *Router) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := rt.store.Sessions(r.Context(), r.URL.Query().Get("droneId"), limit(r, defaultSessionsLimit, maxSessionsLimit))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []*flight.Session{}
	}
	rt.writeJSON(w, http.StatusOK, sessions)
}
