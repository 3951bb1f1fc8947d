package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/star/orrery/internal/ephemeris"
	"github.com/star/orrery/internal/orbit"
	"github.com/star/orrery/internal/sim"
	"github.com/star/orrery/internal/tle"
	"github.com/star/orrery/internal/tracker"
	"github.com/star/orrery/internal/transform"
)

const maxTLEBody = 4096

type bodyResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type bodyStateResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name,omitempty"`
	JD         float64    `json:"jd"`
	Time       time.Time  `json:"time"`
	Source     string     `json:"source"`
	PositionAU [3]float64 `json:"position_au"`
	VelocityAU [3]float64 `json:"velocity_au_per_day"`
	DistanceAU float64    `json:"distance_au"`
	Regime     string     `json:"regime"`
	Converged  bool       `json:"converged"`
}

type trailResponse struct {
	NORADID int                  `json:"norad_id"`
	Tracked bool                 `json:"tracked"`
	Points  []tracker.TrailPoint `json:"points"`
}

type crossingResponse struct {
	NORADID      int               `json:"norad_id"`
	Found        bool              `json:"found"`
	SearchedFrom time.Time         `json:"searched_from"`
	Crossing     *tracker.Crossing `json:"crossing,omitempty"`
}

type addSatelliteRequest struct {
	Name  string `json:"name"`
	Line1 string `json:"line1"`
	Line2 string `json:"line2"`
}

func bodiesHandler(catalog BodyCatalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := []bodyResponse{}
		if catalog != nil {
			for _, id := range catalog.Bodies() {
				name, _ := catalog.Name(id)
				out = append(out, bodyResponse{ID: id, Name: name})
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "bodies": out})
	}
}

// bodyStateHandler answers GET /api/v1/bodies/{id}/state?jd=2461077.5 or
// ?time=2026-02-06T00:00:00Z. Without either the current simulated time is used.
func bodyStateHandler(logger *slog.Logger, states BodyStates, catalog BodyCatalog, clock *sim.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		jd, err := requestJD(r, clock)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if states == nil {
			writeError(w, http.StatusServiceUnavailable, "ephemeris not configured")
			return
		}

		st, err := states.Get(id, jd)
		if err != nil {
			var degenerate *orbit.DegenerateOrbitError
			switch {
			case errors.Is(err, ephemeris.ErrUnknownBody):
				writeError(w, http.StatusNotFound, err.Error())
			case errors.As(err, &degenerate):
				writeError(w, http.StatusUnprocessableEntity, err.Error())
			default:
				logger.Error("body state failed", "component", "api", "body_id", id, "jd", jd, "error", err)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
			return
		}

		resp := bodyStateResponse{
			ID:         id,
			JD:         jd,
			Time:       transform.TimeFromJD(jd),
			Source:     string(st.Source),
			PositionAU: st.Position,
			VelocityAU: st.Velocity,
			DistanceAU: st.Position.Norm(),
			Regime:     st.Regime.String(),
			Converged:  st.Converged,
		}
		if catalog != nil {
			resp.Name, _ = catalog.Name(id)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func requestJD(r *http.Request, clock *sim.Clock) (float64, error) {
	q := r.URL.Query()
	if v := q.Get("jd"); v != "" {
		jd, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(jd) || math.IsInf(jd, 0) {
			return 0, fmt.Errorf("invalid jd %q", v)
		}
		return jd, nil
	}
	if v := q.Get("time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return 0, fmt.Errorf("invalid time %q: want RFC 3339", v)
		}
		return transform.JulianDate(t), nil
	}
	if clock != nil {
		return clock.JD(), nil
	}
	return transform.JulianDate(time.Now()), nil
}

func simNow(clock *sim.Clock) time.Time {
	if clock != nil {
		return clock.Now()
	}
	return time.Now().UTC()
}

func satellitesHandler(t *tracker.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sats := t.Snapshot()
		writeJSON(w, http.StatusOK, map[string]any{
			"count":      len(sats),
			"tracked":    t.Tracked(),
			"satellites": sats,
		})
	}
}

func satelliteHandler(t *tracker.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := noradID(w, r)
		if !ok {
			return
		}
		st, found := t.Get(id)
		if !found {
			writeError(w, http.StatusNotFound, fmt.Sprintf("satellite %d not in catalog", id))
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func addSatelliteHandler(logger *slog.Logger, t *tracker.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addSatelliteRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTLEBody)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		entry, err := tle.ParseEntry(req.Name, req.Line1, req.Line2)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := t.Add(entry); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		logger.Info("satellite added", "component", "api", "norad_id", entry.NORADID, "name", entry.Name)

		st, _ := t.Get(entry.NORADID)
		writeJSON(w, http.StatusCreated, st)
	}
}

func removeSatelliteHandler(logger *slog.Logger, t *tracker.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := noradID(w, r)
		if !ok {
			return
		}
		if !t.Remove(id) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("satellite %d not in catalog", id))
			return
		}
		logger.Info("satellite removed", "component", "api", "norad_id", id)
		w.WriteHeader(http.StatusNoContent)
	}
}

func trailHandler(t *tracker.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := noradID(w, r)
		if !ok {
			return
		}
		if _, found := t.Get(id); !found {
			writeError(w, http.StatusNotFound, fmt.Sprintf("satellite %d not in catalog", id))
			return
		}
		resp := trailResponse{NORADID: id, Points: []tracker.TrailPoint{}}
		if tracked, points := t.Trail(); tracked == id {
			resp.Tracked = true
			if points != nil {
				resp.Points = points
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func crossingHandler(logger *slog.Logger, t *tracker.Tracker, clock *sim.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := noradID(w, r)
		if !ok {
			return
		}
		from := simNow(clock)
		c, found, err := t.Crossing(id, from)
		if err != nil {
			if errors.Is(err, tracker.ErrUnknownSatellite) {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			logger.Error("crossing prediction failed", "component", "api", "norad_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		resp := crossingResponse{NORADID: id, Found: found, SearchedFrom: from}
		if found {
			resp.Crossing = &c
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func trackHandler(t *tracker.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := noradID(w, r)
		if !ok {
			return
		}
		if err := t.SetTracked(id); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"tracked": id})
	}
}

func untrackHandler(t *tracker.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t.SetTracked(0)
		w.WriteHeader(http.StatusNoContent)
	}
}

// noradID parses the {norad_id} path value, writing a 400 when it is invalid.
func noradID(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.PathValue("norad_id")
	id, err := strconv.Atoi(v)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid NORAD ID %q", v))
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
