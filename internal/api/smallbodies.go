package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/star/orrery/internal/elements"
	"github.com/star/orrery/internal/orbit"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 200
	lookupTimeout      = 20 * time.Second
)

type addBodyRequest struct {
	Designator string `json:"designator"`
	Name       string `json:"name,omitempty"`
}

type addBodyResponse struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Provenance string  `json:"provenance"`
	Regime     string  `json:"regime"`
	E          float64 `json:"e"`
	Q          float64 `json:"q_au"`
}

// searchHandler answers GET /api/v1/small-bodies?q=halley&limit=5 from the
// small-body index.
func searchHandler(idx *elements.Index) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if idx == nil {
			writeError(w, http.StatusServiceUnavailable, "small-body index not loaded")
			return
		}
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			writeError(w, http.StatusBadRequest, "missing query parameter q")
			return
		}
		limit := defaultSearchLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > maxSearchLimit {
				writeJSON(w, http.StatusBadRequest, map[string]any{
					"error":     "invalid limit",
					"max_limit": maxSearchLimit,
				})
				return
			}
			limit = n
		}
		hits := idx.Search(q, limit)
		if hits == nil {
			hits = []elements.IndexEntry{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"count": len(hits), "results": hits})
	}
}

// addBodyHandler resolves a designator through SBDB and registers the body in
// the analytic table under that designator.
func addBodyHandler(logger *slog.Logger, resolver ElementResolver, catalog BodyCatalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if resolver == nil || catalog == nil {
			writeError(w, http.StatusServiceUnavailable, "small-body lookup not configured")
			return
		}
		var req addBodyRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTLEBody)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		id := strings.TrimSpace(req.Designator)
		if id == "" {
			writeError(w, http.StatusBadRequest, "missing designator")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), lookupTimeout)
		defer cancel()
		els, err := resolver.Resolve(ctx, id)
		if err != nil {
			var parseErr *orbit.ParseError
			switch {
			case errors.Is(err, elements.ErrNotFound):
				writeError(w, http.StatusNotFound, err.Error())
			case errors.Is(err, elements.ErrAmbiguous):
				writeError(w, http.StatusConflict, err.Error())
			case errors.As(err, &parseErr):
				writeError(w, http.StatusBadGateway, err.Error())
			default:
				logger.Warn("small-body lookup failed", "component", "api", "designator", id, "error", err)
				writeError(w, http.StatusBadGateway, "small-body lookup failed")
			}
			return
		}

		name := req.Name
		if name == "" {
			name = id
		}
		if err := catalog.AddBody(id, name, els); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		logger.Info("small body added", "component", "api", "body_id", id, "provenance", els.Provenance)

		q, _ := els.Periapsis()
		writeJSON(w, http.StatusCreated, addBodyResponse{
			ID:         id,
			Name:       name,
			Provenance: els.Provenance,
			Regime:     els.Regime().String(),
			E:          els.E,
			Q:          q,
		})
	}
}
