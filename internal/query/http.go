package query

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/eliteminer/core/internal/hotspot"
	"github.com/eliteminer/core/internal/logging"
)

// AttachRoutes mounts the JSON ring-finder endpoint on mux (§6 output
// artifacts). Query parameters mirror Filter's fields one-for-one.
func (e *Engine) AttachRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/rings", e.handleFind)
}

func (e *Engine) handleFind(w http.ResponseWriter, r *http.Request) {
	log := logging.WithComponent("query")
	q := r.URL.Query()

	f := Filter{
		ReferenceSystem: q.Get("system"),
		Material:        q.Get("material"),
		ConfirmedOnly:   q.Get("confirmed") == "true",
	}
	if rt := q.Get("ring_type"); rt != "" {
		f.RingType = hotspot.RingType(rt)
	}
	if d := q.Get("max_distance"); d != "" {
		if v, err := strconv.ParseFloat(d, 64); err == nil {
			f.MaxDistanceLY = v
		}
	}
	if n := q.Get("max_results"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			f.MaxResults = v
		}
	}
	if f.ReferenceSystem == "" {
		http.Error(w, "missing required query parameter: system", http.StatusBadRequest)
		return
	}

	results, err := e.Find(f)
	if err != nil {
		if _, ok := err.(*ErrReferenceNotFound); ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(struct {
				Results []Result `json:"results"`
				Status  string   `json:"status"`
			}{Results: nil, Status: err.Error()})
			return
		}
		log.WithError(err).Error("ring finder query failed")
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(struct {
		Results []Result `json:"results"`
	}{Results: results}); err != nil {
		log.WithError(err).Error("failed to encode ring finder response")
	}
}
