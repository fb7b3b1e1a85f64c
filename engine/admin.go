package engine

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mosbree/embedkeeper/dom"
)

// AdminRouter exposes loopback inspection endpoints: counters, cache
// contents, recent events, and a manual reconciliation trigger. Bind it
// to a loopback address; there is no auth layer.
func (e *Engine) AdminRouter() chi.Router {
	r := chi.NewRouter()

	r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, e.Stats())
	})

	r.Get("/cache", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]any{
			"entries": e.cache.Len(),
			"keys":    e.cache.Keys(),
		})
	})

	r.Get("/events", func(w http.ResponseWriter, req *http.Request) {
		if e.events == nil {
			http.Error(w, "event log disabled", http.StatusNotFound)
			return
		}
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		events, err := e.events.Recent(req.Context(), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, events)
	})

	r.Post("/reconcile", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Root         int64 `json:"root"`
			ForceReload  bool  `json:"force_reload"`
			LiteCardMode bool  `json:"lite_card_mode"`
		}
		if req.Body != nil {
			_ = json.NewDecoder(req.Body).Decode(&body)
		}
		stats := e.Reconcile(req.Context(), dom.NodeID(body.Root), Options{
			ForceReload:  body.ForceReload,
			LiteCardMode: body.LiteCardMode,
		})
		writeJSON(w, stats)
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
