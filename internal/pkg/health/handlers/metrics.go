package handlers

import (
	"net/http"
)

// HandleMetrics serves crawl counters of the tracker.
func (h *Handlers) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tracker.GetMetrics())
}
