package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Vodeneev/tounesbet/internal/pkg/models"
)

// HandleMatchMarkets serves the full market set of one match.
// GET /api/prematch/match/{matchId}/markets?fresh=1
func (h *Handlers) HandleMatchMarkets(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["matchId"]
	if h.crawler == nil {
		writeError(w, http.StatusServiceUnavailable, "crawler not configured", "matchId", matchID)
		return
	}
	fresh := r.URL.Query().Get("fresh") == "1"

	out, err := h.crawler.FullMarkets(r.Context(), matchID, fresh)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "match_not_found", "matchId", matchID)
		return
	}
	if err != nil {
		h.logger.Error("full markets failed", "match_id", matchID, "error", err)
		writeError(w, http.StatusBadGateway, err.Error(), "matchId", matchID)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
