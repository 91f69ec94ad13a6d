package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-nvr/internal/protect/store"
)

// HistoryResponse is returned by GET /history.
type HistoryResponse struct {
	Entries []store.HealthEntry `json:"entries"`
	Count   int                 `json:"count"`
}

// handleHistory returns recorded link health transitions, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "health history is not enabled")
		return
	}

	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.history.History(r.Context(), limit)
	if err != nil {
		s.logger.Error("reading health history failed", "error", err)
		writeInternalError(w, "failed to read health history")
		return
	}
	if entries == nil {
		entries = []store.HealthEntry{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Entries: entries, Count: len(entries)})
}
