package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/gray-logic-nvr/internal/protect"
)

// WSStatsResponse is returned by GET /ws/stats.
type WSStatsResponse struct {
	Enabled bool                  `json:"enabled"`
	Summary protect.WSStatSummary `json:"summary"`
	Records []protect.WSStat      `json:"records,omitempty"`
}

// WSStatsCaptureRequest is the body of PUT /ws/stats.
type WSStatsCaptureRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleWSStats returns the capture summary; ?records=true adds the raw
// records.
func (s *Server) handleWSStats(w http.ResponseWriter, r *http.Request) {
	stats := s.client.WSStats()
	records := stats.Records()
	resp := WSStatsResponse{
		Enabled: stats.Enabled(),
		Summary: protect.Summarize(records),
	}
	if r.URL.Query().Get("records") == "true" {
		resp.Records = records
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSetWSStatsCapture turns capture on or off.
func (s *Server) handleSetWSStatsCapture(w http.ResponseWriter, r *http.Request) {
	var req WSStatsCaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Enabled == nil {
		writeBadRequest(w, "enabled is required")
		return
	}
	s.client.WSStats().SetEnabled(*req.Enabled)
	s.logger.Info("ws stats capture changed", "enabled", *req.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": *req.Enabled})
}

// handleClearWSStats discards captured records.
func (s *Server) handleClearWSStats(w http.ResponseWriter, _ *http.Request) {
	s.client.WSStats().Clear()
	w.WriteHeader(http.StatusNoContent)
}
