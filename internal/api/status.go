package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-nvr/internal/protect"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/cache"
)

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status  string       `json:"status"`
	Version string       `json:"version"`
	Link    cache.Health `json:"link"`
}

// StatusResponse is returned by /status.
type StatusResponse struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Link          cache.Health    `json:"link"`
	Revision      RevisionStatus  `json:"revision"`
	Entities      map[string]int  `json:"entities"`
	Pipeline      PipelineMetrics `json:"pipeline"`
	Session       SessionMetrics  `json:"session"`
	Resync        ResyncMetrics   `json:"resync"`
	Bootstrap     BootstrapStatus `json:"bootstrap"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
}

// RevisionStatus is the cache's position in the NVR's update stream.
type RevisionStatus struct {
	UpdateID string `json:"update_id"`
	Seq      uint64 `json:"seq"`
}

// PipelineMetrics counts messages through the decode and reconcile stages.
type PipelineMetrics struct {
	Frames       uint64 `json:"frames"`
	DecodeErrors uint64 `json:"decode_errors"`
	Controls     uint64 `json:"controls"`
	Applied      uint64 `json:"applied"`
	Filtered     uint64 `json:"filtered"`
	Rejected     uint64 `json:"rejected"`
	Buffered     uint64 `json:"buffered"`
	Dropped      uint64 `json:"dropped"`
	Overflowed   uint64 `json:"overflowed"`
}

// SessionMetrics counts update channel connections.
type SessionMetrics struct {
	Connects    uint64 `json:"connects"`
	Disconnects uint64 `json:"disconnects"`
	DialErrors  uint64 `json:"dial_errors"`
	Epoch       uint64 `json:"epoch"`
}

// ResyncMetrics describes the resync controller.
type ResyncMetrics struct {
	State    string `json:"state"`
	Failures int    `json:"failures"`
	Loads    uint64 `json:"loads"`
	Resyncs  uint64 `json:"resyncs"`
	Desyncs  uint64 `json:"desyncs"`
}

// BootstrapStatus describes snapshot loads.
type BootstrapStatus struct {
	Loads          uint64 `json:"loads"`
	Failures       uint64 `json:"failures"`
	LastDurationMS int64  `json:"last_duration_ms"`
	LastSize       int    `json:"last_size"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// ResyncRequest is the optional body of POST /resync.
type ResyncRequest struct {
	Reason string `json:"reason"`
}

// handleHealth reports link health. It answers 503 unless the cache is
// connected, so load balancers and probes can use it directly.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := s.client.View().Health()
	status := http.StatusOK
	label := "ok"
	if h.State != cache.LinkConnected {
		status = http.StatusServiceUnavailable
		label = string(h.State)
	}
	writeJSON(w, status, HealthResponse{
		Status:  label,
		Version: s.version,
		Link:    h,
	})
}

// handleStatus returns link state, revision, counters and runtime metrics.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	st := s.client.Stats()
	writeJSON(w, http.StatusOK, StatusResponse{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Link:          st.Health,
		Revision:      RevisionStatus{UpdateID: st.Revision.UpdateID, Seq: st.Revision.Seq},
		Entities:      s.countByModel(),
		Pipeline:      pipelineMetrics(st),
		Session: SessionMetrics{
			Connects:    st.Session.Connects,
			Disconnects: st.Session.Disconnects,
			DialErrors:  st.Session.DialErrors,
			Epoch:       st.Session.Epoch,
		},
		Resync: ResyncMetrics{
			State:    st.Resync.State.String(),
			Failures: st.Resync.Failures,
			Loads:    st.Resync.Loads,
			Resyncs:  st.Resync.Resyncs,
			Desyncs:  st.Resync.Desyncs,
		},
		Bootstrap: BootstrapStatus{
			Loads:          st.Bootstrap.Loads,
			Failures:       st.Bootstrap.Failures,
			LastDurationMS: st.Bootstrap.LastDuration.Milliseconds(),
			LastSize:       st.Bootstrap.LastSize,
		},
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
	})
}

func pipelineMetrics(st protect.Stats) PipelineMetrics {
	return PipelineMetrics{
		Frames:       st.Frames,
		DecodeErrors: st.DecodeErrors,
		Controls:     st.Controls,
		Applied:      st.Reconciler.Applied,
		Filtered:     st.Reconciler.Filtered,
		Rejected:     st.Reconciler.Rejected,
		Buffered:     st.Buffered,
		Dropped:      st.Dropped,
		Overflowed:   st.Overflowed,
	}
}

// countByModel counts cached entities per model from one generation.
func (s *Server) countByModel() map[string]int {
	counts := make(map[string]int)
	for _, e := range s.client.View().Snapshot().Entities {
		counts[string(e.Model)]++
	}
	return counts
}

// handleResync asks the client to reload its snapshot.
func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	var req ResyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	reason := "api request"
	if req.Reason != "" {
		reason = "api request: " + req.Reason
	}

	if err := s.client.RequestResync(reason); err != nil {
		switch {
		case errors.Is(err, protect.ErrNotStarted), errors.Is(err, protect.ErrClosed):
			writeUnavailable(w, err.Error())
		default:
			s.logger.Error("resync request failed", "error", err)
			writeInternalError(w, "resync request failed")
		}
		return
	}
	s.logger.Info("resync requested", "reason", reason, "request_id", r.Context().Value(ctxKeyRequestID))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
