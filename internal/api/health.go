package api

import (
	"encoding/json"
	"net/http"
)

type healthResponse struct {
	Status       string `json:"status"`
	WorkersReady int    `json:"workers_ready"`
	PoolSize     int    `json:"pool_size"`
}

// handleHealthz reports liveness plus a coarse readiness signal: "ok" while
// at least one pool worker can take jobs, "degraded" while none can, and
// "shutting_down" once the pool has closed.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.pool.Snapshot()
	resp := healthResponse{
		Status:       "ok",
		WorkersReady: snap.Ready,
		PoolSize:     snap.Size,
	}
	switch {
	case snap.Closed:
		resp.Status = "shutting_down"
	case snap.Ready == 0:
		resp.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("encode healthz response", "error", err)
	}
}
