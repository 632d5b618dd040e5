package api

import (
	"net/http"

	"github.com/seantiz/forge/internal/pool"
	"github.com/seantiz/forge/internal/store"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Pool    pool.Stats     `json:"pool"`
	History *store.Summary `json:"history"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	summary, err := s.history.Summarize(r.Context())
	if err != nil {
		s.logger.Error("summarize job history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Pool:    s.pool.Snapshot(),
		History: summary,
	})
}

// workersResponse is the JSON response for GET /v1/workers.
type workersResponse struct {
	Workers []pool.WorkerState `json:"workers"`
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	snap := s.pool.Snapshot()
	if snap.Workers == nil {
		snap.Workers = []pool.WorkerState{}
	}
	s.writeJSON(w, http.StatusOK, workersResponse{Workers: snap.Workers})
}
