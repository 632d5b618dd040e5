package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/forge/internal/store"
	"github.com/seantiz/forge/internal/textstat"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// submitJobRequest is the JSON body for POST /v1/jobs.
type submitJobRequest struct {
	Text     string `json:"text"`
	Priority int    `json:"priority"`
}

// submitBatchRequest is the JSON body for POST /v1/jobs/batch.
type submitBatchRequest struct {
	Texts    []string `json:"texts"`
	Priority int      `json:"priority"`
}

type batchResponse struct {
	Stats []textstat.Stats `json:"stats"`
}

// listJobsResponse wraps the paginated history response.
type listJobsResponse struct {
	Jobs   []*store.Record `json:"jobs"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Text == "" {
		s.writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	out := s.pool.Submit(textstat.Request{Text: req.Text}, req.Priority)
	st, err := out.Wait(r.Context())
	if err != nil {
		// Client went away before the job settled; nothing to write.
		return
	}

	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req submitBatchRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Texts) == 0 {
		s.writeError(w, http.StatusBadRequest, "texts is required")
		return
	}

	reqs := make([]textstat.Request, len(req.Texts))
	for i, text := range req.Texts {
		reqs[i] = textstat.Request{Text: text}
	}

	s.writeJSON(w, http.StatusOK, batchResponse{
		Stats: s.pool.SubmitBatch(r.Context(), reqs, req.Priority),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.history.GetRecord(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job record", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	records, total, err := s.history.ListRecent(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list job records", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	if records == nil {
		records = []*store.Record{}
	}

	s.writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:   records,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
