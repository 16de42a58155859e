package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"radar/internal/pipeline"
	"radar/internal/store"
)

// HealthResponse is the /api/health payload.
type HealthResponse struct {
	Status string `json:"status"`
	Stage  string `json:"stage"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ProcessRequest is the optional POST /api/process body. Absent fields keep
// the configured values.
type ProcessRequest struct {
	WindowHours      int      `json:"window_hours,omitempty"`
	TopK             int      `json:"top_k,omitempty"`
	HotnessThreshold *float64 `json:"hotness_threshold,omitempty"`
	CustomFeeds      []string `json:"custom_feeds,omitempty"`
}

// handleHealth handles GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Stage:  string(s.runner.Stage()),
	})
}

// handleProcess handles POST /api/process. It runs the pipeline synchronously
// and responds with the completed run. Concurrent process requests are
// rejected rather than queued.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	if req.HotnessThreshold != nil && (*req.HotnessThreshold < 0 || *req.HotnessThreshold > 1) {
		s.respondError(w, http.StatusBadRequest, "hotness_threshold must be in [0,1]")
		return
	}

	select {
	case s.running <- struct{}{}:
		defer func() { <-s.running }()
	default:
		s.respondError(w, http.StatusConflict, "a run is already in progress")
		return
	}

	var overrides *pipeline.Overrides
	if req.WindowHours > 0 || req.TopK > 0 || req.HotnessThreshold != nil || len(req.CustomFeeds) > 0 {
		overrides = &pipeline.Overrides{
			WindowHours:      req.WindowHours,
			TopK:             req.TopK,
			HotnessThreshold: req.HotnessThreshold,
			FeedURLs:         req.CustomFeeds,
		}
	}

	result, err := s.runner.RunWithOverrides(r.Context(), overrides)
	if err != nil {
		s.log.Error("Pipeline run failed", "error", err.Error())
		s.respondError(w, http.StatusInternalServerError, "run failed: "+err.Error())
		return
	}

	if s.history != nil {
		if _, err := s.history.SaveRun(result); err != nil {
			// The run still succeeded; persistence trouble is reported but
			// does not fail the request.
			s.log.Error("Failed to persist run", "error", err.Error())
		} else if pruner, ok := s.history.(interface{ PruneRuns(int) error }); ok && s.keepRuns > 0 {
			if err := pruner.PruneRuns(s.keepRuns); err != nil {
				s.log.Warn("Failed to prune old runs", "error", err.Error())
			}
		}
	}

	s.respondJSON(w, http.StatusOK, result)
}

// handleLastResult handles GET /api/last-result. The in-memory result wins;
// the store covers restarts.
func (s *Server) handleLastResult(w http.ResponseWriter, r *http.Request) {
	if result := s.runner.LastResult(); result != nil {
		s.respondJSON(w, http.StatusOK, result)
		return
	}

	if s.history != nil {
		result, err := s.history.LastRun()
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if result != nil {
			s.respondJSON(w, http.StatusOK, result)
			return
		}
	}

	s.respondError(w, http.StatusNotFound, "no completed run yet")
}

// handleListRuns handles GET /api/runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.respondError(w, http.StatusNotFound, "run history is not configured")
		return
	}

	runs, err := s.history.ListRuns(20)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []store.RunSummary{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleGetRun handles GET /api/runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.respondError(w, http.StatusNotFound, "run history is not configured")
		return
	}

	runID := chi.URLParam(r, "id")
	result, err := s.history.GetRun(runID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if result == nil {
		s.respondError(w, http.StatusNotFound, "run not found")
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("Failed to encode JSON response", "error", err.Error())
	}
}

// respondError writes a JSON error response
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
