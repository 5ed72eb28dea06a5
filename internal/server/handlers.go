package server

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/copyleftdev/yagiopt/internal/antenna"
	yerrors "github.com/copyleftdev/yagiopt/internal/errors"
	"github.com/copyleftdev/yagiopt/internal/optimization"
	"github.com/copyleftdev/yagiopt/internal/report"
	"github.com/copyleftdev/yagiopt/internal/store"
)

// jsonFloat drops values encoding/json cannot represent.
func jsonFloat(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

type progressView struct {
	Iteration   int                    `json:"iteration"`
	ForwardGain *float64               `json:"forward_gain,omitempty"`
	ReverseGain *float64               `json:"reverse_gain,omitempty"`
	VSWR        *float64               `json:"vswr,omitempty"`
	Score       *float64               `json:"score,omitempty"`
	Params      antenna.GeometryParams `json:"params"`
}

type jobView struct {
	ID          string                  `json:"optimization_id"`
	Status      string                  `json:"status"`
	Algorithm   string                  `json:"algorithm"`
	StartTime   string                  `json:"start_time"`
	EndTime     string                  `json:"end_time,omitempty"`
	LastUpdate  string                  `json:"last_update"`
	Progress    *progressView           `json:"progress,omitempty"`
	Best        *antenna.GeometryParams `json:"best,omitempty"`
	Score       *float64                `json:"score,omitempty"`
	Evaluations int                     `json:"evaluations,omitempty"`
	Converged   bool                    `json:"converged,omitempty"`
	Warnings    []string                `json:"warnings,omitempty"`
	Error       string                  `json:"error,omitempty"`
	Kind        string                  `json:"kind,omitempty"`
}

func (s *Server) view(job *Job) jobView {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	v := jobView{
		ID:         job.ID,
		Status:     job.Status,
		Algorithm:  job.Algorithm.String(),
		StartTime:  job.StartTime.Format(time.RFC3339),
		LastUpdate: job.LastUpdated.Format(time.RFC3339),
	}
	if job.EndTime != nil {
		v.EndTime = job.EndTime.Format(time.RFC3339)
	}
	if p, ok := job.Progress(); ok {
		v.Progress = &progressView{
			Iteration:   p.Iteration,
			ForwardGain: jsonFloat(p.ForwardGain),
			ReverseGain: jsonFloat(p.ReverseGain),
			VSWR:        jsonFloat(p.VSWR),
			Score:       jsonFloat(p.Score),
			Params:      p.Params,
		}
	}
	if run := job.Run; run != nil {
		best := run.Best
		v.Best = &best
		v.Score = jsonFloat(run.Score)
		v.Evaluations = run.Evaluations
		v.Converged = run.Converged
		v.Warnings = run.Warnings
	}
	if job.Err != nil {
		v.Error = job.Err.Error()
		if kind := yerrors.KindOf(job.Err); kind != yerrors.KindUnknown {
			v.Kind = kind.String()
		}
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, errJobNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errJobFinished), errors.Is(err, errNoReport):
		return http.StatusConflict
	}
	var re *optimization.RunError
	if errors.As(err, &re) && yerrors.KindOf(err) == yerrors.KindUnknown {
		return http.StatusBadRequest
	}
	return yerrors.HTTPStatus(err)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", map[string]interface{}{"error": err.Error()})
	}
	writeJSON(w, status, map[string]interface{}{"error": err.Error()})
}

// handleOptimize handles POST /api/v1/optimize.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid request body: " + err.Error()})
			return
		}
	}
	job, err := s.Start(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.view(job))
}

// handleStatus handles GET /api/v1/status/{id}. Runs that are no longer
// held in memory are looked up in the run history.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if job, ok := s.job(id); ok {
		writeJSON(w, http.StatusOK, s.view(job))
		return
	}
	if s.runs != nil {
		rec, err := s.runs.Get(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, rec)
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			s.writeError(w, err)
			return
		}
	}
	s.writeError(w, errJobNotFound)
}

// handleCancel handles DELETE /api/v1/optimization/{id}.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.Cancel(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancellation requested"})
}

// handleReport handles GET /api/v1/report/{id}. The page is HTML unless
// format=text is given.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.job(id)
	if !ok {
		s.writeError(w, errJobNotFound)
		return
	}
	s.jobsMu.RLock()
	run, perf := job.Run, job.Performance
	s.jobsMu.RUnlock()
	if run == nil {
		s.writeError(w, errNoReport)
		return
	}

	rep := report.New(run, perf)
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := report.WriteSummary(w, rep); err != nil {
			s.logger.Error("Failed to write summary", map[string]interface{}{"error": err.Error()})
		}
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.RenderHTML(w, rep); err != nil {
		s.logger.Error("Failed to render report", map[string]interface{}{"error": err.Error()})
	}
}

// handleRuns handles GET /api/v1/runs?limit=n.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": "run history is disabled"})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid limit"})
			return
		}
		limit = n
	}
	recs, err := s.runs.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if recs == nil {
		recs = []store.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func algorithmNames() []string {
	kinds := optimization.Algorithms()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return names
}

// handleAlgorithms handles GET /api/v1/algorithms.
func (s *Server) handleAlgorithms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, algorithmNames())
}
