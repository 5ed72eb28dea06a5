package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/copyleftdev/yagiopt/internal/antenna"
	"github.com/copyleftdev/yagiopt/internal/config"
	"github.com/copyleftdev/yagiopt/internal/driver"
	yerrors "github.com/copyleftdev/yagiopt/internal/errors"
	"github.com/copyleftdev/yagiopt/internal/logging"
	"github.com/copyleftdev/yagiopt/internal/objective"
	"github.com/copyleftdev/yagiopt/internal/optimization"
	"github.com/copyleftdev/yagiopt/internal/report"
	"github.com/copyleftdev/yagiopt/internal/store"
)

// Logger defines the logging interface used by the server
// This allows us to be flexible with our logging implementation
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// Job statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = driver.StatusCompleted
	StatusFailed    = driver.StatusFailed
	StatusCanceled  = driver.StatusCanceled
)

var (
	errJobNotFound = errors.New("optimization not found")
	errJobFinished = errors.New("optimization already finished")
	errNoReport    = errors.New("optimization has no report yet")
)

// Job is one optimization run managed by the server.
type Job struct {
	ID        string
	Algorithm optimization.AlgorithmKind
	Design    antenna.Design

	// Guarded by Server.jobsMu.
	Status      string
	StartTime   time.Time
	EndTime     *time.Time
	LastUpdated time.Time
	Run         *driver.Run
	Performance *driver.Performance
	Err         error

	progress atomic.Pointer[objective.Progress]
	cancel   context.CancelFunc
	done     chan struct{}
}

// Observe records the latest progress. It never blocks.
func (j *Job) Observe(p objective.Progress) {
	j.progress.Store(&p)
}

// Progress returns the latest progress update, if any.
func (j *Job) Progress() (objective.Progress, bool) {
	p := j.progress.Load()
	if p == nil {
		return objective.Progress{}, false
	}
	return *p, true
}

// Done is closed once the job has finished.
func (j *Job) Done() <-chan struct{} { return j.done }

func terminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Server implements the HTTP and JSON-RPC server for the optimization service.
// It manages optimization jobs and provides endpoints to start, monitor, and cancel them.
type Server struct {
	cfg    *config.Config
	logger Logger
	driver *driver.Driver
	runs   *store.Store

	jobs   map[string]*Job
	jobsMu sync.RWMutex
	wg     sync.WaitGroup
}

// NewServer creates a server. runs may be nil to disable the run history.
func NewServer(cfg *config.Config, logger Logger, drv *driver.Driver, runs *store.Store) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		driver: drv,
		runs:   runs,
		jobs:   make(map[string]*Job),
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/optimize", s.handleOptimize)
		r.Get("/status/{id}", s.handleStatus)
		r.Delete("/optimization/{id}", s.handleCancel)
		r.Get("/report/{id}", s.handleReport)
		r.Get("/runs", s.handleRuns)
		r.Get("/algorithms", s.handleAlgorithms)
	})

	r.Post("/rpc", s.handleJSONRPC)
}

// StartRequest asks for a new optimization. Zero values select the server
// defaults.
type StartRequest struct {
	// Design defaults to antenna.DefaultDesign.
	Design *antenna.Design `json:"design,omitempty"`
	// Algorithm overrides the design's algorithm, by name.
	Algorithm     string                  `json:"algorithm,omitempty"`
	Folded        *bool                   `json:"folded,omitempty"`
	Seed          *int64                  `json:"seed,omitempty"`
	MaxIterations int                     `json:"max_iterations,omitempty"`
	Initial       *antenna.GeometryParams `json:"initial,omitempty"`
}

func (s *Server) buildRequest(sr StartRequest) (antenna.Design, driver.Request, error) {
	design := antenna.DefaultDesign()
	if sr.Design != nil {
		design = *sr.Design
	}
	if sr.Algorithm != "" {
		kind, err := optimization.ParseAlgorithm(sr.Algorithm)
		if err != nil {
			return design, driver.Request{}, yerrors.Wrap(err, yerrors.KindConfig, "algorithm")
		}
		design.Algorithm = kind
	}
	if sr.Folded != nil {
		design.FoldedDipole = *sr.Folded
	}
	if err := design.Validate(); err != nil {
		return design, driver.Request{}, err
	}
	if sr.MaxIterations < 0 {
		return design, driver.Request{}, yerrors.New(yerrors.KindConfig, "max_iterations must not be negative")
	}

	req := driver.RequestFromDesign(design)
	req.Seed = s.cfg.Optimization.Seed
	if sr.Seed != nil {
		req.Seed = *sr.Seed
	}
	req.Workers = s.cfg.Optimization.WorkerCount
	req.MaxIterations = s.cfg.Optimization.MaxIterations
	if sr.MaxIterations > 0 {
		req.MaxIterations = sr.MaxIterations
	}
	req.Initial = sr.Initial
	return design, req, nil
}

// Start validates sr and launches the optimization in the background.
func (s *Server) Start(sr StartRequest) (*Job, error) {
	design, req, err := s.buildRequest(sr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	job := &Job{
		ID:          uuid.NewString(),
		Algorithm:   req.Algorithm,
		Design:      design,
		Status:      StatusPending,
		StartTime:   now,
		LastUpdated: now,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	req.Progress = job

	s.jobsMu.Lock()
	s.jobs[job.ID] = job
	s.jobsMu.Unlock()

	s.logger.Info("Optimization queued", map[string]interface{}{
		"optimization_id": job.ID,
		"algorithm":       req.Algorithm.String(),
		"folded":          design.FoldedDipole,
		"seed":            req.Seed,
	})

	s.wg.Add(1)
	go s.runOptimization(ctx, job, req)
	return job, nil
}

func (s *Server) runOptimization(ctx context.Context, job *Job, req driver.Request) {
	defer s.wg.Done()
	defer close(job.done)
	defer job.cancel()

	s.jobsMu.Lock()
	job.Status = StatusRunning
	job.LastUpdated = time.Now()
	s.jobsMu.Unlock()

	run, err := s.driver.Optimize(ctx, req)
	var perf *driver.Performance
	if err == nil {
		var perr error
		perf, perr = s.driver.Evaluate(ctx, run.Best, req.Element, job.Design.PlotSweep(), req.SystemImpedance)
		if perr != nil {
			s.logger.Warn("Performance report failed", map[string]interface{}{
				"optimization_id": job.ID,
				"error":           perr.Error(),
			})
		}
	}

	status := StatusCompleted
	fields := map[string]interface{}{"optimization_id": job.ID}
	switch {
	case err == nil:
		fields["score"] = run.Score
		fields["evaluations"] = run.Evaluations
		s.logger.Info("Optimization completed", fields)
	case optimization.IsCanceled(err):
		status = StatusCanceled
		s.logger.Info("Optimization canceled", fields)
	default:
		status = StatusFailed
		fields["error"] = err.Error()
		fields["kind"] = yerrors.KindOf(err).String()
		s.logger.Error("Optimization failed", fields)
	}

	s.jobsMu.Lock()
	now := time.Now()
	job.Status = status
	job.Run = run
	job.Performance = perf
	job.Err = err
	job.EndTime = &now
	job.LastUpdated = now
	s.jobsMu.Unlock()

	s.persist(job, status, run, perf, err)
}

func (s *Server) persist(job *Job, status string, run *driver.Run, perf *driver.Performance, runErr error) {
	if s.runs == nil {
		return
	}
	rec := store.NewRecord(job.ID, job.Algorithm.String(), status, run, runErr)
	if run == nil {
		rec.StartedAt = job.StartTime
	}
	if run != nil || perf != nil {
		var buf bytes.Buffer
		if err := report.WriteSummary(&buf, report.New(run, perf)); err == nil {
			rec.Summary = buf.String()
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.runs.Save(ctx, rec); err != nil {
		s.logger.Error("Failed to save run", map[string]interface{}{
			"optimization_id": job.ID,
			"error":           err.Error(),
		})
	}
}

func (s *Server) job(id string) (*Job, bool) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok
}

// Cancel requests cancellation of a running job. The job reaches the
// canceled status once the search has stopped.
func (s *Server) Cancel(id string) error {
	job, ok := s.job(id)
	if !ok {
		return errJobNotFound
	}
	s.jobsMu.RLock()
	status := job.Status
	s.jobsMu.RUnlock()
	if terminal(status) {
		return fmt.Errorf("%w: %s", errJobFinished, status)
	}
	job.cancel()
	s.logger.Info("Optimization cancellation requested", map[string]interface{}{
		"optimization_id": id,
	})
	return nil
}

// Close cancels every job and waits for them to finish.
func (s *Server) Close() error {
	s.jobsMu.RLock()
	for _, job := range s.jobs {
		job.cancel()
	}
	s.jobsMu.RUnlock()
	s.wg.Wait()
	return nil
}
