package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/yagiopt/internal/antenna"
	"github.com/copyleftdev/yagiopt/internal/config"
	"github.com/copyleftdev/yagiopt/internal/driver"
	"github.com/copyleftdev/yagiopt/internal/geometry"
	"github.com/copyleftdev/yagiopt/internal/logging"
	"github.com/copyleftdev/yagiopt/internal/nec"
	"github.com/copyleftdev/yagiopt/internal/store"
)

// testConfig creates a test configuration with default values
func testConfig(t *testing.T) *config.Config {
	cfg := &config.Config{
		Environment: "test",
	}

	cfg.HTTP.Port = 8080
	cfg.HTTP.ReadTimeout = 30 * time.Second
	cfg.HTTP.WriteTimeout = 30 * time.Second
	cfg.HTTP.IdleTimeout = 120 * time.Second
	cfg.HTTP.ShutdownTimeout = 30 * time.Second

	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "console"
	cfg.Logging.Output = "stdout"

	cfg.Optimization.WorkerCount = 2
	cfg.Optimization.Seed = 42
	cfg.Optimization.MaxIterations = 30
	cfg.Optimization.Population = 20
	cfg.Optimization.GridResolution = 3

	return cfg
}

// testLogger creates a test logger
func testLogger(t *testing.T) *logging.Logger {
	logger, err := logging.NewLogger(&logging.Config{
		Level:  "debug",
		Format: "console",
		Output: "stdout",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return logger
}

// quickSim is a smooth stand-in for the moment-method solver.
type quickSim struct{}

type quickResult struct{ p antenna.GeometryParams }

func (r quickResult) Impedance() complex128 {
	return complex(50+300*(r.p.L2-0.91), 400*(r.p.L2-0.91))
}

func (r quickResult) Gain(theta, phi float64) float64 {
	if phi == 180 {
		return -20 + 50*(r.p.D1-0.23)*(r.p.D1-0.23)
	}
	return 7 - 40*(r.p.D2-0.38)*(r.p.D2-0.38) - (90-theta)*(90-theta)/900
}

func (quickSim) Simulate(ctx context.Context, mesh *geometry.WireMesh, _ geometry.Feed, _, _ float64) (nec.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return quickResult{p: mesh.Params}, nil
}

// blockingSim holds every simulation until the run is canceled.
type blockingSim struct {
	started chan struct{}
}

func (b blockingSim) Simulate(ctx context.Context, _ *geometry.WireMesh, _ geometry.Feed, _, _ float64) (nec.Result, error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func testServer(t *testing.T, sim nec.Simulator, runs *store.Store) *Server {
	t.Helper()
	drv, err := driver.New(driver.Options{Simulator: sim, GridResolution: 3})
	require.NoError(t, err)
	srv := NewServer(testConfig(t), testLogger(t), drv, runs)
	t.Cleanup(func() { srv.Close() })
	return srv
}

func testRouter(srv *Server) chi.Router {
	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	return r
}

func waitDone(t *testing.T, job *Job) {
	t.Helper()
	select {
	case <-job.Done():
	case <-time.After(30 * time.Second):
		t.Fatalf("optimization %s did not finish", job.ID)
	}
}

func decode(t *testing.T, body io.Reader, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(body).Decode(v))
}

func TestNewServer(t *testing.T) {
	srv := testServer(t, quickSim{}, nil)
	assert.NotNil(t, srv, "Server should be created")
}

func TestRegisterRoutes(t *testing.T) {
	r := testRouter(testServer(t, quickSim{}, nil))

	tests := []struct {
		method      string
		path        string
		shouldExist bool
	}{
		{"POST", "/api/v1/optimize", true},
		{"GET", "/api/v1/status/123", true},
		{"DELETE", "/api/v1/optimization/123", true},
		{"GET", "/api/v1/report/123", true},
		{"GET", "/api/v1/algorithms", true},
		{"POST", "/rpc", true},
		{"GET", "/healthz", false},
		{"GET", "/nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			matched := rr.Code != http.StatusNotFound && rr.Code != http.StatusMethodNotAllowed
			if !matched {
				// Handlers answer unknown ids with a JSON 404 body.
				matched = strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json")
			}
			assert.Equal(t, tt.shouldExist, matched, "route %s %s", tt.method, tt.path)
		})
	}
}

func TestOptimizeLifecycle(t *testing.T) {
	runs, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer runs.Close()

	srv := testServer(t, quickSim{}, runs)
	r := testRouter(srv)

	body := `{"algorithm": "local_descent", "max_iterations": 25, "seed": 7}`
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/optimize", strings.NewReader(body)))
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var started jobView
	decode(t, rr.Body, &started)
	require.NotEmpty(t, started.ID)
	assert.Equal(t, "local_descent", started.Algorithm)

	job, ok := srv.job(started.ID)
	require.True(t, ok)
	waitDone(t, job)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/status/"+started.ID, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var status jobView
	decode(t, rr.Body, &status)
	assert.Equal(t, StatusCompleted, status.Status)
	require.NotNil(t, status.Best)
	require.NotNil(t, status.Score)
	require.NotNil(t, status.Progress)
	assert.Positive(t, status.Progress.Iteration)
	assert.NotEmpty(t, status.EndTime)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/report/"+started.ID, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rr.Body.String(), "l3 vs d2")

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/report/"+started.ID+"?format=text", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "local_descent")

	rec, err := runs.Get(context.Background(), started.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Contains(t, rec.Summary, "Forward gain")

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var recs []store.Record
	decode(t, rr.Body, &recs)
	assert.Len(t, recs, 1)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/v1/optimization/"+started.ID, nil))
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestStatusFallsBackToRunHistory(t *testing.T) {
	runs, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer runs.Close()
	require.NoError(t, runs.Save(context.Background(),
		store.NewRecord("old-run", "grid_search", StatusCompleted, nil, nil)))

	r := testRouter(testServer(t, quickSim{}, runs))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/status/old-run", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var rec store.Record
	decode(t, rr.Body, &rec)
	assert.Equal(t, "grid_search", rec.Algorithm)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/status/missing", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestOptimizeRejectsBadInput(t *testing.T) {
	r := testRouter(testServer(t, quickSim{}, nil))

	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed json", `{"algorithm":`, http.StatusBadRequest},
		{"unknown algorithm", `{"algorithm": "gradient_magic"}`, http.StatusBadRequest},
		{"bad impedance", `{"design": {"system_impedance": -1}}`, http.StatusBadRequest},
		{"negative iterations", `{"max_iterations": -3}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/optimize", strings.NewReader(tt.body)))
			assert.Equal(t, tt.code, rr.Code, rr.Body.String())
		})
	}
}

func TestInfeasibleFoldedDipoleFails(t *testing.T) {
	srv := testServer(t, quickSim{}, nil)

	design := antenna.DefaultDesign()
	design.DesignFrequencyMHz = 1600
	design.PlotMinMHz, design.PlotMaxMHz = 1590, 1610
	design.OptStartMHz, design.OptStopMHz = 1600, 1600
	folded := true
	job, err := srv.Start(StartRequest{Design: &design, Folded: &folded})
	require.NoError(t, err)
	waitDone(t, job)

	v := srv.view(job)
	assert.Equal(t, StatusFailed, v.Status)
	assert.Equal(t, "interference", v.Kind)
	assert.Nil(t, v.Best)
}

func TestCancel(t *testing.T) {
	sim := blockingSim{started: make(chan struct{}, 1)}
	srv := testServer(t, sim, nil)
	r := testRouter(srv)

	job, err := srv.Start(StartRequest{Algorithm: "basin_hopping"})
	require.NoError(t, err)
	select {
	case <-sim.started:
	case <-time.After(10 * time.Second):
		t.Fatal("simulation never started")
	}

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/v1/optimization/"+job.ID, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	waitDone(t, job)
	assert.Equal(t, StatusCanceled, srv.view(job).Status)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/report/"+job.ID, nil))
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestCloseCancelsRunningJobs(t *testing.T) {
	sim := blockingSim{started: make(chan struct{}, 1)}
	drv, err := driver.New(driver.Options{Simulator: sim})
	require.NoError(t, err)
	srv := NewServer(testConfig(t), testLogger(t), drv, nil)

	job, err := srv.Start(StartRequest{})
	require.NoError(t, err)
	<-sim.started

	assert.NoError(t, srv.Close(), "Close should not return an error")
	assert.Equal(t, StatusCanceled, srv.view(job).Status)
}

func rpcCall(t *testing.T, r http.Handler, method string, params interface{}) map[string]interface{} {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(payload)))
	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]interface{}
	decode(t, rr.Body, &resp)
	return resp
}

func TestJSONRPC(t *testing.T) {
	srv := testServer(t, quickSim{}, nil)
	r := testRouter(srv)

	resp := rpcCall(t, r, "optimization.start", []interface{}{map[string]interface{}{
		"algorithm":      "grid_search",
		"max_iterations": 10,
	}})
	require.Nil(t, resp["error"], "%v", resp["error"])
	result := resp["result"].(map[string]interface{})
	id := result["optimization_id"].(string)

	job, ok := srv.job(id)
	require.True(t, ok)
	waitDone(t, job)

	resp = rpcCall(t, r, "optimization.status", map[string]interface{}{"optimization_id": id})
	result = resp["result"].(map[string]interface{})
	assert.Equal(t, StatusCompleted, result["status"])

	resp = rpcCall(t, r, "optimization.cancel", map[string]interface{}{"optimization_id": id})
	errObj := resp["error"].(map[string]interface{})
	assert.Equal(t, float64(rpcServerError), errObj["code"])

	resp = rpcCall(t, r, "optimization.status", map[string]interface{}{})
	errObj = resp["error"].(map[string]interface{})
	assert.Equal(t, float64(rpcInvalidParams), errObj["code"])

	resp = rpcCall(t, r, "optimization.algorithms", nil)
	assert.Len(t, resp["result"], 7)

	resp = rpcCall(t, r, "optimization.explode", nil)
	errObj = resp["error"].(map[string]interface{})
	assert.Equal(t, float64(rpcMethodNotFound), errObj["code"])
}

func TestJSONRPCMalformed(t *testing.T) {
	r := testRouter(testServer(t, quickSim{}, nil))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader("{")))
	var resp map[string]interface{}
	decode(t, rr.Body, &resp)
	assert.Equal(t, float64(rpcParseError), resp["error"].(map[string]interface{})["code"])

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`{"jsonrpc":"1.0","method":"x","id":3}`)))
	decode(t, rr.Body, &resp)
	assert.Equal(t, float64(rpcInvalidRequest), resp["error"].(map[string]interface{})["code"])
	assert.Equal(t, float64(3), resp["id"])
}

func TestRespondWithError(t *testing.T) {
	srv := testServer(t, quickSim{}, nil)

	tests := []struct {
		name       string
		code       int
		message    string
		id         interface{}
		expectedID interface{}
	}{
		{
			name:       "valid error response",
			code:       rpcInvalidParams,
			message:    "invalid input",
			id:         "123",
			expectedID: "123",
		},
		{
			name:       "nil id",
			code:       rpcServerError,
			message:    "server error",
			id:         nil,
			expectedID: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			srv.respondWithError(rr, tt.code, tt.message, tt.id)

			// JSON-RPC errors travel in a 200 response.
			assert.Equal(t, http.StatusOK, rr.Code, "status code should match")

			var response map[string]interface{}
			err := json.NewDecoder(rr.Body).Decode(&response)
			assert.NoError(t, err, "should decode response body")

			errObj, ok := response["error"].(map[string]interface{})
			assert.True(t, ok, "response should contain error object")
			assert.Equal(t, float64(tt.code), errObj["code"], "error code should match")
			assert.Equal(t, tt.message, errObj["message"], "error message should match")
			assert.Equal(t, tt.expectedID, response["id"], "response ID should match")
		})
	}
}
