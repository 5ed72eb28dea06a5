package errors

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/yagiopt/internal/logging"
)

func TestKindFatal(t *testing.T) {
	tests := []struct {
		kind  Kind
		fatal bool
	}{
		{KindInvalidCandidate, false},
		{KindResolution, true},
		{KindInterference, true},
		{KindJunctionRatio, true},
		{KindSimulation, false},
		{KindConfig, false},
		{KindCanceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.fatal, tt.kind.Fatal())
		})
	}
}

func TestKindOfWalksWrapChain(t *testing.T) {
	base := New(KindJunctionRatio, "riser too short").WithParam("ratio", 6.5)
	wrapped := fmt.Errorf("building mesh: %w", base)

	assert.Equal(t, KindJunctionRatio, KindOf(wrapped))
	assert.True(t, IsFatal(wrapped))
	assert.Equal(t, KindUnknown, KindOf(stderrors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestWrapKeepsKind(t *testing.T) {
	base := New(KindResolution, "segment too short")
	wrapped := Wrap(base, KindUnknown, "objective")
	require.NotNil(t, wrapped)
	assert.Equal(t, KindResolution, wrapped.Kind)
	assert.True(t, Is(wrapped, base))

	assert.Nil(t, Wrap(nil, KindConfig, "nothing"))
}

func TestErrorString(t *testing.T) {
	err := New(KindInterference, "director collides with folded dipole").
		WithOperation("derive_bounds").
		WithParam("d2_max", 0.03).
		WithParam("floor", 0.053)

	msg := err.Error()
	assert.Contains(t, msg, "director collides with folded dipole")
	assert.Contains(t, msg, "operation=derive_bounds")
	assert.Contains(t, msg, "d2_max=0.03")
	assert.Contains(t, msg, "floor=0.053")
	assert.NotEmpty(t, err.StackTrace())
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(New(KindConfig, "bad")))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(New(KindInterference, "bad")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(stderrors.New("boom")))
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	base := logging.New(logging.DebugLevel, &buf)
	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("solver exploded")
	})
	h := logging.Middleware(base)(RecoveryMiddleware(base)(panicky))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/report/abc?format=text", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
	assert.Contains(t, buf.String(), `"panic":"solver exploded"`)
	assert.Contains(t, buf.String(), `"path":"/api/v1/report/abc"`)
	assert.Contains(t, buf.String(), `"query":"format=text"`)
}
