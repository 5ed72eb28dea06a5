package tracing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(Config{}, nil)
	require.NoError(t, err)
	_, span := Tracer("test").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitWritesSpansToFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "spans.json")
	shutdown, err := Init(Config{Enabled: true, ServiceName: "yagiopt-test", Output: out}, nil)
	require.NoError(t, err)

	_, span := Tracer("test").Start(context.Background(), "optimize")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
	require.NoError(t, shutdown(context.Background()))

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"Name":"optimize"`)

	_, err = Init(Config{}, nil)
	require.NoError(t, err)
}

func TestInitBadOutput(t *testing.T) {
	_, err := Init(Config{Enabled: true, Output: filepath.Join(t.TempDir(), "missing", "dir", "x")}, nil)
	assert.Error(t, err)
}
