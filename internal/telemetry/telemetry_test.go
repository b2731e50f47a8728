package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_DisabledIsNoop(t *testing.T) {
	t.Setenv("QASYNC_OTEL_ENABLED", "")
	require.NoError(t, Init(nil))
	assert.False(t, Enabled())

	c, err := Meter("").Int64Counter("qasync.test")
	require.NoError(t, err)
	c.Add(context.Background(), 1)
	assert.Empty(t, shutdownFns)
}

func TestInit_EnabledExportsOnShutdown(t *testing.T) {
	t.Setenv("QASYNC_OTEL_ENABLED", "true")
	var buf bytes.Buffer
	require.NoError(t, Init(&buf))

	c, err := Meter("telemetry-test").Int64Counter("qasync.records.created")
	require.NoError(t, err)
	c.Add(context.Background(), 3)

	Shutdown(context.Background())
	assert.Contains(t, buf.String(), "qasync.records.created")
	assert.Empty(t, shutdownFns)
}
