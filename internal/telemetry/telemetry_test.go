package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/grafana/pyroscope-go"
	"github.com/marmos91/hostd/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "hostd", cfg.ServiceName)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()
	shutdown, err := Init(ctx, DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, shutdown(ctx))
	assert.False(t, IsEnabled())
}

func TestNoopSpans(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "hostd.test")
	require.NotNil(t, span)
	defer span.End()

	// None of these may panic on a no-op span.
	RecordError(ctx, errors.New("boom"))
	RecordError(ctx, nil)
	AddEvent(ctx, "event", attribute.Int("n", 1))
	SetAttributes(ctx, Module("web"), Version("1.0.0"), Force(true))

	assert.Empty(t, TraceID(ctx))
	assert.Empty(t, SpanID(ctx))
}

func TestStartOperationAnnotatesLogContext(t *testing.T) {
	ctx, span := StartOperation(context.Background(), "load_module", Module("web"))
	defer span.End()

	lc := logger.FromContext(ctx)
	require.NotNil(t, lc)
	assert.Equal(t, "load_module", lc.Operation)
	assert.Empty(t, lc.TraceID, "no trace ids while disabled")
}

func TestAttributeHelpers(t *testing.T) {
	tests := []struct {
		kv   attribute.KeyValue
		key  string
		want any
	}{
		{Module("web"), AttrModule, "web"},
		{Version("1.2.3"), AttrVersion, "1.2.3"},
		{Service("web/site"), AttrService, "web/site"},
		{ServiceState("RUNNING"), AttrServiceState, "RUNNING"},
		{ProcessState("STOPPED"), AttrProcessState, "STOPPED"},
		{Force(true), AttrForce, true},
		{ClientIP("10.0.0.1"), AttrClientIP, "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.key, string(tt.kv.Key))
			assert.Equal(t, tt.want, tt.kv.Value.AsInterface())
		})
	}
}

func TestProfiling(t *testing.T) {
	t.Run("Disabled", func(t *testing.T) {
		stop, err := InitProfiling(ProfilingConfig{})
		require.NoError(t, err)
		assert.NoError(t, stop())
	})

	t.Run("ParseProfileTypes", func(t *testing.T) {
		types, err := ParseProfileTypes([]string{"cpu", "INUSE_SPACE"})
		require.NoError(t, err)
		assert.Equal(t, []pyroscope.ProfileType{pyroscope.ProfileCPU, pyroscope.ProfileInuseSpace}, types)

		_, err = ParseProfileTypes([]string{"heapdump"})
		assert.Error(t, err)
	})
}
