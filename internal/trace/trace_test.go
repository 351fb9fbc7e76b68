package trace

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestInitializeAndShutdown(t *testing.T) {
	ctx := context.Background()

	require.NoError(t, Initialize(ctx, Config{ServiceName: "test", ExporterType: "none"}))
	t.Cleanup(func() { _ = Shutdown(ctx) })

	assert.Error(t, Initialize(ctx, Config{ServiceName: "test", ExporterType: "none"}))

	_, span := StartSpan(ctx, "unit", attribute.String(AttrRequestID, "abc"))
	assert.True(t, span.SpanContext().IsValid())
	RecordError(span, errors.New("boom"))
	span.End()

	require.NoError(t, Shutdown(ctx))
	require.NoError(t, Shutdown(ctx))
}

func TestInitializeAppliesSamplingRate(t *testing.T) {
	ctx := context.Background()

	require.NoError(t, Initialize(ctx, Config{ServiceName: "test", ExporterType: "none", SamplingRate: 1e-12}))
	t.Cleanup(func() { _ = Shutdown(ctx) })

	_, span := StartSpan(ctx, "unit")
	defer span.End()
	assert.False(t, span.SpanContext().IsSampled())
}

func TestInitializeRejectsUnknownExporter(t *testing.T) {
	err := Initialize(context.Background(), Config{ServiceName: "test", ExporterType: "zipkin"})
	assert.Error(t, err)
}

func TestStartSpanWithoutInitialize(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "noop")
	defer span.End()

	assert.NotNil(t, ctx)
	RecordError(span, nil)
}
