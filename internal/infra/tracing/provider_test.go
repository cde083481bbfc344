package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

func TestNewProviderRecordsServiceName(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp, err := newProvider(sdktrace.WithSyncer(exp), Config{ServiceName: "analysis-test", SampleRatio: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := tp.Tracer("test").Start(context.Background(), "ProcessVideoOCR")
	span.End()

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "ProcessVideoOCR", spans[0].Name)
	assert.Contains(t, spans[0].Resource.Attributes(), semconv.ServiceNameKey.String("analysis-test"))
}

func TestNewProviderZeroRatioDropsRootSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp, err := newProvider(sdktrace.WithSyncer(exp), Config{ServiceName: "analysis-test", SampleRatio: 0})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := tp.Tracer("test").Start(context.Background(), "root")
	span.End()

	assert.Empty(t, exp.GetSpans())
}

func TestNewProviderRejectsBadConfig(t *testing.T) {
	_, err := newProvider(sdktrace.WithSyncer(tracetest.NewInMemoryExporter()), Config{ServiceName: "x", SampleRatio: 1.5})
	assert.ErrorContains(t, err, "sample ratio")

	_, err = newProvider(sdktrace.WithSyncer(tracetest.NewInMemoryExporter()), Config{SampleRatio: 1})
	assert.ErrorContains(t, err, "service name")
}
