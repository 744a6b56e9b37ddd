package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitProvider_RequiresEndpoint(t *testing.T) {
	shutdown, err := InitProvider("flashorder", "", nil)
	require.Error(t, err)
	require.Nil(t, shutdown)
}

func TestInitProvider_RegistersGlobalProvider(t *testing.T) {
	shutdown, err := InitProvider("flashorder-test", "http://127.0.0.1:14268/api/traces", nil)
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	_, span := Tracer().Start(context.Background(), "test.span")
	require.True(t, span.SpanContext().IsValid())
	span.End()

	// Экспорт в недоступный коллектор не должен ломать остановку надолго.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
}

func TestTracer_NoopByDefault(t *testing.T) {
	require.NotNil(t, Tracer())
}
