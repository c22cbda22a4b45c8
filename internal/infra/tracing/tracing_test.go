package tracing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infra/tracing"
)

func TestInit_WithoutEndpoint_ShouldInstallRecordingProvider(t *testing.T) {
	ctx := context.Background()

	shutdown, err := tracing.Init(ctx, "payment-test", "")
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(ctx, "op")
	assert.True(t, span.IsRecording())
	span.End()

	assert.NoError(t, shutdown(ctx))
}
