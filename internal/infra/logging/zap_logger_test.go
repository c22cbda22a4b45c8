package logging_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infra/logging"
)

func TestZapLogger_ShouldForwardFieldsAndLevel(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := logging.NewFromZap(zap.New(core))

	logger.Info("transaction classified", map[string]any{
		"transaction_id": "tx-1",
		"attempt":        2,
	})
	logger.Error("plugin failed", map[string]any{"error": errors.New("boom")})

	entries := logs.All()
	require.Len(t, entries, 2)

	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "tx-1", entries[0].ContextMap()["transaction_id"])
	assert.EqualValues(t, 2, entries[0].ContextMap()["attempt"])

	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
}
