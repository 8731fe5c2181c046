package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func observedLogger() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return &Logger{Logger: zap.New(core), config: DefaultConfig()}, logs
}

func TestWithWallet(t *testing.T) {
	l, logs := observedLogger()

	l.WithWallet("wallet-addr").Info("ping")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "wallet-addr", fields["wallet"])
}

func TestWithPosition(t *testing.T) {
	l, logs := observedLogger()

	l.WithPosition("pos-1", "pool-1").Warn("clamped")

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "pos-1", fields["position"])
	assert.Equal(t, "pool-1", fields["pool"])
}

func TestWithOperation_AttachesCorrelationID(t *testing.T) {
	l, logs := observedLogger()

	l.WithOperation("open").Info("started")

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "open", fields["operation"])
	assert.NotEmpty(t, fields["correlation_id"])

	// У каждой операции собственный correlation_id.
	l.WithOperation("open").Info("started again")
	other := logs.All()[1].ContextMap()
	assert.NotEqual(t, fields["correlation_id"], other["correlation_id"])
}

func TestTrackPerformance(t *testing.T) {
	l, logs := observedLogger()

	end := l.TrackPerformance("portfolio")
	end()

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "Starting operation", entries[0].Message)
	assert.Equal(t, "Operation completed", entries[1].Message)

	fields := entries[1].ContextMap()
	assert.Equal(t, "portfolio", fields["operation"])
	assert.Contains(t, fields, "duration_ms")
}
