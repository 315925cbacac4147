package security

import (
	"errors"
	"testing"
	"time"

	"github.com/kevin07696/subscription-service/internal/domain/ports"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerAdapter_Fields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(core))

	logger.Info("renewal charged",
		ports.String("subscription_id", "sub_1"),
		ports.Int("attempt", 2),
		ports.Bool("auto_renew", true))
	logger.Error("gateway failed", ports.Err(errors.New("boom")))
	logger.Debug("debug")
	logger.Warn("warn")

	require.Equal(t, 4, logs.Len())

	entry := logs.All()[0]
	assert.Equal(t, zapcore.InfoLevel, entry.Level)
	ctx := entry.ContextMap()
	assert.Equal(t, "sub_1", ctx["subscription_id"])
	assert.EqualValues(t, 2, ctx["attempt"])
	assert.Equal(t, true, ctx["auto_renew"])

	errEntry := logs.All()[1]
	assert.Equal(t, zapcore.ErrorLevel, errEntry.Level)
	assert.Equal(t, "boom", errEntry.ContextMap()["error"])
}

func TestZapLoggerAdapter_DomainFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := NewZapLogger(zap.New(core))

	periodEnd := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	logger.Info("upgrade pending",
		ports.Money("prorated_amount", decimal.RequireFromString("66.666")),
		ports.Time("period_end", periodEnd),
		ports.Duration("duration", 1500*time.Millisecond))

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "66.67", ctx["prorated_amount"])
	loggedEnd, ok := ctx["period_end"].(time.Time)
	require.True(t, ok)
	assert.True(t, periodEnd.Equal(loggedEnd))
	assert.Equal(t, 1500*time.Millisecond, ctx["duration"])
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("DEBUG", false)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = NewLogger("warn", true)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	_, err = NewLogger("loud", true)
	assert.Error(t, err)
}
