package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tachyon-beep/elspeth/internal/config"
	"github.com/tachyon-beep/elspeth/internal/elslog"
)

func testConfig() *config.Config {
	return &config.Config{
		Service: config.ServiceConfig{Name: "test", LogLevel: "error", LogFormat: "text"},
	}
}

func TestSetup_SkippingEveryStageLeavesOnlyConfigAndLogger(t *testing.T) {
	components, err := Setup(context.Background(), "test-service",
		WithCustomConfig(testConfig()),
		WithCustomLogger(elslog.New("error", "text")),
		WithoutDB(), WithoutQueue(), WithoutLimiters(), WithoutTelemetry(),
	)
	require.NoError(t, err)

	assert.Nil(t, components.DB)
	assert.Nil(t, components.Store)
	assert.Nil(t, components.Queue)
	assert.Nil(t, components.Limiters)
	assert.Nil(t, components.Telemetry)
	assert.NoError(t, components.Health(context.Background()))
}

func TestSetup_ShutdownRunsCleanupsInLIFOOrder(t *testing.T) {
	components, err := Setup(context.Background(), "test-service",
		WithCustomConfig(testConfig()),
		WithCustomLogger(elslog.New("error", "text")),
		WithoutDB(), WithoutQueue(), WithoutLimiters(), WithoutTelemetry(),
	)
	require.NoError(t, err)

	var order []int
	components.addCleanup(func() error { order = append(order, 1); return nil })
	components.addCleanup(func() error { order = append(order, 2); return nil })

	require.NoError(t, components.Shutdown(context.Background()))
	assert.Equal(t, []int{2, 1}, order)
}

func TestSetup_UnknownQueueBackendErrors(t *testing.T) {
	cfg := testConfig()
	cfg.Queue.Backend = "carrier-pigeon"

	_, err := Setup(context.Background(), "test-service",
		WithCustomConfig(cfg),
		WithCustomLogger(elslog.New("error", "text")),
		WithoutDB(), WithoutLimiters(), WithoutTelemetry(),
	)
	assert.Error(t, err)
}
