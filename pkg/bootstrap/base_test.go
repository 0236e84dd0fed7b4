package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devpulse/internal/config"
	"devpulse/internal/logger"
)

func TestBase_ShutdownRunsStepsInReverse(t *testing.T) {
	b := NewBase(&config.Config{}, logger.NopLogger())

	var order []string
	step := func(name string, err error) func(context.Context) error {
		return func(context.Context) error {
			order = append(order, name)
			return err
		}
	}
	b.OnShutdown("redis", step("redis", nil))
	b.OnShutdown("dispatcher", step("dispatcher", errors.New("drain timed out")))
	b.OnShutdown("router", step("router", nil))
	b.OnShutdown("http server", step("http server", nil))

	err := b.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dispatcher: drain timed out")
	assert.Equal(t, []string{"http server", "router", "dispatcher", "redis"}, order)

	// A second call does not rerun the steps.
	assert.Equal(t, err, b.Shutdown(context.Background()))
	assert.Len(t, order, 4)
}

func TestBase_ShutdownPassesContext(t *testing.T) {
	b := NewBase(&config.Config{}, logger.NopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b.OnShutdown("router", func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, b.Shutdown(ctx), context.Canceled)
}

func TestBase_InitBrokerDisabled(t *testing.T) {
	b := NewBase(&config.Config{}, logger.NopLogger())

	require.NoError(t, b.InitBroker())
	assert.False(t, b.KafkaEnabled())
	assert.Nil(t, b.Producer)
	assert.Nil(t, b.Consumer)
	assert.NoError(t, b.Shutdown(context.Background()))
}
