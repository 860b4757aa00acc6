package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/corpusd/internal/config"
)

func TestNewDisabled(t *testing.T) {
	tel, err := New(context.Background(), config.TelemetryConfig{Enabled: false}, nil)
	require.NoError(t, err)
	require.NotNil(t, tel)
	assert.Nil(t, tel.tracerProvider)
	assert.Nil(t, tel.meterProvider)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNewEnabled(t *testing.T) {
	// Exporter construction does not dial; shutdown flushes against a dead
	// endpoint and must still return within the context deadline.
	tel, err := New(context.Background(), config.TelemetryConfig{
		Enabled:        true,
		Endpoint:       "localhost:1", // nothing listens here
		ServiceName:    "corpusd-test",
		ServiceVersion: "0.0.1",
		Insecure:       true,
		SampleRate:     1.0,
		ExportInterval: config.Duration(time.Minute),
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, tel.tracerProvider)
	require.NotNil(t, tel.meterProvider)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = tel.Shutdown(ctx)
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "collector:4318", stripScheme("http://collector:4318"))
	assert.Equal(t, "collector:4318", stripScheme("https://collector:4318"))
	assert.Equal(t, "collector:4318", stripScheme("collector:4318"))
}

func TestNilShutdown(t *testing.T) {
	var tel *Telemetry
	assert.NoError(t, tel.Shutdown(context.Background()))
}
