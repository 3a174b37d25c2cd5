package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitOTel_Disabled(t *testing.T) {
	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, NopLogger())
	require.NoError(t, err)
	assert.Nil(t, providers)
	assert.NoError(t, ShutdownOTel(context.Background(), providers, NopLogger()))
}

func TestInitOTel_RequiresEndpoint(t *testing.T) {
	_, err := InitOTel(context.Background(), OTelConfig{Enabled: true}, NopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint is required")
}

func TestTracer_Noop(t *testing.T) {
	_, span := Tracer().Start(context.Background(), "test")
	defer span.End()
	assert.NotNil(t, span)
}
