package adapters_test

import (
	"testing"

	"github.com/smallbiznis/paymentsvc/internal/payment/adapters"
	"github.com/smallbiznis/paymentsvc/internal/payment/adapters/iamport"
	"github.com/smallbiznis/paymentsvc/internal/payment/adapters/sandbox"
	"github.com/smallbiznis/paymentsvc/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistry(t *testing.T) {
	registry := adapters.NewRegistry(iamport.NewFactory(), sandbox.NewFactory(), nil)

	assert.True(t, registry.ProviderExists(" IAMPORT "))
	assert.True(t, registry.ProviderExists("sandbox"))
	assert.False(t, registry.ProviderExists("stripe"))

	gw, err := registry.NewGateway("sandbox", domain.GatewayConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "sandbox", gw.Provider())

	_, err = registry.NewGateway("iamport", domain.GatewayConfig{}, zap.NewNop())
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = registry.NewGateway("stripe", domain.GatewayConfig{}, zap.NewNop())
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)

	var nilRegistry *adapters.Registry
	_, err = nilRegistry.NewGateway("sandbox", domain.GatewayConfig{}, zap.NewNop())
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}
