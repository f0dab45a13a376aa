package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStripeGatewayDefaultsTimeout(t *testing.T) {
	g := NewStripeGateway("sk_test_x", "https://app/success", "https://app/cancel", 0)
	assert.Equal(t, 30*time.Second, g.Timeout)

	g = NewStripeGateway("sk_test_x", "https://app/success", "https://app/cancel", 5*time.Second)
	assert.Equal(t, 5*time.Second, g.Timeout)
}

func TestRefundParamsCarriesRemarksAndMinorUnits(t *testing.T) {
	params := refundParams(context.Background(), "pi_123", decimal.RequireFromString("29.99"), "duplicate charge")

	require.NotNil(t, params.PaymentIntent)
	assert.Equal(t, "pi_123", *params.PaymentIntent)
	require.NotNil(t, params.Amount)
	assert.Equal(t, int64(2999), *params.Amount)
	assert.Equal(t, "duplicate charge", params.Metadata["remarks"])
}
