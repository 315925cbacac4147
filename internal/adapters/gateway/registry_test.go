package gateway

import (
	"testing"

	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/test/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	stripe := mocks.NewMockGateway(models.ProviderStripe)
	razorpay := mocks.NewMockGateway(models.ProviderRazorpay)
	r := NewRegistry(stripe, razorpay)

	gw, err := r.Gateway(models.ProviderStripe)
	require.NoError(t, err)
	assert.Same(t, stripe, gw)

	_, err = r.Gateway(models.ProviderPayPal)
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationFailed))

	assert.Equal(t, []models.Provider{models.ProviderRazorpay, models.ProviderStripe}, r.Providers())

	replacement := mocks.NewMockGateway(models.ProviderStripe)
	r.Register(replacement)
	gw, err = r.Gateway(models.ProviderStripe)
	require.NoError(t, err)
	assert.Same(t, replacement, gw)
}

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		amount   string
		currency string
		minor    int64
	}{
		{"49.00", "USD", 4900},
		{"67.745", "usd", 6775},
		{"1490", "INR", 149000},
		{"5000", "JPY", 5000},
		{"0", "EUR", 0},
	}
	for _, tt := range tests {
		got := ToMinorUnits(decimal.RequireFromString(tt.amount), tt.currency)
		assert.Equal(t, tt.minor, got, tt.amount+" "+tt.currency)
	}

	assert.True(t, FromMinorUnits(4410, "USD").Equal(decimal.RequireFromString("44.10")))
	assert.True(t, FromMinorUnits(5000, "JPY").Equal(decimal.NewFromInt(5000)))
}

func TestHMAC(t *testing.T) {
	payload := []byte(`{"event":"subscription.charged"}`)
	sig := SignHMACSHA256("secret", payload)

	assert.Len(t, sig, 64)
	assert.True(t, VerifyHMACSHA256("secret", payload, sig))
	assert.False(t, VerifyHMACSHA256("other", payload, sig))
	assert.False(t, VerifyHMACSHA256("secret", []byte(`{}`), sig))
	assert.False(t, VerifyHMACSHA256("secret", payload, "not-hex"))
	assert.False(t, VerifyHMACSHA256("", payload, sig))
}
