package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPricingConfig_Policy(t *testing.T) {
	p, err := PricingConfig{TaxRate: "0.18", ShippingCharge: "49", FreeShippingOver: "999.99"}.Policy()
	require.NoError(t, err)
	assert.Equal(t, "0.18", p.TaxRate.String())
	assert.Equal(t, "49", p.ShippingCharge.String())
	assert.Equal(t, "999.99", p.FreeShippingOver.String())
	assert.True(t, p.DiscountRate.IsZero())

	_, err = PricingConfig{TaxRate: "eighteen"}.Policy()
	require.Error(t, err)

	_, err = PricingConfig{ShippingCharge: "-1"}.Policy()
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	for _, tt := range []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "Memory",
			cfg:  Config{Storage: StorageMemory, APIKeyPepper: "p"},
		},
		{
			name:    "PostgresWithoutDatabase",
			cfg:     Config{Storage: StoragePostgres, RedisURL: "redis://localhost:6379", APIKeyPepper: "p"},
			wantErr: "CHECKOUT_DATABASE_URL",
		},
		{
			name:    "PostgresWithoutRedis",
			cfg:     Config{Storage: StoragePostgres, DatabaseURL: "postgres://localhost/db", APIKeyPepper: "p"},
			wantErr: "CHECKOUT_REDIS_URL",
		},
		{
			name:    "UnknownStorage",
			cfg:     Config{Storage: "sqlite", APIKeyPepper: "p"},
			wantErr: "unknown storage",
		},
		{
			name:    "MissingPepper",
			cfg:     Config{Storage: StorageMemory},
			wantErr: "CHECKOUT_API_KEY_PEPPER is not set",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestFallbackEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("REDIS_URL", "redis://platform:6379")
	t.Setenv("PORT", "9000")

	cfg := Config{Addr: "0.0.0.0:8080"}
	cfg.fallbackEnv()
	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "redis://platform:6379", cfg.RedisURL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
}
