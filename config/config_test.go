package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GIN_MODE", "debug")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("FE_ORIGIN", "")
	t.Setenv("TRUSTED_PROXIES", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, StorePostgres, cfg.StoreDriver)
	assert.Equal(t, 30*time.Minute, cfg.SessionIdleTimeout)
	assert.Equal(t, "@every 5m", cfg.SweepSchedule)
	assert.Equal(t, 24*time.Hour, cfg.Geo.CacheTTL)
	assert.Equal(t, 45, cfg.Geo.RatePerMinute)
	assert.Equal(t, 2*time.Second, cfg.Geo.Timeout)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
	assert.Contains(t, cfg.Geo.APIURL, "%s")
	assert.False(t, cfg.ClickHouse.Enabled())
	assert.Equal(t, []string{"127.0.0.1", "::1"}, cfg.TrustedProxies)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("FE_ORIGIN", "https://shop.example, https://admin.shop.example ,")
	t.Setenv("CLICKHOUSE_HOST", "clickhouse")
	t.Setenv("CLICKHOUSE_NATIVE_PORT", "9440")
	t.Setenv("SESSION_IDLE_TIMEOUT", "45m")
	t.Setenv("GEO_RATE_PER_MINUTE", "30")
	t.Setenv("AUTH_DEFAULT", "service-key")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 172.16.0.1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, []string{"https://shop.example", "https://admin.shop.example"}, cfg.AllowedOrigins)
	assert.True(t, cfg.ClickHouse.Enabled())
	assert.Equal(t, 9440, cfg.ClickHouse.NativePort)
	assert.Equal(t, 45*time.Minute, cfg.SessionIdleTimeout)
	assert.Equal(t, 30, cfg.Geo.RatePerMinute)
	assert.Equal(t, "service-key", cfg.Auth.DefaultKey)
	assert.Equal(t, []string{"10.0.0.0/8", "172.16.0.1"}, cfg.TrustedProxies)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			GinMode:            "debug",
			StoreDriver:        StoreMemory,
			SessionIdleTimeout: time.Minute,
			Geo:                GeoConfig{RatePerMinute: 45},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown driver", func(c *Config) { c.StoreDriver = "sqlite" }, "unsupported STORE_DRIVER"},
		{"release without secret", func(c *Config) { c.GinMode = "release" }, "JWT_SECRET_KEY"},
		{"release with secret", func(c *Config) { c.GinMode = "release"; c.Auth.JWTSecret = "s3cret" }, ""},
		{"zero idle timeout", func(c *Config) { c.SessionIdleTimeout = 0 }, "SESSION_IDLE_TIMEOUT"},
		{"zero geo rate", func(c *Config) { c.Geo.RatePerMinute = 0 }, "GEO_RATE_PER_MINUTE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
