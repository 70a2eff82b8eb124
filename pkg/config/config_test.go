package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_PUBLIC_KEY_PATH", "/keys/public.pem")
	t.Setenv("GATEWAY_SALT_KEY", "salt")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.Checkout.SessionTTL)
	assert.Equal(t, 5*time.Minute, cfg.Checkout.ReaperInterval)
	assert.True(t, cfg.Gateway.IsMock())
	assert.Equal(t, "checkout.events", cfg.Kafka.EventsTopic)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
}

func TestLoad_RequiresSaltKey(t *testing.T) {
	t.Setenv("JWT_PUBLIC_KEY_PATH", "/keys/public.pem")
	t.Setenv("GATEWAY_SALT_KEY", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsUnknownGatewayMode(t *testing.T) {
	t.Setenv("JWT_PUBLIC_KEY_PATH", "/keys/public.pem")
	t.Setenv("GATEWAY_SALT_KEY", "salt")
	t.Setenv("GATEWAY_MODE", "stripe")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stripe")
}

func TestMySQLConfig_DSN(t *testing.T) {
	c := MySQLConfig{User: "app", Password: "pw", Host: "db", Port: 3307, Database: "shop"}
	assert.Equal(t, "app:pw@tcp(db:3307)/shop?charset=utf8mb4&parseTime=True&loc=UTC", c.DSN())
}
