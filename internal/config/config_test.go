// File: internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)
	assert.Equal(t, "https://www.xiaohongshu.com", cfg.Crawler.BaseURL)
	assert.Equal(t, "id_token", cfg.Crawler.AuthCookie)
	assert.Equal(t, 15*time.Second, cfg.Crawler.DrainTimeout)
	assert.Equal(t, 300*time.Second, cfg.Crawler.LoginWait)
	assert.Equal(t, 5*time.Second, cfg.Crawler.CaptchaGrace)
	assert.Equal(t, 2*time.Second, cfg.Crawler.MinPageInterval)
	assert.Equal(t, 3, cfg.Crawler.MaxNoDataPages)
	assert.Equal(t, 1.0, cfg.Crawler.PaceFactor)
	assert.Equal(t, 256, cfg.Browser.PacketQueueSize)
	assert.False(t, cfg.Browser.Headless)

	require.NoError(t, cfg.Validate())
}

func TestNewConfigFromViperOverrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("crawler.pace_factor", 2.5)
	v.Set("crawler.drain_timeout", "30s")
	v.Set("browser.headless", true)

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 2.5, cfg.Crawler.PaceFactor)
	assert.Equal(t, 30*time.Second, cfg.Crawler.DrainTimeout)
	assert.True(t, cfg.Browser.Headless)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing base url", func(c *Config) { c.Crawler.BaseURL = "" }},
		{"missing listen pattern", func(c *Config) { c.Crawler.ListenPattern = "" }},
		{"zero pace factor", func(c *Config) { c.Crawler.PaceFactor = 0 }},
		{"negative drain timeout", func(c *Config) { c.Crawler.DrainTimeout = -time.Second }},
		{"zero no-data pages", func(c *Config) { c.Crawler.MaxNoDataPages = 0 }},
		{"zero packet queue", func(c *Config) { c.Browser.PacketQueueSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEffectiveLoginWait(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.Equal(t, 300*time.Second, cfg.EffectiveLoginWait())

	// Headless sessions never block waiting for a human.
	cfg.Browser.Headless = true
	assert.Equal(t, time.Duration(0), cfg.EffectiveLoginWait())
}
