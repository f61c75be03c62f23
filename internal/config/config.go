// file: internal/config/config.go
// version: 1.1.0
// guid: 0b1c2d3e-4f5a-6b7c-8d9e-0f1a2b3c4d5f

package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	GatewayBaseURL string
	TokenEndpoint  string
	RequestTimeout time.Duration

	CacheTTL      time.Duration
	SweepInterval time.Duration

	TokenSkew     time.Duration
	SigningSecret string
	TokenTTL      time.Duration

	AuditDBPath string
	AuditDBType string // "pebble" (default) or "sqlite"

	RegistryPath string

	RateLimitPerSecond float64
	RateLimitBurst     int
}

var AppConfig Config

// InitConfig initializes the application configuration
func InitConfig() {
	// Set defaults
	viper.SetDefault("audit_db_type", "pebble")
	viper.SetDefault("request_timeout", "10s")
	viper.SetDefault("cache_ttl", "3m")
	viper.SetDefault("sweep_interval", "5m")
	viper.SetDefault("token_skew", "30s")
	viper.SetDefault("token_ttl", "1h")
	viper.SetDefault("rate_limit_per_second", 25.0)
	viper.SetDefault("rate_limit_burst", 50)

	AppConfig = Config{
		GatewayBaseURL:     viper.GetString("gateway_base_url"),
		TokenEndpoint:      viper.GetString("token_endpoint"),
		RequestTimeout:     viper.GetDuration("request_timeout"),
		CacheTTL:           viper.GetDuration("cache_ttl"),
		SweepInterval:      viper.GetDuration("sweep_interval"),
		TokenSkew:          viper.GetDuration("token_skew"),
		SigningSecret:      viper.GetString("signing_secret"),
		TokenTTL:           viper.GetDuration("token_ttl"),
		AuditDBPath:        viper.GetString("audit_db_path"),
		AuditDBType:        viper.GetString("audit_db_type"),
		RegistryPath:       viper.GetString("registry_path"),
		RateLimitPerSecond: viper.GetFloat64("rate_limit_per_second"),
		RateLimitBurst:     viper.GetInt("rate_limit_burst"),
	}

	// Normalize store type
	if AppConfig.AuditDBType == "sqlite3" {
		AppConfig.AuditDBType = "sqlite"
	}
	if AppConfig.AuditDBType == "" {
		AppConfig.AuditDBType = "pebble"
	}
	if AppConfig.AuditDBPath == "" {
		AppConfig.AuditDBPath = "audit.pebble"
	}
}
