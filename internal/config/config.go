// Package config loads abbmon's settings from environment variables via
// Viper, following the same layered-struct-plus-Load() pattern as the
// gateway this module started from.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the root of abbmon's settings.
type Config struct {
	EGM     EGMConfig
	RWS     RWSConfig
	RMMP    RMMPConfig
	Metrics MetricsConfig
	Logging LoggingConfig
}

// EGMConfig configures the realtime UDP feedback/correction endpoint.
type EGMConfig struct {
	ListenPort int `mapstructure:"listen_port"`
}

// RWSConfig configures the Robot Web Services HTTP/WebSocket client.
type RWSConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	Username          string `mapstructure:"username"`
	Password          string `mapstructure:"password"`
	RequestTimeoutSec int    `mapstructure:"request_timeout_sec"`
}

// RMMPConfig configures the Remote Manual Mode Privilege session
// keeper.
type RMMPConfig struct {
	RequestTimeoutSec   int `mapstructure:"request_timeout_sec"`
	RolloverIntervalSec int `mapstructure:"rollover_interval_sec"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// RequestTimeout returns the RWS request timeout as a time.Duration.
func (c *RWSConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// RequestTimeout returns the RMMP grant-request timeout as a
// time.Duration.
func (c *RMMPConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// RolloverInterval returns the RMMP session rollover interval as a
// time.Duration.
func (c *RMMPConfig) RolloverInterval() time.Duration {
	return time.Duration(c.RolloverIntervalSec) * time.Second
}

// Load reads configuration from environment variables, falling back to
// defaults tuned for a single controller on its factory-default LAN
// address.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("ABBMON_EGM_LISTEN_PORT", 6510)

	v.SetDefault("ABBMON_RWS_BASE_URL", "https://192.168.125.1")
	v.SetDefault("ABBMON_RWS_USERNAME", "Default User")
	v.SetDefault("ABBMON_RWS_PASSWORD", "robotics")
	v.SetDefault("ABBMON_RWS_REQUEST_TIMEOUT_SEC", 30)

	v.SetDefault("ABBMON_RMMP_REQUEST_TIMEOUT_SEC", 10)
	v.SetDefault("ABBMON_RMMP_ROLLOVER_INTERVAL_SEC", 30)

	v.SetDefault("ABBMON_METRICS_LISTEN_ADDR", ":9090")

	v.SetDefault("ABBMON_LOG_LEVEL", "info")

	cfg := &Config{
		EGM: EGMConfig{
			ListenPort: v.GetInt("ABBMON_EGM_LISTEN_PORT"),
		},
		RWS: RWSConfig{
			BaseURL:           v.GetString("ABBMON_RWS_BASE_URL"),
			Username:          v.GetString("ABBMON_RWS_USERNAME"),
			Password:          v.GetString("ABBMON_RWS_PASSWORD"),
			RequestTimeoutSec: v.GetInt("ABBMON_RWS_REQUEST_TIMEOUT_SEC"),
		},
		RMMP: RMMPConfig{
			RequestTimeoutSec:   v.GetInt("ABBMON_RMMP_REQUEST_TIMEOUT_SEC"),
			RolloverIntervalSec: v.GetInt("ABBMON_RMMP_ROLLOVER_INTERVAL_SEC"),
		},
		Metrics: MetricsConfig{
			ListenAddr: v.GetString("ABBMON_METRICS_LISTEN_ADDR"),
		},
		Logging: LoggingConfig{
			Level: v.GetString("ABBMON_LOG_LEVEL"),
		},
	}

	return cfg, nil
}
