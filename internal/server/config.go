package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the server configuration.
type Config struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	DataDir        string   `mapstructure:"data_dir"`
	ReadOnly       bool     `mapstructure:"read_only"`
	RateLimit      float64  `mapstructure:"rate_limit"`
	RateBurst      int      `mapstructure:"rate_burst"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Addr returns the listen address as host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DefaultConfig mirrors the defaults installed by LoadConfig.
func DefaultConfig() Config {
	return Config{
		Host:      "0.0.0.0",
		Port:      8080,
		DataDir:   "./data",
		RateLimit: 100,
		RateBurst: 200,
	}
}

// LoadConfig reads configuration from file and environment variables.
func LoadConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	// Defaults
	def := DefaultConfig()
	v.SetDefault("server.host", def.Host)
	v.SetDefault("server.port", def.Port)
	v.SetDefault("server.data_dir", def.DataDir)
	v.SetDefault("server.read_only", def.ReadOnly)
	v.SetDefault("server.rate_limit", def.RateLimit)
	v.SetDefault("server.rate_burst", def.RateBurst)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.path", "./data/bananapuck.db")

	// Plugin defaults
	v.SetDefault("plugins.vitals.enabled", true)
	v.SetDefault("plugins.vitals.retention", "720h")
	v.SetDefault("plugins.vitals.max_points", 1000)
	v.SetDefault("plugins.vitals.alert_level", "danger")
	v.SetDefault("plugins.vitals.occurrence_policy", "per_tick")
	v.SetDefault("plugins.vitals.persist", true)
	v.SetDefault("plugins.vitals.maintenance_interval", "1h")
	v.SetDefault("plugins.poller.enabled", true)
	v.SetDefault("plugins.poller.telemetry_url", "http://localhost:5000/data")
	v.SetDefault("plugins.poller.interval", "1s")
	v.SetDefault("plugins.poller.alerts_interval", "5s")
	v.SetDefault("plugins.poller.timeout", "5s")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("bananapuck")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/bananapuck")
	}

	// Environment variable support: BP_SERVER_PORT=9090
	v.SetEnvPrefix("BP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine -- use defaults
	}

	return v, nil
}
