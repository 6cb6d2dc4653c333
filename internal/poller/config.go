package poller

import (
	"fmt"
	"net/url"
	"time"
)

type Config struct {
	TelemetryURL   string        `mapstructure:"telemetry_url"`
	AlertsURL      string        `mapstructure:"alerts_url"`
	AckURL         string        `mapstructure:"ack_url"`
	ClearURL       string        `mapstructure:"clear_url"`
	Interval       time.Duration `mapstructure:"interval"`
	AlertsInterval time.Duration `mapstructure:"alerts_interval"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		TelemetryURL:   "http://localhost:5000/data",
		Interval:       1 * time.Second,
		AlertsInterval: 5 * time.Second,
		Timeout:        5 * time.Second,
	}
}

// Validate checks intervals and that every configured URL is absolute.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	}
	if c.AlertsURL != "" && c.AlertsInterval <= 0 {
		return fmt.Errorf("alerts_interval must be positive, got %s", c.AlertsInterval)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	}
	for key, raw := range map[string]string{
		"telemetry_url": c.TelemetryURL,
		"alerts_url":    c.AlertsURL,
		"ack_url":       c.AckURL,
		"clear_url":     c.ClearURL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%s: scheme must be http or https, got %q", key, u.Scheme)
		}
	}
	return nil
}

func (c Config) endpoints() Endpoints {
	return Endpoints{
		Telemetry: c.TelemetryURL,
		Alerts:    c.AlertsURL,
		Ack:       c.AckURL,
		Clear:     c.ClearURL,
	}
}
