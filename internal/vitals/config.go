package vitals

import (
	"fmt"
	"slices"
	"time"

	"github.com/HerbHall/bananapuck/internal/telemetry"
)

type Config struct {
	Retention           time.Duration        `mapstructure:"retention"`
	MaxPoints           int                  `mapstructure:"max_points"`
	AlertLevel          string               `mapstructure:"alert_level"`
	OccurrencePolicy    string               `mapstructure:"occurrence_policy"`
	Persist             bool                 `mapstructure:"persist"`
	MaintenanceInterval time.Duration        `mapstructure:"maintenance_interval"`
	Metrics             []string             `mapstructure:"metrics"`
	Thresholds          map[string]ThresholdOverride `mapstructure:"thresholds"`
}

func DefaultConfig() Config {
	return Config{
		Retention:           30 * 24 * time.Hour,
		MaxPoints:           1000,
		AlertLevel:          "danger",
		OccurrencePolicy:    string(PolicyPerTick),
		Persist:             true,
		MaintenanceInterval: 1 * time.Hour,
		Metrics: []string{
			telemetry.MetricHR,
			telemetry.MetricBreathing,
			telemetry.MetricTemp,
			telemetry.MetricWater,
			telemetry.MetricDistance,
		},
	}
}

// Validate checks the decoded configuration.
func (c Config) Validate() error {
	if c.Retention <= 0 {
		return fmt.Errorf("retention must be positive, got %s", c.Retention)
	}
	if c.MaxPoints <= 0 {
		return fmt.Errorf("max_points must be positive, got %d", c.MaxPoints)
	}
	if level, err := ParseLevel(c.AlertLevel); err != nil {
		return fmt.Errorf("alert_level: %w", err)
	} else if level == LevelSafe {
		return fmt.Errorf("alert_level %q would alert on every sample", c.AlertLevel)
	}
	switch OccurrencePolicy(c.OccurrencePolicy) {
	case PolicyPerTick, PolicyCoalesce:
	default:
		return fmt.Errorf("unknown occurrence_policy %q", c.OccurrencePolicy)
	}
	merged := c.thresholds()
	for metric := range c.Thresholds {
		th := merged[metric]
		if !th.Boolean && th.Min > th.Max {
			return fmt.Errorf("threshold %s: min %v above max %v", metric, th.Min, th.Max)
		}
		if th.Margin < 0 {
			return fmt.Errorf("threshold %s: negative margin", metric)
		}
	}
	if slices.Contains(c.Metrics, "") {
		return fmt.Errorf("metrics list contains an empty key")
	}
	return nil
}

// ThresholdOverride is a partial Threshold read from configuration. Nil
// fields keep the built-in value, so a zero can be set explicitly.
type ThresholdOverride struct {
	Min     *float64 `mapstructure:"min"`
	Max     *float64 `mapstructure:"max"`
	Margin  *float64 `mapstructure:"margin"`
	Boolean *bool    `mapstructure:"boolean"`
	Unit    *string  `mapstructure:"unit"`
	Label   *string  `mapstructure:"label"`
}

func (o ThresholdOverride) apply(base Threshold) Threshold {
	if o.Min != nil {
		base.Min = *o.Min
	}
	if o.Max != nil {
		base.Max = *o.Max
	}
	if o.Margin != nil {
		base.Margin = *o.Margin
	}
	if o.Boolean != nil {
		base.Boolean = *o.Boolean
	}
	if o.Unit != nil {
		base.Unit = *o.Unit
	}
	if o.Label != nil {
		base.Label = *o.Label
	}
	return base
}

// thresholds merges configured overrides onto the defaults field by field.
// Metrics without a default start from a zero Threshold.
func (c Config) thresholds() Thresholds {
	out := DefaultThresholds()
	for metric, override := range c.Thresholds {
		out[metric] = override.apply(out[metric])
	}
	return out
}

// StoreOptions maps the configuration onto store options. An unparseable
// alert level falls back to danger.
func (c Config) StoreOptions() Options {
	level, err := ParseLevel(c.AlertLevel)
	if err != nil {
		level = LevelDanger
	}
	return Options{
		Thresholds: c.thresholds(),
		Metrics:    c.Metrics,
		Policy:     OccurrencePolicy(c.OccurrencePolicy),
		AlertLevel: level,
		Retention:  c.Retention,
		MaxPoints:  c.MaxPoints,
	}
}
