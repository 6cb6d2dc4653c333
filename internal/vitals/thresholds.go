package vitals

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/HerbHall/bananapuck/internal/telemetry"
)

// Level is the classification of a single reading.
type Level int

const (
	LevelSafe Level = iota
	LevelWarning
	LevelDanger
)

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelDanger:
		return "danger"
	default:
		return "safe"
	}
}

// ParseLevel maps "safe", "warning"/"warn", "danger"/"critical" to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "safe", "ok", "normal", "info":
		return LevelSafe, nil
	case "warning", "warn":
		return LevelWarning, nil
	case "danger", "critical", "unsafe":
		return LevelDanger, nil
	}
	return LevelSafe, fmt.Errorf("unknown level %q", s)
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode level: %w", err)
	}
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Threshold is the safe band of a metric. Readings outside [Min, Max] but
// within Margin of the band are warnings; readings beyond it are danger.
// A Boolean threshold treats any non-zero value as danger.
type Threshold struct {
	Min     float64 `mapstructure:"min" json:"min"`
	Max     float64 `mapstructure:"max" json:"max"`
	Margin  float64 `mapstructure:"margin" json:"margin"`
	Boolean bool    `mapstructure:"boolean" json:"boolean"`
	Unit    string  `mapstructure:"unit" json:"unit"`
	Label   string  `mapstructure:"label" json:"label"`
}

// Classify returns the level of value against the threshold.
func (t Threshold) Classify(value float64) Level {
	if t.Boolean {
		if value != 0 {
			return LevelDanger
		}
		return LevelSafe
	}
	switch {
	case value < t.Min-t.Margin || value > t.Max+t.Margin:
		return LevelDanger
	case value < t.Min || value > t.Max:
		return LevelWarning
	default:
		return LevelSafe
	}
}

// Thresholds maps metric keys to their bands.
type Thresholds map[string]Threshold

// DefaultThresholds returns the built-in bands: heart rate 60-100 bpm,
// breathing 10-20/min, temperature 97-99.5 F, each with a margin of 5,
// and water submersion as a boolean danger signal.
func DefaultThresholds() Thresholds {
	return Thresholds{
		telemetry.MetricHR:        {Min: 60, Max: 100, Margin: 5, Unit: "bpm", Label: "Heart rate"},
		telemetry.MetricBreathing: {Min: 10, Max: 20, Margin: 5, Unit: "/min", Label: "Breathing rate"},
		telemetry.MetricTemp:      {Min: 97, Max: 99.5, Margin: 5, Unit: "°F", Label: "Temperature"},
		telemetry.MetricWater:     {Boolean: true, Label: "Water submersion"},
	}
}

// Classify returns the level of value for metric. Metrics without a
// threshold are always safe.
func (t Thresholds) Classify(metric string, value float64) Level {
	th, ok := t[metric]
	if !ok {
		return LevelSafe
	}
	return th.Classify(value)
}

// Classify classifies value against the default thresholds.
func Classify(metric string, value float64) Level {
	return defaultThresholds.Classify(metric, value)
}

var defaultThresholds = DefaultThresholds()

// alertMessage builds the human readable text stored on an alert.
func (t Thresholds) alertMessage(metric string, level Level, value float64) string {
	th, ok := t[metric]
	label := metric
	if ok && th.Label != "" {
		label = th.Label
	}
	if ok && th.Boolean {
		return fmt.Sprintf("%s detected", label)
	}
	direction := "high"
	if ok && value < th.Min {
		direction = "low"
	}
	unit := ""
	if ok && th.Unit != "" {
		unit = " " + th.Unit
	}
	return fmt.Sprintf("%s %s (%s): %s%s", label, direction, level, formatValue(value), unit)
}

func formatValue(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}
