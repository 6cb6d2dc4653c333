package vitals

import (
	"fmt"
	"strconv"
	"time"

	"github.com/HerbHall/bananapuck/internal/telemetry"
)

// Placeholder is rendered for fields the device did not report.
const Placeholder = "--"

// Snapshot is a consistent read of the store for presentation.
type Snapshot struct {
	Sample *telemetry.Sample
	Levels map[string]Level
	Active []AlertGroup
}

// Current returns the latest sample, per-metric levels and active groups
// under a single read lock.
func (s *Store) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Levels: s.levelsLocked(),
		Active: s.activeAlertsLocked(),
	}
	if s.latest != nil {
		latest := *s.latest
		snap.Sample = &latest
	}
	return snap
}

// Field is one rendered reading.
type Field struct {
	Text  string `json:"text"`
	Level string `json:"level,omitempty"`
}

// View is the text rendering of a Snapshot shared by the HTTP API and the
// CLI report.
type View struct {
	HeartRate    Field  `json:"heart_rate"`
	Breathing    Field  `json:"breathing"`
	Temperature  Field  `json:"temperature"`
	Water        Field  `json:"water"`
	Distance     Field  `json:"distance"`
	Accel        Field  `json:"accel"`
	Gyro         Field  `json:"gyro"`
	Orientation  Field  `json:"orientation"`
	GPS          Field  `json:"gps"`
	ECG          Field  `json:"ecg"`
	Audio        Field  `json:"audio"`
	Logic        Field  `json:"logic"`
	Updated      string `json:"updated"`
	ActiveAlerts int    `json:"active_alerts"`
}

// Render formats snap without touching the store.
func Render(snap Snapshot) View {
	v := View{ActiveAlerts: len(snap.Active)}
	s := snap.Sample
	if s == nil {
		s = &telemetry.Sample{}
		v.Updated = Placeholder
	} else {
		v.Updated = s.Timestamp.UTC().Format(time.RFC3339)
	}

	// Levels outlive the sample that set them; a metric missing from the
	// latest sample has no level.
	level := func(metric string) string {
		if snap.Sample == nil {
			return ""
		}
		if _, ok := snap.Sample.Value(metric); !ok {
			return ""
		}
		if l, ok := snap.Levels[metric]; ok {
			return l.String()
		}
		return ""
	}

	v.HeartRate = Field{Text: withUnit(s.HR, "bpm"), Level: level(telemetry.MetricHR)}
	v.Breathing = Field{Text: withUnit(s.Breathing, "/min"), Level: level(telemetry.MetricBreathing)}
	v.Temperature = Field{Text: withUnit(s.Temp, "°F"), Level: level(telemetry.MetricTemp)}
	v.Distance = Field{Text: withUnit(s.DistanceM, "m"), Level: level(telemetry.MetricDistance)}

	v.Water = Field{Text: Placeholder, Level: level(telemetry.MetricWater)}
	if s.WaterSubmerged != nil {
		v.Water.Text = "Dry"
		if *s.WaterSubmerged {
			v.Water.Text = "Submerged"
		}
	}

	v.Accel = Field{Text: renderVec(s.Accel)}
	v.Gyro = Field{Text: renderVec(s.Gyro)}

	v.Orientation = Field{Text: Placeholder}
	if o := s.Orientation; o != nil {
		v.Orientation.Text = fmt.Sprintf("R:%s P:%s Y:%s", formatValue(o.Roll), formatValue(o.Pitch), formatValue(o.Yaw))
	}

	v.GPS = Field{Text: Placeholder}
	if s.GPS.HasFix() {
		v.GPS.Text = strconv.FormatFloat(*s.GPS.Lat, 'f', 6, 64) + ", " + strconv.FormatFloat(*s.GPS.Lon, 'f', 6, 64)
		if s.GPS.Accuracy != nil {
			v.GPS.Text += fmt.Sprintf(" (±%s m)", formatValue(*s.GPS.Accuracy))
		}
	}

	v.ECG = textField(s.ECG)
	v.Audio = textField(s.Audio)
	v.Logic = textField(s.Logic)
	return v
}

func withUnit(v *float64, unit string) string {
	if v == nil {
		return Placeholder
	}
	return formatValue(*v) + " " + unit
}

func renderVec(v *telemetry.Vec3) string {
	if v == nil {
		return Placeholder
	}
	return fmt.Sprintf("x:%s y:%s z:%s", formatValue(v.X), formatValue(v.Y), formatValue(v.Z))
}

func textField(s string) Field {
	if s == "" {
		return Field{Text: Placeholder}
	}
	return Field{Text: s}
}
