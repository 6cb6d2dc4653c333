// Package telemetry defines the puck's telemetry sample and decodes the JSON
// documents served by the device's telemetry and alerts endpoints.
package telemetry

import "time"

// Metric keys for the numeric channels tracked by the vitals store.
const (
	MetricHR        = "hr"
	MetricBreathing = "breathing"
	MetricTemp      = "temp"
	MetricWater     = "water"
	MetricDistance  = "distance"
)

// Vec3 is a three-axis reading (accelerometer or gyroscope).
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Orientation is the fused IMU attitude in degrees.
type Orientation struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// GPS is a position fix. Any component may be unknown.
type GPS struct {
	Lat      *float64 `json:"lat"`
	Lon      *float64 `json:"lon"`
	Accuracy *float64 `json:"accuracy"`
}

// HasFix reports whether both coordinates are known.
func (g *GPS) HasFix() bool {
	return g != nil && g.Lat != nil && g.Lon != nil
}

// Sample is one polled telemetry snapshot. Nil pointers and empty strings
// mean the device did not report that field on this tick.
type Sample struct {
	HR             *float64     `json:"hr"`
	Breathing      *float64     `json:"breathing"`
	Temp           *float64     `json:"temp"`
	Accel          *Vec3        `json:"accel"`
	Gyro           *Vec3        `json:"gyro"`
	Orientation    *Orientation `json:"orientation"`
	GPS            *GPS         `json:"gps"`
	WaterSubmerged *bool        `json:"water_submerged"`
	DistanceM      *float64     `json:"distance_m"`
	ECG            string       `json:"ecg,omitempty"`
	Audio          string       `json:"audio,omitempty"`
	Logic          string       `json:"logic,omitempty"`

	// Timestamp is the device-reported time when present, else receipt time.
	Timestamp  time.Time `json:"timestamp"`
	DeviceTime bool      `json:"device_time"`
}

// Value returns the numeric value of a tracked metric and whether it was
// present. Water submersion maps to 1 (submerged) or 0 (dry).
func (s Sample) Value(metric string) (float64, bool) {
	switch metric {
	case MetricHR:
		return deref(s.HR)
	case MetricBreathing:
		return deref(s.Breathing)
	case MetricTemp:
		return deref(s.Temp)
	case MetricDistance:
		return deref(s.DistanceM)
	case MetricWater:
		if s.WaterSubmerged == nil {
			return 0, false
		}
		if *s.WaterSubmerged {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func deref(p *float64) (float64, bool) {
	if p == nil {
		return 0, false
	}
	return *p, true
}

// Float returns a pointer to v. Handy for building samples in code and tests.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
