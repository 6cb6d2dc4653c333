package testutil

import (
	"sync"
	"time"

	"github.com/HerbHall/bananapuck/internal/telemetry"
)

// NewSample returns a Sample with all vitals in their safe bands, suitable
// for test fixtures. Override individual fields with options.
func NewSample(opts ...func(*telemetry.Sample)) telemetry.Sample {
	s := telemetry.Sample{
		HR:             telemetry.Float(72),
		Breathing:      telemetry.Float(14),
		Temp:           telemetry.Float(98.2),
		WaterSubmerged: telemetry.Bool(false),
		Timestamp:      time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// EmptySample returns a Sample with no readings at t.
func EmptySample(t time.Time) telemetry.Sample {
	return telemetry.Sample{Timestamp: t}
}

// WithHR sets the heart rate.
func WithHR(v float64) func(*telemetry.Sample) {
	return func(s *telemetry.Sample) { s.HR = telemetry.Float(v) }
}

// WithBreathing sets the breathing rate.
func WithBreathing(v float64) func(*telemetry.Sample) {
	return func(s *telemetry.Sample) { s.Breathing = telemetry.Float(v) }
}

// WithTemp sets the body temperature.
func WithTemp(v float64) func(*telemetry.Sample) {
	return func(s *telemetry.Sample) { s.Temp = telemetry.Float(v) }
}

// WithWater sets the submersion flag.
func WithWater(submerged bool) func(*telemetry.Sample) {
	return func(s *telemetry.Sample) { s.WaterSubmerged = telemetry.Bool(submerged) }
}

// WithDistance sets the lidar distance in metres.
func WithDistance(m float64) func(*telemetry.Sample) {
	return func(s *telemetry.Sample) { s.DistanceM = telemetry.Float(m) }
}

// WithGPS sets a position fix.
func WithGPS(lat, lon float64) func(*telemetry.Sample) {
	return func(s *telemetry.Sample) {
		s.GPS = &telemetry.GPS{Lat: telemetry.Float(lat), Lon: telemetry.Float(lon)}
	}
}

// WithTimestamp sets a device-reported timestamp.
func WithTimestamp(t time.Time) func(*telemetry.Sample) {
	return func(s *telemetry.Sample) {
		s.Timestamp = t
		s.DeviceTime = true
	}
}

// WithoutVitals clears heart rate, breathing, temperature and water.
func WithoutVitals() func(*telemetry.Sample) {
	return func(s *telemetry.Sample) {
		s.HR, s.Breathing, s.Temp, s.WaterSubmerged = nil, nil, nil, nil
	}
}

// Clock is a manually advanced clock for deterministic tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock set to start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
