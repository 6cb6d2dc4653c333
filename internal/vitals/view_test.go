package vitals

import (
	"context"
	"testing"
	"time"

	"github.com/HerbHall/bananapuck/internal/telemetry"
	"github.com/HerbHall/bananapuck/internal/testutil"
)

func TestRender_Empty(t *testing.T) {
	v := Render(Snapshot{})

	fields := map[string]Field{
		"heart_rate":  v.HeartRate,
		"breathing":   v.Breathing,
		"temperature": v.Temperature,
		"water":       v.Water,
		"distance":    v.Distance,
		"accel":       v.Accel,
		"gyro":        v.Gyro,
		"orientation": v.Orientation,
		"gps":         v.GPS,
		"ecg":         v.ECG,
		"audio":       v.Audio,
		"logic":       v.Logic,
	}
	for name, f := range fields {
		if f.Text != Placeholder {
			t.Errorf("%s = %q, want placeholder", name, f.Text)
		}
		if f.Level != "" {
			t.Errorf("%s level = %q, want none", name, f.Level)
		}
	}
	if v.Updated != Placeholder {
		t.Errorf("Updated = %q", v.Updated)
	}
}

func TestRender_FullSample(t *testing.T) {
	s := testutil.NewSample(
		testutil.WithHR(101),
		testutil.WithWater(true),
		testutil.WithDistance(1.25),
		testutil.WithGPS(37.7749, -122.4194),
		testutil.WithTimestamp(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)),
	)
	s.Accel = &telemetry.Vec3{X: 0.1, Y: -0.2, Z: 9.81}
	s.Orientation = &telemetry.Orientation{Roll: 1, Pitch: 2.5, Yaw: 180}
	s.GPS.Accuracy = telemetry.Float(4)
	s.ECG = "0.82"

	v := Render(Snapshot{
		Sample: &s,
		Levels: map[string]Level{"hr": LevelWarning, "water": LevelDanger},
		Active: []AlertGroup{{Type: "water"}},
	})

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"heart rate", v.HeartRate.Text, "101 bpm"},
		{"heart rate level", v.HeartRate.Level, "warning"},
		{"breathing", v.Breathing.Text, "14 /min"},
		{"temperature", v.Temperature.Text, "98.2 °F"},
		{"water", v.Water.Text, "Submerged"},
		{"water level", v.Water.Level, "danger"},
		{"distance", v.Distance.Text, "1.25 m"},
		{"accel", v.Accel.Text, "x:0.1 y:-0.2 z:9.81"},
		{"gyro", v.Gyro.Text, Placeholder},
		{"orientation", v.Orientation.Text, "R:1 P:2.5 Y:180"},
		{"gps", v.GPS.Text, "37.774900, -122.419400 (±4 m)"},
		{"ecg", v.ECG.Text, "0.82"},
		{"audio", v.Audio.Text, Placeholder},
		{"updated", v.Updated, "2026-03-14T12:00:00Z"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
	if v.ActiveAlerts != 1 {
		t.Errorf("ActiveAlerts = %d, want 1", v.ActiveAlerts)
	}
}

func TestRender_DryWater(t *testing.T) {
	s := testutil.NewSample()
	if got := Render(Snapshot{Sample: &s}).Water.Text; got != "Dry" {
		t.Errorf("Water = %q, want Dry", got)
	}
}

func TestRender_LevelRequiresField(t *testing.T) {
	s := testutil.NewSample()
	s.HR = nil

	v := Render(Snapshot{
		Sample: &s,
		Levels: map[string]Level{"hr": LevelDanger, "temp": LevelSafe},
	})
	if v.HeartRate.Text != Placeholder {
		t.Errorf("HeartRate = %q, want placeholder", v.HeartRate.Text)
	}
	if v.HeartRate.Level != "" {
		t.Errorf("HeartRate level = %q, want none for a missing reading", v.HeartRate.Level)
	}
	if v.Temperature.Level != "safe" {
		t.Errorf("Temperature level = %q, want safe", v.Temperature.Level)
	}
}

func TestCurrent_MatchesGetters(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	s.Ingest(ctx, testutil.NewSample(testutil.WithHR(150), testutil.WithTimestamp(clock.Now())))
	clock.Advance(time.Second)
	s.Ingest(ctx, testutil.NewSample(testutil.WithTimestamp(clock.Now())))

	snap := s.Current()
	latest, ok := s.Latest()
	if !ok || snap.Sample == nil {
		t.Fatal("Current has no sample")
	}
	if !snap.Sample.Timestamp.Equal(latest.Timestamp) {
		t.Errorf("Sample.Timestamp = %v, want %v", snap.Sample.Timestamp, latest.Timestamp)
	}
	if got, want := len(snap.Active), len(s.ActiveAlerts()); got != want || got != 1 {
		t.Errorf("Active = %d groups, getters report %d, want 1", got, want)
	}
	if snap.Levels["hr"] != LevelSafe {
		t.Errorf("hr level = %v, want safe after the second sample", snap.Levels["hr"])
	}

	// The snapshot owns its copies.
	snap.Levels["hr"] = LevelDanger
	if s.Levels()["hr"] != LevelSafe {
		t.Error("mutating the snapshot changed the store")
	}
}
