package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedPayload is returned when a payload is not a JSON object (or,
// for alerts, not a JSON array of objects). Individual bad fields are never
// an error; they decode as unknown.
var ErrMalformedPayload = errors.New("malformed telemetry payload")

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
// 1e12 ms is September 2001; 1e12 s is far beyond any plausible clock.
const epochMillisThreshold = 1e12

// Decode parses a telemetry document into a Sample. receivedAt is used as
// the sample time when the payload carries no usable timestamp.
//
// Canonical field names win over the flat legacy names emitted by older
// firmware (heart_rate, respiration_rate, temperature, latitude, ...).
func Decode(data []byte, receivedAt time.Time) (Sample, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Sample{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if fields == nil {
		return Sample{}, fmt.Errorf("%w: null document", ErrMalformedPayload)
	}

	s := Sample{
		HR:          firstNumber(fields, "hr", "heart_rate"),
		Breathing:   firstNumber(fields, "breathing", "respiration_rate"),
		Temp:        firstNumber(fields, "temp", "temperature"),
		Accel:       parseVec3(fields["accel"]),
		Gyro:        parseVec3(fields["gyro"]),
		Orientation: parseOrientation(fields),
		GPS:         parseGPS(fields),
		DistanceM:   firstNumber(fields, "distance_m", "lidar_distance"),
		ECG:         parseText(fields["ecg"]),
		Audio:       parseText(fields["audio"]),
		Logic:       parseText(fields["logic"]),
	}

	for _, key := range []string{"water_submerged", "water"} {
		if b := parseBool(fields[key]); b != nil {
			s.WaterSubmerged = b
			break
		}
	}

	s.Timestamp = receivedAt.UTC()
	for _, key := range []string{"timestamp", "last_update"} {
		if ts, ok := parseTimestamp(fields[key]); ok {
			s.Timestamp = ts
			s.DeviceTime = true
			break
		}
	}

	return s, nil
}

func firstNumber(fields map[string]json.RawMessage, keys ...string) *float64 {
	for _, k := range keys {
		if v := parseNumber(fields[k]); v != nil {
			return v
		}
	}
	return nil
}

// parseNumber accepts a JSON number or a numeric string. null, NaN and
// anything else yield nil.
func parseNumber(raw json.RawMessage) *float64 {
	if isNull(raw) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return finite(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return finite(f)
		}
	}
	return nil
}

func finite(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func parseBool(raw json.RawMessage) *bool {
	if isNull(raw) {
		return nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return &b
	}
	if f := parseNumber(raw); f != nil {
		v := *f != 0
		return &v
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "wet", "submerged":
			v := true
			return &v
		case "false", "no", "dry":
			v := false
			return &v
		}
	}
	return nil
}

// parseText renders strings as-is and numbers in their shortest form.
func parseText(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if f := parseNumber(raw); f != nil {
		return strconv.FormatFloat(*f, 'f', -1, 64)
	}
	return ""
}

func parseVec3(raw json.RawMessage) *Vec3 {
	if isNull(raw) {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	x, y, z := parseNumber(obj["x"]), parseNumber(obj["y"]), parseNumber(obj["z"])
	if x == nil || y == nil || z == nil {
		return nil
	}
	return &Vec3{X: *x, Y: *y, Z: *z}
}

// parseOrientation accepts [roll, pitch, yaw], an object with those keys,
// or the flat legacy roll/pitch/yaw fields.
func parseOrientation(fields map[string]json.RawMessage) *Orientation {
	if raw := fields["orientation"]; !isNull(raw) {
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err == nil {
			if len(arr) != 3 {
				return nil
			}
			return buildOrientation(parseNumber(arr[0]), parseNumber(arr[1]), parseNumber(arr[2]))
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err == nil {
			return buildOrientation(parseNumber(obj["roll"]), parseNumber(obj["pitch"]), parseNumber(obj["yaw"]))
		}
		return nil
	}
	return buildOrientation(parseNumber(fields["roll"]), parseNumber(fields["pitch"]), parseNumber(fields["yaw"]))
}

func buildOrientation(roll, pitch, yaw *float64) *Orientation {
	if roll == nil || pitch == nil || yaw == nil {
		return nil
	}
	return &Orientation{Roll: *roll, Pitch: *pitch, Yaw: *yaw}
}

func parseGPS(fields map[string]json.RawMessage) *GPS {
	var g GPS
	if raw := fields["gps"]; !isNull(raw) {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err == nil {
			g.Lat = firstNumber(obj, "lat", "latitude")
			g.Lon = firstNumber(obj, "lon", "lng", "longitude")
			g.Accuracy = parseNumber(obj["accuracy"])
		}
	}
	if g.Lat == nil {
		g.Lat = parseNumber(fields["latitude"])
	}
	if g.Lon == nil {
		g.Lon = parseNumber(fields["longitude"])
	}
	if g.Lat == nil && g.Lon == nil && g.Accuracy == nil {
		return nil
	}
	return &g
}

// parseTimestamp accepts epoch seconds, epoch milliseconds, numeric strings
// and ISO-8601 strings with or without a zone (zoneless means UTC).
func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	if isNull(raw) {
		return time.Time{}, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return fromEpoch(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(f)
	}
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05Z07:00",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func fromEpoch(f float64) (time.Time, bool) {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	if f >= epochMillisThreshold {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
