package telemetry

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RemoteAlert is an alert computed by the device backend and served by the
// alerts endpoint.
type RemoteAlert struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Message      string    `json:"message"`
	Level        string    `json:"level"`
	Timestamp    time.Time `json:"timestamp"`
	Acknowledged bool      `json:"acknowledged"`
	// DeviceTime is false when the backend sent no timestamp and
	// Timestamp is the receipt time.
	DeviceTime bool `json:"-"`
}

type rawRemoteAlert struct {
	ID           json.RawMessage `json:"id"`
	Type         string          `json:"type"`
	Message      string          `json:"message"`
	Level        string          `json:"level"`
	Timestamp    json.RawMessage `json:"timestamp"`
	Acknowledged json.RawMessage `json:"acknowledged"`
}

// DecodeAlerts parses the alerts endpoint response. Both a bare array and
// an {"alerts": [...]} envelope are accepted. Entries without a type are
// dropped; entries without a timestamp get receivedAt.
func DecodeAlerts(data []byte, receivedAt time.Time) ([]RemoteAlert, error) {
	var raws []rawRemoteAlert
	if err := json.Unmarshal(data, &raws); err != nil {
		var envelope struct {
			Alerts []rawRemoteAlert `json:"alerts"`
		}
		if envErr := json.Unmarshal(data, &envelope); envErr != nil || envelope.Alerts == nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		raws = envelope.Alerts
	}

	alerts := make([]RemoteAlert, 0, len(raws))
	for _, r := range raws {
		typ := strings.TrimSpace(r.Type)
		if typ == "" {
			continue
		}
		a := RemoteAlert{
			ID:        parseText(r.ID),
			Type:      typ,
			Message:   r.Message,
			Level:     strings.ToLower(strings.TrimSpace(r.Level)),
			Timestamp: receivedAt.UTC(),
		}
		if ts, ok := parseTimestamp(r.Timestamp); ok {
			a.Timestamp = ts
			a.DeviceTime = true
		}
		if b := parseBool(r.Acknowledged); b != nil {
			a.Acknowledged = *b
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}
